package graph

import "sort"

// unionFind groups node ids into connected components (path compression, union by size)
type unionFind struct {
	parent map[string]string
	size   map[string]int
}

func newUnionFind(ids []string) *unionFind {
	uf := &unionFind{
		parent: make(map[string]string, len(ids)),
		size:   make(map[string]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
		uf.size[id] = 1
	}
	return uf
}

func (uf *unionFind) find(id string) string {
	parent, ok := uf.parent[id]
	if !ok || parent == id {
		return id
	}
	root := uf.find(parent)
	uf.parent[id] = root
	return root
}

// union merges the components of a and b; it reports whether they were separate
func (uf *unionFind) union(a, b string) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return true
}

// components returns every component with sorted members, largest first
func (uf *unionFind) components() [][]string {
	groups := make(map[string][]string)
	for id := range uf.parent {
		root := uf.find(id)
		groups[root] = append(groups[root], id)
	}
	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
