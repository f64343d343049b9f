package graph

import "sort"

// TopologyReport summarizes a document's shape for the inspect command
type TopologyReport struct {
	TotalNodes        int      `json:"total_nodes"`
	TotalEdges        int      `json:"total_edges"`
	DanglingEdges     int      `json:"dangling_edges"`
	NumComponents     int      `json:"num_components"`
	LargestComponent  int      `json:"largest_component"`
	SmallestComponent int      `json:"smallest_component"`
	OrphanCount       int      `json:"orphan_count"`
	OrphanIDs         []string `json:"orphan_ids"`
	AttributeNames    []string `json:"attribute_names"`
}

// ComputeTopology counts components and orphans (degree 0 nodes) and lists the
// distinct node attribute names. At most topN orphan ids are returned.
func ComputeTopology(d *Document, topN int) *TopologyReport {
	report := &TopologyReport{
		TotalNodes: len(d.nodes),
		TotalEdges: len(d.edges),
	}
	if len(d.nodes) == 0 {
		return report
	}

	nodeIDs := d.NodeIDs()
	uf := newUnionFind(nodeIDs)
	degree := make(map[string]int, len(nodeIDs))
	for _, e := range d.edges {
		_, okS := d.nodeIndex[e.Source]
		_, okT := d.nodeIndex[e.Target]
		if !okS || !okT {
			report.DanglingEdges++
			continue
		}
		uf.union(e.Source, e.Target)
		degree[e.Source]++
		if e.Target != e.Source {
			degree[e.Target]++
		}
	}

	components := uf.components()
	report.NumComponents = len(components)
	report.LargestComponent = len(components[0])
	report.SmallestComponent = len(components[len(components)-1])

	var orphans []string
	for _, id := range nodeIDs {
		if degree[id] == 0 {
			orphans = append(orphans, id)
		}
	}
	report.OrphanCount = len(orphans)
	if topN > 0 && len(orphans) > topN {
		orphans = orphans[:topN]
	}
	report.OrphanIDs = orphans

	names := make(map[string]bool)
	for _, n := range d.nodes {
		n.Attrs.Range(func(name string, _ Value) bool {
			names[name] = true
			return true
		})
	}
	for name := range names {
		report.AttributeNames = append(report.AttributeNames, name)
	}
	sort.Strings(report.AttributeNames)

	return report
}
