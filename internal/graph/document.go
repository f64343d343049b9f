// Package graph holds the read-only graph document model that annotations are
// layered on top of. Documents are produced by a parser, never mutated, and
// replaced wholesale on reload or persistence.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// EntityID identifies a node (its id) or an edge (explicit id or source-target-index)
type EntityID string

// Node is a graph node with its source attributes
type Node struct {
	ID    string
	Attrs Attributes
}

// Edge is a graph edge. ID is empty when the source format gave it none.
type Edge struct {
	ID     string
	Source string
	Target string
	Attrs  Attributes
}

// EdgeKey builds the entity key for an edge: its explicit id when present,
// otherwise "source-target-index" where index is the edge's position in the document.
func EdgeKey(e Edge, index int) EntityID {
	if e.ID != "" {
		return EntityID(e.ID)
	}
	return EntityID(fmt.Sprintf("%s-%s-%d", e.Source, e.Target, index))
}

// ParseEdgeKey splits a "source-target-index" key. The index is taken from the
// right; the first remaining dash separates source from target.
func ParseEdgeKey(key EntityID) (source, target string, index int, err error) {
	s := string(key)
	last := strings.LastIndex(s, "-")
	if last <= 0 {
		return "", "", 0, fmt.Errorf("edge key %q: missing index", key)
	}
	index, err = strconv.Atoi(s[last+1:])
	if err != nil || index < 0 {
		return "", "", 0, fmt.Errorf("edge key %q: invalid index", key)
	}
	source, target, ok := strings.Cut(s[:last], "-")
	if !ok || source == "" || target == "" {
		return "", "", 0, fmt.Errorf("edge key %q: expected source-target-index", key)
	}
	return source, target, index, nil
}

// Fingerprint is the content hash parsers record as a document's source fingerprint
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// KeyDecl is a typed attribute declaration carried over from a source format
// that declares its keys up front (GraphML). For is "node", "edge", "graph" or
// "all"; Type is the format's own type name and Kind its value kind.
type KeyDecl struct {
	ID      string
	For     string
	Name    string
	Type    string
	Kind    Kind
	Default *string
}

// Document is an immutable snapshot of a graph as loaded from its source.
type Document struct {
	keys        []KeyDecl
	meta        Attributes
	nodes       []Node
	edges       []Edge
	nodeIndex   map[string]int
	edgeIndex   map[EntityID]int
	fingerprint string
	directed    bool
}

// DocumentOpts holds optional document-level properties
type DocumentOpts struct {
	Meta     Attributes
	Directed bool
	// Keys are the source's attribute declarations, in source order
	Keys []KeyDecl
}

// NewDocument builds a Document. The slices are copied; callers keep ownership of theirs.
func NewDocument(nodes []Node, edges []Edge, fingerprint string, opts DocumentOpts) *Document {
	d := &Document{
		keys:        append([]KeyDecl(nil), opts.Keys...),
		meta:        opts.Meta,
		nodes:       append([]Node(nil), nodes...),
		edges:       append([]Edge(nil), edges...),
		nodeIndex:   make(map[string]int, len(nodes)),
		edgeIndex:   make(map[EntityID]int, len(edges)),
		fingerprint: fingerprint,
		directed:    opts.Directed,
	}
	for i, n := range d.nodes {
		if _, dup := d.nodeIndex[n.ID]; !dup {
			d.nodeIndex[n.ID] = i
		}
	}
	for i, e := range d.edges {
		key := EdgeKey(e, i)
		if _, dup := d.edgeIndex[key]; !dup {
			d.edgeIndex[key] = i
		}
	}
	return d
}

// Fingerprint is the sha256 of the bytes the document was parsed from, or
// empty for a document built in memory.
func (d *Document) Fingerprint() string { return d.fingerprint }

// Directed reports whether edges run from source to target
func (d *Document) Directed() bool { return d.directed }

// Meta returns graph-level attributes
func (d *Document) Meta() Attributes { return d.meta }

func (d *Document) NodeCount() int { return len(d.nodes) }
func (d *Document) EdgeCount() int { return len(d.edges) }

// Keys returns the source's attribute declarations in source order
func (d *Document) Keys() []KeyDecl { return append([]KeyDecl(nil), d.keys...) }

// Declared looks up the declaration for an attribute in a domain ("node",
// "edge" or "graph"). A declaration for the domain beats one for "all".
func (d *Document) Declared(domain, name string) (KeyDecl, bool) {
	var fallback *KeyDecl
	for i := range d.keys {
		k := &d.keys[i]
		if k.AttrName() != name {
			continue
		}
		if k.For == domain {
			return *k, true
		}
		if k.For == "all" && fallback == nil {
			fallback = k
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return KeyDecl{}, false
}

// AttrName is the attribute name a declaration binds: its name, or its id when unnamed
func (k KeyDecl) AttrName() string {
	if k.Name == "" {
		return k.ID
	}
	return k.Name
}

// Domain reports whether id names a node or an edge
func (d *Document) Domain(id EntityID) (string, bool) {
	if _, ok := d.nodeIndex[string(id)]; ok {
		return "node", true
	}
	if _, ok := d.edgeIndex[id]; ok {
		return "edge", true
	}
	return "", false
}

// Nodes returns the nodes in document order
func (d *Document) Nodes() []Node { return append([]Node(nil), d.nodes...) }

// Edges returns the edges in document order
func (d *Document) Edges() []Edge { return append([]Edge(nil), d.edges...) }

// Node returns a single node by id
func (d *Document) Node(id string) (Node, bool) {
	i, ok := d.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return d.nodes[i], true
}

// EdgeAt returns the edge at position i and its entity key
func (d *Document) EdgeAt(i int) (Edge, EntityID) {
	return d.edges[i], EdgeKey(d.edges[i], i)
}

// Entity returns the source attributes for a node or edge key.
// Node ids take precedence over edge keys.
func (d *Document) Entity(id EntityID) (Attributes, bool) {
	if i, ok := d.nodeIndex[string(id)]; ok {
		return d.nodes[i].Attrs, true
	}
	if i, ok := d.edgeIndex[id]; ok {
		return d.edges[i].Attrs, true
	}
	return Attributes{}, false
}

// Attr returns the raw source value for an entity attribute
func (d *Document) Attr(id EntityID, name string) (Value, bool) {
	attrs, ok := d.Entity(id)
	if !ok {
		return Value{}, false
	}
	return attrs.Get(name)
}

// EntityIDs returns every entity key: nodes first, then edges, in document order
func (d *Document) EntityIDs() []EntityID {
	ids := make([]EntityID, 0, len(d.nodes)+len(d.edges))
	for _, n := range d.nodes {
		ids = append(ids, EntityID(n.ID))
	}
	for i, e := range d.edges {
		ids = append(ids, EdgeKey(e, i))
	}
	return ids
}

// NodeIDs returns a sorted list of all node IDs (for deterministic output)
func (d *Document) NodeIDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for _, n := range d.nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)
	return ids
}

// EdgesForNode returns the keys of all edges where nodeID is source or target
func (d *Document) EdgesForNode(nodeID string) []EntityID {
	var keys []EntityID
	for i, e := range d.edges {
		if e.Source == nodeID || e.Target == nodeID {
			keys = append(keys, EdgeKey(e, i))
		}
	}
	return keys
}

// Replace returns a new Document in which the listed entities carry the given
// attributes. Every other node and edge shares its Attributes with the receiver,
// so untouched data is carried over exactly. The fingerprint is cleared: the new
// document has no source bytes until it is serialized.
func (d *Document) Replace(changes map[EntityID]Attributes) *Document {
	nodes := append([]Node(nil), d.nodes...)
	edges := append([]Edge(nil), d.edges...)
	for id, attrs := range changes {
		if i, ok := d.nodeIndex[string(id)]; ok {
			nodes[i].Attrs = attrs
			continue
		}
		if i, ok := d.edgeIndex[id]; ok {
			edges[i].Attrs = attrs
		}
	}
	return NewDocument(nodes, edges, "", DocumentOpts{Meta: d.meta, Directed: d.directed, Keys: d.keys})
}

// WithFingerprint returns a shallow copy carrying a new source fingerprint
func (d *Document) WithFingerprint(fp string) *Document {
	c := *d
	c.fingerprint = fp
	return &c
}
