// Package overlay merges committed annotations over a source document to
// produce the view a renderer should see.
package overlay

import (
	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// Source is the read side of an annotation store
type Source interface {
	HasAnnotations() bool
	IsAnnotated(id graph.EntityID) bool
	Overrides(id graph.EntityID) []graph.Attr
}

// EffectiveNode is a node with annotations applied
type EffectiveNode struct {
	ID        string           `json:"id"`
	Attrs     graph.Attributes `json:"attributes"`
	Annotated bool             `json:"annotated"`
	// Changed lists annotated attributes whose value differs from the source
	Changed []string `json:"changed,omitempty"`
}

// EffectiveEdge is an edge with annotations applied
type EffectiveEdge struct {
	Key       graph.EntityID   `json:"key"`
	Source    string           `json:"source"`
	Target    string           `json:"target"`
	Attrs     graph.Attributes `json:"attributes"`
	Annotated bool             `json:"annotated"`
	Changed   []string         `json:"changed,omitempty"`
}

// EffectiveDocument mirrors a graph.Document with overlays applied. It is read-only.
type EffectiveDocument struct {
	Nodes       []EffectiveNode `json:"nodes"`
	Edges       []EffectiveEdge `json:"edges"`
	Fingerprint string          `json:"source_fingerprint"`

	nodeIndex map[string]int
	edgeIndex map[graph.EntityID]int
}

// Resolve layers the store's effective values over the document. Neither input is
// modified. With an empty store every entity shares the source attribute maps.
func Resolve(doc *graph.Document, src Source) *EffectiveDocument {
	nodes := doc.Nodes()
	eff := &EffectiveDocument{
		Nodes:       make([]EffectiveNode, len(nodes)),
		Edges:       make([]EffectiveEdge, doc.EdgeCount()),
		Fingerprint: doc.Fingerprint(),
		nodeIndex:   make(map[string]int, len(nodes)),
		edgeIndex:   make(map[graph.EntityID]int, doc.EdgeCount()),
	}
	annotated := src != nil && src.HasAnnotations()

	for i, n := range nodes {
		eff.Nodes[i] = EffectiveNode{ID: n.ID, Attrs: n.Attrs}
		if _, dup := eff.nodeIndex[n.ID]; !dup {
			eff.nodeIndex[n.ID] = i
		}
		if annotated && src.IsAnnotated(graph.EntityID(n.ID)) {
			eff.Nodes[i].Attrs, eff.Nodes[i].Changed = apply(n.Attrs, src.Overrides(graph.EntityID(n.ID)))
			eff.Nodes[i].Annotated = true
		}
	}

	for i := range eff.Edges {
		e, key := doc.EdgeAt(i)
		eff.Edges[i] = EffectiveEdge{Key: key, Source: e.Source, Target: e.Target, Attrs: e.Attrs}
		if _, dup := eff.edgeIndex[key]; !dup {
			eff.edgeIndex[key] = i
		}
		// a node id shadows an edge key with the same text
		if _, isNode := eff.nodeIndex[string(key)]; isNode {
			continue
		}
		if annotated && src.IsAnnotated(key) {
			eff.Edges[i].Attrs, eff.Edges[i].Changed = apply(e.Attrs, src.Overrides(key))
			eff.Edges[i].Annotated = true
		}
	}
	return eff
}

func apply(attrs graph.Attributes, overrides []graph.Attr) (graph.Attributes, []string) {
	var changed []string
	for _, o := range overrides {
		if cur, ok := attrs.Get(o.Name); !ok || !cur.Equal(o.Value) {
			changed = append(changed, o.Name)
		}
	}
	return attrs.WithAll(overrides), changed
}

// Node returns an effective node by id
func (d *EffectiveDocument) Node(id string) (EffectiveNode, bool) {
	i, ok := d.nodeIndex[id]
	if !ok {
		return EffectiveNode{}, false
	}
	return d.Nodes[i], true
}

// Entity returns the effective attributes of a node or edge and its annotated flag
func (d *EffectiveDocument) Entity(id graph.EntityID) (graph.Attributes, bool, bool) {
	if i, ok := d.nodeIndex[string(id)]; ok {
		return d.Nodes[i].Attrs, d.Nodes[i].Annotated, true
	}
	if i, ok := d.edgeIndex[id]; ok {
		return d.Edges[i].Attrs, d.Edges[i].Annotated, true
	}
	return graph.Attributes{}, false, false
}

// Attr returns one effective attribute value
func (d *EffectiveDocument) Attr(id graph.EntityID, name string) (graph.Value, bool) {
	attrs, _, ok := d.Entity(id)
	if !ok {
		return graph.Value{}, false
	}
	return attrs.Get(name)
}

// MissingAttribute lists node ids whose effective value for name is absent or blank,
// in document order. Used to find nodes that still need a user-supplied value.
func MissingAttribute(d *EffectiveDocument, name string) []string {
	var ids []string
	for _, n := range d.Nodes {
		v, ok := n.Attrs.Get(name)
		if !ok || v.IsBlank() {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Stats counts annotated entities in an effective document
type Stats struct {
	AnnotatedNodes int `json:"annotated_nodes"`
	AnnotatedEdges int `json:"annotated_edges"`
	ChangedValues  int `json:"changed_values"`
}

// Count summarizes the overlay for display
func (d *EffectiveDocument) Count() Stats {
	var s Stats
	for _, n := range d.Nodes {
		if n.Annotated {
			s.AnnotatedNodes++
		}
		s.ChangedValues += len(n.Changed)
	}
	for _, e := range d.Edges {
		if e.Annotated {
			s.AnnotatedEdges++
		}
		s.ChangedValues += len(e.Changed)
	}
	return s
}
