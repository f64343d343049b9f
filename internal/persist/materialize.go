package persist

import (
	"github.com/gkiler/visualization-for-preds/internal/graph"
)

// Overrides is the read side of an annotation store needed to bake values in
type Overrides interface {
	AnnotatedEntities() []graph.EntityID
	Overrides(id graph.EntityID) []graph.Attr
}

// Materialized is a document with annotations baked into its attributes
type Materialized struct {
	Document *graph.Document
	// Updated lists entities whose attributes changed, sorted
	Updated []graph.EntityID
	// Missing lists annotated entities absent from the document; their values are not written
	Missing []graph.EntityID
}

// Materialize bakes effective annotation values into a new document. Only values
// that differ from the source are written; every other entity keeps the source's
// attribute map, so persisting is a minimal diff.
func Materialize(doc *graph.Document, src Overrides) Materialized {
	changes := make(map[graph.EntityID]graph.Attributes)
	var out Materialized
	for _, id := range src.AnnotatedEntities() {
		attrs, ok := doc.Entity(id)
		if !ok {
			out.Missing = append(out.Missing, id)
			continue
		}
		var diff []graph.Attr
		for _, o := range src.Overrides(id) {
			if cur, ok := attrs.Get(o.Name); ok && cur.Equal(o.Value) {
				continue
			}
			diff = append(diff, o)
		}
		if len(diff) == 0 {
			continue
		}
		changes[id] = attrs.WithAll(diff)
		out.Updated = append(out.Updated, id)
	}
	if len(changes) == 0 {
		out.Document = doc
		return out
	}
	out.Document = doc.Replace(changes)
	return out
}
