package overlay

import (
	"testing"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocument() *graph.Document {
	nodes := []graph.Node{
		{ID: "n1", Attrs: graph.NewAttributes(
			graph.Attr{Name: "label", Value: graph.String("Aspirin")},
			graph.Attr{Name: "weight", Value: graph.Int(10)},
		)},
		{ID: "n2", Attrs: graph.NewAttributes(
			graph.Attr{Name: "label", Value: graph.String("COX1")},
			graph.Attr{Name: "smiles", Value: graph.String(" ")},
		)},
		{ID: "n3", Attrs: graph.NewAttributes(
			graph.Attr{Name: "label", Value: graph.String("COX2")},
			graph.Attr{Name: "smiles", Value: graph.String("CC")},
		)},
	}
	edges := []graph.Edge{
		{Source: "n1", Target: "n2", Attrs: graph.NewAttributes(graph.Attr{Name: "score", Value: graph.Float(0.4)})},
	}
	return graph.NewDocument(nodes, edges, "fp1", graph.DocumentOpts{})
}

func commit(t *testing.T, s *annotation.Store, id graph.EntityID, attr string, v graph.Value) {
	t.Helper()
	rid, err := s.Stage(id, attr, v, nil)
	require.NoError(t, err)
	require.NoError(t, s.Commit(rid))
}

func TestResolve_EmptyStoreSharesSource(t *testing.T) {
	doc := testDocument()
	eff := Resolve(doc, annotation.NewStore())

	require.Len(t, eff.Nodes, 3)
	for _, n := range eff.Nodes {
		assert.False(t, n.Annotated)
		src, _ := doc.Node(n.ID)
		assert.True(t, src.Attrs.Equal(n.Attrs))
	}
	assert.Equal(t, "fp1", eff.Fingerprint)
	assert.Equal(t, graph.EntityID("n1-n2-0"), eff.Edges[0].Key)

	eff = Resolve(doc, nil)
	assert.Len(t, eff.Nodes, 3)
}

func TestResolve_AppliesOverrides(t *testing.T) {
	doc := testDocument()
	s := annotation.NewStore()
	commit(t, s, "n1", "weight", graph.Int(12))
	commit(t, s, "n1", "note", graph.String("checked"))
	commit(t, s, "n1-n2-0", "score", graph.Float(0.9))

	eff := Resolve(doc, s)

	n1, ok := eff.Node("n1")
	require.True(t, ok)
	assert.True(t, n1.Annotated)
	assert.Equal(t, []string{"label", "weight", "note"}, n1.Attrs.Keys(), "annotation-only attributes are appended")
	v, _ := eff.Attr("n1", "weight")
	assert.True(t, v.Equal(graph.Int(12)))

	n2, _ := eff.Node("n2")
	assert.False(t, n2.Annotated)

	attrs, annotated, ok := eff.Entity("n1-n2-0")
	require.True(t, ok)
	assert.True(t, annotated)
	v, _ = attrs.Get("score")
	assert.True(t, v.Equal(graph.Float(0.9)))

	src, _ := doc.Attr("n1", "weight")
	assert.True(t, src.Equal(graph.Int(10)), "document must not change")

	stats := eff.Count()
	assert.Equal(t, 1, stats.AnnotatedNodes)
	assert.Equal(t, 1, stats.AnnotatedEdges)
	assert.Equal(t, 3, stats.ChangedValues)
}

func TestResolve_NoOpOverrideIsNotChanged(t *testing.T) {
	s := annotation.NewStore()
	commit(t, s, "n1", "weight", graph.Float(10))

	n1, _ := Resolve(testDocument(), s).Node("n1")
	assert.True(t, n1.Annotated)
	assert.Empty(t, n1.Changed)
}

func TestResolve_Idempotent(t *testing.T) {
	doc := testDocument()
	s := annotation.NewStore()
	commit(t, s, "n2", "smiles", graph.String("CCO"))

	first := Resolve(doc, s)
	second := Resolve(doc, s)
	require.Equal(t, len(first.Nodes), len(second.Nodes))
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].Annotated, second.Nodes[i].Annotated)
		assert.True(t, first.Nodes[i].Attrs.Equal(second.Nodes[i].Attrs))
	}
	assert.Equal(t, 1, s.Len())
}

func TestMissingAttribute(t *testing.T) {
	doc := testDocument()
	s := annotation.NewStore()
	assert.Equal(t, []string{"n1", "n2"}, MissingAttribute(Resolve(doc, s), "smiles"))

	commit(t, s, "n2", "smiles", graph.String("CCO"))
	assert.Equal(t, []string{"n1"}, MissingAttribute(Resolve(doc, s), "smiles"))
}
