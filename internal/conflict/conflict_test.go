package conflict

import (
	"testing"

	"github.com/gkiler/visualization-for-preds/internal/annotation"
	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/gkiler/visualization-for-preds/internal/overlay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docWith(attr string, v *graph.Value) *graph.Document {
	attrs := graph.NewAttributes(graph.Attr{Name: "label", Value: graph.String("n1")})
	if v != nil {
		attrs = attrs.With(attr, *v)
	}
	return graph.NewDocument([]graph.Node{{ID: "n1", Attrs: attrs}}, nil, "", graph.DocumentOpts{})
}

func val(v graph.Value) *graph.Value { return &v }

func committedStore(t *testing.T, baseline *graph.Value, user graph.Value) (*annotation.Store, string) {
	t.Helper()
	s := annotation.NewStore()
	id, err := s.Stage("n1", "field", user, baseline)
	require.NoError(t, err)
	require.NoError(t, s.Commit(id))
	return s, id
}

func TestDetect_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		reloaded *graph.Value
		conflict bool
	}{
		{"source changed to a third value", val(graph.String("C")), true},
		{"source unchanged", val(graph.String("A")), false},
		{"source converged on the user value", val(graph.String("B")), false},
		{"attribute removed from source", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, id := committedStore(t, val(graph.String("A")), graph.String("B"))

			report, err := Detect(docWith("field", tt.reloaded), s)
			require.NoError(t, err)

			rec, _ := s.Get(id)
			if !tt.conflict {
				assert.Empty(t, report.Conflicts)
				assert.Equal(t, annotation.StatusCommitted, rec.Status)
				return
			}
			require.Len(t, report.Conflicts, 1)
			c := report.Conflicts[0]
			assert.Equal(t, graph.EntityID("n1"), c.EntityID)
			assert.Equal(t, "field", c.Attribute)
			assert.True(t, c.Baseline.Equal(graph.String("A")))
			assert.True(t, c.User.Equal(graph.String("B")))
			if tt.reloaded == nil {
				assert.Nil(t, c.External)
			} else {
				assert.True(t, c.External.Equal(*tt.reloaded))
			}
			assert.Equal(t, annotation.StatusConflicted, rec.Status)
		})
	}
}

func TestDetect_NoBaselineIsSkipped(t *testing.T) {
	s, _ := committedStore(t, nil, graph.String("B"))
	report, err := Detect(docWith("field", val(graph.String("Z"))), s)
	require.NoError(t, err)
	assert.Empty(t, report.Conflicts)
	assert.Equal(t, 1, report.NoBaseline)
}

func TestDetect_AlreadyConflictedNotReported(t *testing.T) {
	s, _ := committedStore(t, val(graph.String("A")), graph.String("B"))
	doc := docWith("field", val(graph.String("C")))

	first, err := Detect(doc, s)
	require.NoError(t, err)
	assert.Len(t, first.Conflicts, 1)

	second, err := Detect(doc, s)
	require.NoError(t, err)
	assert.Empty(t, second.Conflicts)
	assert.Zero(t, second.Checked)
}

func TestCheck_DoesNotMark(t *testing.T) {
	s, id := committedStore(t, val(graph.String("A")), graph.String("B"))
	report := Check(docWith("field", val(graph.String("C"))), s)
	assert.Len(t, report.Conflicts, 1)
	rec, _ := s.Get(id)
	assert.Equal(t, annotation.StatusCommitted, rec.Status)
}

func TestNumericBaselineComparison(t *testing.T) {
	s, _ := committedStore(t, val(graph.Int(10)), graph.Int(12))
	report, err := Detect(docWith("field", val(graph.Float(10))), s)
	require.NoError(t, err)
	assert.Empty(t, report.Conflicts, "10 and 10.0 are the same number")
}

// load n1.weight=10, annotate 12, source drifts to 15, discard falls back to 15
func TestEndToEnd_DriftThenDiscard(t *testing.T) {
	loaded := docWith("weight", val(graph.Int(10)))
	s := annotation.NewStore()

	baseline, _ := loaded.Attr("n1", "weight")
	id, err := s.Stage("n1", "weight", graph.Int(12), &baseline)
	require.NoError(t, err)
	require.NoError(t, s.Commit(id))

	v, _ := s.EffectiveValue("n1", "weight")
	assert.True(t, v.Equal(graph.Int(12)))

	reloaded := docWith("weight", val(graph.Int(15)))
	report, err := Detect(reloaded, s)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	c := report.Conflicts[0]
	assert.True(t, c.Baseline.Equal(graph.Int(10)))
	assert.True(t, c.External.Equal(graph.Int(15)))
	assert.True(t, c.User.Equal(graph.Int(12)))

	eff, _ := overlay.Resolve(reloaded, s).Attr("n1", "weight")
	assert.True(t, eff.Equal(graph.Int(12)), "user value stays in effect")

	_, err = s.Discard(id)
	require.NoError(t, err)
	eff, _ = overlay.Resolve(reloaded, s).Attr("n1", "weight")
	assert.True(t, eff.Equal(graph.Int(15)))
}

// failingStore refuses to mark anything and records what it was asked to mark
type failingStore struct {
	*annotation.Store
	calls [][]string
}

func (f *failingStore) MarkConflicted(ids ...string) error {
	f.calls = append(f.calls, ids)
	return annotation.ErrRecordNotFound
}

func TestDetect_MarksInOneBatch(t *testing.T) {
	inner := annotation.NewStore()
	var ids []string
	for _, attr := range []string{"a", "b"} {
		id, err := inner.Stage("n1", attr, graph.String("user"), val(graph.String("old")))
		require.NoError(t, err)
		require.NoError(t, inner.Commit(id))
		ids = append(ids, id)
	}
	attrs := graph.NewAttributes(
		graph.Attr{Name: "a", Value: graph.String("new")},
		graph.Attr{Name: "b", Value: graph.String("new")},
	)
	doc := graph.NewDocument([]graph.Node{{ID: "n1", Attrs: attrs}}, nil, "", graph.DocumentOpts{})

	store := &failingStore{Store: inner}
	report, err := Detect(doc, store)
	require.Error(t, err)
	assert.Len(t, report.Conflicts, 2)
	require.Len(t, store.calls, 1)
	assert.ElementsMatch(t, ids, store.calls[0])
	assert.Empty(t, inner.Conflicted())
}

func TestDetect_NullBaseline(t *testing.T) {
	tests := []struct {
		name     string
		reloaded *graph.Value
		conflict bool
	}{
		{"source still null", val(graph.Null()), false},
		{"source filled in", val(graph.String("C")), true},
		{"attribute removed", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := committedStore(t, val(graph.Null()), graph.String("B"))
			report, err := Detect(docWith("field", tt.reloaded), s)
			require.NoError(t, err)
			assert.Equal(t, tt.conflict, len(report.Conflicts) == 1)
		})
	}
}
