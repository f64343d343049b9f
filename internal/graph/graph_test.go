package graph

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quickDocument(nodeIDs []string, edges [][2]string) *Document {
	var nodes []Node
	for _, id := range nodeIDs {
		nodes = append(nodes, Node{ID: id, Attrs: NewAttributes(Attr{"label", String("Node " + id)})})
	}
	var es []Edge
	for _, e := range edges {
		es = append(es, Edge{Source: e[0], Target: e[1], Attrs: NewAttributes(Attr{"weight", Float(1)})})
	}
	return NewDocument(nodes, es, "fp", DocumentOpts{Directed: true})
}

// --- Value ---

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"12", Int(12)},
		{" -3 ", Int(-3)},
		{"1.5", Float(1.5)},
		{"2e3", Float(2000)},
		{"true", Bool(true)},
		{"FALSE", Bool(false)},
		{"CCO", String("CCO")},
		{"1.2.3", String("1.2.3")},
		{"", String("")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseValue(tt.in)
			assert.Equal(t, tt.want.Kind(), got.Kind())
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestValue_EqualNumericAcrossKinds(t *testing.T) {
	assert.True(t, Int(10).Equal(Float(10)))
	assert.False(t, Int(10).Equal(String("10")))
	assert.False(t, Bool(true).Equal(Int(1)))
	assert.True(t, Value{}.Equal(Value{}))
}

func TestValue_JSONKeepsKind(t *testing.T) {
	raw, err := Raw([]byte(`{"a": [1, 2]}`))
	require.NoError(t, err)
	for _, v := range []Value{Int(10), Float(10), Float(0.25), String("x"), Bool(false), Null(), raw} {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var back Value
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, v.Kind(), back.Kind(), "kind changed for %s", data)
		assert.True(t, v.Equal(back))
	}
}

func TestValue_UnmarshalNullAndRaw(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	assert.True(t, v.IsNull())
	assert.True(t, v.IsBlank())
	assert.False(t, v.Equal(String("")), "null is not the empty string")

	require.NoError(t, json.Unmarshal([]byte(`{ "a" : [1, 2] }`), &v))
	assert.Equal(t, KindRaw, v.Kind())
	assert.Equal(t, `{"a":[1,2]}`, v.String())
	other, err := Raw([]byte(`{"a":[1,2]}`))
	require.NoError(t, err)
	assert.True(t, v.Equal(other))
}

func TestValue_As(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		to   Kind
		want Value
		ok   bool
	}{
		{"integral float to int", Float(25), KindInt, Int(25), true},
		{"fractional float to int", Float(2.5), KindInt, Value{}, false},
		{"int to float", Int(7), KindFloat, Float(7), true},
		{"numeric text to int", String(" 12 "), KindInt, Int(12), true},
		{"word to int", String("unknown"), KindInt, Value{}, false},
		{"text to bool", String("TRUE"), KindBool, Bool(true), true},
		{"int to bool", Int(1), KindBool, Value{}, false},
		{"number to string", Float(0.5), KindString, String("0.5"), true},
		{"null to string", Null(), KindString, Value{}, false},
		{"same kind", Bool(false), KindBool, Bool(false), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.in.As(tt.to)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want.Kind(), got.Kind())
				assert.True(t, tt.want.Equal(got))
			}
		})
	}
}

// --- Attributes ---

func TestAttributes_WithKeepsReceiver(t *testing.T) {
	a := NewAttributes(Attr{"a", Int(1)}, Attr{"b", Int(2)})
	b := a.With("a", Int(5)).With("c", String("new"))

	v, _ := a.Get("a")
	assert.True(t, v.Equal(Int(1)), "receiver must not change")
	assert.Equal(t, []string{"a", "b"}, a.Keys())
	assert.Equal(t, []string{"a", "b", "c"}, b.Keys())
	v, _ = b.Get("a")
	assert.True(t, v.Equal(Int(5)))
}

func TestAttributes_JSONPreservesOrder(t *testing.T) {
	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(`{"zeta":1,"alpha":"x","mid":true}`), &a))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, a.Keys())

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"zeta":1,"alpha":"x","mid":true}`, string(out))
}

// --- Document ---

func TestEdgeKey_RoundTrip(t *testing.T) {
	key := EdgeKey(Edge{Source: "mol1", Target: "prot1"}, 3)
	assert.Equal(t, EntityID("mol1-prot1-3"), key)

	src, tgt, idx, err := ParseEdgeKey(key)
	require.NoError(t, err)
	assert.Equal(t, "mol1", src)
	assert.Equal(t, "prot1", tgt)
	assert.Equal(t, 3, idx)

	assert.Equal(t, EntityID("e7"), EdgeKey(Edge{ID: "e7", Source: "a", Target: "b"}, 0))
}

func TestParseEdgeKey_Invalid(t *testing.T) {
	for _, key := range []EntityID{"nodash", "a-b-x", "a-1", "-b-1"} {
		_, _, _, err := ParseEdgeKey(key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestDocument_Lookup(t *testing.T) {
	d := quickDocument([]string{"A", "B"}, [][2]string{{"A", "B"}})

	v, ok := d.Attr("A", "label")
	require.True(t, ok)
	assert.Equal(t, "Node A", v.String())

	v, ok = d.Attr("A-B-0", "weight")
	require.True(t, ok)
	assert.True(t, v.Equal(Float(1)))

	_, ok = d.Attr("missing", "label")
	assert.False(t, ok)

	assert.Equal(t, []EntityID{"A", "B", "A-B-0"}, d.EntityIDs())
	assert.Equal(t, []EntityID{"A-B-0"}, d.EdgesForNode("B"))
}

func TestDocument_ReplaceSharesUntouched(t *testing.T) {
	d := quickDocument([]string{"A", "B"}, [][2]string{{"A", "B"}})
	a, _ := d.Entity("A")
	updated := d.Replace(map[EntityID]Attributes{"A": a.With("label", String("changed"))})

	v, _ := d.Attr("A", "label")
	assert.Equal(t, "Node A", v.String(), "original document must not change")
	v, _ = updated.Attr("A", "label")
	assert.Equal(t, "changed", v.String())

	origB, _ := d.Entity("B")
	newB, _ := updated.Entity("B")
	assert.Same(t, origB.m, newB.m, "untouched entities share their attribute maps")
	assert.Empty(t, updated.Fingerprint())
}

func TestDocument_DeclaredKeys(t *testing.T) {
	d := NewDocument([]Node{{ID: "A"}}, []Edge{{Source: "A", Target: "A"}}, "fp", DocumentOpts{Keys: []KeyDecl{
		{ID: "k0", For: "all", Name: "weight", Type: "string", Kind: KindString},
		{ID: "k1", For: "node", Name: "weight", Type: "long", Kind: KindInt},
		{ID: "k2", For: "edge", Type: "double", Kind: KindFloat},
	}})

	decl, ok := d.Declared("node", "weight")
	require.True(t, ok)
	assert.Equal(t, "k1", decl.ID, "domain key beats for=all")
	decl, ok = d.Declared("edge", "weight")
	require.True(t, ok)
	assert.Equal(t, "k0", decl.ID)
	_, ok = d.Declared("edge", "k2")
	assert.True(t, ok, "unnamed keys bind their id")
	_, ok = d.Declared("node", "label")
	assert.False(t, ok)

	domain, ok := d.Domain("A-A-0")
	require.True(t, ok)
	assert.Equal(t, "edge", domain)

	a, _ := d.Entity("A")
	updated := d.Replace(map[EntityID]Attributes{"A": a.With("weight", Int(1))})
	assert.Equal(t, d.Keys(), updated.Keys())
}

func TestFingerprint_Deterministic(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abc")))
	assert.NotEqual(t, Fingerprint([]byte("abc")), Fingerprint([]byte("abd")))
}

// --- Validate ---

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		d := quickDocument([]string{"A", "B"}, [][2]string{{"A", "B"}})
		assert.NoError(t, Validate(d, Limits{}))
	})

	t.Run("dangling edge and duplicate node", func(t *testing.T) {
		d := NewDocument(
			[]Node{{ID: "A"}, {ID: "A"}},
			[]Edge{{Source: "A", Target: "Z"}},
			"", DocumentOpts{},
		)
		err := Validate(d, Limits{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDocument))
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Len(t, verr.Problems, 2)
	})

	t.Run("limits", func(t *testing.T) {
		d := quickDocument([]string{"A", "B", "C"}, nil)
		assert.Error(t, Validate(d, Limits{MaxNodes: 2}))
		assert.NoError(t, Validate(d, Limits{MaxNodes: 3}))
	})

	t.Run("edge key collides with node id", func(t *testing.T) {
		d := NewDocument(
			[]Node{{ID: "A"}, {ID: "B"}, {ID: "x"}},
			[]Edge{{ID: "x", Source: "A", Target: "B"}},
			"", DocumentOpts{},
		)
		assert.Error(t, Validate(d, Limits{}))
	})
}

// --- Topology ---

func TestTopology_EmptyGraph(t *testing.T) {
	r := ComputeTopology(NewDocument(nil, nil, "", DocumentOpts{}), 10)
	assert.Zero(t, r.TotalNodes)
	assert.Zero(t, r.NumComponents)
}

func TestTopology_TwoComponents(t *testing.T) {
	d := quickDocument(
		[]string{"A", "B", "C", "D", "E"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"D", "E"}},
	)
	r := ComputeTopology(d, 10)
	assert.Equal(t, 2, r.NumComponents)
	assert.Equal(t, 3, r.LargestComponent)
	assert.Equal(t, 2, r.SmallestComponent)
	assert.Zero(t, r.OrphanCount)
	assert.Equal(t, []string{"label"}, r.AttributeNames)
}

func TestTopology_Orphans(t *testing.T) {
	d := quickDocument([]string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"A", "Q"}})
	r := ComputeTopology(d, 10)
	assert.Equal(t, 1, r.OrphanCount)
	assert.Equal(t, []string{"C"}, r.OrphanIDs)
	assert.Equal(t, 1, r.DanglingEdges)
}
