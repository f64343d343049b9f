package codec

import (
	"encoding/json"
	"testing"

	"github.com/gkiler/visualization-for-preds/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "metadata": {"name": "Sample Chemical Network", "version": "1.0"},
  "nodes": [
    {"id": "mol1", "label": "Molecule A", "weight": 180.16, "formula": "C6H12O6"},
    {"id": "prot1", "label": "Protein X", "length": 450, "enzyme": true},
    {"id": 7, "label": "numeric id"}
  ],
  "edges": [
    {"source": "mol1", "target": "prot1", "affinity": 0.8},
    {"source": "prot1", "target": 7, "id": "e-custom", "type": "conversion"}
  ]
}`

const sampleGraphML = `<?xml version="1.0" encoding="UTF-8"?>
<graphml xmlns="http://graphml.graphdrawing.org/xmlns">
  <key id="d0" for="node" attr.name="label" attr.type="string"/>
  <key id="d1" for="node" attr.name="weight" attr.type="double"/>
  <key id="d2" for="node" attr.name="length" attr.type="long"/>
  <key id="d3" for="edge" attr.name="affinity" attr.type="double"/>
  <key id="d4" for="node" attr.name="enzyme" attr.type="boolean"/>
  <graph edgedefault="undirected">
    <node id="mol1"><data key="d0">Molecule A</data><data key="d1">180.16</data></node>
    <node id="prot1"><data key="d0">Protein X</data><data key="d2">450</data><data key="d4">True</data></node>
    <edge source="mol1" target="prot1"><data key="d3">0.8</data></edge>
  </graph>
</graphml>`

func TestForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"net.graphml", "graphml"},
		{"NET.XML", "graphml"},
		{"data/net.json", "json"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			c, err := ForPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Name())
		})
	}
	_, err := ForPath("net.csv")
	assert.Error(t, err)
}

func TestJSON_Parse(t *testing.T) {
	d, err := JSON{}.Parse([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, 3, d.NodeCount())
	assert.Equal(t, graph.Fingerprint([]byte(sampleJSON)), d.Fingerprint())
	assert.True(t, d.Directed())

	mol, ok := d.Node("mol1")
	require.True(t, ok)
	assert.Equal(t, []string{"label", "weight", "formula"}, mol.Attrs.Keys())
	v, _ := mol.Attrs.Get("weight")
	assert.Equal(t, graph.KindFloat, v.Kind())

	v, _ = d.Attr("prot1", "length")
	assert.Equal(t, graph.KindInt, v.Kind())

	_, ok = d.Node("7")
	assert.True(t, ok, "numeric ids are kept as text")

	_, ok = d.Entity("mol1-prot1-0")
	assert.True(t, ok)
	_, ok = d.Entity("e-custom")
	assert.True(t, ok)

	name, _ := d.Meta().Get("name")
	assert.Equal(t, "Sample Chemical Network", name.String())
}

func TestJSON_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"node without id", `{"nodes":[{"label":"x"}]}`},
		{"edge without target", `{"nodes":[{"id":"a"}],"edges":[{"source":"a"}]}`},
		{"flattened properties name", `{"nodes":[{"id":"a","properties.x":1}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := JSON{}.Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestGraphML_Parse(t *testing.T) {
	d, err := GraphML{}.Parse([]byte(sampleGraphML))
	require.NoError(t, err)

	assert.False(t, d.Directed())
	assert.Equal(t, 2, d.NodeCount())

	tests := []struct {
		entity graph.EntityID
		attr   string
		want   graph.Value
	}{
		{"mol1", "label", graph.String("Molecule A")},
		{"mol1", "weight", graph.Float(180.16)},
		{"prot1", "length", graph.Int(450)},
		{"prot1", "enzyme", graph.Bool(true)},
		{"mol1-prot1-0", "affinity", graph.Float(0.8)},
	}
	for _, tt := range tests {
		t.Run(string(tt.entity)+"."+tt.attr, func(t *testing.T) {
			v, ok := d.Attr(tt.entity, tt.attr)
			require.True(t, ok)
			assert.Equal(t, tt.want.Kind(), v.Kind())
			assert.True(t, tt.want.Equal(v))
		})
	}

	_, ok := d.Attr("mol1", "length")
	assert.False(t, ok, "key defaults are not applied")
}

func TestGraphML_BadTypedValue(t *testing.T) {
	raw := `<graphml><key id="d0" for="node" attr.name="n" attr.type="int"/>
<graph edgedefault="directed"><node id="a"><data key="d0">abc</data></node></graph></graphml>`
	_, err := GraphML{}.Parse([]byte(raw))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []Codec{JSON{}, GraphML{}} {
		t.Run(c.Name(), func(t *testing.T) {
			src := sampleJSON
			if c.Name() == "graphml" {
				src = sampleGraphML
			}
			first, err := c.Parse([]byte(src))
			require.NoError(t, err)

			raw, err := c.Serialize(first)
			require.NoError(t, err)
			second, err := c.Parse(raw)
			require.NoError(t, err)

			assert.Equal(t, first.EntityIDs(), second.EntityIDs())
			assert.Equal(t, first.Directed(), second.Directed())
			for _, id := range first.EntityIDs() {
				a, _ := first.Entity(id)
				b, _ := second.Entity(id)
				assert.True(t, a.Equal(b), "entity %s changed: %v vs %v", id, a.Keys(), b.Keys())
			}
			assert.True(t, first.Meta().Equal(second.Meta()))

			again, err := c.Serialize(second)
			require.NoError(t, err)
			assert.Equal(t, string(raw), string(again), "serialization is deterministic")
		})
	}
}

func TestGraphML_MixedKindsWiden(t *testing.T) {
	d := graph.NewDocument([]graph.Node{
		{ID: "a", Attrs: graph.NewAttributes(graph.Attr{Name: "w", Value: graph.Int(1)})},
		{ID: "b", Attrs: graph.NewAttributes(graph.Attr{Name: "w", Value: graph.Float(2.5)})},
	}, nil, "", graph.DocumentOpts{Directed: true})

	raw, err := GraphML{}.Serialize(d)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `attr.type="double"`)

	back, err := GraphML{}.Parse(raw)
	require.NoError(t, err)
	v, _ := back.Attr("a", "w")
	assert.Equal(t, graph.KindFloat, v.Kind())
	assert.True(t, v.Equal(graph.Int(1)))
}

const propertiesJSON = `{
  "directed": true,
  "nodes": [
    {"id": "m1", "label": "Spectrum 1", "properties": {"library_SMILES": "CCO", "annotation_status": null, "peaks": [1, 2.5]}, "x": null},
    {"id": "m2", "properties": {}, "tags": {"a": 1}}
  ],
  "edges": [
    {"source": "m1", "target": "m2", "properties": {"cosine": 0.91}, "weight": 1}
  ]
}`

func TestJSON_PropertiesAndNulls(t *testing.T) {
	d, err := JSON{}.Parse([]byte(propertiesJSON))
	require.NoError(t, err)

	m1, _ := d.Node("m1")
	assert.Equal(t, []string{"label", "properties.library_SMILES", "properties.annotation_status", "properties.peaks", "x"}, m1.Attrs.Keys())

	tests := []struct {
		entity graph.EntityID
		attr   string
		kind   graph.Kind
		text   string
	}{
		{"m1", "properties.library_SMILES", graph.KindString, "CCO"},
		{"m1", "properties.annotation_status", graph.KindNull, "null"},
		{"m1", "properties.peaks", graph.KindRaw, "[1,2.5]"},
		{"m1", "x", graph.KindNull, "null"},
		{"m2", "properties", graph.KindRaw, "{}"},
		{"m2", "tags", graph.KindRaw, `{"a":1}`},
		{"m1-m2-0", "properties.cosine", graph.KindFloat, "0.91"},
	}
	for _, tt := range tests {
		t.Run(string(tt.entity)+"."+tt.attr, func(t *testing.T) {
			v, ok := d.Attr(tt.entity, tt.attr)
			require.True(t, ok)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.text, v.String())
		})
	}

	raw, err := JSON{}.Serialize(d)
	require.NoError(t, err)

	var out struct {
		Nodes []json.RawMessage `json:"nodes"`
		Edges []json.RawMessage `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Nodes, 2)
	assert.JSONEq(t, `{"id": "m1", "label": "Spectrum 1", "properties": {"library_SMILES": "CCO", "annotation_status": null, "peaks": [1, 2.5]}, "x": null}`, string(out.Nodes[0]))
	assert.JSONEq(t, `{"id": "m2", "properties": {}, "tags": {"a": 1}}`, string(out.Nodes[1]))
	assert.JSONEq(t, `{"source": "m1", "target": "m2", "properties": {"cosine": 0.91}, "weight": 1}`, string(out.Edges[0]))
}

func TestJSON_AnnotatedPropertyNestsBack(t *testing.T) {
	d, err := JSON{}.Parse([]byte(propertiesJSON))
	require.NoError(t, err)
	m1, _ := d.Node("m1")
	m2, _ := d.Node("m2")

	updated := d.Replace(map[graph.EntityID]graph.Attributes{
		"m1": m1.Attrs.With("properties.library_SMILES", graph.String("CC(=O)O")).With("properties.inchi", graph.String("X")),
		"m2": m2.Attrs.With("label", graph.String("Spectrum 2")),
	})
	raw, err := JSON{}.Serialize(updated)
	require.NoError(t, err)

	var out struct {
		Nodes []json.RawMessage `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.JSONEq(t, `{"id": "m1", "label": "Spectrum 1", "properties": {"library_SMILES": "CC(=O)O", "annotation_status": null, "peaks": [1, 2.5], "inchi": "X"}, "x": null}`, string(out.Nodes[0]))
	assert.JSONEq(t, `{"id": "m2", "properties": {}, "tags": {"a": 1}, "label": "Spectrum 2"}`, string(out.Nodes[1]))
}

func TestJSON_SerializeRejectsReservedCollision(t *testing.T) {
	tests := []struct {
		name  string
		attrs graph.Attributes
		edge  bool
	}{
		{"node id", graph.NewAttributes(graph.Attr{Name: "id", Value: graph.String("other")}), false},
		{"edge source", graph.NewAttributes(graph.Attr{Name: "source", Value: graph.String("b")}), true},
		{"properties next to lifted members", graph.NewAttributes(
			graph.Attr{Name: "properties.a", Value: graph.Int(1)},
			graph.Attr{Name: "properties", Value: graph.String("flat")},
		), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes := []graph.Node{{ID: "a"}, {ID: "b"}}
			var edges []graph.Edge
			if tt.edge {
				edges = []graph.Edge{{Source: "a", Target: "b", Attrs: tt.attrs}}
			} else {
				nodes[0].Attrs = tt.attrs
			}
			_, err := JSON{}.Serialize(graph.NewDocument(nodes, edges, "", graph.DocumentOpts{Directed: true}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "collides")
		})
	}
}

const typedGraphML = `<?xml version="1.0" encoding="UTF-8"?>
<graphml xmlns="http://graphml.graphdrawing.org/xmlns">
  <key id="w" for="node" attr.name="weight" attr.type="long">
    <default>0</default>
  </key>
  <key id="lbl" for="all" attr.name="label" attr.type="string"/>
  <graph edgedefault="directed">
    <node id="n1"><data key="w">10</data><data key="lbl">a</data></node>
    <node id="n2"><data key="w">20</data></node>
    <node id="n3"><data key="w">30</data></node>
    <edge source="n1" target="n2"><data key="lbl">link</data></edge>
  </graph>
</graphml>`

func TestGraphML_KeepsDeclaredKeys(t *testing.T) {
	d, err := GraphML{}.Parse([]byte(typedGraphML))
	require.NoError(t, err)

	decl, ok := d.Declared("node", "weight")
	require.True(t, ok)
	assert.Equal(t, graph.KindInt, decl.Kind)
	require.NotNil(t, decl.Default)
	assert.Equal(t, "0", *decl.Default)
	_, ok = d.Declared("edge", "label")
	assert.True(t, ok, "for=all keys apply to edges")

	n2, _ := d.Node("n2")
	n1, _ := d.Node("n1")
	updated := d.Replace(map[graph.EntityID]graph.Attributes{
		"n2": n2.Attrs.With("weight", graph.Float(25)),
		"n1": n1.Attrs.With("note", graph.String("checked")),
	})
	raw, err := GraphML{}.Serialize(updated)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `<key id="w" for="node" attr.name="weight" attr.type="long">`)
	assert.Contains(t, string(raw), `<default>0</default>`)
	assert.Contains(t, string(raw), `<key id="d0" for="node" attr.name="note" attr.type="string">`)

	back, err := GraphML{}.Parse(raw)
	require.NoError(t, err)
	tests := []struct {
		entity graph.EntityID
		attr   string
		want   graph.Value
	}{
		{"n1", "weight", graph.Int(10)},
		{"n2", "weight", graph.Int(25)},
		{"n3", "weight", graph.Int(30)},
		{"n1", "note", graph.String("checked")},
		{"n1-n2-0", "label", graph.String("link")},
	}
	for _, tt := range tests {
		t.Run(string(tt.entity)+"."+tt.attr, func(t *testing.T) {
			v, ok := back.Attr(tt.entity, tt.attr)
			require.True(t, ok)
			assert.Equal(t, tt.want.Kind(), v.Kind())
			assert.True(t, tt.want.Equal(v))
		})
	}
}

func TestGraphML_SerializeRejectsValueOutsideKeyType(t *testing.T) {
	d, err := GraphML{}.Parse([]byte(typedGraphML))
	require.NoError(t, err)
	n1, _ := d.Node("n1")

	for _, v := range []graph.Value{graph.String("unknown"), graph.Float(2.5), graph.Bool(true)} {
		t.Run(v.String(), func(t *testing.T) {
			updated := d.Replace(map[graph.EntityID]graph.Attributes{"n1": n1.Attrs.With("weight", v)})
			_, err := GraphML{}.Serialize(updated)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "does not fit key w of type long")
		})
	}
}

func TestGraphML_OmitsNull(t *testing.T) {
	d := graph.NewDocument([]graph.Node{
		{ID: "a", Attrs: graph.NewAttributes(graph.Attr{Name: "x", Value: graph.Null()}, graph.Attr{Name: "y", Value: graph.Int(1)})},
	}, nil, "", graph.DocumentOpts{Directed: true})

	raw, err := GraphML{}.Serialize(d)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `attr.name="x"`)
	back, err := GraphML{}.Parse(raw)
	require.NoError(t, err)
	_, ok := back.Attr("a", "x")
	assert.False(t, ok)
}
