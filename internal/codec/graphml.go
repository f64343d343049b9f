package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/gkiler/visualization-for-preds/internal/graph"
)

const graphmlNS = "http://graphml.graphdrawing.org/xmlns"

// GraphML reads and writes GraphML with typed <key> declarations.
// Key defaults are not applied: only attributes present on an element are kept,
// so a serialize/parse round trip never invents values. The source's keys are
// written back with their ids, types and defaults; values must fit their key's type.
type GraphML struct{}

func (GraphML) Name() string { return "graphml" }

// ReservedAttributes is empty: element ids live in XML attributes, not <data>
func (GraphML) ReservedAttributes() []string { return nil }

type xmlGraphML struct {
	XMLName xml.Name `xml:"graphml"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Keys    []xmlKey `xml:"key"`
	Graph   xmlGraph `xml:"graph"`
}

type xmlKey struct {
	ID      string      `xml:"id,attr"`
	For     string      `xml:"for,attr"`
	Name    string      `xml:"attr.name,attr,omitempty"`
	Type    string      `xml:"attr.type,attr,omitempty"`
	Default *xmlDefault `xml:"default"`
}

type xmlDefault struct {
	Value string `xml:",chardata"`
}

type xmlGraph struct {
	ID          string    `xml:"id,attr,omitempty"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Data        []xmlData `xml:"data"`
	Nodes       []xmlNode `xml:"node"`
	Edges       []xmlEdge `xml:"edge"`
}

type xmlNode struct {
	ID   string    `xml:"id,attr"`
	Data []xmlData `xml:"data"`
}

type xmlEdge struct {
	ID     string    `xml:"id,attr,omitempty"`
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []xmlData `xml:"data"`
}

type xmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func (GraphML) Parse(raw []byte) (*graph.Document, error) {
	var doc xmlGraphML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing graphml: %w", err)
	}

	keys := make(map[string]xmlKey, len(doc.Keys))
	for _, k := range doc.Keys {
		keys[k.ID] = k
	}
	decode := func(data []xmlData) (graph.Attributes, error) {
		pairs := make([]graph.Attr, 0, len(data))
		for _, d := range data {
			k, ok := keys[d.Key]
			if !ok {
				// undeclared key: keep the id as the name, infer the type
				pairs = append(pairs, graph.Attr{Name: d.Key, Value: graph.ParseValue(d.Value)})
				continue
			}
			v, err := typedValue(k.Type, d.Value)
			if err != nil {
				return graph.Attributes{}, fmt.Errorf("key %s (%s): %w", k.ID, k.Name, err)
			}
			name := k.Name
			if name == "" {
				name = k.ID
			}
			pairs = append(pairs, graph.Attr{Name: name, Value: v})
		}
		return graph.NewAttributes(pairs...), nil
	}

	nodes := make([]graph.Node, 0, len(doc.Graph.Nodes))
	for _, n := range doc.Graph.Nodes {
		attrs, err := decode(n.Data)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.ID, err)
		}
		nodes = append(nodes, graph.Node{ID: n.ID, Attrs: attrs})
	}
	edges := make([]graph.Edge, 0, len(doc.Graph.Edges))
	for i, e := range doc.Graph.Edges {
		attrs, err := decode(e.Data)
		if err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		edges = append(edges, graph.Edge{ID: e.ID, Source: e.Source, Target: e.Target, Attrs: attrs})
	}
	meta, err := decode(doc.Graph.Data)
	if err != nil {
		return nil, fmt.Errorf("graph data: %w", err)
	}

	decls := make([]graph.KeyDecl, 0, len(doc.Keys))
	for _, k := range doc.Keys {
		decl := graph.KeyDecl{ID: k.ID, For: k.For, Name: k.Name, Type: k.Type, Kind: kindForType(k.Type)}
		if k.Default != nil {
			def := k.Default.Value
			decl.Default = &def
		}
		decls = append(decls, decl)
	}

	return graph.NewDocument(nodes, edges, graph.Fingerprint(raw), graph.DocumentOpts{
		Meta:     meta,
		Directed: doc.Graph.EdgeDefault != "undirected",
		Keys:     decls,
	}), nil
}

func kindForType(typ string) graph.Kind {
	switch typ {
	case "int", "long":
		return graph.KindInt
	case "float", "double":
		return graph.KindFloat
	case "boolean":
		return graph.KindBool
	default:
		return graph.KindString
	}
}

func typedValue(typ, text string) (graph.Value, error) {
	switch typ {
	case "int", "long":
		i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return graph.Value{}, err
		}
		return graph.Int(i), nil
	case "float", "double":
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return graph.Value{}, err
		}
		return graph.Float(f), nil
	case "boolean":
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(text)))
		if err != nil {
			return graph.Value{}, err
		}
		return graph.Bool(b), nil
	default:
		return graph.String(text), nil
	}
}

// keyTable starts from the document's declared keys and assigns ids and
// types to new attributes per domain in first-seen order.
type keyTable struct {
	keys     []xmlKey
	declared []bool
	index    map[[2]string]int // (domain, name) -> position in keys
	kinds    []map[graph.Kind]bool
	used     map[string]bool
	next     int
}

var keyDomains = []string{"graph", "node", "edge"}

func newKeyTable(decls []graph.KeyDecl) *keyTable {
	t := &keyTable{index: make(map[[2]string]int), used: make(map[string]bool)}
	for _, d := range decls {
		k := xmlKey{ID: d.ID, For: d.For, Name: d.Name, Type: d.Type}
		if d.Default != nil {
			k.Default = &xmlDefault{Value: *d.Default}
		}
		t.used[d.ID] = true
		t.keys = append(t.keys, k)
		t.declared = append(t.declared, true)
		t.kinds = append(t.kinds, nil)
	}
	// domain-specific declarations first so they win over "all"
	for pass := 0; pass < 2; pass++ {
		for i, d := range decls {
			for _, domain := range keyDomains {
				if (pass == 0 && d.For != domain) || (pass == 1 && d.For != "all") {
					continue
				}
				slot := [2]string{domain, d.AttrName()}
				if _, taken := t.index[slot]; !taken {
					t.index[slot] = i
				}
			}
		}
	}
	return t
}

func (t *keyTable) newID() string {
	for {
		id := fmt.Sprintf("d%d", t.next)
		t.next++
		if !t.used[id] {
			t.used[id] = true
			return id
		}
	}
}

func (t *keyTable) observe(domain string, attrs graph.Attributes) {
	attrs.Range(func(name string, v graph.Value) bool {
		if v.IsNull() {
			return true
		}
		slot := [2]string{domain, name}
		i, ok := t.index[slot]
		if !ok {
			i = len(t.keys)
			t.index[slot] = i
			t.keys = append(t.keys, xmlKey{ID: t.newID(), For: domain, Name: name})
			t.declared = append(t.declared, false)
			t.kinds = append(t.kinds, make(map[graph.Kind]bool))
		}
		if !t.declared[i] {
			t.kinds[i][v.Kind()] = true
		}
		return true
	})
}

// finish picks one GraphML type per new key: uniform kinds map directly,
// int mixed with float widens to double, any other mix falls back to string.
func (t *keyTable) finish() {
	for i, kinds := range t.kinds {
		if t.declared[i] {
			continue
		}
		switch {
		case len(kinds) == 1 && kinds[graph.KindInt]:
			t.keys[i].Type = "long"
		case len(kinds) == 1 && kinds[graph.KindFloat],
			len(kinds) == 2 && kinds[graph.KindInt] && kinds[graph.KindFloat]:
			t.keys[i].Type = "double"
		case len(kinds) == 1 && kinds[graph.KindBool]:
			t.keys[i].Type = "boolean"
		default:
			t.keys[i].Type = "string"
		}
	}
}

// data renders attrs as <data> elements. Nulls are omitted. A value that
// cannot be written under its key's type without loss is an error.
func (t *keyTable) data(domain string, attrs graph.Attributes) ([]xmlData, error) {
	out := make([]xmlData, 0, attrs.Len())
	var err error
	attrs.Range(func(name string, v graph.Value) bool {
		if v.IsNull() {
			return true
		}
		k := t.keys[t.index[[2]string{domain, name}]]
		typed, ok := v.As(kindForType(k.Type))
		if !ok {
			err = fmt.Errorf("%s attribute %q: %s value %q does not fit key %s of type %s",
				domain, name, v.Kind(), v.String(), k.ID, k.Type)
			return false
		}
		out = append(out, xmlData{Key: k.ID, Value: typed.String()})
		return true
	})
	return out, err
}

func (GraphML) Serialize(d *graph.Document) ([]byte, error) {
	table := newKeyTable(d.Keys())
	table.observe("graph", d.Meta())
	nodes, edges := d.Nodes(), d.Edges()
	for _, n := range nodes {
		table.observe("node", n.Attrs)
	}
	for _, e := range edges {
		table.observe("edge", e.Attrs)
	}
	table.finish()

	meta, err := table.data("graph", d.Meta())
	if err != nil {
		return nil, fmt.Errorf("serializing graphml: %w", err)
	}
	out := xmlGraphML{
		Xmlns: graphmlNS,
		Keys:  table.keys,
		Graph: xmlGraph{
			EdgeDefault: "undirected",
			Data:        meta,
			Nodes:       make([]xmlNode, 0, len(nodes)),
			Edges:       make([]xmlEdge, 0, len(edges)),
		},
	}
	if d.Directed() {
		out.Graph.EdgeDefault = "directed"
	}
	for _, n := range nodes {
		data, err := table.data("node", n.Attrs)
		if err != nil {
			return nil, fmt.Errorf("serializing graphml: node %s: %w", n.ID, err)
		}
		out.Graph.Nodes = append(out.Graph.Nodes, xmlNode{ID: n.ID, Data: data})
	}
	for i, e := range edges {
		data, err := table.data("edge", e.Attrs)
		if err != nil {
			return nil, fmt.Errorf("serializing graphml: edge %s: %w", graph.EdgeKey(e, i), err)
		}
		out.Graph.Edges = append(out.Graph.Edges, xmlEdge{
			ID: e.ID, Source: e.Source, Target: e.Target, Data: data,
		})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("serializing graphml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
