package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gkiler/visualization-for-preds/internal/graph"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// JSON reads and writes the network format:
//
//	{"directed": true, "metadata": {...},
//	 "nodes": [{"id": "n1", "label": "...", ...}],
//	 "edges": [{"source": "n1", "target": "n2", "id": "optional", ...}]}
//
// Every key other than id/source/target is an attribute, kept in file order.
// A non-empty "properties" object is lifted: each of its members becomes an
// attribute named "properties.<member>" and is nested again on write. Nulls,
// objects and arrays are kept as they are.
type JSON struct{}

const (
	propertiesKey    = "properties"
	propertiesPrefix = propertiesKey + "."
)

func (JSON) Name() string { return "json" }

// ReservedAttributes are the structural fields an annotation cannot target
func (JSON) ReservedAttributes() []string {
	return []string{"id", "source", "target", propertiesKey}
}

type jsonObject = *orderedmap.OrderedMap[string, json.RawMessage]

type jsonNetwork struct {
	Directed *bool            `json:"directed,omitempty"`
	Metadata graph.Attributes `json:"metadata"`
	Nodes    []jsonObject     `json:"nodes"`
	Edges    []jsonObject     `json:"edges"`
}

func (JSON) Parse(raw []byte) (*graph.Document, error) {
	var in jsonNetwork
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parsing json network: %w", err)
	}

	nodes := make([]graph.Node, 0, len(in.Nodes))
	for i, obj := range in.Nodes {
		if obj == nil {
			return nil, fmt.Errorf("node %d: not an object", i)
		}
		id, err := takeID(obj, "id", true)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		attrs, err := decodeAttrs(obj)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		nodes = append(nodes, graph.Node{ID: id, Attrs: attrs})
	}

	edges := make([]graph.Edge, 0, len(in.Edges))
	for i, obj := range in.Edges {
		if obj == nil {
			return nil, fmt.Errorf("edge %d: not an object", i)
		}
		var e graph.Edge
		var err error
		if e.Source, err = takeID(obj, "source", true); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		if e.Target, err = takeID(obj, "target", true); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		if e.ID, err = takeID(obj, "id", false); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		if e.Attrs, err = decodeAttrs(obj); err != nil {
			return nil, fmt.Errorf("edge %d: %w", i, err)
		}
		edges = append(edges, e)
	}

	directed := true
	if in.Directed != nil {
		directed = *in.Directed
	}
	return graph.NewDocument(nodes, edges, graph.Fingerprint(raw), graph.DocumentOpts{
		Meta:     in.Metadata,
		Directed: directed,
	}), nil
}

// takeID removes an identifier field from obj. Numbers are accepted and kept as text.
func takeID(obj jsonObject, field string, required bool) (string, error) {
	raw, ok := obj.Delete(field)
	if !ok {
		if required {
			return "", fmt.Errorf("missing %q", field)
		}
		return "", nil
	}
	var v graph.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return "", fmt.Errorf("%q: %w", field, err)
	}
	if v.Kind() != graph.KindString && v.Kind() != graph.KindInt {
		return "", fmt.Errorf("%q must be a string or integer", field)
	}
	if v.String() == "" {
		return "", fmt.Errorf("%q is empty", field)
	}
	return v.String(), nil
}

func decodeAttrs(obj jsonObject) (graph.Attributes, error) {
	pairs := make([]graph.Attr, 0, obj.Len())
	for p := obj.Oldest(); p != nil; p = p.Next() {
		if strings.HasPrefix(p.Key, propertiesPrefix) {
			return graph.Attributes{}, fmt.Errorf("attribute %q: names starting with %q are reserved for the properties object", p.Key, propertiesPrefix)
		}
		if p.Key == propertiesKey {
			if lifted, ok, err := liftProperties(p.Value); err != nil {
				return graph.Attributes{}, err
			} else if ok {
				pairs = append(pairs, lifted...)
				continue
			}
		}
		var v graph.Value
		if err := v.UnmarshalJSON(p.Value); err != nil {
			return graph.Attributes{}, fmt.Errorf("attribute %q: %w", p.Key, err)
		}
		pairs = append(pairs, graph.Attr{Name: p.Key, Value: v})
	}
	return graph.NewAttributes(pairs...), nil
}

// liftProperties flattens a non-empty properties object. ok is false for
// anything else, which is then kept whole.
func liftProperties(raw json.RawMessage) ([]graph.Attr, bool, error) {
	props := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(raw, props); err != nil || props.Len() == 0 {
		return nil, false, nil
	}
	pairs := make([]graph.Attr, 0, props.Len())
	for p := props.Oldest(); p != nil; p = p.Next() {
		var v graph.Value
		if err := v.UnmarshalJSON(p.Value); err != nil {
			return nil, false, fmt.Errorf("attribute %q: %w", propertiesPrefix+p.Key, err)
		}
		pairs = append(pairs, graph.Attr{Name: propertiesPrefix + p.Key, Value: v})
	}
	return pairs, true, nil
}

type jsonOut struct {
	Directed bool                                    `json:"directed"`
	Metadata graph.Attributes                        `json:"metadata"`
	Nodes    []*orderedmap.OrderedMap[string, any] `json:"nodes"`
	Edges    []*orderedmap.OrderedMap[string, any] `json:"edges"`
}

func (JSON) Serialize(d *graph.Document) ([]byte, error) {
	out := jsonOut{
		Directed: d.Directed(),
		Metadata: d.Meta(),
		Nodes:    make([]*orderedmap.OrderedMap[string, any], 0, d.NodeCount()),
		Edges:    make([]*orderedmap.OrderedMap[string, any], 0, d.EdgeCount()),
	}
	for _, n := range d.Nodes() {
		obj := orderedmap.New[string, any]()
		obj.Set("id", n.ID)
		if err := appendAttrs(obj, n.Attrs); err != nil {
			return nil, fmt.Errorf("serializing json network: node %s: %w", n.ID, err)
		}
		out.Nodes = append(out.Nodes, obj)
	}
	for i, e := range d.Edges() {
		obj := orderedmap.New[string, any]()
		obj.Set("source", e.Source)
		obj.Set("target", e.Target)
		if e.ID != "" {
			obj.Set("id", e.ID)
		}
		if err := appendAttrs(obj, e.Attrs); err != nil {
			return nil, fmt.Errorf("serializing json network: edge %s: %w", graph.EdgeKey(e, i), err)
		}
		out.Edges = append(out.Edges, obj)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing json network: %w", err)
	}
	return append(data, '\n'), nil
}

// appendAttrs writes attrs after the structural fields already in obj.
// "properties.<member>" attributes are nested back under properties at the
// position of the first one. Overwriting a field already written is an error.
func appendAttrs(obj *orderedmap.OrderedMap[string, any], attrs graph.Attributes) error {
	var props *orderedmap.OrderedMap[string, graph.Value]
	var err error
	attrs.Range(func(name string, v graph.Value) bool {
		if member, ok := strings.CutPrefix(name, propertiesPrefix); ok {
			if props == nil {
				if _, taken := obj.Get(propertiesKey); taken {
					err = fmt.Errorf("attribute %q collides with field %q", name, propertiesKey)
					return false
				}
				props = orderedmap.New[string, graph.Value]()
				obj.Set(propertiesKey, props)
			}
			props.Set(member, v)
			return true
		}
		if _, taken := obj.Get(name); taken {
			err = fmt.Errorf("attribute %q collides with field %q", name, name)
			return false
		}
		obj.Set(name, v)
		return true
	})
	return err
}
