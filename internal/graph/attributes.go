package graph

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Attributes is an insertion-ordered, read-only map of attribute name to value.
// Mutation goes through With, which returns a new map and leaves the receiver untouched.
type Attributes struct {
	m *orderedmap.OrderedMap[string, Value]
}

// Attr is a single name/value pair used to build Attributes in order
type Attr struct {
	Name  string
	Value Value
}

// NewAttributes builds Attributes from pairs. Later duplicates overwrite earlier ones
// in place, keeping the position of the first occurrence.
func NewAttributes(pairs ...Attr) Attributes {
	m := orderedmap.New[string, Value]()
	for _, p := range pairs {
		m.Set(p.Name, p.Value)
	}
	return Attributes{m: m}
}

// Len returns the number of attributes
func (a Attributes) Len() int {
	if a.m == nil {
		return 0
	}
	return a.m.Len()
}

// Get returns the value of name and whether it is present
func (a Attributes) Get(name string) (Value, bool) {
	if a.m == nil {
		return Value{}, false
	}
	return a.m.Get(name)
}

// Keys returns attribute names in document order
func (a Attributes) Keys() []string {
	keys := make([]string, 0, a.Len())
	a.Range(func(name string, _ Value) bool {
		keys = append(keys, name)
		return true
	})
	return keys
}

// Range calls fn for every attribute in order until fn returns false
func (a Attributes) Range(fn func(name string, v Value) bool) {
	if a.m == nil {
		return
	}
	for pair := a.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Pairs returns the attributes as an ordered slice
func (a Attributes) Pairs() []Attr {
	out := make([]Attr, 0, a.Len())
	a.Range(func(name string, v Value) bool {
		out = append(out, Attr{Name: name, Value: v})
		return true
	})
	return out
}

// With returns a copy with name set to v. An existing attribute keeps its position;
// a new one is appended.
func (a Attributes) With(name string, v Value) Attributes {
	return a.WithAll([]Attr{{Name: name, Value: v}})
}

// WithAll applies several overrides in one copy
func (a Attributes) WithAll(overrides []Attr) Attributes {
	m := orderedmap.New[string, Value]()
	a.Range(func(name string, v Value) bool {
		m.Set(name, v)
		return true
	})
	for _, o := range overrides {
		m.Set(o.Name, o.Value)
	}
	return Attributes{m: m}
}

// Equal reports whether both maps hold the same names, in the same order, with equal values
func (a Attributes) Equal(o Attributes) bool {
	if a.Len() != o.Len() {
		return false
	}
	ap, op := a.Pairs(), o.Pairs()
	for i := range ap {
		if ap[i].Name != op[i].Name || !ap[i].Value.Equal(op[i].Value) || ap[i].Value.Kind() != op[i].Value.Kind() {
			return false
		}
	}
	return true
}

// MarshalJSON writes the attributes as a JSON object preserving order
func (a Attributes) MarshalJSON() ([]byte, error) {
	if a.m == nil {
		return []byte("{}"), nil
	}
	return a.m.MarshalJSON()
}

// UnmarshalJSON reads a JSON object of scalars preserving key order
func (a *Attributes) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, Value]()
	if err := m.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decoding attributes: %w", err)
	}
	a.m = m
	return nil
}
