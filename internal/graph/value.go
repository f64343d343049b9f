package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the scalar type of an attribute value
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	// KindNull is an explicit null in the source, distinct from an absent attribute
	KindNull
	// KindRaw is a JSON object or array kept verbatim (compacted)
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	case KindRaw:
		return "raw"
	default:
		return "invalid"
	}
}

// Value is an attribute value: string, number, boolean, null, or an opaque
// JSON object/array. The zero Value is invalid and means "no value".
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func String(s string) Value   { return Value{kind: KindString, s: s} }
func Int(i int64) Value       { return Value{kind: KindInt, i: i} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }
func Null() Value             { return Value{kind: KindNull} }
func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }
func (v Value) IsNull() bool  { return v.kind == KindNull }

// Raw wraps a JSON object or array. The text is compacted so equal documents
// compare equal regardless of whitespace.
func Raw(data []byte) (Value, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return Value{}, err
	}
	return Value{kind: KindRaw, s: buf.String()}, nil
}

// Float64 returns the numeric value. ok is false for non-numeric kinds.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Equal compares two values. Ints and floats compare numerically, so 10 equals 10.0.
func (v Value) Equal(o Value) bool {
	if v.kind == o.kind {
		switch v.kind {
		case KindString, KindRaw:
			return v.s == o.s
		case KindInt:
			return v.i == o.i
		case KindFloat:
			return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
		case KindBool:
			return v.b == o.b
		default:
			return true
		}
	}
	a, okA := v.Float64()
	b, okB := o.Float64()
	return okA && okB && a == b
}

// String renders the value the way a user would type it back in.
// Raw values render as their JSON text.
func (v Value) String() string {
	switch v.kind {
	case KindString, KindRaw:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return "null"
	default:
		return ""
	}
}

// IsBlank reports whether the value is missing, null or a whitespace-only string.
func (v Value) IsBlank() bool {
	return !v.IsValid() || v.kind == KindNull || (v.kind == KindString && strings.TrimSpace(v.s) == "")
}

// maxExactInt is the largest magnitude an int64 keeps through float64
const maxExactInt = 1 << 53

// As converts v to kind k when nothing is lost: integral floats become ints,
// ints become floats, numeric and boolean text parses, and any scalar renders
// as a string. ok is false when the conversion would change the value.
func (v Value) As(k Kind) (Value, bool) {
	if v.kind == k {
		return v, true
	}
	if v.kind == KindInvalid || v.kind == KindNull || v.kind == KindRaw {
		return Value{}, false
	}
	switch k {
	case KindString:
		return String(v.String()), true
	case KindInt:
		switch v.kind {
		case KindFloat:
			if v.f == math.Trunc(v.f) && math.Abs(v.f) <= maxExactInt {
				return Int(int64(v.f)), true
			}
		case KindString:
			if i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64); err == nil {
				return Int(i), true
			}
		}
	case KindFloat:
		switch v.kind {
		case KindInt:
			if v.i >= -maxExactInt && v.i <= maxExactInt {
				return Float(float64(v.i)), true
			}
		case KindString:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
				return Float(f), true
			}
		}
	case KindBool:
		if v.kind == KindString {
			switch strings.ToLower(strings.TrimSpace(v.s)) {
			case "true":
				return Bool(true), true
			case "false":
				return Bool(false), true
			}
		}
	}
	return Value{}, false
}

// formatFloat always keeps a decimal point or exponent so the kind survives a round trip.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// ParseValue coerces hand-entered text into a scalar: booleans, then integer
// literals, then anything parseable as a float that contains '.' or an exponent.
// Everything else stays a trimmed string.
func ParseValue(text string) Value {
	t := strings.TrimSpace(text)
	switch strings.ToLower(t) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if t == "" {
		return String("")
	}
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return Int(i)
	}
	if strings.ContainsAny(t, ".eE") {
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return Float(f)
		}
	}
	return String(t)
}

// MarshalJSON encodes strings as JSON strings, numbers as numbers and booleans
// as booleans. Raw values are written back verbatim.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindRaw:
		return []byte(v.s), nil
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return nil, fmt.Errorf("cannot encode %v as JSON", v.f)
		}
		return []byte(formatFloat(v.f)), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON value. Objects and arrays become raw values.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty JSON value")
	}
	switch {
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case bytes.Equal(data, []byte("true")):
		*v = Bool(true)
	case bytes.Equal(data, []byte("false")):
		*v = Bool(false)
	case bytes.Equal(data, []byte("null")):
		*v = Null()
	case data[0] == '{' || data[0] == '[':
		raw, err := Raw(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", truncate(string(data), 40), err)
		}
		*v = raw
	default:
		text := string(data)
		if !strings.ContainsAny(text, ".eE") {
			if i, err := strconv.ParseInt(text, 10, 64); err == nil {
				*v = Int(i)
				return nil
			}
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("parsing number %q: %w", text, err)
		}
		*v = Float(f)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
