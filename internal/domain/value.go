package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ValueKind tags which payload of Value is set.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindNumber
	KindString
	KindBool
)

// Value is one dynamically typed cell from a SQL row or JSON object.
// Number keeps its source text so display and decimal math stay exact.
type Value struct {
	Kind ValueKind
	Num  float64
	Text string
	Bool bool
}

// Null returns null value.
func Null() Value {
	return Value{Kind: KindNull}
}

// Number builds numeric value; text may be empty.
func Number(num float64, text string) Value {
	return Value{Kind: KindNumber, Num: num, Text: text}
}

// String builds string value.
func String(text string) Value {
	return Value{Kind: KindString, Text: text}
}

// Bool builds boolean value.
func Bool(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IsNumber reports whether value is numeric.
func (v Value) IsNumber() bool {
	return v.Kind == KindNumber
}

// Float coerces value for numeric judgment.
// Numbers as-is, booleans 1/0, strings parsed (unparseable -> 0), null 0.
func (v Value) Float() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindString:
		return ParseNumber(v.Text)
	default:
		return 0
	}
}

// String renders value for message templates and keys.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		if v.Text != "" {
			return v.Text
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindString:
		return v.Text
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

// MarshalJSON encodes value as native JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		if v.Text != "" && json.Valid([]byte(v.Text)) {
			return []byte(v.Text), nil
		}
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Text)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

// ParseNumber parses threshold/cell text; failures coerce to 0.
func ParseNumber(text string) float64 {
	parsed, err := cast.ToFloat64E(strings.TrimSpace(text))
	if err != nil {
		return 0
	}
	return parsed
}

// Row is an ordered column -> value map.
type Row struct {
	names  []string
	values map[string]Value
}

// NewRow creates empty row with capacity hint.
func NewRow(capacity int) Row {
	return Row{
		names:  make([]string, 0, capacity),
		values: make(map[string]Value, capacity),
	}
}

// Set stores value under column, keeping first insertion position.
func (r *Row) Set(name string, value Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns column value.
func (r Row) Get(name string) (Value, bool) {
	value, ok := r.values[name]
	return value, ok
}

// Columns returns column names in insertion order.
func (r Row) Columns() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns column count.
func (r Row) Len() int {
	return len(r.names)
}

// Clone returns independent copy.
func (r Row) Clone() Row {
	out := NewRow(len(r.names))
	for _, name := range r.names {
		out.Set(name, r.values[name])
	}
	return out
}

// MarshalJSON encodes row as object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := r.values[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSON returns row as JSON text, "{}" on encode failure.
func (r Row) JSON() string {
	encoded, err := r.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
