package runtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type ValueKind uint8

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
	KindJSON
)

// Value is a single variable held by an instance: a string, number or bool
// scalar, or an opaque JSON document (typically a webhook response).
type Value struct {
	kind ValueKind
	str  string
	num  float64
	flag bool
	raw  json.RawMessage
}

func StringValue(s string) Value  { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, flag: b} }

// JSONValue wraps a raw JSON document. Invalid JSON is kept as a string.
func JSONValue(raw []byte) Value {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return StringValue(string(raw))
	}
	return Value{kind: KindJSON, raw: append(json.RawMessage(nil), trimmed...)}
}

// ValueOf converts a decoded Go value into a Value.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(t)
	case float32:
		return NumberValue(float64(t))
	case int:
		return NumberValue(float64(t))
	case int64:
		return NumberValue(float64(t))
	case int32:
		return NumberValue(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return NumberValue(f)
		}
		return StringValue(t.String())
	case json.RawMessage:
		return JSONValue(t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return StringValue(fmt.Sprintf("%v", v))
	}
	return JSONValue(raw)
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsZero() bool {
	return v.kind == 0
}

// String renders the value as plain text, the way it is shown to a contact
// or compared by conditions.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindJSON:
		var s string
		if json.Unmarshal(v.raw, &s) == nil {
			return s
		}
		return string(v.raw)
	}
	return ""
}

// Any returns the value as a plain Go value suitable for JSON encoding or
// expression environments.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.flag
	case KindJSON:
		var out any
		if err := json.Unmarshal(v.raw, &out); err != nil {
			return string(v.raw)
		}
		return out
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.flag)
	case KindJSON:
		return v.raw, nil
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '{', '[', 'n':
		*v = JSONValue(trimmed)
	default:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
		*v = NumberValue(n)
	}
	return nil
}

// Variables is the typed variable bag carried by an instance.
type Variables map[string]Value

func (vs Variables) Clone() Variables {
	out := make(Variables, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

func (vs Variables) Text(name string) string {
	if v, ok := vs[name]; ok {
		return v.String()
	}
	return ""
}

// Map converts the bag into plain Go values.
func (vs Variables) Map() map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Any()
	}
	return out
}
