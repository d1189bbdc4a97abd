package shared

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindMap    Kind = "map"
)

// Value is a small tagged union used for free-form payloads: marker payloads,
// fact values and event attributes. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps a float.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue wraps a list. The slice is copied.
func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: cloneValues(items)}
}

// MapValue wraps a map. The map is copied.
func MapValue(m map[string]Value) Value {
	return Value{kind: KindMap, m: CloneValueMap(m)}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the number variant.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsMap returns a copy of the map variant.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return CloneValueMap(v.m), true
}

// String renders the canonical text form. Fact voting compares values by
// this form, so it must be stable: map keys are sorted.
func (v Value) String() string {
	switch v.Kind() {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		keys := sortedKeys(v.m)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + v.m[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "null"
	}
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.b == other.b
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := other.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind() {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes plain JSON into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts decoded JSON/YAML data into a Value. It is meant for
// boundaries (config and scenario files); inside the core payloads are
// always built with the typed constructors.
func FromAny(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return NullValue(), nil
	case string:
		return StringValue(x), nil
	case bool:
		return BoolValue(x), nil
	case int:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case uint64:
		return NumberValue(float64(x)), nil
	case float64:
		return NumberValue(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return NumberValue(f), nil
	case []interface{}:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			list = append(list, parsed)
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]interface{}:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			parsed, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = parsed
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported payload type %T", raw)
	}
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
