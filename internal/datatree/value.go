// Package datatree represents job payloads as a tagged value tree that the
// rendering layer can walk with dotted paths such as "customer.address.city"
// or "items.0.price".
package datatree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Int
	Float
	String
	Map
	List
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Map:
		return "map"
	case List:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a node of the payload tree. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	m    map[string]Value
	l    []Value
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// FromAny converts decoded JSON (or YAML) data into a Value. Nested maps and
// lists convert recursively; scalars pass through.
func FromAny(in any) (Value, error) {
	switch t := in.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return t, nil
	case bool:
		return Value{kind: Bool, b: t}, nil
	case string:
		return Value{kind: String, s: t}, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Value{kind: Int, i: i}, nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("datatree: invalid number %q: %w", t.String(), err)
		}
		return fromFloat(f), nil
	case int:
		return Value{kind: Int, i: int64(t)}, nil
	case int32:
		return Value{kind: Int, i: int64(t)}, nil
	case int64:
		return Value{kind: Int, i: t}, nil
	case uint:
		return fromUint(uint64(t)), nil
	case uint64:
		return fromUint(t), nil
	case float32:
		return fromFloat(float64(t)), nil
	case float64:
		return fromFloat(t), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for key, raw := range t {
			child, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("datatree: key %q: %w", key, err)
			}
			m[key] = child
		}
		return Value{kind: Map, m: m}, nil
	case map[any]any:
		m := make(map[string]Value, len(t))
		for key, raw := range t {
			child, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("datatree: key %v: %w", key, err)
			}
			m[fmt.Sprint(key)] = child
		}
		return Value{kind: Map, m: m}, nil
	case []any:
		l := make([]Value, 0, len(t))
		for idx, raw := range t {
			child, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("datatree: index %d: %w", idx, err)
			}
			l = append(l, child)
		}
		return Value{kind: List, l: l}, nil
	case []string:
		l := make([]Value, 0, len(t))
		for _, s := range t {
			l = append(l, Value{kind: String, s: s})
		}
		return Value{kind: List, l: l}, nil
	default:
		return Value{}, fmt.Errorf("datatree: unsupported value of type %T", in)
	}
}

// fromUint keeps values past MaxInt64 as floats instead of wrapping negative.
func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Value{kind: Float, f: float64(u)}
	}
	return Value{kind: Int, i: int64(u)}
}

// fromFloat keeps integral floats as ints so templates print "42", not "42.000000".
func fromFloat(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Value{kind: Int, i: int64(f)}
	}
	return Value{kind: Float, f: f}
}

// Lookup walks a dotted path. Map nodes are indexed by key, list nodes by
// decimal position. An empty path returns v itself.
func (v Value) Lookup(path string) (Value, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch cur.kind {
		case Map:
			next, ok := cur.m[seg]
			if !ok {
				return Value{}, false
			}
			cur = next
		case List:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.l) {
				return Value{}, false
			}
			cur = cur.l[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Keys returns the sorted keys of a map node, or nil for other kinds.
func (v Value) Keys() []string {
	if v.kind != Map {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of children of a map or list node.
func (v Value) Len() int {
	switch v.kind {
	case Map:
		return len(v.m)
	case List:
		return len(v.l)
	default:
		return 0
	}
}

// Interface materialises the tree as plain Go values: map[string]any, []any,
// int64, float64, string, bool or nil.
func (v Value) Interface() any {
	switch v.kind {
	case Bool:
		return v.b
	case Int:
		return v.i
	case Float:
		return v.f
	case String:
		return v.s
	case Map:
		out := make(map[string]any, len(v.m))
		for k, child := range v.m {
			out[k] = child.Interface()
		}
		return out
	case List:
		out := make([]any, 0, len(v.l))
		for _, child := range v.l {
			out = append(out, child.Interface())
		}
		return out
	default:
		return nil
	}
}

// String renders scalars the way a template would print them.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return ""
	case Bool:
		return strconv.FormatBool(v.b)
	case Int:
		return strconv.FormatInt(v.i, 10)
	case Float:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case String:
		return v.s
	default:
		b, err := json.Marshal(v.Interface())
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Decode parses a JSON document into a Value, preserving integer precision.
func Decode(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return Value{}, fmt.Errorf("datatree: decode: %w", err)
	}
	return FromAny(out)
}
