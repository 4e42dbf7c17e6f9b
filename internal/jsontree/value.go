// Package jsontree holds decoded JSON of unknown shape and offers accessors
// that fall back to defaults instead of failing on a missing or mistyped step.
package jsontree

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	List
	Object
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case List:
		return "list"
	case Object:
		return "object"
	default:
		return "null"
	}
}

// Value is a JSON tree node. The zero value is Null.
type Value struct {
	kind Kind
	b    bool
	num  string // number literal, kept verbatim
	s    string
	list []Value
	obj  map[string]Value
}

// Parse decodes a JSON document into a Value
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode json: %w", err)
	}
	var extra interface{}
	if err := dec.Decode(&extra); err != io.EOF {
		return Value{}, fmt.Errorf("decode json: unexpected data after the top-level value")
	}
	return FromInterface(raw), nil
}

// MustParse is Parse for literals in tests and fixtures
func MustParse(data string) Value {
	v, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return v
}

// FromInterface converts the output of a UseNumber decode into a Value
func FromInterface(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Value{}
	case bool:
		return Value{kind: Bool, b: t}
	case json.Number:
		return Value{kind: Number, num: t.String()}
	case float64:
		return Value{kind: Number, num: strconv.FormatFloat(t, 'f', -1, 64)}
	case int:
		return Value{kind: Number, num: strconv.Itoa(t)}
	case int64:
		return Value{kind: Number, num: strconv.FormatInt(t, 10)}
	case string:
		return Value{kind: String, s: t}
	case []interface{}:
		list := make([]Value, len(t))
		for i, item := range t {
			list[i] = FromInterface(item)
		}
		return Value{kind: List, list: list}
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			obj[k] = FromInterface(item)
		}
		return Value{kind: Object, obj: obj}
	default:
		return Value{}
	}
}

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null or absent
func (v Value) IsNull() bool { return v.kind == Null }

// IsObject reports whether v is a JSON object
func (v Value) IsObject() bool { return v.kind == Object }

// IsList reports whether v is a JSON array
func (v Value) IsList() bool { return v.kind == List }

// IsNumber reports whether v is a JSON number
func (v Value) IsNumber() bool { return v.kind == Number }

// Get returns the member named key, or Null when v is not an object or lacks it
func (v Value) Get(key string) Value {
	if v.kind != Object {
		return Value{}
	}
	return v.obj[key]
}

// Path follows keys through nested objects
func (v Value) Path(keys ...string) Value {
	cur := v
	for _, k := range keys {
		cur = cur.Get(k)
		if cur.kind == Null {
			return cur
		}
	}
	return cur
}

// Object returns the members of an object
func (v Value) Object() (map[string]Value, bool) {
	if v.kind != Object {
		return nil, false
	}
	return v.obj, true
}

// List returns the elements of an array
func (v Value) List() ([]Value, bool) {
	if v.kind != List {
		return nil, false
	}
	return v.list, true
}

// ObjectOrEmpty returns v when it is an object, otherwise an empty object
func (v Value) ObjectOrEmpty() Value {
	if v.kind == Object {
		return v
	}
	return Value{kind: Object, obj: map[string]Value{}}
}

// Number returns the numeric value of a JSON number
func (v Value) Number() (float64, bool) {
	if v.kind != Number {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int coerces v to an integer: numbers truncate toward zero, numeric strings
// parse, booleans are 0 or 1. Anything else fails.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case Number:
		if n, err := strconv.ParseInt(v.num, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(v.num, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case Bool:
		if v.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// IntOr returns Int or def when coercion fails
func (v Value) IntOr(def int64) int64 {
	if n, ok := v.Int(); ok {
		return n
	}
	return def
}

// Text returns strings as-is and number literals verbatim; other kinds give ""
func (v Value) Text() string {
	switch v.kind {
	case String:
		return v.s
	case Number:
		return v.num
	case Bool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Truthy mirrors JSON-ish truthiness: false, 0, "", [], {} and null are false
func (v Value) Truthy() bool {
	switch v.kind {
	case Bool:
		return v.b
	case Number:
		f, ok := v.Number()
		return ok && f != 0
	case String:
		return v.s != ""
	case List:
		return len(v.list) > 0
	case Object:
		return len(v.obj) > 0
	default:
		return false
	}
}

// FirstObject returns the first member among keys that is an object,
// or an empty object when none is
func (v Value) FirstObject(keys ...string) Value {
	for _, k := range keys {
		if c := v.Get(k); c.kind == Object {
			return c
		}
	}
	return Value{kind: Object, obj: map[string]Value{}}
}

// Unwrap returns the first member among keys holding a JSON number
func (v Value) Unwrap(keys ...string) (Value, bool) {
	for _, k := range keys {
		if c := v.Get(k); c.kind == Number {
			return c, true
		}
	}
	return Value{}, false
}

// FirstText returns the first non-empty trimmed Text among values
func FirstText(values ...Value) string {
	for _, v := range values {
		if v.Truthy() {
			if s := strings.TrimSpace(v.Text()); s != "" {
				return s
			}
		}
	}
	return ""
}

// MarshalJSON encodes v compactly with object keys sorted
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String returns the compact JSON encoding of v
func (v Value) String() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		buf.WriteString(v.num)
	case String:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case List:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.obj[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
