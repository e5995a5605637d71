// Package codec implements the self-describing binary encoding used for
// message bodies, request/response payloads, and the persisted manifest.
package codec

import "fmt"

// Kind tags the shape of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindBinary
	KindArray
	KindMap
)

// MapEntry is one key/value pair of a KindMap Value.
type MapEntry struct {
	Key Value
	Val Value
}

// Value is a single self-describing value: null, bool, signed/unsigned
// integer, float, byte string, array of values, or map of value to value.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Uint   uint64
	Float  float64
	Binary []byte
	Array  []Value
	Map    []MapEntry
}

// Null is the null value.
var Null = Value{Kind: KindNull}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Int wraps a signed integer.
func Int(i int64) Value { return Value{Kind: KindInt, Int: i} }

// Uint wraps an unsigned integer.
func Uint(u uint64) Value { return Value{Kind: KindUint, Uint: u} }

// Float wraps a floating point number.
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// Bin wraps a byte string.
func Bin(b []byte) Value { return Value{Kind: KindBinary, Binary: b} }

// Str wraps a UTF-8 string as a byte-string value.
func Str(s string) Value { return Value{Kind: KindBinary, Binary: []byte(s)} }

// Arr wraps an array of values.
func Arr(vals ...Value) Value { return Value{Kind: KindArray, Array: vals} }

// MapOf builds a map value from key/value pairs given as a flat list:
// MapOf(k1, v1, k2, v2, ...).
func MapOf(pairs ...Value) Value {
	if len(pairs)%2 != 0 {
		panic("codec: MapOf requires an even number of arguments")
	}
	entries := make([]MapEntry, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		entries = append(entries, MapEntry{Key: pairs[i], Val: pairs[i+1]})
	}
	return Value{Kind: KindMap, Map: entries}
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String returns the UTF-8 string decoded from a binary-kinded value.
func (v Value) String() (string, bool) {
	if v.Kind != KindBinary {
		return "", false
	}
	return string(v.Binary), true
}

// AsInt64 returns the value coerced to int64, accepting both int and uint
// kinds (request payloads commonly decode numeric fields as either).
func (v Value) AsInt64() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.Int, true
	case KindUint:
		return int64(v.Uint), true
	default:
		return 0, false
	}
}

// AsUint64 returns the value coerced to uint64.
func (v Value) AsUint64() (uint64, bool) {
	switch v.Kind {
	case KindUint:
		return v.Uint, true
	case KindInt:
		if v.Int < 0 {
			return 0, false
		}
		return uint64(v.Int), true
	default:
		return 0, false
	}
}

// Field looks up a key by string in a KindMap value.
func (v Value) Field(key string) (Value, bool) {
	if v.Kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.Map {
		if s, ok := e.Key.String(); ok && s == key {
			return e.Val, true
		}
	}
	return Value{}, false
}

// Equal reports deep structural equality between two values.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindUint:
		return a.Uint == b.Uint
	case KindFloat:
		return a.Float == b.Float
	case KindBinary:
		return string(a.Binary) == string(b.Binary)
	case KindArray:
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if !Equal(a.Array[i], b.Array[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for _, ea := range a.Map {
			found := false
			for _, eb := range b.Map {
				if Equal(ea.Key, eb.Key) {
					found = Equal(ea.Val, eb.Val)
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}
