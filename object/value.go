// Package object implements the SDK's self-describing value model.
//
// A Value is one of Null, Bool, Int64, Float64, Buffer, List or Map. Buffer,
// List and Map are views: they reference memory they do not own, so a Value
// lives as long as whatever backs it (a caller slice, a receive buffer, or an
// arena.Arena that claimed it).
//
// Every tree walk goes through Iter, which bounds nesting depth to MaxDepth
// and the total subobject count to MaxSubobjects.
package object

import (
	"bytes"
	"fmt"
	"unsafe"
)

const (
	// MaxDepth is the maximum nesting depth of a Value tree. A scalar has
	// depth 1.
	MaxDepth = 15
	// MaxSubobjects bounds list lengths plus twice map lengths, summed over
	// the whole tree.
	MaxSubobjects = 255
)

// Type is the tag of a Value.
type Type uint8

const (
	TypeNull Type = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeBuffer
	TypeList
	TypeMap

	// TypeAny matches every type in schema checks.
	TypeAny Type = 0xff
)

var typeNames = [...]string{
	TypeNull:    "null",
	TypeBool:    "bool",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeBuffer:  "buffer",
	TypeList:    "list",
	TypeMap:     "map",
}

func (t Type) String() string {
	if t == TypeAny {
		return "any"
	}
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Value is a node of a value tree. The nil interface is treated as Null.
type Value interface {
	Type() Type
}

type (
	// Null is the null value.
	Null struct{}
	// Bool is a boolean value.
	Bool bool
	// Int64 is a signed integer value.
	Int64 int64
	// Float64 is a floating point value.
	Float64 float64
	// Buffer is a byte string view.
	Buffer []byte
	// List is an ordered sequence of values.
	List []Value
	// Map is an ordered sequence of key/value pairs. Keys are not required
	// to be unique; lookups return the first match.
	Map []KV
)

// KV is one map entry.
type KV struct {
	Key []byte
	Val Value
}

const (
	// ValueSize is the in-memory size of one list element.
	ValueSize = int(unsafe.Sizeof(Value(nil)))
	// KVSize is the in-memory size of one map entry.
	KVSize = int(unsafe.Sizeof(KV{}))
)

func (Null) Type() Type    { return TypeNull }
func (Bool) Type() Type    { return TypeBool }
func (Int64) Type() Type   { return TypeInt64 }
func (Float64) Type() Type { return TypeFloat64 }
func (Buffer) Type() Type  { return TypeBuffer }
func (List) Type() Type    { return TypeList }
func (Map) Type() Type     { return TypeMap }

// TypeOf returns the type of v, reporting nil as TypeNull.
func TypeOf(v Value) Type {
	if v == nil {
		return TypeNull
	}
	return v.Type()
}

// Buf returns a Buffer holding the bytes of s.
func Buf(s string) Buffer {
	return Buffer(s)
}

func (b Buffer) String() string {
	return string(b)
}

// Pair builds a map entry with a string key.
func Pair(key string, v Value) KV {
	return KV{Key: []byte(key), Val: v}
}

// NewMap builds a Map from entries, preserving their order.
func NewMap(entries ...KV) Map {
	return Map(entries)
}

// Get returns the value of the first entry whose key equals key.
func (m Map) Get(key string) (Value, bool) {
	for i := range m {
		if string(m[i].Key) == key {
			return m[i].Val, true
		}
	}
	return nil, false
}

// GetBytes is Get for a byte-slice key.
func (m Map) GetBytes(key []byte) (Value, bool) {
	for i := range m {
		if bytes.Equal(m[i].Key, key) {
			return m[i].Val, true
		}
	}
	return nil, false
}
