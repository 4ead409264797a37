// Package header encodes and decodes the typed header entries carried in
// the header section of a framed message.
//
// Each entry is laid out as: name length (1 byte), name, type tag (1 byte),
// then either a big-endian int32 or a big-endian u16 length followed by
// string bytes.
package header

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/rs/zerolog/log"
)

// Type tags.
const (
	TypeInt32  uint8 = 4
	TypeString uint8 = 7
)

const (
	MaxNameLen   = 0xff
	MaxStringLen = 0xffff
)

var (
	ErrShortField      = ggerr.Errorf(ggerr.Parse, "header: short field")
	ErrUnsupportedType = ggerr.Errorf(ggerr.Parse, "header: unsupported value type")
)

// Value is a typed header value.
type Value struct {
	Type   uint8
	Int32  int32
	String []byte
}

func Int32(v int32) Value {
	return Value{Type: TypeInt32, Int32: v}
}

func String(s []byte) Value {
	return Value{Type: TypeString, String: s}
}

func Str(s string) Value {
	return String([]byte(s))
}

func (v Value) Format(f fmt.State, verb rune) {
	switch v.Type {
	case TypeInt32:
		fmt.Fprintf(f, "%d", v.Int32)
	case TypeString:
		fmt.Fprintf(f, "%q", v.String)
	default:
		fmt.Fprintf(f, "type(%d)", v.Type)
	}
}

// Header is one named header entry. Name and String values are views into
// the decoded message.
type Header struct {
	Name  []byte
	Value Value
}

func New(name string, v Value) Header {
	return Header{Name: []byte(name), Value: v}
}

// EncodedLen returns the number of bytes h occupies on the wire.
func EncodedLen(h Header) int {
	n := 1 + len(h.Name) + 1
	switch h.Value.Type {
	case TypeInt32:
		n += 4
	case TypeString:
		n += 2 + len(h.Value.String)
	}
	return n
}

// Put writes h to the start of buf and returns the number of bytes written.
// An oversized name or string is ggerr.Range, an unknown type
// ggerr.Unsupported and a short buf ggerr.NoMem.
func Put(buf []byte, h Header) (int, error) {
	if len(h.Name) > MaxNameLen {
		return 0, ggerr.Errorf(ggerr.Range, "header: name of %d bytes exceeds %d", len(h.Name), MaxNameLen)
	}
	switch h.Value.Type {
	case TypeInt32:
	case TypeString:
		if len(h.Value.String) > MaxStringLen {
			return 0, ggerr.Errorf(ggerr.Range, "header: %s value of %d bytes exceeds %d", h.Name, len(h.Value.String), MaxStringLen)
		}
	default:
		return 0, ggerr.Errorf(ggerr.Unsupported, "header: %s has unsupported type %d", h.Name, h.Value.Type)
	}
	n := EncodedLen(h)
	if len(buf) < n {
		return 0, ggerr.Errorf(ggerr.NoMem, "header: need %d bytes, have %d", n, len(buf))
	}
	i := 0
	buf[i] = uint8(len(h.Name))
	i++
	i += copy(buf[i:], h.Name)
	buf[i] = h.Value.Type
	i++
	switch h.Value.Type {
	case TypeInt32:
		binary.BigEndian.PutUint32(buf[i:], uint32(h.Value.Int32))
		i += 4
	case TypeString:
		binary.BigEndian.PutUint16(buf[i:], uint16(len(h.Value.String)))
		i += 2
		i += copy(buf[i:], h.Value.String)
	}
	return i, nil
}

// Append appends the wire form of hs to dst.
func Append(dst []byte, hs ...Header) ([]byte, error) {
	for _, h := range hs {
		start := len(dst)
		dst = append(dst, make([]byte, EncodedLen(h))...)
		if _, err := Put(dst[start:], h); err != nil {
			return dst[:start], err
		}
	}
	return dst, nil
}

// parse reads one entry from the start of b.
func parse(b []byte) (Header, int, error) {
	if len(b) < 1 {
		return Header{}, 0, ErrShortField
	}
	nameLen := int(b[0])
	i := 1
	if len(b)-i < nameLen+1 {
		return Header{}, 0, ErrShortField
	}
	h := Header{Name: b[i : i+nameLen : i+nameLen]}
	i += nameLen
	h.Value.Type = b[i]
	i++
	switch h.Value.Type {
	case TypeInt32:
		if len(b)-i < 4 {
			return Header{}, 0, ErrShortField
		}
		h.Value.Int32 = int32(binary.BigEndian.Uint32(b[i:]))
		i += 4
	case TypeString:
		if len(b)-i < 2 {
			return Header{}, 0, ErrShortField
		}
		l := int(binary.BigEndian.Uint16(b[i:]))
		i += 2
		if len(b)-i < l {
			return Header{}, 0, ErrShortField
		}
		h.Value.String = b[i : i+l : i+l]
		i += l
	default:
		return Header{}, 0, fmt.Errorf("%w: %d", ErrUnsupportedType, h.Value.Type)
	}
	return h, i, nil
}

// Validate checks that b is a sequence of well-formed entries and returns
// their count.
func Validate(b []byte) (int, error) {
	count := 0
	for len(b) > 0 {
		h, n, err := parse(b)
		if err != nil {
			return count, err
		}
		if e := log.Trace(); e.Enabled() {
			e.Bytes("name", h.Name).Str("value", fmt.Sprint(h.Value)).Msg("header: decoded")
		}
		b = b[n:]
		count++
	}
	return count, nil
}

// Iter is a forward-only cursor over a validated header section.
type Iter struct {
	rest []byte
}

// NewIter returns an iterator over b, which must have passed Validate.
func NewIter(b []byte) Iter {
	return Iter{rest: b}
}

// Next returns the next entry, or false at the end.
func (it *Iter) Next() (Header, bool) {
	if len(it.rest) == 0 {
		return Header{}, false
	}
	h, n, err := parse(it.rest)
	if err != nil {
		it.rest = nil
		return Header{}, false
	}
	it.rest = it.rest[n:]
	return h, true
}

// Find returns the value of the first entry named name. It does not advance
// it.
func (it Iter) Find(name string) (Value, bool) {
	for {
		h, ok := it.Next()
		if !ok {
			return Value{}, false
		}
		if string(h.Name) == name {
			return h.Value, true
		}
	}
}
