package jsonvalue

import (
	"io"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
)

// Reader renders a value as JSON on demand. It walks the value with an
// object.Iter and never holds more than one token of output at a time, so
// it can feed a frame encoder directly.
type Reader struct {
	it      *object.Iter
	pending []byte
	scratch []byte
	err     error
}

// NewReader returns a Reader producing the JSON text of v.
func NewReader(v object.Value) *Reader {
	return &Reader{it: object.NewIter(v)}
}

func (r *Reader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			if r.err != nil {
				break
			}
			r.err = r.fill()
			continue
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	if n > 0 {
		return n, nil
	}
	return 0, r.err
}

// fill renders the next event into pending. It returns io.EOF once the
// walk is complete.
func (r *Reader) fill() error {
	ev, err := r.it.Next()
	if err != nil {
		return err
	}
	b := r.scratch[:0]
	switch ev {
	case object.EventDone:
		return io.EOF
	case object.EventNull:
		b = append(b, "null"...)
	case object.EventBool:
		b = strconv.AppendBool(b, bool((*r.it.Node()).(object.Bool)))
	case object.EventInt64:
		b = strconv.AppendInt(b, int64((*r.it.Node()).(object.Int64)), 10)
	case object.EventFloat64:
		b, err = appendFloat(b, float64((*r.it.Node()).(object.Float64)))
		if err != nil {
			return err
		}
	case object.EventBuffer:
		b = appendString(b, (*r.it.Node()).(object.Buffer))
	case object.EventListStart:
		b = append(b, '[')
	case object.EventListEnd:
		b = append(b, ']')
	case object.EventMapStart:
		b = append(b, '{')
	case object.EventMapEnd:
		b = append(b, '}')
	case object.EventListNext, object.EventMapNext:
		b = append(b, ',')
	case object.EventMapKey:
		b = appendString(b, r.it.Entry().Key)
		b = append(b, ':')
	}
	r.scratch = b
	r.pending = b
	return nil
}

func appendFloat(b []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return b, ggerr.Errorf(ggerr.Range, "jsonvalue: cannot encode %v", f)
	}
	start := len(b)
	b = strconv.AppendFloat(b, f, 'g', -1, 64)
	for _, c := range b[start:] {
		if c == '.' || c == 'e' || c == 'E' {
			return b, nil
		}
	}
	return append(b, ".0"...), nil
}

const hex = "0123456789abcdef"

// appendString writes s as a JSON string. Invalid UTF-8 is replaced with
// U+FFFD.
func appendString(b, s []byte) []byte {
	b = append(b, '"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch {
			case c == '"' || c == '\\':
				b = append(b, '\\', c)
			case c == '\n':
				b = append(b, '\\', 'n')
			case c == '\r':
				b = append(b, '\\', 'r')
			case c == '\t':
				b = append(b, '\\', 't')
			case c < 0x20:
				b = append(b, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			default:
				b = append(b, c)
			}
			i++
			continue
		}
		r, size := utf8.DecodeRune(s[i:])
		if r == utf8.RuneError && size == 1 {
			b = append(b, `�`...)
		} else {
			b = append(b, s[i:i+size]...)
		}
		i += size
	}
	return append(b, '"')
}

// Encode returns the JSON text of v.
func Encode(v object.Value) ([]byte, error) {
	return io.ReadAll(NewReader(v))
}

// String renders v as JSON for log output. Values that cannot be encoded
// render as their error.
func String(v object.Value) string {
	b, err := Encode(v)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(b)
}
