// Package b64 transcodes binary payloads to and from standard padded
// base64 for the JSON-carried pub/sub operations.
package b64

import (
	"encoding/base64"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
)

// EncodedLen returns the encoded length of n bytes.
func EncodedLen(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}

// Encode base64-encodes src into memory allocated from a.
func Encode(src []byte, a *arena.Arena) ([]byte, error) {
	need := EncodedLen(len(src))
	dst, err := a.Alloc(need, 1)
	if err != nil {
		return nil, ggerr.Errorf(ggerr.NoMem, "b64: need %d bytes to encode, %d available: %w", need, a.Remaining(), err)
	}
	base64.StdEncoding.Encode(dst, src)
	return dst, nil
}

// Decode decodes src into a new slice. It reports false for malformed
// input.
func Decode(src []byte) ([]byte, bool) {
	dst := make([]byte, base64.StdEncoding.DecodedLen(len(src)))
	n, err := base64.StdEncoding.Decode(dst, src)
	if err != nil {
		return nil, false
	}
	return dst[:n], true
}

// DecodeInPlace overwrites *buf with its decoded form and shrinks it to the
// decoded length. On malformed input it reports false and *buf is left in
// an unspecified state.
func DecodeInPlace(buf *[]byte) bool {
	src := *buf
	out := 0
	var quad [4]byte
	q := 0
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '\r' || c == '\n' {
			continue
		}
		quad[q] = c
		q++
		if q < 4 {
			continue
		}
		var dec [3]byte
		n, err := base64.StdEncoding.Decode(dec[:], quad[:])
		if err != nil {
			return false
		}
		if n < 3 && hasMore(src[i+1:]) {
			return false
		}
		out += copy(src[out:], dec[:n])
		q = 0
	}
	if q != 0 {
		return false
	}
	*buf = src[:out]
	return true
}

func hasMore(rest []byte) bool {
	for _, c := range rest {
		if c != '\r' && c != '\n' {
			return true
		}
	}
	return false
}
