package arena

import (
	"github.com/danmuck/ggipc/object"
)

// ClaimBuf copies *b into the arena unless the arena already owns it.
func (a *Arena) ClaimBuf(b *[]byte) error {
	if len(*b) == 0 || a.Owns(*b) {
		return nil
	}
	dst, err := a.Alloc(len(*b), 1)
	if err != nil {
		return err
	}
	copy(dst, *b)
	*b = dst
	return nil
}

// ClaimValue deep-copies every buffer, key, list and map of *v that the
// arena does not own and rewrites *v to reference the copies. Scalars and
// already owned references are left as they are. On error *v may be
// partially claimed.
func (a *Arena) ClaimValue(v *object.Value) error {
	h := object.Handlers{
		Buffer: func(b object.Buffer, node *object.Value) error {
			buf := []byte(b)
			if err := a.ClaimBuf(&buf); err != nil {
				return err
			}
			*node = object.Buffer(buf)
			return nil
		},
		List: func(l object.List, node *object.Value) error {
			if a.OwnsList(l) {
				return nil
			}
			dst, err := a.AllocList(len(l))
			if err != nil {
				return err
			}
			copy(dst, l)
			*node = dst
			return nil
		},
		Map: func(m object.Map, node *object.Value) error {
			if a.OwnsMap(m) {
				return nil
			}
			dst, err := a.AllocMap(len(m))
			if err != nil {
				return err
			}
			copy(dst, m)
			*node = dst
			return nil
		},
		MapKey: func(_ []byte, kv *object.KV) error {
			return a.ClaimBuf(&kv.Key)
		},
	}
	return object.Visit(&h, v)
}

// ClaimValueBuffers copies only buffer contents and map keys into the arena,
// rewriting them in place inside the existing list and map arrays.
func (a *Arena) ClaimValueBuffers(v *object.Value) error {
	h := object.Handlers{
		Buffer: func(b object.Buffer, node *object.Value) error {
			buf := []byte(b)
			if err := a.ClaimBuf(&buf); err != nil {
				return err
			}
			*node = object.Buffer(buf)
			return nil
		},
		MapKey: func(_ []byte, kv *object.KV) error {
			return a.ClaimBuf(&kv.Key)
		},
	}
	return object.Visit(&h, v)
}

// Clone returns a copy of v held entirely in a new arena sized to fit it.
func Clone(v object.Value) (object.Value, *Arena, error) {
	n, err := object.MemUsage(v)
	if err != nil {
		return nil, nil, err
	}
	a := Sized(n)
	if err := a.ClaimValue(&v); err != nil {
		return nil, nil, err
	}
	return v, a, nil
}
