// Package arena provides a fixed-capacity bump allocator that owns the memory
// behind decoded values.
//
// Byte memory (buffer contents and map keys) is carved out of the caller's
// region. List and map backing arrays hold Go pointers and therefore stay on
// the garbage-collected heap, but they are charged against the arena's
// capacity at object.ValueSize and object.KVSize bytes per element and the
// arena records which arrays it handed out, so ownership checks and size
// accounting behave as if they lived in the region.
package arena

import (
	"math"
	"unsafe"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
)

// MaxCapacity is the largest region an Arena will use.
const MaxCapacity = math.MaxUint32

// Arena is a bump allocator over a caller-supplied byte region. The zero
// value is an arena with no capacity. An Arena is not safe for concurrent
// use.
type Arena struct {
	mem      []byte
	index    int
	last     int
	lastSize int
	owned    map[unsafe.Pointer]struct{}
}

// New returns an arena over mem. Regions larger than MaxCapacity are
// truncated.
func New(mem []byte) *Arena {
	if uint64(len(mem)) > MaxCapacity {
		mem = mem[:MaxCapacity]
	}
	return &Arena{mem: mem[:len(mem):len(mem)], last: -1}
}

// Sized returns an arena over a freshly allocated region of n bytes.
func Sized(n int) *Arena {
	return New(make([]byte, n))
}

func (a *Arena) Capacity() int  { return len(a.mem) }
func (a *Arena) Index() int     { return a.index }
func (a *Arena) Remaining() int { return len(a.mem) - a.index }

// Reset discards every allocation. Memory handed out earlier is reused by
// later allocations.
func (a *Arena) Reset() {
	a.index = 0
	a.last = -1
	a.lastSize = 0
	clear(a.owned)
}

// Alloc returns size bytes aligned to align relative to the start of the
// region. align must be a power of two. When the request does not fit the
// arena is left unchanged and the error is ggerr.NoMem.
func (a *Arena) Alloc(size, align int) ([]byte, error) {
	if size < 0 || align <= 0 || align&(align-1) != 0 {
		return nil, ggerr.Errorf(ggerr.Invalid, "arena: bad allocation size=%d align=%d", size, align)
	}
	start, err := a.reserve(size, align)
	if err != nil {
		return nil, err
	}
	return a.mem[start : start+size : start+size], nil
}

func (a *Arena) reserve(size, align int) (int, error) {
	pad := (align - a.index%align) % align
	if pad > a.Remaining() || size > a.Remaining()-pad {
		return 0, ggerr.Errorf(ggerr.NoMem, "arena: need %d bytes (+%d pad), %d remaining", size, pad, a.Remaining())
	}
	start := a.index + pad
	a.index = start + size
	a.last = start
	a.lastSize = size
	return start, nil
}

// ResizeLast grows or shrinks the most recent allocation in place. b and
// oldSize must describe that allocation exactly, otherwise the error is
// ggerr.Invalid.
func (a *Arena) ResizeLast(b []byte, oldSize, newSize int) ([]byte, error) {
	if a.last < 0 || oldSize != a.lastSize || len(b) != oldSize || newSize < 0 ||
		unsafe.SliceData(b) != unsafe.SliceData(a.mem[a.last:]) {
		return nil, ggerr.Errorf(ggerr.Invalid, "arena: resize of a buffer that is not the last allocation")
	}
	if newSize > len(a.mem)-a.last {
		return nil, ggerr.Errorf(ggerr.NoMem, "arena: resize to %d exceeds capacity", newSize)
	}
	a.index = a.last + newSize
	a.lastSize = newSize
	return a.mem[a.last : a.last+newSize : a.last+newSize], nil
}

// AllocRest hands out all remaining capacity as one allocation.
func (a *Arena) AllocRest() []byte {
	b, _ := a.Alloc(a.Remaining(), 1)
	return b
}

// Owns reports whether b points into the arena's region.
func (a *Arena) Owns(b []byte) bool {
	if len(a.mem) == 0 {
		return false
	}
	p := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	base := uintptr(unsafe.Pointer(unsafe.SliceData(a.mem)))
	return p >= base && p < base+uintptr(len(a.mem))
}

// AllocList returns a list of n null values charged against the arena.
func (a *Arena) AllocList(n int) (object.List, error) {
	if n < 0 || n > a.Remaining()/object.ValueSize {
		return nil, ggerr.Errorf(ggerr.NoMem, "arena: no room for %d list elements", n)
	}
	if _, err := a.reserve(n*object.ValueSize, 1); err != nil {
		return nil, err
	}
	l := make(object.List, n)
	a.track(unsafe.Pointer(unsafe.SliceData(l)), n)
	return l, nil
}

// AllocMap returns a map of n empty entries charged against the arena.
func (a *Arena) AllocMap(n int) (object.Map, error) {
	if n < 0 || n > a.Remaining()/object.KVSize {
		return nil, ggerr.Errorf(ggerr.NoMem, "arena: no room for %d map entries", n)
	}
	if _, err := a.reserve(n*object.KVSize, 1); err != nil {
		return nil, err
	}
	m := make(object.Map, n)
	a.track(unsafe.Pointer(unsafe.SliceData(m)), n)
	return m, nil
}

func (a *Arena) track(p unsafe.Pointer, n int) {
	if n == 0 {
		return
	}
	if a.owned == nil {
		a.owned = make(map[unsafe.Pointer]struct{})
	}
	a.owned[p] = struct{}{}
}

// OwnsList reports whether l's backing array came from AllocList. Empty
// lists are always owned.
func (a *Arena) OwnsList(l object.List) bool {
	if len(l) == 0 {
		return true
	}
	_, ok := a.owned[unsafe.Pointer(unsafe.SliceData(l))]
	return ok
}

// OwnsMap reports whether m's backing array came from AllocMap. Empty maps
// are always owned.
func (a *Arena) OwnsMap(m object.Map) bool {
	if len(m) == 0 {
		return true
	}
	_, ok := a.owned[unsafe.Pointer(unsafe.SliceData(m))]
	return ok
}
