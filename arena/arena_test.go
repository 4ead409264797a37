package arena

import (
	"errors"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/testutil/testlog"
	"github.com/danmuck/ggipc/object"
)

func offset(a *Arena, b []byte) int {
	return int(uintptr(unsafe.Pointer(unsafe.SliceData(b))) - uintptr(unsafe.Pointer(unsafe.SliceData(a.mem))))
}

func TestAllocAlignmentAndNoOverlap(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		a := New(make([]byte, 512))
		end := 0
		for {
			size := rng.Intn(40)
			align := 1 << rng.Intn(4)
			pad := (align - a.Index()%align) % align
			fits := pad+size <= a.Remaining()
			before := a.Index()
			b, err := a.Alloc(size, align)
			if !fits {
				if !errors.Is(err, ggerr.NoMem) {
					t.Fatalf("round %d: expected NoMem, got %v", round, err)
				}
				if a.Index() != before {
					t.Fatalf("round %d: failed alloc moved cursor %d -> %d", round, before, a.Index())
				}
				break
			}
			if err != nil {
				t.Fatalf("round %d: alloc(%d,%d): %v", round, size, align, err)
			}
			off := offset(a, b)
			if len(b) != size || off%align != 0 || off < end {
				t.Fatalf("round %d: bad region off=%d len=%d align=%d prev end=%d", round, off, len(b), align, end)
			}
			end = off + size
		}
	}
}

func TestAllocRejectsBadAlignment(t *testing.T) {
	testlog.Start(t)
	a := New(make([]byte, 16))
	if _, err := a.Alloc(1, 3); !errors.Is(err, ggerr.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
	if _, err := a.Alloc(1, 0); !errors.Is(err, ggerr.Invalid) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestAllocExactFitThenFull(t *testing.T) {
	testlog.Start(t)
	a := New(make([]byte, 8))
	if _, err := a.Alloc(8, 8); err != nil {
		t.Fatalf("exact fit: %v", err)
	}
	if _, err := a.Alloc(1, 1); !errors.Is(err, ggerr.NoMem) {
		t.Fatalf("expected NoMem, got %v", err)
	}
	if _, err := a.Alloc(0, 1); err != nil {
		t.Fatalf("zero-size alloc in full arena: %v", err)
	}
}

func TestResizeLast(t *testing.T) {
	testlog.Start(t)
	a := New(make([]byte, 32))
	first, _ := a.Alloc(4, 1)
	second, _ := a.Alloc(4, 1)

	if _, err := a.ResizeLast(first, 4, 8); !errors.Is(err, ggerr.Invalid) {
		t.Fatalf("resizing a non-last allocation: expected Invalid, got %v", err)
	}
	if _, err := a.ResizeLast(second, 3, 8); !errors.Is(err, ggerr.Invalid) {
		t.Fatalf("wrong old size: expected Invalid, got %v", err)
	}
	copy(second, "abcd")
	grown, err := a.ResizeLast(second, 4, 20)
	if err != nil {
		t.Fatalf("grow: %v", err)
	}
	if string(grown[:4]) != "abcd" || a.Index() != 24 {
		t.Fatalf("unexpected grow result %q index=%d", grown[:4], a.Index())
	}
	if _, err := a.ResizeLast(grown, 20, 29); !errors.Is(err, ggerr.NoMem) {
		t.Fatalf("expected NoMem, got %v", err)
	}
	shrunk, err := a.ResizeLast(grown, 20, 2)
	if err != nil || len(shrunk) != 2 || a.Index() != 6 {
		t.Fatalf("shrink: len=%d index=%d err=%v", len(shrunk), a.Index(), err)
	}
}

func TestOwnsAndAllocRest(t *testing.T) {
	testlog.Start(t)
	a := New(make([]byte, 16))
	b, _ := a.Alloc(5, 1)
	if !a.Owns(b) || a.Owns([]byte("outside")) || a.Owns(nil) {
		t.Fatalf("ownership check failed")
	}
	rest := a.AllocRest()
	if len(rest) != 11 || a.Remaining() != 0 {
		t.Fatalf("rest len=%d remaining=%d", len(rest), a.Remaining())
	}
	a.Reset()
	if a.Index() != 0 || a.Remaining() != 16 {
		t.Fatalf("reset failed")
	}
}

func TestAllocListChargesCapacity(t *testing.T) {
	testlog.Start(t)
	a := New(make([]byte, 3*object.ValueSize))
	l, err := a.AllocList(3)
	if err != nil || len(l) != 3 {
		t.Fatalf("alloc list: %v", err)
	}
	if !a.OwnsList(l) || a.OwnsList(object.List{object.Null{}}) {
		t.Fatalf("list ownership check failed")
	}
	if _, err := a.AllocList(1); !errors.Is(err, ggerr.NoMem) {
		t.Fatalf("expected NoMem, got %v", err)
	}
	if _, err := a.AllocMap(1); !errors.Is(err, ggerr.NoMem) {
		t.Fatalf("expected NoMem, got %v", err)
	}
}

func TestClaimValue(t *testing.T) {
	testlog.Start(t)
	key := []byte("name")
	str := []byte("value")
	src := object.Value(object.Map{
		{Key: key, Val: object.List{object.Buffer(str), object.Int64(3)}},
	})
	want := object.Value(object.NewMap(object.Pair("name", object.List{object.Buf("value"), object.Int64(3)})))

	n, err := object.MemUsage(src)
	if err != nil {
		t.Fatalf("mem usage: %v", err)
	}
	a := Sized(n)
	v := src
	if err := a.ClaimValue(&v); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if a.Remaining() != 0 {
		t.Fatalf("claim should use exactly MemUsage bytes, %d left", a.Remaining())
	}

	// Scribbling over the sources must not affect the claimed copy.
	copy(key, "XXXX")
	copy(str, "XXXXX")
	src.(object.Map)[0].Val.(object.List)[1] = object.Int64(9)
	if !object.Equal(v, want) {
		t.Fatalf("claimed value changed with its source: %#v", v)
	}

	m := v.(object.Map)
	if !a.OwnsMap(m) || !a.Owns(m[0].Key) || !a.OwnsList(m[0].Val.(object.List)) {
		t.Fatalf("claimed tree not owned by arena")
	}

	before := a.Index()
	if err := a.ClaimValue(&v); err != nil || a.Index() != before {
		t.Fatalf("reclaiming an owned tree should be a no-op: index %d -> %d err=%v", before, a.Index(), err)
	}
}

func TestClaimValueNoMem(t *testing.T) {
	testlog.Start(t)
	v := object.Value(object.List{object.Buf("abcdef")})
	a := New(make([]byte, object.ValueSize+2))
	if err := a.ClaimValue(&v); !errors.Is(err, ggerr.NoMem) {
		t.Fatalf("expected NoMem, got %v", err)
	}
}

func TestClaimValueBuffers(t *testing.T) {
	testlog.Start(t)
	str := []byte("abc")
	list := object.List{object.Buffer(str)}
	v := object.Value(list)
	a := Sized(16)
	if err := a.ClaimValueBuffers(&v); err != nil {
		t.Fatalf("claim buffers: %v", err)
	}
	if a.OwnsList(v.(object.List)) {
		t.Fatalf("list array should not be copied")
	}
	if !a.Owns(list[0].(object.Buffer)) {
		t.Fatalf("buffer should be rewritten in the caller's list")
	}
	if a.Index() != 3 {
		t.Fatalf("index=%d want 3", a.Index())
	}
}

func TestClone(t *testing.T) {
	testlog.Start(t)
	v := object.Value(object.NewMap(object.Pair("k", object.Buf("v"))))
	c, a, err := Clone(v)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if !object.Equal(v, c) || !a.OwnsMap(c.(object.Map)) {
		t.Fatalf("bad clone")
	}
}
