package header

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/rs/zerolog"
)

func TestAppendIterRoundTrip(t *testing.T) {
	in := []Header{
		New(":message-type", Int32(0)),
		New(":stream-id", Int32(-7)),
		New("operation", Str("aws.greengrass#PublishToTopic")),
		New("empty", Str("")),
	}
	b, err := Append(nil, in...)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err := Validate(b)
	if err != nil || n != len(in) {
		t.Fatalf("validate: n=%d err=%v", n, err)
	}
	it := NewIter(b)
	for i, want := range in {
		got, ok := it.Next()
		if !ok {
			t.Fatalf("entry %d missing", i)
		}
		if !bytes.Equal(got.Name, want.Name) || got.Value.Type != want.Value.Type ||
			got.Value.Int32 != want.Value.Int32 || !bytes.Equal(got.Value.String, want.Value.String) {
			t.Fatalf("entry %d mismatch: got=%v want=%v", i, got, want)
		}
	}
	if _, ok := it.Next(); ok {
		t.Fatalf("expected end of headers")
	}
}

func TestFindDoesNotAdvance(t *testing.T) {
	b, _ := Append(nil, New("a", Int32(1)), New("b", Str("x")), New("a", Int32(2)))
	it := NewIter(b)
	v, ok := it.Find("a")
	if !ok || v.Int32 != 1 {
		t.Fatalf("find a: %v %v", v, ok)
	}
	if _, ok := it.Find("zz"); ok {
		t.Fatalf("unexpected hit")
	}
	h, _ := it.Next()
	if string(h.Name) != "a" {
		t.Fatalf("Find advanced the iterator")
	}
}

func TestValidateMalformed(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want error
	}{
		{"name truncated", []byte{5, 'a', 'b'}, ErrShortField},
		{"missing type", []byte{1, 'a'}, ErrShortField},
		{"short int32", []byte{1, 'a', TypeInt32, 0, 0}, ErrShortField},
		{"short string len", []byte{1, 'a', TypeString, 0}, ErrShortField},
		{"short string", []byte{1, 'a', TypeString, 0, 3, 'x'}, ErrShortField},
		{"bad tag", []byte{1, 'a', 9, 0, 0, 0, 0}, ErrUnsupportedType},
	}
	for _, tc := range cases {
		_, err := Validate(tc.b)
		if !errors.Is(err, tc.want) || !errors.Is(err, ggerr.Parse) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestPutLimits(t *testing.T) {
	long := make([]byte, MaxNameLen+1)
	if _, err := Put(make([]byte, 512), Header{Name: long, Value: Int32(0)}); !errors.Is(err, ggerr.Range) {
		t.Fatalf("expected Range, got %v", err)
	}
	if _, err := Put(make([]byte, 4), New("abc", Int32(0))); !errors.Is(err, ggerr.NoMem) {
		t.Fatalf("expected NoMem, got %v", err)
	}
	if _, err := Put(make([]byte, 16), New("abc", Value{Type: 1})); !errors.Is(err, ggerr.Unsupported) {
		t.Fatalf("expected Unsupported, got %v", err)
	}
}

func TestValidateDoesNotAllocateWithoutTrace(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	b, err := Append(nil,
		New(":message-type", Int32(0)),
		New("operation", Str("aws.greengrass#PublishToTopic")),
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	allocs := testing.AllocsPerRun(100, func() {
		if _, err := Validate(b); err != nil {
			t.Fatalf("validate: %v", err)
		}
	})
	if allocs != 0 {
		t.Fatalf("validate allocated %.1f times per run", allocs)
	}
}
