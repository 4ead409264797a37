package ggerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindIsMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("call Foo: %w", Errorf(Timeout, "stream %d: no reply", 7))
	if !errors.Is(err, Timeout) {
		t.Fatalf("expected Timeout in chain, got %v", err)
	}
	if errors.Is(err, NoMem) {
		t.Fatalf("unexpected NoMem in chain")
	}
	if got := KindOf(err); got != Timeout {
		t.Fatalf("KindOf=%v want Timeout", got)
	}
}

func TestErrorfKeepsCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := Errorf(NoConn, "write frame: %w", cause)
	if !errors.Is(err, cause) || !errors.Is(err, NoConn) {
		t.Fatalf("expected both cause and kind in chain: %v", err)
	}
	if err.Error() != "write frame: socket closed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, OK},
		{"bare kind", Parse, Parse},
		{"foreign", errors.New("x"), Failure},
		{"wrapped", Wrap(Range, errors.New("deep")), Range},
		{"remote", &RemoteError{Code: "X"}, Remote},
		{"nil wrap", Wrap(Range, nil), OK},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("%s: KindOf=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestRemoteError(t *testing.T) {
	err := error(&RemoteError{Code: "X", Message: "bad"})
	if !errors.Is(err, Remote) {
		t.Fatalf("remote error must match Remote")
	}
	var re *RemoteError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &re) || re.Code != "X" {
		t.Fatalf("errors.As failed: %+v", re)
	}
	if err.Error() != "remote error X: bad" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestKindString(t *testing.T) {
	if NoMem.String() != "out of memory" {
		t.Fatalf("got %q", NoMem.String())
	}
	if Kind(200).String() != "kind(200)" {
		t.Fatalf("got %q", Kind(200).String())
	}
}
