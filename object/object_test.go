package object

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/testutil/testlog"
)

func nested(depth int) Value {
	var v Value = Int64(1)
	for i := 1; i < depth; i++ {
		v = List{v}
	}
	return v
}

func flatList(n int) Value {
	l := make(List, n)
	for i := range l {
		l[i] = Null{}
	}
	return l
}

func flatMap(n int) Value {
	m := make(Map, n)
	for i := range m {
		m[i] = Pair("k", Bool(true))
	}
	return m
}

func TestDepthLimit(t *testing.T) {
	testlog.Start(t)
	if err := Check(nested(MaxDepth)); err != nil {
		t.Fatalf("depth %d should pass: %v", MaxDepth, err)
	}
	err := Check(nested(MaxDepth + 1))
	if !errors.Is(err, ggerr.Range) {
		t.Fatalf("depth %d: expected Range, got %v", MaxDepth+1, err)
	}
}

func TestSubobjectLimit(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		v    Value
		ok   bool
	}{
		{"list at limit", flatList(255), true},
		{"list over limit", flatList(256), false},
		{"map at limit", flatMap(127), true},
		{"map over limit", flatMap(128), false},
		{"mixed over limit", List{flatList(200), flatMap(27)}, false},
		{"mixed at limit", List{flatList(200), flatMap(26)}, true},
	}
	for _, tc := range cases {
		err := Check(tc.v)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ggerr.Range) {
			t.Fatalf("%s: expected Range, got %v", tc.name, err)
		}
	}
}

func TestVisitEventOrder(t *testing.T) {
	testlog.Start(t)
	v := Value(NewMap(
		Pair("a", List{Int64(1), Buf("x")}),
		Pair("b", Null{}),
		Pair("c", Map{}),
	))
	var trace []string
	rec := func(s string) func() error {
		return func() error {
			trace = append(trace, s)
			return nil
		}
	}
	h := Handlers{
		Null:     rec("null"),
		Int64:    func(v int64) error { trace = append(trace, "int"); return nil },
		Buffer:   func(b Buffer, _ *Value) error { trace = append(trace, "buf:"+string(b)); return nil },
		List:     func(l List, _ *Value) error { trace = append(trace, "["); return nil },
		ListNext: rec(","),
		ListEnd:  rec("]"),
		Map:      func(m Map, _ *Value) error { trace = append(trace, "{"); return nil },
		MapKey:   func(k []byte, _ *KV) error { trace = append(trace, "key:"+string(k)); return nil },
		MapNext:  rec(";"),
		MapEnd:   rec("}"),
	}
	if err := Visit(&h, &v); err != nil {
		t.Fatalf("visit: %v", err)
	}
	got := strings.Join(trace, " ")
	want := "{ key:a [ int , buf:x ] ; key:b null ; key:c { } }"
	if got != want {
		t.Fatalf("trace mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestVisitHandlerErrorAborts(t *testing.T) {
	testlog.Start(t)
	stop := errors.New("stop")
	calls := 0
	v := Value(List{Int64(1), Int64(2), Int64(3)})
	err := Visit(&Handlers{Int64: func(int64) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	}}, &v)
	if !errors.Is(err, stop) || calls != 2 {
		t.Fatalf("expected abort after 2 calls, got calls=%d err=%v", calls, err)
	}
}

func TestVisitRewritesInPlace(t *testing.T) {
	testlog.Start(t)
	v := Value(List{Buf("a"), List{Buf("b")}})
	h := Handlers{
		Buffer: func(b Buffer, node *Value) error {
			*node = Buf(strings.ToUpper(string(b)))
			return nil
		},
		List: func(l List, node *Value) error {
			cp := make(List, len(l))
			copy(cp, l)
			*node = cp
			return nil
		},
	}
	orig := v.(List)
	if err := Visit(&h, &v); err != nil {
		t.Fatalf("visit: %v", err)
	}
	want := Value(List{Buf("A"), List{Buf("B")}})
	if !Equal(v, want) {
		t.Fatalf("rewritten tree mismatch: %#v", v)
	}
	if string(orig[0].(Buffer)) != "a" {
		t.Fatalf("original list must be untouched after copy-on-start")
	}
}

func TestMemUsage(t *testing.T) {
	testlog.Start(t)
	v := Value(NewMap(
		Pair("ab", List{Buf("xyz"), Int64(1)}),
	))
	got, err := MemUsage(v)
	if err != nil {
		t.Fatalf("mem usage: %v", err)
	}
	want := KVSize + 2 + 2*ValueSize + 3
	if got != want {
		t.Fatalf("mem usage=%d want %d", got, want)
	}
	if _, err := MemUsage(nested(MaxDepth + 1)); !errors.Is(err, ggerr.Range) {
		t.Fatalf("expected Range for deep tree, got %v", err)
	}
}

func TestEqual(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null nil", nil, Null{}, true},
		{"ints", Int64(1), Int64(1), true},
		{"int float", Int64(1), Float64(1), false},
		{"float tolerance", Float64(0.1 + 0.2), Float64(0.3), true},
		{"nan", Float64(math.NaN()), Float64(math.NaN()), true},
		{"nan vs number", Float64(math.NaN()), Float64(1), false},
		{"buffers", Buf("a"), Buf("b"), false},
		{"list order", List{Int64(1), Int64(2)}, List{Int64(2), Int64(1)}, false},
		{"list length", List{Int64(1)}, List{Int64(1), Int64(1)}, false},
		{"map unordered", NewMap(Pair("a", Int64(1)), Pair("b", Int64(2))), NewMap(Pair("b", Int64(2)), Pair("a", Int64(1))), true},
		{"map missing key", NewMap(Pair("a", Int64(1))), NewMap(Pair("b", Int64(1))), false},
		{"map value", NewMap(Pair("a", Int64(1))), NewMap(Pair("a", Int64(2))), false},
		{"nested", NewMap(Pair("a", List{NewMap(Pair("x", Bool(true)))})), NewMap(Pair("a", List{NewMap(Pair("x", Bool(true)))})), true},
		{"too deep", nested(MaxDepth + 1), nested(MaxDepth + 1), false},
	}
	for _, tc := range cases {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Fatalf("%s: Equal=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestMapGetFirstMatchWins(t *testing.T) {
	testlog.Start(t)
	m := NewMap(Pair("k", Int64(1)), Pair("k", Int64(2)))
	v, ok := m.Get("k")
	if !ok || v != Int64(1) {
		t.Fatalf("expected first entry, got %v %v", v, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestValidateMap(t *testing.T) {
	testlog.Start(t)
	m := NewMap(Pair("_errorCode", Buf("X")), Pair("count", Int64(3)))

	var code, msg Value
	err := ValidateMap(m,
		Required("_errorCode", TypeBuffer, &code),
		Optional("_message", TypeBuffer, &msg),
	)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if string(code.(Buffer)) != "X" || msg != nil {
		t.Fatalf("unexpected outputs code=%v msg=%v", code, msg)
	}

	err = ValidateMap(m, Required("missing", TypeAny, nil))
	if !errors.Is(err, ggerr.NoEntry) {
		t.Fatalf("expected NoEntry, got %v", err)
	}
	err = ValidateMap(m, Optional("count", TypeBuffer, nil))
	if !errors.Is(err, ggerr.Parse) {
		t.Fatalf("expected Parse, got %v", err)
	}
	var count Value
	if err := ValidateMap(m, Required("count", TypeAny, &count)); err != nil || count != Int64(3) {
		t.Fatalf("TypeAny lookup failed: %v %v", count, err)
	}
}

func TestListTypeCheck(t *testing.T) {
	testlog.Start(t)
	if err := ListTypeCheck(List{Buf("a"), Buf("b")}, TypeBuffer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ListTypeCheck(List{Buf("a"), Int64(1)}, TypeBuffer); !errors.Is(err, ggerr.Parse) {
		t.Fatalf("expected Parse, got %v", err)
	}
}
