package object

import "github.com/danmuck/ggipc/ggerr"

// Handlers is a table of optional callbacks for Visit. A nil entry skips
// that case. Buffer, List and Map receive the node so they may rewrite it in
// place; MapKey receives the entry so it may rewrite the key.
type Handlers struct {
	Null     func() error
	Bool     func(v bool) error
	Int64    func(v int64) error
	Float64  func(v float64) error
	Buffer   func(b Buffer, node *Value) error
	List     func(l List, node *Value) error
	ListNext func() error
	ListEnd  func() error
	Map      func(m Map, node *Value) error
	MapKey   func(key []byte, kv *KV) error
	MapNext  func() error
	MapEnd   func() error
}

// Visit walks the tree rooted at *v, calling the matching handler for each
// event. The first handler error aborts the walk and is returned.
func Visit(h *Handlers, v *Value) error {
	it := NewIterAt(v)
	for {
		ev, err := it.Next()
		if err != nil {
			return err
		}
		if ev == EventDone {
			return nil
		}
		if err := dispatch(h, it, ev); err != nil {
			return err
		}
	}
}

func dispatch(h *Handlers, it *Iter, ev Event) error {
	node := it.Node()
	switch ev {
	case EventNull:
		if h.Null != nil {
			return h.Null()
		}
	case EventBool:
		if h.Bool != nil {
			return h.Bool(bool((*node).(Bool)))
		}
	case EventInt64:
		if h.Int64 != nil {
			return h.Int64(int64((*node).(Int64)))
		}
	case EventFloat64:
		if h.Float64 != nil {
			return h.Float64(float64((*node).(Float64)))
		}
	case EventBuffer:
		if h.Buffer != nil {
			return h.Buffer((*node).(Buffer), node)
		}
	case EventListStart:
		if h.List != nil {
			return h.List((*node).(List), node)
		}
	case EventListNext:
		if h.ListNext != nil {
			return h.ListNext()
		}
	case EventListEnd:
		if h.ListEnd != nil {
			return h.ListEnd()
		}
	case EventMapStart:
		if h.Map != nil {
			return h.Map((*node).(Map), node)
		}
	case EventMapKey:
		if h.MapKey != nil {
			kv := it.Entry()
			return h.MapKey(kv.Key, kv)
		}
	case EventMapNext:
		if h.MapNext != nil {
			return h.MapNext()
		}
	case EventMapEnd:
		if h.MapEnd != nil {
			return h.MapEnd()
		}
	default:
		return ggerr.Errorf(ggerr.Invalid, "object: unexpected event %d", ev)
	}
	return nil
}

// Check reports whether v respects MaxDepth and MaxSubobjects.
func Check(v Value) error {
	return Visit(&Handlers{}, &v)
}

// MemUsage returns the number of bytes needed to hold every buffer, key,
// list array and map array referenced by v.
func MemUsage(v Value) (int, error) {
	total := 0
	h := Handlers{
		Buffer: func(b Buffer, _ *Value) error {
			total += len(b)
			return nil
		},
		List: func(l List, _ *Value) error {
			total += len(l) * ValueSize
			return nil
		},
		Map: func(m Map, _ *Value) error {
			total += len(m) * KVSize
			return nil
		},
		MapKey: func(key []byte, _ *KV) error {
			total += len(key)
			return nil
		},
	}
	if err := Visit(&h, &v); err != nil {
		return 0, err
	}
	return total, nil
}
