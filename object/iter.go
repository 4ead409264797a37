package object

import (
	"github.com/danmuck/ggipc/ggerr"
)

// Event is one step of a depth-first walk.
type Event uint8

const (
	EventDone Event = iota
	EventNull
	EventBool
	EventInt64
	EventFloat64
	EventBuffer
	EventListStart
	EventListNext
	EventListEnd
	EventMapStart
	EventMapKey
	EventMapNext
	EventMapEnd
)

type levelState uint8

const (
	levelDefault levelState = iota
	levelList
	levelMap
)

type level struct {
	v     *Value
	state levelState
	idx   int
	sep   bool
	key   bool
}

// Iter walks a value tree depth-first using a fixed explicit stack, so
// attacker-shaped input cannot grow the goroutine stack.
//
// Node pointers returned by Node and Entry point into the walked tree, and
// callers may rewrite them between calls to Next: a List or Map replaced
// while its start event is current is walked in its replaced form.
type Iter struct {
	levels     [MaxDepth]level
	top        int
	subobjects int
	root       Value
	cur        *Value
	kv         *KV
	done       bool
	err        error
}

// NewIter returns an iterator over a copy of v.
func NewIter(v Value) *Iter {
	it := &Iter{root: v}
	it.levels[0] = level{v: &it.root}
	return it
}

// NewIterAt returns an iterator over the tree rooted at *v. Rewrites made
// through Node and Entry are visible through v.
func NewIterAt(v *Value) *Iter {
	it := &Iter{}
	it.levels[0] = level{v: v}
	return it
}

// Node returns the node of the last scalar, start or end event.
func (it *Iter) Node() *Value {
	return it.cur
}

// Entry returns the map entry of the last EventMapKey.
func (it *Iter) Entry() *KV {
	return it.kv
}

// Depth returns the current nesting depth, starting at 1 for the root.
func (it *Iter) Depth() int {
	return it.top + 1
}

// Next advances the walk. It returns EventDone once the whole tree has been
// visited. Exceeding MaxDepth or MaxSubobjects yields a ggerr.Range error,
// after which the iterator keeps returning that error.
func (it *Iter) Next() (Event, error) {
	if it.err != nil {
		return EventDone, it.err
	}
	for !it.done {
		lv := &it.levels[it.top]
		switch lv.state {
		case levelDefault:
			it.cur = lv.v
			switch v := (*lv.v).(type) {
			case nil, Null:
				it.pop()
				return EventNull, nil
			case Bool:
				it.pop()
				return EventBool, nil
			case Int64:
				it.pop()
				return EventInt64, nil
			case Float64:
				it.pop()
				return EventFloat64, nil
			case Buffer:
				it.pop()
				return EventBuffer, nil
			case List:
				if len(v) > MaxSubobjects-it.subobjects {
					return it.fail(ggerr.Errorf(ggerr.Range, "object: subobject count exceeds %d", MaxSubobjects))
				}
				it.subobjects += len(v)
				lv.state = levelList
				return EventListStart, nil
			case Map:
				if len(v) > (MaxSubobjects-it.subobjects)/2 {
					return it.fail(ggerr.Errorf(ggerr.Range, "object: subobject count exceeds %d", MaxSubobjects))
				}
				it.subobjects += 2 * len(v)
				lv.state = levelMap
				return EventMapStart, nil
			default:
				return it.fail(ggerr.Errorf(ggerr.Invalid, "object: unknown value type %T", v))
			}
		case levelList:
			list, ok := (*lv.v).(List)
			if !ok {
				return it.fail(ggerr.Errorf(ggerr.Invalid, "object: list replaced by %T during walk", *lv.v))
			}
			if lv.idx == len(list) {
				it.cur = lv.v
				it.pop()
				return EventListEnd, nil
			}
			if lv.idx != 0 && !lv.sep {
				lv.sep = true
				return EventListNext, nil
			}
			child := &list[lv.idx]
			lv.idx++
			lv.sep = false
			if err := it.push(child); err != nil {
				return it.fail(err)
			}
		case levelMap:
			m, ok := (*lv.v).(Map)
			if !ok {
				return it.fail(ggerr.Errorf(ggerr.Invalid, "object: map replaced by %T during walk", *lv.v))
			}
			if lv.idx == len(m) {
				it.cur = lv.v
				it.pop()
				return EventMapEnd, nil
			}
			if lv.idx != 0 && !lv.sep {
				lv.sep = true
				return EventMapNext, nil
			}
			if !lv.key {
				lv.key = true
				it.kv = &m[lv.idx]
				return EventMapKey, nil
			}
			child := &m[lv.idx].Val
			lv.idx++
			lv.sep = false
			lv.key = false
			if err := it.push(child); err != nil {
				return it.fail(err)
			}
		}
	}
	return EventDone, nil
}

func (it *Iter) push(v *Value) error {
	if it.top+1 == MaxDepth {
		return ggerr.Errorf(ggerr.Range, "object: depth exceeds %d", MaxDepth)
	}
	it.top++
	it.levels[it.top] = level{v: v}
	return nil
}

func (it *Iter) pop() {
	if it.top == 0 {
		it.done = true
		return
	}
	it.top--
}

func (it *Iter) fail(err error) (Event, error) {
	it.err = err
	return EventDone, err
}
