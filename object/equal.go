package object

import (
	"bytes"
	"math"

	"github.com/rs/zerolog/log"
)

type eqLevel struct {
	lhs, rhs *Value
	state    levelState
	idx      int
}

// Equal reports whether a and b are structurally equal. Lists compare
// element-wise in order. Maps compare as unordered: every left key must be
// found on the right (first match) with an equal value, and both maps must
// have the same length. Trees outside the depth or subobject limits are
// never equal.
func Equal(a, b Value) bool {
	var levels [MaxDepth]eqLevel
	top := 0
	levels[0] = eqLevel{lhs: &a, rhs: &b}
	subobjects := 0

	for {
		lv := &levels[top]
		switch lv.state {
		case levelDefault:
			lhs, rhs := *lv.lhs, *lv.rhs
			if TypeOf(lhs) != TypeOf(rhs) {
				log.Trace().Stringer("lhs", TypeOf(lhs)).Stringer("rhs", TypeOf(rhs)).Msg("object: type mismatch")
				return false
			}
			switch l := lhs.(type) {
			case nil, Null:
			case Bool:
				if l != rhs.(Bool) {
					return false
				}
			case Int64:
				if l != rhs.(Int64) {
					return false
				}
			case Float64:
				if !floatEqual(float64(l), float64(rhs.(Float64))) {
					return false
				}
			case Buffer:
				if !bytes.Equal(l, rhs.(Buffer)) {
					return false
				}
			case List:
				if len(l) > MaxSubobjects-subobjects {
					return false
				}
				subobjects += len(l)
				if len(l) != len(rhs.(List)) {
					return false
				}
				lv.state = levelList
				continue
			case Map:
				if len(l) > (MaxSubobjects-subobjects)/2 {
					return false
				}
				subobjects += 2 * len(l)
				if len(l) != len(rhs.(Map)) {
					return false
				}
				lv.state = levelMap
				continue
			default:
				return false
			}
		case levelList:
			l, r := (*lv.lhs).(List), (*lv.rhs).(List)
			if lv.idx < len(l) {
				if top+1 == MaxDepth {
					return false
				}
				i := lv.idx
				lv.idx++
				top++
				levels[top] = eqLevel{lhs: &l[i], rhs: &r[i]}
				continue
			}
		case levelMap:
			l, r := (*lv.lhs).(Map), (*lv.rhs).(Map)
			if lv.idx < len(l) {
				if top+1 == MaxDepth {
					return false
				}
				kv := &l[lv.idx]
				j := indexOf(r, kv.Key)
				if j < 0 {
					log.Trace().Bytes("key", kv.Key).Msg("object: key missing on right")
					return false
				}
				lv.idx++
				top++
				levels[top] = eqLevel{lhs: &kv.Val, rhs: &r[j].Val}
				continue
			}
		}
		if top == 0 {
			return true
		}
		top--
	}
}

func indexOf(m Map, key []byte) int {
	for i := range m {
		if bytes.Equal(m[i].Key, key) {
			return i
		}
	}
	return -1
}

func floatEqual(lhs, rhs float64) bool {
	if math.IsNaN(lhs) || math.IsNaN(rhs) {
		return math.IsNaN(lhs) == math.IsNaN(rhs)
	}
	diff := math.Abs(lhs - rhs)
	if diff <= epsilon {
		return true
	}
	return diff <= epsilon*math.Min(math.Abs(lhs), math.Abs(rhs))
}

const epsilon = 2.220446049250313e-16
