package ipc

import (
	"fmt"
	"math"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/object"
)

// Handle identifies a subscription. It packs the slot index in the high
// 16 bits and the slot generation in the low 16 bits, so a handle to a
// closed subscription never matches the slot's next occupant.
type Handle uint32

func newHandle(index int, gen uint16) Handle {
	return Handle(uint32(index)<<16 | uint32(gen))
}

func (h Handle) index() int         { return int(h >> 16) }
func (h Handle) generation() uint16 { return uint16(h) }

func (h Handle) String() string {
	return fmt.Sprintf("%d/%d", h.index(), h.generation())
}

type slotState uint8

const (
	slotFree slotState = iota
	slotPending
	slotSubscribed
)

// pendingCall is the rendezvous between a blocked caller and the receive
// goroutine. The receive goroutine fills exactly one outcome and closes done.
type pendingCall struct {
	done chan struct{}

	result object.Map
	arena  *arena.Arena
	remote *ggerr.RemoteError
	err    error
	// subscribed is set when the slot moved on to the subscribed state.
	subscribed bool
}

func newPendingCall() *pendingCall {
	return &pendingCall{done: make(chan struct{})}
}

type slot struct {
	state     slotState
	gen       uint16
	streamID  int32
	operation string
	call      *pendingCall
	onEvent   SubscriptionFunc
}

// slotTable is the stream table. It is not safe for concurrent use; the
// Client guards it with its mutex.
type slotTable struct {
	slots  []slot
	nextID int32
}

func newSlotTable(n int) slotTable {
	return slotTable{slots: make([]slot, n)}
}

// claim takes a free slot for a new call, advancing its generation and
// assigning a fresh stream id. It reports false when every slot is busy.
func (t *slotTable) claim(p *pendingCall, onEvent SubscriptionFunc) (int, int32, bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotFree {
			continue
		}
		// Generation 0 is never live, so Handle(0) always means no
		// subscription.
		s.gen++
		if s.gen == 0 {
			s.gen = 1
		}
		s.state = slotPending
		s.streamID = t.allocID()
		s.call = p
		s.onEvent = onEvent
		return i, s.streamID, true
	}
	return 0, 0, false
}

// allocID returns the next positive stream id not in use, wrapping to 1.
func (t *slotTable) allocID() int32 {
	for {
		if t.nextID == math.MaxInt32 {
			t.nextID = 0
		}
		t.nextID++
		if _, busy := t.lookup(t.nextID); !busy {
			return t.nextID
		}
	}
}

// lookup finds the occupied slot bound to streamID.
func (t *slotTable) lookup(streamID int32) (int, bool) {
	for i := range t.slots {
		if t.slots[i].state != slotFree && t.slots[i].streamID == streamID {
			return i, true
		}
	}
	return 0, false
}

func (t *slotTable) handle(i int) Handle {
	return newHandle(i, t.slots[i].gen)
}

// resolve maps a subscription handle back to its slot. Handles whose
// generation no longer matches, or whose slot is not subscribed, do not
// resolve.
func (t *slotTable) resolve(h Handle) (int, bool) {
	i := h.index()
	if i >= len(t.slots) {
		return 0, false
	}
	s := &t.slots[i]
	if s.state != slotSubscribed || s.gen != h.generation() {
		return 0, false
	}
	return i, true
}

// release frees slot i. The generation is left alone; the next claim
// advances it.
func (t *slotTable) release(i int) {
	s := &t.slots[i]
	s.state = slotFree
	s.streamID = 0
	s.operation = ""
	s.call = nil
	s.onEvent = nil
}

// reset frees every slot and returns the calls that were still waiting.
func (t *slotTable) reset() []*pendingCall {
	var waiting []*pendingCall
	for i := range t.slots {
		if t.slots[i].state == slotPending && t.slots[i].call != nil {
			waiting = append(waiting, t.slots[i].call)
		}
		if t.slots[i].state != slotFree {
			t.release(i)
		}
	}
	return waiting
}

// inUse counts occupied slots.
func (t *slotTable) inUse() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].state != slotFree {
			n++
		}
	}
	return n
}
