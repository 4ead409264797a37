// Package poll waits for readability on a small set of file descriptors.
//
// A Poller is level-triggered: a descriptor that still has unread data is
// reported again on the next wait. Run invokes its handler once per ready
// descriptor, on the goroutine that called Run.
package poll

import (
	"math"

	"github.com/danmuck/ggipc/ggerr"
)

// ErrClosed is returned by operations on a closed Poller.
var ErrClosed = ggerr.Errorf(ggerr.NoConn, "poll: poller closed")

// Handler is called with the token of a ready descriptor. A non-nil error
// stops Run and is returned from it.
type Handler func(token uint32) error

// wakeToken is reserved for the poller's own wakeup descriptor.
const wakeToken uint32 = math.MaxUint32
