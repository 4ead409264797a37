//go:build linux

package poll

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const maxEvents = 8

// Poller is an epoll instance plus an eventfd used to interrupt Run.
type Poller struct {
	epfd int
	wake int

	mu      sync.Mutex
	closed  bool
	running bool
}

// New creates a Poller.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, ggerr.Errorf(ggerr.Failure, "poll: epoll_create1: %w", err)
	}
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, ggerr.Errorf(ggerr.Failure, "poll: eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: -1}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake, &ev); err != nil {
		unix.Close(wake)
		unix.Close(epfd)
		return nil, ggerr.Errorf(ggerr.Failure, "poll: register wake fd: %w", err)
	}
	return &Poller{epfd: epfd, wake: wake}, nil
}

// Add registers fd for readability, reported to the handler as token.
func (p *Poller) Add(fd int, token uint32) error {
	if token == wakeToken {
		return ggerr.Errorf(ggerr.Invalid, "poll: token %d is reserved", token)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLRDHUP, Fd: int32(token)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return ggerr.Errorf(ggerr.Failure, "poll: add fd %d: %w", fd, err)
	}
	return nil
}

// Remove unregisters fd.
func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return ggerr.Errorf(ggerr.Failure, "poll: remove fd %d: %w", fd, err)
	}
	return nil
}

// Run waits for readiness and calls handle for each ready descriptor until
// Close is called or handle fails. It returns nil after Close.
func (p *Poller) Run(handle Handler) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.running {
		p.mu.Unlock()
		return ggerr.Errorf(ggerr.Invalid, "poll: Run already active")
	}
	p.running = true
	p.mu.Unlock()
	defer p.release()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return ggerr.Errorf(ggerr.Failure, "poll: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			if events[i].Fd == -1 {
				if p.isClosed() {
					return nil
				}
				continue
			}
			if err := handle(uint32(events[i].Fd)); err != nil {
				log.Debug().Err(err).Uint32("token", uint32(events[i].Fd)).Msg("poll: handler stopped loop")
				return err
			}
		}
	}
}

func (p *Poller) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Poller) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.closed {
		p.closeFDs()
	}
}

func (p *Poller) closeFDs() {
	unix.Close(p.wake)
	unix.Close(p.epfd)
}

// Close stops a running Run and releases the poller. It is safe to call
// more than once.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.running {
		p.closeFDs()
		return nil
	}
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wake, one[:]); err != nil {
		return fmt.Errorf("poll: wake: %w", err)
	}
	return nil
}
