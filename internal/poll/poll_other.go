//go:build unix && !linux

package poll

import (
	"sync"

	"github.com/danmuck/ggipc/ggerr"
	"golang.org/x/sys/unix"
)

// pollInterval bounds how long Run waits before rechecking for Close.
const pollInterval = 100

// Poller multiplexes descriptors with poll(2). Run rechecks for Close every
// pollInterval milliseconds.
type Poller struct {
	mu      sync.Mutex
	fds     map[int]uint32
	closed  bool
	running bool
}

func New() (*Poller, error) {
	return &Poller{fds: make(map[int]uint32)}, nil
}

func (p *Poller) Add(fd int, token uint32) error {
	if token == wakeToken {
		return ggerr.Errorf(ggerr.Invalid, "poll: token %d is reserved", token)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fds[fd]; ok {
		return ggerr.Errorf(ggerr.Failure, "poll: fd %d already registered", fd)
	}
	p.fds[fd] = token
	return nil
}

func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return ggerr.Errorf(ggerr.Failure, "poll: fd %d not registered", fd)
	}
	delete(p.fds, fd)
	return nil
}

func (p *Poller) snapshot() ([]unix.PollFd, []uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, false
	}
	fds := make([]unix.PollFd, 0, len(p.fds))
	tokens := make([]uint32, 0, len(p.fds))
	for fd, token := range p.fds {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		tokens = append(tokens, token)
	}
	return fds, tokens, true
}

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
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	for {
		fds, tokens, ok := p.snapshot()
		if !ok {
			return nil
		}
		count, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return ggerr.Errorf(ggerr.Failure, "poll: poll: %w", err)
		}
		if count == 0 {
			continue
		}
		for i := range fds {
			if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
				continue
			}
			if err := handle(tokens[i]); err != nil {
				return err
			}
		}
	}
}

func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
