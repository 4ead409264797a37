package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/observability"
	"github.com/danmuck/ggipc/internal/protocol"
	"github.com/danmuck/ggipc/internal/protocol/header"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

// ResultFunc receives a successful response. A non-nil error becomes the
// call's result and ends a subscription that the response opened.
type ResultFunc func(ctx context.Context, result object.Map) error

// ErrorFunc receives a remote application error. A non-nil error is
// returned from the call in place of the *ggerr.RemoteError, which stays in
// its chain.
type ErrorFunc func(ctx context.Context, code, message string) error

// SubscriptionFunc receives one subscription event. data is only valid
// until the callback returns; claim it into an arena to keep it. A non-nil
// error closes the subscription.
type SubscriptionFunc func(ctx context.Context, h Handle, serviceModelType string, data object.Map) error

// CallOptions adjusts a single call. The zero value is valid.
type CallOptions struct {
	OnResult ResultFunc
	OnError  ErrorFunc
	// Arena, when set, receives a copy of the result map. Otherwise the
	// result lives in memory owned by the call.
	Arena *arena.Arena
}

type dispatchKey struct{}

func withDispatch(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, dispatchKey{}, c)
}

func inDispatch(ctx context.Context, c *Client) bool {
	owner, _ := ctx.Value(dispatchKey{}).(*Client)
	return owner == c
}

// Call invokes operation with params and waits for its response.
func (c *Client) Call(ctx context.Context, operation, serviceModelType string, params object.Map, opts *CallOptions) (object.Map, error) {
	result, _, err := c.call(ctx, operation, serviceModelType, params, opts, nil)
	return result, err
}

// Subscribe invokes operation like Call and, once the supervisor accepts,
// delivers every further message on the stream to onEvent until the
// subscription is closed from either side.
func (c *Client) Subscribe(ctx context.Context, operation, serviceModelType string, params object.Map, opts *CallOptions, onEvent SubscriptionFunc) (Handle, error) {
	if onEvent == nil {
		return 0, ggerr.Errorf(ggerr.Invalid, "ipc: %s: nil subscription callback", operation)
	}
	_, h, err := c.call(ctx, operation, serviceModelType, params, opts, onEvent)
	return h, err
}

func (c *Client) call(ctx context.Context, operation, serviceModelType string, params object.Map, opts *CallOptions, onEvent SubscriptionFunc) (object.Map, Handle, error) {
	start := time.Now()
	result, h, err := c.roundTrip(ctx, operation, serviceModelType, params, opts, onEvent)
	observability.RecordCall(operation, resultLabel(err), time.Since(start))
	return result, h, err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return ggerr.KindOf(err).String()
}

func (c *Client) roundTrip(ctx context.Context, operation, serviceModelType string, params object.Map, opts *CallOptions, onEvent SubscriptionFunc) (object.Map, Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if inDispatch(ctx, c) {
		return nil, 0, ErrCallFromCallback
	}
	var o CallOptions
	if opts != nil {
		o = *opts
	}

	p := newPendingCall()
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, 0, ErrNotConnected
	}
	i, streamID, ok := c.slots.claim(p, onEvent)
	if !ok {
		c.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: %s", ErrNoFreeStreams, operation)
	}
	c.slots.slots[i].operation = operation
	h := c.slots.handle(i)
	c.mu.Unlock()

	headers := append(protocol.Base(protocol.ApplicationMessage, 0, streamID),
		header.New(protocol.HeaderOperation, header.Str(operation)),
		header.New(protocol.HeaderServiceModelType, header.Str(serviceModelType)),
	)
	if err := c.send(conn, headers, params); err != nil {
		c.abandon(i, p)
		return nil, 0, fmt.Errorf("ipc: %s: send: %w", operation, err)
	}
	log.Debug().Str("operation", operation).Int32("stream_id", streamID).Msg("ipc: request sent")

	timer := time.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		if c.abandon(i, p) {
			log.Warn().Str("operation", operation).Int32("stream_id", streamID).Msg("ipc: timed out waiting for a response")
			return nil, 0, ggerr.Errorf(ggerr.Timeout, "ipc: %s: no response within %s", operation, c.cfg.ResponseTimeout)
		}
		<-p.done
	case <-ctx.Done():
		if c.abandon(i, p) {
			kind := ggerr.Failure
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				kind = ggerr.Timeout
			}
			return nil, 0, ggerr.Errorf(kind, "ipc: %s: %w", operation, ctx.Err())
		}
		<-p.done
	}
	return c.finish(ctx, operation, h, p, o)
}

// abandon frees slot i if it still belongs to p. It reports false when the
// receive goroutine already completed p.
func (c *Client) abandon(i int, p *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots.slots[i].state != slotPending || c.slots.slots[i].call != p {
		return false
	}
	c.slots.release(i)
	return true
}

func (c *Client) finish(ctx context.Context, operation string, h Handle, p *pendingCall, o CallOptions) (object.Map, Handle, error) {
	if p.err != nil {
		return nil, 0, p.err
	}
	if p.remote != nil {
		if o.OnError != nil {
			if err := o.OnError(ctx, p.remote.Code, p.remote.Message); err != nil {
				return nil, 0, ggerr.Errorf(ggerr.KindOf(err), "ipc: %s: %w (%w)", operation, err, p.remote)
			}
		}
		return nil, 0, p.remote
	}

	result := p.result
	if o.Arena != nil {
		v := object.Value(result)
		if err := o.Arena.ClaimValue(&v); err != nil {
			c.endOnFailure(p, h)
			return nil, 0, fmt.Errorf("ipc: %s: claim result: %w", operation, err)
		}
		result = v.(object.Map)
	}
	if o.OnResult != nil {
		if err := o.OnResult(ctx, result); err != nil {
			c.endOnFailure(p, h)
			return nil, 0, err
		}
	}
	if !p.subscribed {
		h = 0
	}
	return result, h, nil
}

func (c *Client) endOnFailure(p *pendingCall, h Handle) {
	if p.subscribed {
		_ = c.CloseSubscription(h)
	}
}

// CloseSubscription ends the subscription h. Stale handles, including ones
// already closed by the supervisor, return ErrUnknownHandle and change
// nothing. It may be called from inside a subscription callback.
func (c *Client) CloseSubscription(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.slots.resolve(h)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	log.Debug().Stringer("handle", h).Int32("stream_id", c.slots.slots[i].streamID).Msg("ipc: subscription closed")
	c.slots.release(i)
	return nil
}

// ActiveStreams reports how many stream slots are occupied.
func (c *Client) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots.inUse()
}
