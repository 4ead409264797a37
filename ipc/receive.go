package ipc

import (
	"context"
	"errors"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/jsonvalue"
	"github.com/danmuck/ggipc/internal/observability"
	"github.com/danmuck/ggipc/internal/poll"
	"github.com/danmuck/ggipc/internal/protocol"
	"github.com/danmuck/ggipc/internal/protocol/frame"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

func (c *Client) receiveLoop(p *poll.Poller, stopped chan struct{}) {
	defer close(stopped)
	log.Debug().Msg("ipc: receive loop started")
	if err := p.Run(c.readable); err != nil {
		log.Error().Err(err).Msg("ipc: receive loop failed")
		return
	}
	log.Debug().Msg("ipc: receive loop stopped")
}

// readable reads and routes one frame from the connection registered under
// token.
func (c *Client) readable(token uint32) error {
	c.mu.Lock()
	conn, current := c.conn, c.token
	c.mu.Unlock()
	if conn == nil || token != current {
		return nil
	}

	msg, err := frame.Read(conn, c.recvBuf)
	if err != nil {
		switch ggerr.KindOf(err) {
		case ggerr.Parse, ggerr.NoMem:
			c.mu.Lock()
			fatal := c.onFatal
			stale := c.conn != conn
			c.mu.Unlock()
			if stale {
				return nil
			}
			fatal(err)
			c.drop(conn, observability.DisconnectCorrupt, ggerr.Errorf(ggerr.NoConn, "ipc: inbound stream corrupted: %w", err))
		default:
			c.mu.Lock()
			stale := c.conn != conn
			c.mu.Unlock()
			if !stale {
				log.Error().Err(err).Msg("ipc: connection lost")
			}
			c.drop(conn, observability.DisconnectLost, ggerr.Errorf(ggerr.NoConn, "ipc: connection lost: %w", err))
		}
		return nil
	}
	c.dispatch(msg)
	return nil
}

// dispatch routes one decoded frame. Waiting calls are completed under the
// table lock; subscription callbacks run after it is released.
func (c *Client) dispatch(msg frame.Message) {
	common, err := protocol.CommonHeaders(msg.Headers)
	if err != nil {
		log.Error().Err(err).Msg("ipc: dropping message with bad common headers")
		observability.RecordDropped(observability.DropBadHeaders)
		return
	}

	c.mu.Lock()
	i, ok := c.slots.lookup(common.StreamID)
	if !ok {
		c.mu.Unlock()
		log.Warn().Int32("stream_id", common.StreamID).Stringer("type", common.Type).Msg("ipc: message for unknown stream dropped")
		observability.RecordDropped(observability.DropUnknownStream)
		return
	}
	s := &c.slots.slots[i]
	if s.state == slotPending {
		c.complete(i, common, msg)
		c.mu.Unlock()
		return
	}
	h := c.slots.handle(i)
	operation, onEvent := s.operation, s.onEvent
	if common.Flags.Has(protocol.TerminateStream) {
		log.Debug().Stringer("handle", h).Int32("stream_id", common.StreamID).Msg("ipc: stream terminated by supervisor")
		c.slots.release(i)
	}
	c.mu.Unlock()

	c.deliver(h, operation, onEvent, common, msg)
}

// complete resolves the call waiting on slot i. The caller holds c.mu.
func (c *Client) complete(i int, common protocol.Common, msg frame.Message) {
	s := &c.slots.slots[i]
	p := s.call
	keep := false
	switch common.Type {
	case protocol.ApplicationError:
		log.Error().Int32("stream_id", common.StreamID).Msg("ipc: received an application error")
		p.remote, p.err = c.decodeRemoteError(msg.Payload)
	case protocol.ApplicationMessage:
		p.result, p.arena, p.err = c.decodeResult(msg.Payload)
		keep = p.err == nil && s.onEvent != nil && !common.Flags.Has(protocol.TerminateStream)
	default:
		log.Error().Int32("stream_id", common.StreamID).Stringer("type", common.Type).Msg("ipc: unexpected message type")
		p.err = ggerr.Errorf(ggerr.Failure, "ipc: unexpected %s on stream %d", common.Type, common.StreamID)
	}
	if keep {
		s.state = slotSubscribed
		s.call = nil
		p.subscribed = true
	} else {
		c.slots.release(i)
	}
	close(p.done)
}

// decodeResult decodes a response into scratch memory and copies it into an
// arena of its own, which the waiting caller takes over.
func (c *Client) decodeResult(payload []byte) (object.Map, *arena.Arena, error) {
	c.scratch.Reset()
	m, err := jsonvalue.DecodeMap(payload, c.scratch)
	if err != nil {
		log.Error().Err(err).Msg("ipc: failed to decode response payload")
		return nil, nil, err
	}
	v, a, err := arena.Clone(m)
	if err != nil {
		return nil, nil, err
	}
	return v.(object.Map), a, nil
}

func (c *Client) decodeRemoteError(payload []byte) (*ggerr.RemoteError, error) {
	c.scratch.Reset()
	m, err := jsonvalue.DecodeMap(payload, c.scratch)
	if err != nil {
		log.Error().Err(err).Msg("ipc: failed to decode error payload")
		return nil, err
	}
	var code, message object.Value
	err = object.ValidateMap(m,
		object.Required("_errorCode", object.TypeBuffer, &code),
		object.Optional("_message", object.TypeBuffer, &message),
	)
	if err != nil {
		log.Error().Err(err).Msg("ipc: error response does not match known schema")
		return nil, err
	}
	remote := &ggerr.RemoteError{Code: string(code.(object.Buffer))}
	if message != nil {
		remote.Message = string(message.(object.Buffer))
	}
	return remote, nil
}

// deliver runs a subscription callback for one event. It is called without
// the table lock held.
func (c *Client) deliver(h Handle, operation string, onEvent SubscriptionFunc, common protocol.Common, msg frame.Message) {
	if common.Type != protocol.ApplicationMessage {
		log.Error().Stringer("handle", h).Stringer("type", common.Type).Msg("ipc: unexpected message type on subscription")
		observability.RecordEvent(operation, observability.EventInvalid)
		c.closeQuietly(h)
		return
	}
	ct, ok := msg.Headers.Find(protocol.HeaderContentType)
	if !ok || string(ct.String) != protocol.ContentTypeJSON {
		log.Error().Stringer("handle", h).Msg("ipc: subscription event is not application/json")
		observability.RecordEvent(operation, observability.EventInvalid)
		return
	}
	var smt string
	if v, ok := msg.Headers.Find(protocol.HeaderServiceModelType); ok {
		smt = string(v.String)
	}

	c.scratch.Reset()
	data, err := jsonvalue.DecodeMap(msg.Payload, c.scratch)
	if err != nil {
		log.Error().Err(err).Stringer("handle", h).Msg("ipc: failed to decode subscription event")
		observability.RecordEvent(operation, observability.EventInvalid)
		return
	}

	ctx := withDispatch(context.Background(), c)
	if err := onEvent(ctx, h, smt, data); err != nil {
		log.Error().Err(err).Stringer("handle", h).Str("operation", operation).Msg("ipc: subscription callback failed, closing")
		observability.RecordEvent(operation, observability.EventRejected)
		c.closeQuietly(h)
		return
	}
	observability.RecordEvent(operation, observability.EventDelivered)
}

func (c *Client) closeQuietly(h Handle) {
	if err := c.CloseSubscription(h); err != nil && !errors.Is(err, ErrUnknownHandle) {
		log.Warn().Err(err).Stringer("handle", h).Msg("ipc: close subscription")
	}
}
