package ipc

import (
	"context"
	"fmt"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/b64"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

// Supervisor error codes with a local meaning.
const (
	CodeUnauthorized     = "UnauthorizedError"
	CodeResourceNotFound = "ResourceNotFoundError"
	CodeServiceError     = "ServiceError"
)

var unauthorizedKinds = map[string]ggerr.Kind{CodeUnauthorized: ggerr.Unsupported}

// remoteErrors logs a remote error for operation and maps its code through
// kinds. Unlisted codes become ggerr.Failure.
func remoteErrors(operation string, kinds map[string]ggerr.Kind) ErrorFunc {
	return func(_ context.Context, code, message string) error {
		kind, ok := kinds[code]
		if !ok {
			kind = ggerr.Failure
		}
		ev := log.Error()
		if kind == ggerr.NoEntry {
			ev = log.Warn()
		}
		ev.Str("operation", operation).Str("code", code).Str("message", message).Msg("ipc: received error")
		return kind
	}
}

// keyPathList converts a configuration key path to a list of buffers. The
// path must leave room for the value it addresses within the depth limit.
func keyPathList(path []string) (object.List, error) {
	if len(path) > object.MaxDepth-1 {
		return nil, ggerr.Errorf(ggerr.NoMem, "ipc: key path too long (%d entries)", len(path))
	}
	l := make(object.List, len(path))
	for i, k := range path {
		l[i] = object.Buf(k)
	}
	return l, nil
}

// invalidEvent reports an event that failed validation. The subscription is
// closed by the engine when a handler returns it.
func invalidEvent(what string, err error) error {
	if err == nil {
		return ggerr.Errorf(ggerr.Invalid, "ipc: invalid %s", what)
	}
	return ggerr.Errorf(ggerr.Invalid, "ipc: invalid %s: %w", what, err)
}

func expectModel(got, want string) error {
	if got != want {
		return ggerr.Errorf(ggerr.Invalid, "ipc: unexpected service-model-type %q, want %q", got, want)
	}
	return nil
}

// withBase64 encodes payload into the client's shared encode buffer and
// runs fn with the result. The buffer is held until fn returns, so calls
// from a subscription callback are rejected before it is locked.
func (c *Client) withBase64(ctx context.Context, what string, payload []byte, fn func(encoded []byte) error) error {
	if ctx != nil && inDispatch(ctx, c) {
		return ErrCallFromCallback
	}
	c.b64Mu.Lock()
	defer c.b64Mu.Unlock()
	a := arena.New(c.b64Mem)
	encoded, err := b64.Encode(payload, a)
	if err != nil {
		log.Error().
			Int("required", b64.EncodedLen(len(payload))).
			Int("available", a.Remaining()).
			Msgf("ipc: insufficient memory to base64 encode %s payload", what)
		return fmt.Errorf("ipc: %s: %w", what, err)
	}
	return fn(encoded)
}

func qosBuffer(qos uint8) (object.Buffer, error) {
	if qos > 2 {
		return nil, ggerr.Errorf(ggerr.Invalid, "ipc: invalid qos %d, must be <= 2", qos)
	}
	return object.Buffer{'0' + qos}, nil
}
