package protocol

import (
	"fmt"

	"github.com/danmuck/ggipc/internal/protocol/header"
)

// Common holds the headers every message is routed by.
type Common struct {
	Type     MessageType
	Flags    Flags
	StreamID int32
}

// CommonHeaders extracts the message type, flags and stream id from it.
// Missing flags default to zero. The first occurrence of each header wins.
func CommonHeaders(it header.Iter) (Common, error) {
	var c Common
	var haveType, haveFlags, haveID bool
	for {
		h, ok := it.Next()
		if !ok {
			break
		}
		var dst *int32
		var seen *bool
		switch string(h.Name) {
		case HeaderMessageType:
			dst, seen = (*int32)(&c.Type), &haveType
		case HeaderMessageFlags:
			dst, seen = (*int32)(&c.Flags), &haveFlags
		case HeaderStreamID:
			dst, seen = &c.StreamID, &haveID
		default:
			continue
		}
		if *seen {
			continue
		}
		if h.Value.Type != header.TypeInt32 {
			return Common{}, fmt.Errorf("%w: %s", ErrHeaderType, h.Name)
		}
		*dst = h.Value.Int32
		*seen = true
	}
	if !haveType {
		return Common{}, ErrMissingType
	}
	if !haveID {
		return Common{}, ErrMissingStreamID
	}
	return c, nil
}

// Base returns the headers shared by every outbound message.
func Base(t MessageType, flags Flags, streamID int32) []header.Header {
	return []header.Header{
		header.New(HeaderMessageType, header.Int32(int32(t))),
		header.New(HeaderMessageFlags, header.Int32(int32(flags))),
		header.New(HeaderStreamID, header.Int32(streamID)),
	}
}
