package protocol

import "github.com/danmuck/ggipc/ggerr"

var (
	ErrHeaderType      = ggerr.Errorf(ggerr.Invalid, "protocol: common header has non-int32 type")
	ErrMissingType     = ggerr.Errorf(ggerr.Invalid, "protocol: missing :message-type header")
	ErrMissingStreamID = ggerr.Errorf(ggerr.Invalid, "protocol: missing :stream-id header")
)
