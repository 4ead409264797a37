package protocol

import "fmt"

// MessageType is the value of the :message-type header.
type MessageType int32

const (
	ApplicationMessage MessageType = 0
	ApplicationError   MessageType = 1
	Connect            MessageType = 4
	ConnectAck         MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case ApplicationMessage:
		return "application-message"
	case ApplicationError:
		return "application-error"
	case Connect:
		return "connect"
	case ConnectAck:
		return "connect-ack"
	default:
		return fmt.Sprintf("message-type(%d)", int32(t))
	}
}

// Flags is the bitset carried in the :message-flags header.
type Flags int32

const (
	ConnectionAccepted Flags = 1 << 0
	TerminateStream    Flags = 1 << 1
)

func (f Flags) Has(bit Flags) bool {
	return f&bit != 0
}

// Well-known header names.
const (
	HeaderMessageType      = ":message-type"
	HeaderMessageFlags     = ":message-flags"
	HeaderStreamID         = ":stream-id"
	HeaderVersion          = ":version"
	HeaderContentType      = ":content-type"
	HeaderOperation        = "operation"
	HeaderServiceModelType = "service-model-type"
	HeaderServiceUID       = "svcuid"
)

const (
	Version         = "0.1.0"
	ContentTypeJSON = "application/json"
)
