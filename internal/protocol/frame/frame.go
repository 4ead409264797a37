// Package frame implements the length-prefixed, CRC-checked message framing
// used on the supervisor socket.
//
// A message is a 12-byte prelude (total length, headers length, prelude
// CRC, all big-endian u32), the header section, the payload, and a trailing
// CRC computed over every preceding byte of the message.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/protocol/header"
	"github.com/rs/zerolog/log"
)

const (
	PreludeLen = 12
	TrailerLen = 4
	// MinMessageLen is the length of a message with no headers and no
	// payload.
	MinMessageLen = PreludeLen + TrailerLen
)

var (
	ErrShortPrelude = ggerr.Errorf(ggerr.Range, "frame: short prelude")
	ErrTotalLen     = ggerr.Errorf(ggerr.Parse, "frame: total length below minimum")
	ErrHeadersLen   = ggerr.Errorf(ggerr.Parse, "frame: headers length exceeds message")
	ErrPreludeCRC   = ggerr.Errorf(ggerr.Parse, "frame: prelude crc mismatch")
	ErrMessageCRC   = ggerr.Errorf(ggerr.Parse, "frame: message crc mismatch")
	ErrTooLarge     = ggerr.Errorf(ggerr.NoMem, "frame: message does not fit buffer")
	ErrClosed       = ggerr.Errorf(ggerr.NoConn, "frame: connection closed")
)

// Prelude is the decoded fixed prefix of a message.
type Prelude struct {
	TotalLen   uint32
	HeadersLen uint32
	// crc is the running CRC over the 12 prelude bytes.
	crc uint32
}

// DataLen is the number of bytes following the prelude, trailing CRC
// included.
func (p Prelude) DataLen() int {
	return int(p.TotalLen) - PreludeLen
}

// Message is a decoded message. Headers and Payload are views into the
// buffer the message was decoded from.
type Message struct {
	Headers header.Iter
	// HeaderCount is the number of entries behind Headers.
	HeaderCount int
	Payload     []byte
}

// DecodePrelude parses and validates the first PreludeLen bytes of b. Length
// checks run before the CRC check.
func DecodePrelude(b []byte) (Prelude, error) {
	if len(b) < PreludeLen {
		return Prelude{}, ErrShortPrelude
	}
	p := Prelude{
		TotalLen:   binary.BigEndian.Uint32(b[0:4]),
		HeadersLen: binary.BigEndian.Uint32(b[4:8]),
	}
	if p.TotalLen < MinMessageLen {
		return Prelude{}, fmt.Errorf("%w: %d", ErrTotalLen, p.TotalLen)
	}
	if p.HeadersLen > p.TotalLen-MinMessageLen {
		return Prelude{}, fmt.Errorf("%w: headers=%d total=%d", ErrHeadersLen, p.HeadersLen, p.TotalLen)
	}
	crc := crc32.ChecksumIEEE(b[0:8])
	if crc != binary.BigEndian.Uint32(b[8:12]) {
		return Prelude{}, ErrPreludeCRC
	}
	p.crc = crc32.Update(crc, crc32.IEEETable, b[8:12])
	return p, nil
}

// Decode validates the data section that follows prelude p and returns the
// message it holds. data must be exactly p.DataLen() bytes.
func Decode(p Prelude, data []byte) (Message, error) {
	if len(data) != p.DataLen() {
		return Message{}, ggerr.Errorf(ggerr.Invalid, "frame: data section is %d bytes, prelude says %d", len(data), p.DataLen())
	}
	log.Trace().Uint32("total_len", p.TotalLen).Msg("frame: decoding message")
	body := data[:len(data)-TrailerLen]
	crc := crc32.Update(p.crc, crc32.IEEETable, body)
	if want := binary.BigEndian.Uint32(data[len(body):]); crc != want {
		return Message{}, fmt.Errorf("%w: got %08x want %08x", ErrMessageCRC, crc, want)
	}
	headers := body[:p.HeadersLen:p.HeadersLen]
	count, err := header.Validate(headers)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Headers:     header.NewIter(headers),
		HeaderCount: count,
		Payload:     body[p.HeadersLen:],
	}, nil
}

// Read reads one message from r into buf. The data section must fit buf,
// otherwise the error is ErrTooLarge and the stream is left mid-message.
func Read(r io.Reader, buf []byte) (Message, error) {
	var prelude [PreludeLen]byte
	if _, err := io.ReadFull(r, prelude[:]); err != nil {
		return Message{}, readErr(err)
	}
	p, err := DecodePrelude(prelude[:])
	if err != nil {
		return Message{}, err
	}
	if p.DataLen() > len(buf) {
		return Message{}, fmt.Errorf("%w: need %d bytes, have %d", ErrTooLarge, p.DataLen(), len(buf))
	}
	data := buf[:p.DataLen()]
	if _, err := io.ReadFull(r, data); err != nil {
		return Message{}, readErr(err)
	}
	return Decode(p, data)
}

func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return ggerr.Wrap(ggerr.Failure, err)
}

// Encode writes a message with headers and the bytes pulled from payload
// into buf and returns the encoded prefix of buf. payload may be nil. If the
// message does not fit buf the error is ErrTooLarge and buf holds no valid
// message.
func Encode(buf []byte, headers []header.Header, payload io.Reader) ([]byte, error) {
	if len(buf) < MinMessageLen {
		return nil, ErrTooLarge
	}
	limit := len(buf) - TrailerLen
	i := PreludeLen
	for _, h := range headers {
		n, err := header.Put(buf[i:limit], h)
		if err != nil {
			if errors.Is(err, ggerr.NoMem) {
				return nil, fmt.Errorf("%w: headers", ErrTooLarge)
			}
			return nil, err
		}
		i += n
	}
	headersLen := i - PreludeLen

	if payload != nil {
		n, err := pull(buf[i:limit], payload)
		if err != nil {
			return nil, err
		}
		i += n
	}

	total := i + TrailerLen
	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	binary.BigEndian.PutUint32(buf[4:8], uint32(headersLen))
	crc := crc32.ChecksumIEEE(buf[0:8])
	binary.BigEndian.PutUint32(buf[8:12], crc)
	crc = crc32.Update(crc, crc32.IEEETable, buf[8:i])
	binary.BigEndian.PutUint32(buf[i:total], crc)
	return buf[:total], nil
}

// pull reads r to EOF into dst.
func pull(dst []byte, r io.Reader) (int, error) {
	n := 0
	for {
		if n == len(dst) {
			var probe [1]byte
			m, err := io.ReadFull(r, probe[:])
			if m > 0 {
				return n, fmt.Errorf("%w: payload", ErrTooLarge)
			}
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		m, err := r.Read(dst[n:])
		n += m
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

// Write encodes a message into buf and writes it to w in a single call.
func Write(w io.Writer, buf []byte, headers []header.Header, payload io.Reader) error {
	msg, err := Encode(buf, headers, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return ggerr.Wrap(ggerr.Failure, err)
	}
	return nil
}
