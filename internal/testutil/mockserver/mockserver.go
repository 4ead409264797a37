// Package mockserver runs an in-process supervisor on a unix socket for
// client tests. It speaks the real framing codec. The connect handshake is
// answered automatically and every later message is queued for the test to
// inspect and answer.
package mockserver

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/internal/auth"
	"github.com/danmuck/ggipc/internal/jsonvalue"
	"github.com/danmuck/ggipc/internal/protocol"
	"github.com/danmuck/ggipc/internal/protocol/frame"
	"github.com/danmuck/ggipc/internal/protocol/header"
	"github.com/danmuck/ggipc/internal/testutil/sockdir"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

const (
	bufSize     = 64 << 10
	waitTimeout = 5 * time.Second
)

// Options scripts the handshake.
type Options struct {
	// Token is the expected authToken. Empty accepts any credential unless
	// Validator is set.
	Token string
	// Validator, when set, checks the connect credential instead of Token.
	Validator auth.Validator
	// Reject answers every connect with an ack lacking the accepted flag.
	Reject bool
	// AckType overrides the connect reply type when non-zero.
	AckType protocol.MessageType
	// SvcUID is sent as the svcuid header of the connect ack.
	SvcUID string
}

// Request is one message received from the client.
type Request struct {
	protocol.Common
	Operation        string
	ServiceModelType string
	Version          string
	Payload          []byte
	Args             object.Map
}

// Server is a scripted supervisor.
type Server struct {
	Path string

	opts     Options
	ln       net.Listener
	connects chan Request
	requests chan Request

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	wg     sync.WaitGroup

	sendMu  sync.Mutex
	sendBuf []byte
}

// Start listens on a fresh socket and serves until the test ends.
func Start(t *testing.T, opts Options) *Server {
	t.Helper()
	path := sockdir.Path(t, "ipc.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("mockserver listen: %v", err)
	}
	s := &Server{
		Path:     path,
		opts:     opts,
		ln:       ln,
		connects: make(chan Request, 16),
		requests: make(chan Request, 64),
		sendBuf:  make([]byte, bufSize),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conn = conn
		s.mu.Unlock()
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	buf := make([]byte, bufSize)
	connected := false
	for {
		msg, err := frame.Read(conn, buf)
		if err != nil {
			log.Debug().Err(err).Msg("mockserver: connection ended")
			conn.Close()
			return
		}
		req, err := parseRequest(msg)
		if err != nil {
			log.Error().Err(err).Msg("mockserver: bad request")
			conn.Close()
			return
		}
		if !connected {
			s.connects <- req
			if !s.ack(conn, req) {
				conn.Close()
				return
			}
			connected = true
			continue
		}
		s.requests <- req
	}
}

func parseRequest(msg frame.Message) (Request, error) {
	common, err := protocol.CommonHeaders(msg.Headers)
	if err != nil {
		return Request{}, err
	}
	req := Request{Common: common, Payload: append([]byte(nil), msg.Payload...)}
	if v, ok := msg.Headers.Find(protocol.HeaderOperation); ok {
		req.Operation = string(v.String)
	}
	if v, ok := msg.Headers.Find(protocol.HeaderServiceModelType); ok {
		req.ServiceModelType = string(v.String)
	}
	if v, ok := msg.Headers.Find(protocol.HeaderVersion); ok {
		req.Version = string(v.String)
	}
	a := arena.Sized(len(req.Payload) + object.MaxSubobjects*object.KVSize)
	args, err := jsonvalue.DecodeMap(req.Payload, a)
	if err != nil {
		return Request{}, err
	}
	req.Args = args
	return req, nil
}

func (s *Server) ack(conn net.Conn, req Request) bool {
	accept := !s.opts.Reject && req.Type == protocol.Connect
	if accept {
		if err := s.authorize(req.Args); err != nil {
			log.Info().Err(err).Msg("mockserver: connect refused")
			accept = false
		}
	}
	var flags protocol.Flags
	if accept {
		flags = protocol.ConnectionAccepted
	}
	ackType := protocol.ConnectAck
	if s.opts.AckType != 0 {
		ackType = s.opts.AckType
	}
	headers := protocol.Base(ackType, flags, 0)
	if s.opts.SvcUID != "" {
		headers = append(headers, header.New(protocol.HeaderServiceUID, header.Str(s.opts.SvcUID)))
	}
	if err := s.write(conn, headers, nil); err != nil {
		log.Error().Err(err).Msg("mockserver: write ack")
		return false
	}
	return accept
}

func (s *Server) authorize(payload object.Map) error {
	v := s.opts.Validator
	if v == nil && s.opts.Token != "" {
		v = auth.StaticToken{Token: s.opts.Token}
	}
	credential, err := auth.Credential(payload)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return v.Validate(credential)
}

func (s *Server) write(conn net.Conn, headers []header.Header, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return frame.Write(conn, s.sendBuf, headers, bytes.NewReader(payload))
}

func (s *Server) current(t *testing.T) net.Conn {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("mockserver: no client connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Connect waits for the next connect handshake.
func (s *Server) Connect(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-s.connects:
		return req
	case <-time.After(waitTimeout):
		t.Fatalf("mockserver: timed out waiting for connect")
		return Request{}
	}
}

// Next waits for the next message after the handshake.
func (s *Server) Next(t *testing.T) Request {
	t.Helper()
	select {
	case req := <-s.requests:
		return req
	case <-time.After(waitTimeout):
		t.Fatalf("mockserver: timed out waiting for a request")
		return Request{}
	}
}

// Pending reports how many requests are queued.
func (s *Server) Pending() int {
	return len(s.requests)
}

// Send writes one message with the given headers and raw payload.
func (s *Server) Send(t *testing.T, headers []header.Header, payload []byte) {
	t.Helper()
	if err := s.write(s.current(t), headers, payload); err != nil {
		t.Fatalf("mockserver: send: %v", err)
	}
}

// Reply answers streamID with an application message carrying payload.
func (s *Server) Reply(t *testing.T, streamID int32, payload object.Map) {
	t.Helper()
	s.Message(t, streamID, 0, "", payload)
}

// Message sends an application message with flags and, when smt is set, a
// service-model-type header.
func (s *Server) Message(t *testing.T, streamID int32, flags protocol.Flags, smt string, payload object.Map) {
	t.Helper()
	body, err := jsonvalue.Encode(payload)
	if err != nil {
		t.Fatalf("mockserver: encode payload: %v", err)
	}
	headers := protocol.Base(protocol.ApplicationMessage, flags, streamID)
	headers = append(headers, header.New(protocol.HeaderContentType, header.Str(protocol.ContentTypeJSON)))
	if smt != "" {
		headers = append(headers, header.New(protocol.HeaderServiceModelType, header.Str(smt)))
	}
	s.Send(t, headers, body)
}

// Error answers streamID with an application error.
func (s *Server) Error(t *testing.T, streamID int32, code, message string) {
	t.Helper()
	entries := []object.KV{object.Pair("_errorCode", object.Buf(code))}
	if message != "" {
		entries = append(entries, object.Pair("_message", object.Buf(message)))
	}
	body, err := jsonvalue.Encode(object.NewMap(entries...))
	if err != nil {
		t.Fatalf("mockserver: encode error: %v", err)
	}
	headers := protocol.Base(protocol.ApplicationError, 0, streamID)
	headers = append(headers, header.New(protocol.HeaderContentType, header.Str(protocol.ContentTypeJSON)))
	s.Send(t, headers, body)
}

// SendRaw writes b to the client without framing.
func (s *Server) SendRaw(t *testing.T, b []byte) {
	t.Helper()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if _, err := s.current(t).Write(b); err != nil {
		t.Fatalf("mockserver: raw write: %v", err)
	}
}

// Drop closes the current client connection.
func (s *Server) Drop() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug().Err(err).Msg("mockserver: close listener")
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}
