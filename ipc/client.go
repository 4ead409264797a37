// Package ipc is a client for the supervisor's local IPC socket.
//
// A Client owns one connection and multiplexes request/response calls and
// long-lived subscriptions over it. Callers block in Call or Subscribe until
// their reply arrives or the response timeout passes. A single receive
// goroutine per Client reads every inbound frame, completes waiting calls and
// runs subscription callbacks.
//
// Subscription callbacks run on the receive goroutine. The context they are
// given marks them: passing it to Call or Subscribe on the same Client fails
// with ggerr.Invalid instead of deadlocking. CloseSubscription may be called
// from a callback.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/ggipc/arena"
	"github.com/danmuck/ggipc/config"
	"github.com/danmuck/ggipc/ggerr"
	"github.com/danmuck/ggipc/internal/jsonvalue"
	"github.com/danmuck/ggipc/internal/logging"
	"github.com/danmuck/ggipc/internal/observability"
	"github.com/danmuck/ggipc/internal/poll"
	"github.com/danmuck/ggipc/internal/protocol"
	"github.com/danmuck/ggipc/internal/protocol/frame"
	"github.com/danmuck/ggipc/internal/protocol/header"
	"github.com/danmuck/ggipc/object"
	"github.com/rs/zerolog/log"
)

// SvcUIDLen is the length of the service uid returned by ConnectByName.
const SvcUIDLen = 16

var (
	ErrAlreadyConnected  = ggerr.Errorf(ggerr.Invalid, "ipc: already connected")
	ErrNotConnected      = ggerr.Errorf(ggerr.NoConn, "ipc: not connected")
	ErrShutdown          = ggerr.Errorf(ggerr.NoConn, "ipc: client shut down")
	ErrConnectRejected   = ggerr.Errorf(ggerr.Failure, "ipc: connection not accepted")
	ErrNoFreeStreams     = ggerr.Errorf(ggerr.NoMem, "ipc: no free stream slots")
	ErrCallFromCallback  = ggerr.Errorf(ggerr.Invalid, "ipc: call from inside a subscription callback")
	ErrUnknownHandle     = ggerr.Errorf(ggerr.NoEntry, "ipc: unknown subscription handle")
	ErrConnectionDropped = ggerr.Errorf(ggerr.NoConn, "ipc: connection dropped")
)

// FatalFunc is called when the inbound byte stream can no longer be framed.
type FatalFunc func(err error)

// DefaultFatal logs err at fatal level, which exits the process.
func DefaultFatal(err error) {
	log.Fatal().Err(err).Msg("ipc: inbound stream corrupted")
}

// Client is a connection to the supervisor. It is safe for concurrent use.
type Client struct {
	cfg config.Client

	// connMu serializes Connect, Disconnect and Shutdown.
	connMu sync.Mutex

	// mu guards the connection state and the slot table.
	mu       sync.Mutex
	conn     net.Conn
	fd       int
	token    uint32
	slots    slotTable
	poller   *poll.Poller
	stopped  chan struct{}
	shutdown bool
	onFatal  FatalFunc
	svcUID   string

	sendMu  sync.Mutex
	sendBuf []byte

	// Owned by the receive goroutine.
	recvBuf []byte
	scratch *arena.Arena

	b64Mu  sync.Mutex
	b64Mem []byte
}

// New returns an unconnected client. Zero limits in cfg take their defaults.
func New(cfg config.Client) *Client {
	cfg = withDefaults(cfg)
	return &Client{
		cfg:     cfg,
		slots:   newSlotTable(cfg.MaxStreams),
		onFatal: DefaultFatal,
		sendBuf: make([]byte, cfg.MaxMessageLen),
		recvBuf: make([]byte, cfg.MaxMessageLen),
		scratch: arena.Sized(decodeArenaSize(cfg.MaxMessageLen)),
		b64Mem:  make([]byte, cfg.MaxMessageLen),
	}
}

// NewFromFile returns an unconnected client configured from a TOML or YAML
// file. See config.Load.
func NewFromFile(path string) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// ConfigureLogging installs the SDK's console logger as the global zerolog
// logger, honoring the GGIPC_LOG_* environment overrides. It only takes
// effect the first time logging is configured in the process.
func ConfigureLogging() {
	logging.ConfigureRuntime()
}

func withDefaults(cfg config.Client) config.Client {
	def := config.DefaultClient()
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = def.MaxStreams
	}
	if cfg.MaxStreams > config.MaxStreams {
		cfg.MaxStreams = config.MaxStreams
	}
	if cfg.MaxMessageLen < config.MinMessageLen {
		cfg.MaxMessageLen = def.MaxMessageLen
	}
	if cfg.MaxMessageLen > config.MaxMessageLen {
		cfg.MaxMessageLen = config.MaxMessageLen
	}
	return cfg
}

// decodeArenaSize bounds the memory a decoded payload of n bytes can need:
// its strings never exceed n bytes and the subobject limit caps the list
// and map arrays.
func decodeArenaSize(n int) int {
	return n + object.MaxSubobjects*object.KVSize
}

// SetFatalHandler replaces the handler run on framing corruption. A nil f
// restores DefaultFatal.
func (c *Client) SetFatalHandler(f FatalFunc) {
	if f == nil {
		f = DefaultFatal
	}
	c.mu.Lock()
	c.onFatal = f
	c.mu.Unlock()
}

// Config returns the client's effective configuration.
func (c *Client) Config() config.Client {
	return c.cfg
}

// SvcUID returns the service uid assigned by the last connect by name, or
// "" when the client authenticated with a token.
func (c *Client) SvcUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.svcUID
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect connects with the configured socket path and credentials. Empty
// values are read from the environment at call time. A configured
// ComponentName connects by name; the assigned service uid is then
// available from SvcUID.
func (c *Client) Connect(ctx context.Context) error {
	cfg := c.cfg
	cfg.ApplyEnv()
	if cfg.SocketPath == "" {
		return ggerr.Errorf(ggerr.Config, "ipc: %s is not set", config.EnvSocketPath)
	}
	if cfg.ComponentName != "" {
		_, err := c.ConnectByName(ctx, cfg.SocketPath, cfg.ComponentName)
		return err
	}
	if cfg.AuthToken == "" {
		return ggerr.Errorf(ggerr.Config, "ipc: %s is not set", config.EnvAuthToken)
	}
	return c.ConnectWithToken(ctx, cfg.SocketPath, cfg.AuthToken)
}

// ConnectWithToken connects to the socket at path and authenticates with
// token.
func (c *Client) ConnectWithToken(ctx context.Context, path, token string) error {
	_, err := c.connect(ctx, path, object.NewMap(object.Pair("authToken", object.Buf(token))), false)
	return err
}

// ConnectByName connects as componentName and returns the service uid the
// supervisor assigned to it.
func (c *Client) ConnectByName(ctx context.Context, path, componentName string) (string, error) {
	return c.connect(ctx, path, object.NewMap(object.Pair("componentName", object.Buf(componentName))), true)
}

func (c *Client) connect(ctx context.Context, path string, payload object.Map, wantSvcUID bool) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if inDispatch(ctx, c) {
		return "", ErrCallFromCallback
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	switch {
	case c.shutdown:
		c.mu.Unlock()
		return "", ErrShutdown
	case c.conn != nil:
		c.mu.Unlock()
		return "", ErrAlreadyConnected
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.ResponseTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return "", ggerr.Errorf(ggerr.NoConn, "ipc: dial %s: %w", path, err)
	}
	svcuid, err := c.handshake(ctx, conn, payload, wantSvcUID)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	if err := c.attach(conn); err != nil {
		_ = conn.Close()
		return "", err
	}
	c.mu.Lock()
	c.svcUID = svcuid
	c.mu.Unlock()
	log.Info().Str("socket", path).Msg("ipc: connected")
	return svcuid, nil
}

func (c *Client) handshake(ctx context.Context, conn net.Conn, payload object.Map, wantSvcUID bool) (string, error) {
	deadline := time.Now().Add(c.cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", ggerr.Errorf(ggerr.Failure, "ipc: set handshake deadline: %w", err)
	}

	headers := append(protocol.Base(protocol.Connect, 0, 0),
		header.New(protocol.HeaderVersion, header.Str(protocol.Version)))
	if err := c.send(conn, headers, payload); err != nil {
		return "", fmt.Errorf("ipc: send connect: %w", err)
	}

	buf := make([]byte, c.cfg.MaxMessageLen)
	msg, err := frame.Read(conn, buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", ggerr.Errorf(ggerr.Timeout, "ipc: no connect ack: %w", err)
		}
		return "", fmt.Errorf("ipc: read connect ack: %w", err)
	}
	common, err := protocol.CommonHeaders(msg.Headers)
	if err != nil {
		return "", fmt.Errorf("ipc: connect ack: %w", err)
	}
	if common.Type != protocol.ConnectAck {
		return "", fmt.Errorf("%w: got %s", ErrConnectRejected, common.Type)
	}
	if !common.Flags.Has(protocol.ConnectionAccepted) {
		return "", fmt.Errorf("%w: flags=%d", ErrConnectRejected, common.Flags)
	}
	if len(msg.Payload) != 0 {
		log.Warn().Int("len", len(msg.Payload)).Msg("ipc: connect ack carried an unexpected payload")
	}

	var svcuid string
	if wantSvcUID {
		v, ok := msg.Headers.Find(protocol.HeaderServiceUID)
		if !ok || v.Type != header.TypeString {
			return "", ggerr.Errorf(ggerr.Failure, "ipc: connect ack missing %s header", protocol.HeaderServiceUID)
		}
		if len(v.String) != SvcUIDLen {
			log.Warn().Int("len", len(v.String)).Msg("ipc: unexpected svcuid length")
		}
		svcuid = string(v.String)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return "", ggerr.Errorf(ggerr.Failure, "ipc: clear handshake deadline: %w", err)
	}
	return svcuid, nil
}

// attach publishes conn to callers and registers it with the receive
// goroutine, starting that goroutine on first use.
func (c *Client) attach(conn net.Conn) error {
	fd, err := connFD(conn)
	if err != nil {
		return err
	}
	p, err := c.ensureReceiver()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.token++
	if c.token == 0 || c.token == ^uint32(0) {
		c.token = 1
	}
	token := c.token
	c.conn = conn
	c.fd = fd
	c.mu.Unlock()

	if err := p.Add(fd, token); err != nil {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) ensureReceiver() (*poll.Poller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poller != nil {
		return c.poller, nil
	}
	p, err := poll.New()
	if err != nil {
		return nil, err
	}
	c.poller = p
	c.stopped = make(chan struct{})
	go c.receiveLoop(p, c.stopped)
	return p, nil
}

func connFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, ggerr.Errorf(ggerr.Unsupported, "ipc: %T exposes no file descriptor", conn)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, ggerr.Errorf(ggerr.Failure, "ipc: syscall conn: %w", err)
	}
	var fd int
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return 0, ggerr.Errorf(ggerr.Failure, "ipc: read fd: %w", err)
	}
	return fd, nil
}

// send writes one message. params is encoded lazily into the send buffer.
func (c *Client) send(conn net.Conn, headers []header.Header, params object.Map) error {
	if params == nil {
		params = object.Map{}
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return frame.Write(conn, c.sendBuf, headers, jsonvalue.NewReader(params))
}

// Disconnect drops the connection. Waiting calls fail with ggerr.NoConn and
// every subscription ends. Disconnecting an unconnected client is a no-op.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	c.drop(conn, observability.DisconnectLocal, ErrConnectionDropped)
}

// Shutdown disconnects and stops the receive goroutine. The client cannot
// be reconnected afterwards.
func (c *Client) Shutdown() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.shutdown = true
	p, stopped := c.poller, c.stopped
	c.mu.Unlock()

	c.drop(conn, observability.DisconnectLocal, ErrShutdown)
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		log.Warn().Err(err).Msg("ipc: close poller")
	}
	<-stopped
}

// drop tears down conn if it is still the current connection. reason labels
// the disconnect metric.
func (c *Client) drop(conn net.Conn, reason string, cause error) {
	if conn == nil {
		return
	}
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	fd, p := c.fd, c.poller
	waiting := c.slots.reset()
	c.mu.Unlock()

	if p != nil {
		if err := p.Remove(fd); err != nil {
			log.Debug().Err(err).Int("fd", fd).Msg("ipc: unregister connection")
		}
	}
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("ipc: close connection")
	}
	for _, call := range waiting {
		call.err = cause
		close(call.done)
	}
	observability.RecordDisconnect(reason)
	log.Info().Err(cause).Int("failed_calls", len(waiting)).Msg("ipc: disconnected")
}
