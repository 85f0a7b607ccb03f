// Package transport implements the Physical Transport (E): a
// length-prefixed framed connection between nexus processes, multiplexed
// per logical application id so several higher-level protocols (dispatch
// envelopes, coordination gossip) can share one TCP connection.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"nexus/internal/addressing"
	"nexus/pkg/logging"
)

const subsystem = "Transport"

// defaultFrameMaxSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const defaultFrameMaxSize = 4 << 20

// frame header: 4-byte big-endian application id, 4-byte big-endian
// payload length, then the payload.
const headerSize = 8

// Handler processes one inbound frame for a given application id.
type Handler func(ctx context.Context, from addressing.PhysicalAddress, appID uint32, payload []byte)

// Transport listens for inbound connections and dials outbound ones,
// demultiplexing frames to registered per-application handlers.
type Transport struct {
	listenAddr   string
	dialTimeout  time.Duration
	frameMaxSize int

	mu       sync.Mutex
	handlers map[uint32]Handler
	conns    map[string]*connection
	listener net.Listener
}

// New builds a Transport that will listen on listenAddr once Start is
// called. dialTimeout bounds outbound connection setup; frameMaxSize <= 0
// uses defaultFrameMaxSize.
func New(listenAddr string, dialTimeout time.Duration, frameMaxSize int) *Transport {
	if frameMaxSize <= 0 {
		frameMaxSize = defaultFrameMaxSize
	}
	return &Transport{
		listenAddr:   listenAddr,
		dialTimeout:  dialTimeout,
		frameMaxSize: frameMaxSize,
		handlers:     make(map[uint32]Handler),
		conns:        make(map[string]*connection),
	}
}

// RegisterHandler installs the frame handler for appID, replacing any
// previous registration.
func (t *Transport) RegisterHandler(appID uint32, handler Handler) {
	t.mu.Lock()
	t.handlers[appID] = handler
	t.mu.Unlock()
}

// Start begins accepting inbound connections. It returns once the listener
// is bound; accepted connections are served in background goroutines until
// ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", t.listenAddr, err)
	}
	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	go t.acceptLoop(ctx, listener)
	logging.Info(subsystem, "listening on %s", t.listenAddr)
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Warn(subsystem, "accept: %v", err)
			continue
		}
		c := newConnection(conn, t.frameMaxSize)
		go t.serve(ctx, c)
	}
}

func (t *Transport) serve(ctx context.Context, c *connection) {
	defer c.close()
	remote := addressing.PhysicalAddressFromString(c.conn.RemoteAddr().String())
	for {
		appID, payload, err := c.readFrame()
		if err != nil {
			if err != io.EOF {
				logging.Warn(subsystem, "reading frame from %s: %v", remote, err)
			}
			return
		}

		t.mu.Lock()
		handler := t.handlers[appID]
		t.mu.Unlock()
		if handler == nil {
			logging.Warn(subsystem, "no handler registered for application id %d", appID)
			continue
		}
		handler(ctx, remote, appID, payload)
	}
}

// Send delivers one frame carrying payload under appID to target, dialing
// (and caching) a connection if none is open yet.
func (t *Transport) Send(ctx context.Context, appID uint32, target addressing.PhysicalAddress, payload []byte) error {
	c, err := t.connectionFor(ctx, target)
	if err != nil {
		return err
	}
	if err := c.writeFrame(appID, payload); err != nil {
		t.dropConnection(target.String())
		return fmt.Errorf("transport: sending to %s: %w", target, err)
	}
	return nil
}

func (t *Transport) connectionFor(ctx context.Context, target addressing.PhysicalAddress) (*connection, error) {
	key := target.String()

	t.mu.Lock()
	if c, ok := t.conns[key]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", key)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", target, err)
	}
	c := newConnection(conn, t.frameMaxSize)

	t.mu.Lock()
	t.conns[key] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) dropConnection(key string) {
	t.mu.Lock()
	if c, ok := t.conns[key]; ok {
		c.close()
		delete(t.conns, key)
	}
	t.mu.Unlock()
}

// Stop closes the listener and every cached outbound connection.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener != nil {
		_ = t.listener.Close()
	}
	for key, c := range t.conns {
		c.close()
		delete(t.conns, key)
	}
	return nil
}

// connection wraps a net.Conn with frame read/write and a write mutex,
// since writeFrame is called concurrently by whichever goroutine is
// sending.
type connection struct {
	conn         net.Conn
	frameMaxSize int
	writeMu      sync.Mutex
}

func newConnection(conn net.Conn, frameMaxSize int) *connection {
	return &connection{conn: conn, frameMaxSize: frameMaxSize}
}

func (c *connection) readFrame() (appID uint32, payload []byte, err error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return 0, nil, err
	}
	appID = binary.BigEndian.Uint32(header[0:4])
	length := binary.BigEndian.Uint32(header[4:8])
	if int(length) > c.frameMaxSize {
		return 0, nil, fmt.Errorf("transport: frame of %d bytes exceeds max %d", length, c.frameMaxSize)
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		return 0, nil, err
	}
	return appID, payload, nil
}

func (c *connection) writeFrame(appID uint32, payload []byte) error {
	if len(payload) > c.frameMaxSize {
		return fmt.Errorf("transport: frame of %d bytes exceeds max %d", len(payload), c.frameMaxSize)
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], appID)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	_, err := c.conn.Write(payload)
	return err
}

func (c *connection) close() {
	_ = c.conn.Close()
}

// BoundApplication adapts a Transport to the single-application-id
// router.Transport interface (Send(ctx, target, payload) error), for
// callers like internal/router that only ever speak one logical
// application's frames over a shared Transport.
type BoundApplication struct {
	transport *Transport
	appID     uint32
}

// Bind fixes appID for subsequent Send calls.
func Bind(t *Transport, appID uint32) BoundApplication {
	return BoundApplication{transport: t, appID: appID}
}

// Send implements router.Transport.
func (b BoundApplication) Send(ctx context.Context, target addressing.PhysicalAddress, payload []byte) error {
	return b.transport.Send(ctx, b.appID, target, payload)
}
