// Package transport implements the agent's control-channel client: a
// minimal RFC 6455 client over a raw TCP connection with message
// reassembly, driven by a cooperative polling loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tzi-shue/print-service-deploy/common/ws"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	HandshakePending
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case HandshakePending:
		return "handshake_pending"
	case Connected:
		return "connected"
	}
	return "unknown"
}

var (
	// ErrNotConnected is returned by Send and Poll outside Connected.
	ErrNotConnected = errors.New("not connected")
	// ErrClosedByPeer is returned by Poll when the server sent a close frame.
	ErrClosedByPeer = errors.New("connection closed by server")
)

// Logger interface for transport diagnostics
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

type nullLogger struct{}

func (nullLogger) Error(msg string, context ...interface{}) {}
func (nullLogger) Warn(msg string, context ...interface{})  {}
func (nullLogger) Info(msg string, context ...interface{})  {}
func (nullLogger) Debug(msg string, context ...interface{}) {}

// Options configures a Client.
type Options struct {
	URL              string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameLength   uint64
	MaxMessageBytes  int
	Codec            FrameCodec
	Logger           Logger
	// Dial overrides the TCP dialer, mainly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client is a single control-channel connection. Poll must only be called
// from one goroutine; Send may be called concurrently.
type Client struct {
	opts     Options
	endpoint Endpoint
	codec    FrameCodec
	logger   Logger

	mu      sync.Mutex
	state   State
	conn    net.Conn
	rbuf    []byte
	asm     *Assembler
	writeMu sync.Mutex
}

// NewClient validates the URL and returns a disconnected Client.
func NewClient(opts Options) (*Client, error) {
	ep, err := ParseEndpoint(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	codec := opts.Codec
	if codec == nil {
		codec = NewCodec(opts.MaxFrameLength)
	}
	logger := opts.Logger
	if logger == nil {
		logger = nullLogger{}
	}
	return &Client{
		opts:     opts,
		endpoint: ep,
		codec:    codec,
		logger:   logger,
		asm:      NewAssembler(opts.MaxMessageBytes),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client is in the Connected state.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Connect dials the server and performs the upgrade. Any failure leaves
// the client Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: client is %s", st)
	}
	c.state = Connecting
	c.mu.Unlock()

	dial := c.opts.Dial
	if dial == nil {
		d := &net.Dialer{Timeout: c.opts.DialTimeout}
		dial = d.DialContext
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, err := dial(dialCtx, "tcp", c.endpoint.Host)
	cancel()
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("dial %s: %w", c.endpoint.Host, err)
	}

	c.setState(HandshakePending)
	res, err := handshake(ctx, conn, c.endpoint, c.opts.HandshakeTimeout, defaultRand)
	if err != nil {
		conn.Close()
		c.setState(Disconnected)
		return err
	}
	if !res.accepted {
		c.logger.Warn("Server returned unexpected Sec-WebSocket-Accept, continuing", "host", c.endpoint.Host)
	}

	c.mu.Lock()
	c.conn = conn
	c.rbuf = append(c.rbuf[:0], res.leftover...)
	c.asm.Reset()
	c.state = Connected
	c.mu.Unlock()

	c.logger.Info("Control channel connected", "host", c.endpoint.Host, "path", c.endpoint.Path)
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Send writes msg as a single text frame.
func (c *Client) Send(msg ws.Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Action(), err)
	}
	return c.writeFrame(OpText, payload)
}

func (c *Client) writeFrame(op Opcode, payload []byte) error {
	frame, err := c.codec.Encode(op, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	_, err = conn.Write(frame)
	conn.SetWriteDeadline(time.Time{})
	c.writeMu.Unlock()

	if err != nil {
		c.drop(conn, "write failed", err)
		return fmt.Errorf("write %s frame: %w", op, err)
	}
	return nil
}

// Poll runs one read cycle: it waits up to timeout for bytes, decodes every
// complete frame and returns the messages that became complete. A read
// timeout is not an error. Any other failure disconnects the client.
func (c *Client) Poll(timeout time.Duration) ([]ws.Message, error) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return nil, ErrNotConnected
	}

	// frames already buffered (handshake leftovers) go out without a read
	msgs, err := c.drainFrames(conn)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}

	chunk := make([]byte, 32*1024)
	conn.SetReadDeadline(time.Now().Add(timeout))
	n, readErr := conn.Read(chunk)
	if n > 0 {
		c.mu.Lock()
		c.rbuf = append(c.rbuf, chunk[:n]...)
		c.mu.Unlock()
	}
	if readErr != nil && isTimeout(readErr) {
		readErr = nil
	}

	msgs, err = c.drainFrames(conn)
	if err != nil {
		return msgs, err
	}
	if readErr != nil {
		c.drop(conn, "read failed", readErr)
		return msgs, fmt.Errorf("read: %w", readErr)
	}
	return msgs, nil
}

func (c *Client) drainFrames(conn net.Conn) ([]ws.Message, error) {
	var msgs []ws.Message
	for {
		c.mu.Lock()
		frame, n, err := c.codec.Decode(c.rbuf)
		if err == nil && n > 0 {
			c.rbuf = c.rbuf[:copy(c.rbuf, c.rbuf[n:])]
		}
		c.mu.Unlock()

		if err != nil {
			c.drop(conn, "bad frame", err)
			return msgs, err
		}
		if n == 0 {
			return msgs, nil
		}

		switch frame.Opcode {
		case OpClose:
			c.writeFrame(OpClose, frame.Payload)
			c.drop(conn, "close frame received", nil)
			return msgs, ErrClosedByPeer
		case OpPing:
			if err := c.writeFrame(OpPong, frame.Payload); err != nil {
				return msgs, err
			}
		case OpPong:
		case OpText, OpBinary, OpContinuation:
			raws, err := c.assemble(conn, frame.Payload)
			if err != nil {
				c.logger.Warn("Discarding buffered message", "error", err)
			}
			for _, raw := range raws {
				msg, err := ws.Parse(raw)
				if err != nil {
					c.logger.Warn("Discarding unparsable message", "error", err, "bytes", len(raw))
					continue
				}
				msgs = append(msgs, msg)
			}
		default:
			c.logger.Debug("Ignoring frame with unknown opcode", "opcode", frame.Opcode.String())
		}
	}
}

// assemble feeds payload to the message buffer and returns every object
// that became complete. The buffer is shared with drop, which may run on a
// sending goroutine, so both hold c.mu. Payloads that arrive after conn was
// dropped are discarded.
func (c *Client) assemble(conn net.Conn, payload []byte) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return nil, nil
	}
	var out [][]byte
	raw, err := c.asm.Append(payload)
	for raw != nil {
		out = append(out, raw)
		raw, err = c.asm.Append(nil)
	}
	return out, err
}

// drop closes conn if it is still the active connection.
func (c *Client) drop(conn net.Conn, reason string, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.rbuf = c.rbuf[:0]
	c.asm.Reset()
	c.mu.Unlock()

	conn.Close()
	if err != nil {
		c.logger.Warn("Control channel disconnected", "reason", reason, "error", err)
	} else {
		c.logger.Info("Control channel disconnected", "reason", reason)
	}
}

// Close sends a close frame (best effort) and tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.setState(Disconnected)
		return nil
	}
	c.writeFrame(OpClose, []byte{0x03, 0xE8})
	c.drop(conn, "closed locally", nil)
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
