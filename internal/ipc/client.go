package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrClosed   = errors.New("connection to compositor closed")
	ErrNoSocket = errors.New("compositor socket not found")
)

// PeerCredentials holds the credentials of a peer process
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// DefaultDialTimeout bounds the connect step only; reads and writes have no
// deadline.
const DefaultDialTimeout = 5 * time.Second

// Conn is a framed connection to the compositor.
//
// Once any read or write fails, the Conn enters a terminal closed state: the
// socket is released and every later call returns an error wrapping
// ErrClosed. There is no reconnection.
type Conn struct {
	path   string
	conn   net.Conn
	closed atomic.Bool

	closeOnce sync.Once
	closeErr  error
	cause     atomic.Pointer[error]
}

// Dial connects to the unix stream socket at path.
func Dial(ctx context.Context, path string) (*Conn, error) {
	if path == "" {
		return nil, ErrNoSocket
	}

	dialer := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSocket, path)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}

	return NewConn(conn, path), nil
}

// NewConn wraps an already established stream connection.
func NewConn(conn net.Conn, path string) *Conn {
	return &Conn{path: path, conn: conn}
}

// Path returns the socket path this connection was dialed with.
func (c *Conn) Path() string {
	return c.path
}

// Closed reports whether the connection has entered its terminal state.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Send writes one frame. Any error closes the connection.
func (c *Conn) Send(payload []byte) error {
	if c.closed.Load() {
		return c.closedError()
	}
	if err := WriteFrame(c.conn, payload); err != nil {
		c.fail(err)
		return fmt.Errorf("%w: write: %v", ErrClosed, err)
	}
	return nil
}

// Receive blocks until one complete frame has been read and returns its
// payload. Any error closes the connection.
func (c *Conn) Receive() ([]byte, error) {
	if c.closed.Load() {
		return nil, c.closedError()
	}
	payload, err := ReadFrame(c.conn)
	if err != nil {
		c.fail(err)
		return nil, fmt.Errorf("%w: read: %v", ErrClosed, err)
	}
	return payload, nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closed.Store(true)
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Cause returns the I/O error that put the connection into the closed
// state, or nil if it was closed explicitly or is still open.
func (c *Conn) Cause() error {
	if p := c.cause.Load(); p != nil {
		return *p
	}
	return nil
}

// PeerCredentials returns the credentials of the compositor process.
func (c *Conn) PeerCredentials() (*PeerCredentials, error) {
	return GetPeerCredentials(c.conn)
}

func (c *Conn) fail(err error) {
	c.cause.CompareAndSwap(nil, &err)
	c.Close()
}

func (c *Conn) closedError() error {
	if cause := c.Cause(); cause != nil {
		return fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	return ErrClosed
}
