package pool

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/xenking/respool/pipeline"
	"github.com/xenking/respool/resp"
)

// Conn is an opaque reference to one live RESP connection. It is
// owned by exactly one of: the pool's available list, a leased
// caller, or the shutdown path, at any instant.
type Conn struct {
	id      string
	nc      net.Conn
	Handler *pipeline.Handler

	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
	closedCh  chan struct{}
	onCloseFn func()
}

// NewConn wires a live net.Conn into a Conn: it builds the
// pipeline.Handler bound to the socket's write side and starts the
// read loop that feeds decoded frames into it. The returned Conn is
// connected and ready to be leased.
func NewConn(nc net.Conn, metrics pipeline.Metrics, log *logrus.Entry) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		nc:        nc,
		connected: true,
		closedCh:  make(chan struct{}),
	}
	entry := log
	if entry != nil {
		entry = entry.WithField("conn", c.id)
	}
	c.Handler = pipeline.NewHandler(nc, c.Close, metrics, entry)
	go c.readLoop()
	return c
}

// ID returns the connection's stable identity, assigned once at
// creation and unrelated to the address it connects to.
func (c *Conn) ID() string { return c.id }

// IsConnected reports whether the connection is still believed live.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Closed returns a channel closed once the connection has shut down,
// whether via Close, a transport error, or the remote end hanging up.
func (c *Conn) Closed() <-chan struct{} { return c.closedCh }

// onClose installs fn to run when the connection closes. Per the
// codec's observer-attachment design note, a close must never be lost
// to the race between a connection's read loop (started the moment
// NewConn returns, before the pool has had a chance to call onClose)
// and the attachment itself: if the connection has already closed by
// the time onClose runs, fn fires immediately instead of being
// dropped on the floor.
func (c *Conn) onClose(fn func()) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		fn()
		return
	}
	c.onCloseFn = fn
	c.mu.Unlock()
}

// Close closes the underlying transport. Safe to call more than once
// and from multiple goroutines; only the first call has effect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		fn := c.onCloseFn
		c.mu.Unlock()

		err = c.nc.Close()
		close(c.closedCh)
		if fn != nil {
			fn()
		}
	})
	return err
}

// readLoop decodes frames off the wire for the lifetime of the
// connection, handing each to the pipeline handler. A read failure is
// cascaded into the handler (which fails every queued sink) and tears
// down the connection.
func (c *Conn) readLoop() {
	frames := resp.NewFrameReader(c.nc)
	for {
		v, err := frames.Next()
		if err != nil {
			if isRemoteClose(err) {
				c.Handler.HandleClose()
			} else {
				c.Handler.HandleError(err)
			}
			c.Close()
			return
		}
		c.Handler.HandleValue(v)
	}
}

// isRemoteClose distinguishes an orderly close (EOF, or reading from
// a socket this same process just closed) from a genuine transport
// error such as a malformed frame or a reset connection.
func isRemoteClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var ne *net.OpError
	return errors.As(err, &ne) && ne.Err != nil && ne.Err.Error() == "use of closed network connection"
}
