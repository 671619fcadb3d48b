// Package rclient is a thin typed command layer over pool.Pool and
// pipeline.Handler. The command-level API is explicitly out of scope
// for the core (it's an external collaborator), but a handful of
// commands are wired here so the core has somewhere real to run.
package rclient

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/xenking/respool/pipeline"
	"github.com/xenking/respool/pool"
	"github.com/xenking/respool/resp"
)

// Config configures a Client's pool.
type Config struct {
	Addr                   string
	MaximumConnectionCount int
	MinimumConnectionCount int
	Leaky                  bool
	InitialBackoffDelay    time.Duration
	BackoffFactor          float64
	DialTimeout            time.Duration
	Logger                 *logrus.Logger
	// Registerer receives the client's command success/failure
	// counters. Defaults to prometheus.DefaultRegisterer; pass a
	// dedicated prometheus.NewRegistry() in tests that construct more
	// than one Client to avoid a duplicate-registration panic.
	Registerer prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.MaximumConnectionCount == 0 {
		c.MaximumConnectionCount = 10
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2
	}
	if c.InitialBackoffDelay == 0 {
		c.InitialBackoffDelay = 100 * time.Millisecond
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = time.Second
	}
	return c
}

// Client is a pool-backed Redis client exercising GET/SET/DEL/PING
// over the core decoder/pipeline/pool.
type Client struct {
	pool *pool.Pool
}

// NewClient normalizes addr (the host defaults to localhost, the port
// to 6379; an absolute path dials a Unix domain socket) and starts a
// pool dialing it on demand.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	addr := normalizeAddr(cfg.Addr)

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := pool.NewPromMetrics(registerer)
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	factory := DialFactory(addr, cfg.DialTimeout, metrics, logger)

	p := pool.NewPool(pool.Config{
		MaximumConnectionCount: cfg.MaximumConnectionCount,
		MinimumConnectionCount: cfg.MinimumConnectionCount,
		Leaky:                  cfg.Leaky,
		InitialBackoffDelay:    cfg.InitialBackoffDelay,
		BackoffFactor:          cfg.BackoffFactor,
		Factory:                factory,
		Logger:                 logger,
		Metrics:                metrics,
	})
	p.Activate()
	return &Client{pool: p}
}

// DialFactory builds a pool.Factory that dials addr (tcp or unix,
// depending on normalizeAddr's classification) and wires the result
// into a pool.Conn.
func DialFactory(addr string, dialTimeout time.Duration, metrics pipeline.Metrics, logger *logrus.Logger) pool.Factory {
	network := "tcp"
	if isUnixAddr(addr) {
		network = "unix"
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	return func(ctx context.Context) (*pool.Conn, error) {
		nc, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, errors.Wrapf(err, "rclient: dial %s failed", addr)
		}
		if tcp, ok := nc.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		entry := logrus.NewEntry(logger).WithField("addr", addr)
		return pool.NewConn(nc, metrics, entry), nil
	}
}

// Close shuts the client's pool down, waiting for every connection
// (available, leased, or pending) to wind down first.
func (c *Client) Close() {
	done := pipeline.NewCompletion()
	c.pool.Close(done)
	done.Wait()
}

const defaultLeaseTimeout = 5 * time.Second

func (c *Client) do(args ...string) (resp.Value, error) {
	conn, err := c.pool.LeaseConnection(time.Now().Add(defaultLeaseTimeout))
	if err != nil {
		return resp.Value{}, err
	}
	defer c.pool.ReturnConnection(conn)

	sink := pipeline.NewSink()
	if err := conn.Handler.Write(resp.CommandValueStrings(args...), sink); err != nil {
		return resp.Value{}, err
	}
	return sink.Wait()
}

// Ping issues PING and reports whether the server replied PONG.
func (c *Client) Ping() error {
	v, err := c.do("PING")
	if err != nil {
		return err
	}
	if v.Kind != resp.SimpleString {
		return errors.Errorf("rclient: unexpected PING reply kind %v", v.Kind)
	}
	if v.Str != "PONG" {
		return errors.Errorf("rclient: unexpected PING reply %q", v.Str)
	}
	return nil
}

// Get fetches a key. ok is false when the key doesn't exist (a null
// bulk reply), distinct from an empty string value.
func (c *Client) Get(key string) (value []byte, ok bool, err error) {
	v, err := c.do("GET", key)
	if err != nil {
		return nil, false, err
	}
	if v.IsNil() {
		return nil, false, nil
	}
	return v.Bulk, true, nil
}

// Set stores key=value. The server's status reply is discarded; only
// a transport or server error is returned.
func (c *Client) Set(key, value string) error {
	_, err := c.do("SET", key, value)
	return err
}

// Del removes one or more keys, returning the number removed.
func (c *Client) Del(keys ...string) (int64, error) {
	args := append([]string{"DEL"}, keys...)
	v, err := c.do(args...)
	if err != nil {
		return 0, err
	}
	return v.Int, nil
}

func isUnixAddr(s string) bool {
	return len(s) != 0 && s[0] == '/'
}

// normalizeAddr mirrors the teacher's own address normalization: the
// empty string becomes "localhost:6379", a bare host or port fills in
// the missing half, and an absolute path is treated as a Unix socket
// and cleaned.
func normalizeAddr(s string) string {
	if isUnixAddr(s) {
		return filepath.Clean(s)
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host = s
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	return net.JoinHostPort(host, port)
}
