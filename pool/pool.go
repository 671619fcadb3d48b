// Package pool implements an event-loop-affine connection pool: one
// goroutine owns all pool state, every public method hands its work
// to that goroutine over a channel, and callers block on a private
// result channel for anything that returns a value. This is the Go
// rendering of the single-threaded cooperative affinity the design
// calls for — a serialized task queue bound to one worker in place of
// locks.
package pool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xenking/respool/internal/backoffx"
	"github.com/xenking/respool/pipeline"
	"github.com/xenking/respool/poolerrors"
)

type state int

const (
	stateActive state = iota
	stateClosing
	stateClosed
)

// Factory creates one new live connection. It is the pool's only
// collaborator for I/O; everything else in this package is pure
// bookkeeping plus channel plumbing.
type Factory func(ctx context.Context) (*Conn, error)

// Config is immutable for the lifetime of a Pool.
type Config struct {
	// MaximumConnectionCount caps the live-or-planned population.
	MaximumConnectionCount int
	// MinimumConnectionCount is the population Activate and refills
	// try to maintain. Must be <= MaximumConnectionCount.
	MinimumConnectionCount int
	// Leaky selects the overflow policy: a leaky pool creates
	// connections past MaximumConnectionCount to satisfy demand but
	// does not retain them past a single use; a strict (non-leaky)
	// pool never exceeds MaximumConnectionCount live connections.
	Leaky bool
	// InitialBackoffDelay is the delay before the first retry after a
	// failed connection attempt.
	InitialBackoffDelay time.Duration
	// BackoffFactor scales the delay on each subsequent retry.
	BackoffFactor float64
	// Factory creates connections on demand.
	Factory Factory
	// Logger receives structured transition and retry logging. A nil
	// Logger falls back to logrus' standard logger.
	Logger *logrus.Logger
	// Metrics receives per-command increment hooks, forwarded to every
	// connection's pipeline.Handler. A nil Metrics uses NoopMetrics.
	Metrics pipeline.Metrics
}

// Pool manages a dynamic population of Conns.
type Pool struct {
	cfg Config
	log *logrus.Entry
	cmd chan func()

	// Everything below is only ever touched from the single goroutine
	// started by Pool.run; no lock is needed because of it.
	state             state
	available         []*Conn // back = most recently returned/created (MRU)
	pending           int
	leased            int
	waiters           []*waiter
	closingRemaining  int
	closingCompletion []*pipeline.Completion
}

// NewPool validates cfg and starts the pool's event loop. A
// min > max configuration is a programming error and panics rather
// than returning an error, matching spec.md's "rejects fatally".
func NewPool(cfg Config) *Pool {
	if cfg.MinimumConnectionCount > cfg.MaximumConnectionCount {
		panic("pool: MinimumConnectionCount must not exceed MaximumConnectionCount")
	}
	if cfg.Factory == nil {
		panic("pool: Factory must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = pipeline.NoopMetrics{}
	}

	p := &Pool{
		cfg: cfg,
		log: logrus.NewEntry(cfg.Logger).WithField("component", "pool"),
		cmd: make(chan func()),
	}
	go p.run()
	return p
}

func (p *Pool) run() {
	for fn := range p.cmd {
		fn()
	}
}

// dispatch runs fn on the pool's event-loop goroutine and waits for
// it to finish. Activate, ReturnConnection and Stats go through
// dispatch; LeaseConnection and Close queue their own closures on
// p.cmd. Nothing external ever touches pool state directly.
func (p *Pool) dispatch(fn func()) {
	done := make(chan struct{})
	p.cmd <- func() {
		fn()
		close(done)
	}
	<-done
}

// Activate schedules a refill pass that issues connection-creation
// attempts until the active population reaches MinimumConnectionCount.
// Idempotent while Active; a no-op once Closing or Closed.
func (p *Pool) Activate() {
	p.dispatch(func() {
		if p.state != stateActive {
			return
		}
		p.refill()
	})
}

func (p *Pool) refill() {
	for p.activeCount() < p.cfg.MinimumConnectionCount {
		p.createConnection(p.cfg.InitialBackoffDelay, 0)
	}
}

func (p *Pool) activeCount() int {
	return len(p.available) + p.pending + p.leased
}

// LeaseConnection returns a live connection, or fails with
// poolerrors.ErrPoolClosed or poolerrors.ErrLeaseTimeout. A failed
// connection attempt is not reported to waiting callers: it is retried
// with backoff or dropped, and a waiter left without a connection
// fails once its deadline passes. deadline bounds how long the caller
// is willing to wait when no connection is immediately available.
func (p *Pool) LeaseConnection(deadline time.Time) (*Conn, error) {
	resultCh := make(chan leaseResult, 1)
	p.cmd <- func() { p.leaseLoop(resultCh, deadline) }
	r := <-resultCh
	return r.conn, r.err
}

func (p *Pool) leaseLoop(resultCh chan leaseResult, deadline time.Time) {
	if p.state != stateActive {
		resultCh <- leaseResult{err: poolerrors.ErrPoolClosed}
		return
	}

	// Pop from the back (MRU) until a live connection turns up.
	for len(p.available) > 0 {
		last := len(p.available) - 1
		conn := p.available[last]
		p.available = p.available[:last]
		if conn.IsConnected() {
			p.leased++
			resultCh <- leaseResult{conn: conn}
			return
		}
		// Dead connection found in the available list: drop it and
		// keep looking; its absence is corrected by the refill kicked
		// off below.
	}

	w := newWaiter()
	w.result = resultCh
	p.waiters = append(p.waiters, w)
	w.timer = time.AfterFunc(time.Until(deadline), func() {
		p.cmd <- func() { p.expireWaiter(w) }
	})

	if p.activeCount() < p.cfg.MaximumConnectionCount || p.cfg.Leaky {
		p.createConnection(p.cfg.InitialBackoffDelay, 0)
	}
}

func (p *Pool) expireWaiter(w *waiter) {
	idx := indexOfWaiter(p.waiters, w)
	if idx < 0 {
		return // already resolved and removed
	}
	p.waiters = append(p.waiters[:idx], p.waiters[idx+1:]...)
	w.deliver(leaseResult{err: poolerrors.ErrLeaseTimeout})
}

func indexOfWaiter(ws []*waiter, target *waiter) int {
	for i, w := range ws {
		if w.id == target.id {
			return i
		}
	}
	return -1
}

// ReturnConnection hands conn back to the pool. Safe to call from any
// goroutine.
func (p *Pool) ReturnConnection(conn *Conn) {
	p.dispatch(func() { p.returnConnectionLoop(conn) })
}

func (p *Pool) returnConnectionLoop(conn *Conn) {
	p.leased--

	switch p.state {
	case stateActive:
		if !conn.IsConnected() {
			p.refill()
			return
		}
		p.placeConnection(conn)
	case stateClosing:
		p.closeForShutdown(conn)
	case stateClosed:
		panic("pool: returnConnection called on a closed pool")
	}
}

// placeConnection implements the priority order shared by
// ReturnConnection and a freshly created connection: hand it to a
// waiter, pool it, evict to make room for it, or close it.
func (p *Pool) placeConnection(conn *Conn) {
	if !conn.IsConnected() {
		p.refill()
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.leased++
		w.deliver(leaseResult{conn: conn})
		return
	}

	if p.canAddConnectionToPool() {
		p.available = append(p.available, conn)
		return
	}

	if len(p.available) > 0 {
		evicted := p.available[0]
		p.available = p.available[1:]
		p.closeConnAsync(evicted)
		p.available = append(p.available, conn)
		return
	}

	p.closeConnAsync(conn)
}

func (p *Pool) canAddConnectionToPool() bool {
	if p.cfg.Leaky {
		return len(p.available) < p.cfg.MaximumConnectionCount
	}
	return len(p.available)+p.leased < p.cfg.MaximumConnectionCount
}

// closeConnAsync closes a connection the pool decided not to keep. It
// doesn't affect pool accounting (the connection was never counted as
// available/leased at the moment this is called).
func (p *Pool) closeConnAsync(conn *Conn) {
	go func() { _ = conn.Close() }()
}

// createConnection increments pending synchronously (so repeated
// refill() calls converge) and schedules the factory call after
// startIn. backoff is threaded through so a failure can compute the
// next retry's delay.
func (p *Pool) createConnection(backoff time.Duration, startIn time.Duration) {
	p.pending++
	time.AfterFunc(startIn, func() {
		conn, err := p.cfg.Factory(context.Background())
		p.cmd <- func() { p.onConnectionCreated(conn, err, backoff) }
	})
}

func (p *Pool) onConnectionCreated(conn *Conn, err error, backoff time.Duration) {
	if err != nil {
		p.onConnectionFailed(err, backoff)
		return
	}

	switch p.state {
	case stateActive:
		p.pending--
		// Attach the close observer before the connection is handed
		// out anywhere, so a close racing first use is never missed.
		conn.onClose(func() {
			p.cmd <- func() { p.poolConnectionClosed(conn) }
		})
		p.placeConnection(conn)
	case stateClosing:
		p.pending--
		p.closeForShutdown(conn)
	case stateClosed:
		panic("pool: connection created after pool fully closed")
	}
}

func (p *Pool) onConnectionFailed(err error, backoff time.Duration) {
	p.pending--

	switch p.state {
	case stateClosing:
		p.countShutdownCompletion()
		return
	case stateClosed:
		panic("pool: connection attempt completed after pool fully closed")
	}

	p.log.WithError(err).Debug("pool: connection attempt failed")

	if !p.shouldRetry() {
		return
	}
	next := backoffx.Next(backoff, p.cfg.BackoffFactor)
	p.createConnection(next, backoff)
}

func (p *Pool) shouldRetry() bool {
	waiters := len(p.waiters)
	active := p.activeCount()
	if p.cfg.Leaky {
		return waiters > p.pending || active < p.cfg.MinimumConnectionCount
	}
	return (waiters > 0 && active < p.cfg.MaximumConnectionCount) || active < p.cfg.MinimumConnectionCount
}

// poolConnectionClosed is invoked whenever a pool-created connection
// closes, whether on its own or through the pool's eviction and
// shutdown paths. It removes the connection from the available list
// if it was sitting there, then, while the pool is Active, triggers a
// refill to restore the minimum.
func (p *Pool) poolConnectionClosed(conn *Conn) {
	for i, c := range p.available {
		if c == conn {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	if p.state == stateActive {
		p.refill()
	}
}

// Close transitions the pool to Closing and then, once every
// available/leased/pending connection has wound down, to Closed.
// completion (which may be nil) resolves when that happens; calling
// Close again while already Closing or Closed cascades onto the same
// outcome.
func (p *Pool) Close(completion *pipeline.Completion) {
	p.cmd <- func() { p.closeLoop(completion) }
}

func (p *Pool) closeLoop(completion *pipeline.Completion) {
	switch p.state {
	case stateClosed:
		if completion != nil {
			completion.Complete()
		}
		return
	case stateClosing:
		if completion != nil {
			p.closingCompletion = append(p.closingCompletion, completion)
		}
		return
	}

	remaining := p.activeCount()
	p.state = stateClosing
	p.closingRemaining = remaining
	if completion != nil {
		p.closingCompletion = append(p.closingCompletion, completion)
	}
	p.log.WithField("remaining", remaining).Info("pool: closing")

	for _, w := range p.waiters {
		w.deliver(leaseResult{err: poolerrors.ErrPoolClosed})
	}
	p.waiters = nil

	avail := p.available
	p.available = nil
	for _, c := range avail {
		p.closeForShutdown(c)
	}

	if remaining == 0 {
		p.finishClosing()
	}
}

func (p *Pool) closeForShutdown(conn *Conn) {
	go func() {
		_ = conn.Close()
		p.cmd <- func() { p.countShutdownCompletion() }
	}()
}

func (p *Pool) countShutdownCompletion() {
	p.closingRemaining--
	if p.closingRemaining <= 0 && p.state == stateClosing {
		p.finishClosing()
	}
}

func (p *Pool) finishClosing() {
	p.state = stateClosed
	p.log.Info("pool: closed")
	for _, c := range p.closingCompletion {
		c.Complete()
	}
	p.closingCompletion = nil
}

// Stats is a snapshot of the invariant availableConnections.count +
// pendingConnectionCount + leasedConnectionCount, for tests and
// diagnostics.
type Stats struct {
	Available int
	Pending   int
	Leased    int
}

// Stats returns a consistent snapshot taken on the pool's own
// goroutine.
func (p *Pool) Stats() Stats {
	var s Stats
	p.dispatch(func() {
		s = Stats{Available: len(p.available), Pending: p.pending, Leased: p.leased}
	})
	return s
}
