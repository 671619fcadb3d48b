package pipeline

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/xenking/respool/poolerrors"
	"github.com/xenking/respool/resp"
)

type state int

const (
	stateDefault state = iota
	stateDraining
	stateErrored
)

// Handler owns one decoded-value inbound stream and one outbound
// write side for a single connection. It enforces the FIFO
// request/response discipline described by the codec's framing
// contract: the k-th response completes the k-th still-queued sink.
//
// A Handler is safe for concurrent use: Write, HandleValue,
// HandleError, HandleClose and Drain may all be called from different
// goroutines (typically one writer goroutine and one read-loop
// goroutine per connection).
type Handler struct {
	writer  io.Writer
	closeFn func() error
	metrics Metrics
	log     *logrus.Entry

	mu       sync.Mutex
	state    state
	err      error
	queue    []*Sink
	draining *Completion
}

// NewHandler wires a Handler to a transport's write side (writer) and
// a best-effort close function (closeFn, invoked at most once in
// practice since every path to it is itself one-way). metrics and log
// may be nil, in which case NoopMetrics and logrus' standard logger
// are used.
func NewHandler(writer io.Writer, closeFn func() error, metrics Metrics, log *logrus.Entry) *Handler {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{writer: writer, closeFn: closeFn, metrics: metrics, log: log}
}

// QueueLen reports the number of sinks still awaiting a response.
func (h *Handler) QueueLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Write encodes value and writes it to the transport, appending sink
// to the FIFO first so that a response racing the write can never be
// popped against the wrong request. In Draining or Errored state,
// sink fails immediately and nothing is written.
func (h *Handler) Write(value resp.Value, sink *Sink) error {
	h.mu.Lock()

	switch h.state {
	case stateDraining, stateErrored:
		err := h.err
		if err == nil {
			err = poolerrors.ErrConnClosed
		}
		h.mu.Unlock()
		sink.Fail(err)
		return err
	}

	h.queue = append(h.queue, sink)
	data := resp.Encode(value)
	// Hold the lock across the actual write so outbound writes stay
	// strictly ordered with FIFO appends — two concurrent Write calls
	// must not interleave their Write(data) calls out of enqueue order.
	_, err := h.writer.Write(data)
	if err != nil {
		h.failLocked(err)
		return err
	}
	h.mu.Unlock()
	return nil
}

// HandleValue pops the front sink and resolves it with v. If the
// queue is empty the value is silently dropped: this tolerates
// out-of-band server pushes when push semantics are in play, and a
// protocol violation otherwise, per the codec's open question.
func (h *Handler) HandleValue(v resp.Value) {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return
	}
	sink := h.queue[0]
	h.queue = h.queue[1:]
	draining := h.state == stateDraining
	empty := len(h.queue) == 0
	completion := h.draining
	h.mu.Unlock()

	if v.Kind == resp.ErrorReply {
		sink.Fail(poolerrors.ServerError{Payload: v.Str})
		h.metrics.IncFailure()
	} else {
		sink.Succeed(v)
		h.metrics.IncSuccess()
	}

	if draining && empty {
		h.finishDrain(completion)
	}
}

// HandleError transitions to Errored(err), draining the FIFO by
// failing every queued sink with err, and closes the transport on a
// best-effort basis. One-way: a Handler already in Draining or
// Errored ignores further calls.
func (h *Handler) HandleError(err error) {
	h.mu.Lock()
	if h.state != stateDefault {
		h.mu.Unlock()
		return
	}
	h.state = stateErrored
	h.err = err
	queue := h.queue
	h.queue = nil
	h.mu.Unlock()

	for _, s := range queue {
		s.Fail(err)
	}
	h.log.WithError(err).Warn("pipeline: transport error")
	_ = h.closeFn()
}

// HandleClose transitions to Errored(connectionClosed), the terminal
// state for a transport that closed (remotely or locally) outside of
// a graceful drain.
func (h *Handler) HandleClose() {
	h.mu.Lock()
	if h.state != stateDefault {
		h.mu.Unlock()
		return
	}
	h.state = stateErrored
	h.err = poolerrors.ErrConnClosed
	queue := h.queue
	h.queue = nil
	h.mu.Unlock()

	for _, s := range queue {
		s.Fail(poolerrors.ErrConnClosed)
	}
	h.log.Debug("pipeline: transport closed")
}

// Drain requests a graceful shutdown. On an empty FIFO it closes the
// transport immediately. On a non-empty FIFO it lets queued requests
// drain to completion, failing any Write attempted in the meantime,
// and closes the transport once the FIFO empties. completion resolves
// exactly once, whichever path is taken; calling Drain again after
// the Handler has already left Default resolves completion
// immediately (idempotent).
func (h *Handler) Drain(completion *Completion) {
	h.mu.Lock()
	switch h.state {
	case stateDraining, stateErrored:
		h.mu.Unlock()
		completion.Complete()
		return
	}

	if len(h.queue) == 0 {
		h.state = stateErrored
		h.err = poolerrors.ErrConnClosed
		h.mu.Unlock()
		h.log.Debug("pipeline: graceful drain, queue already empty")
		_ = h.closeFn()
		completion.Complete()
		return
	}

	h.state = stateDraining
	h.draining = completion
	h.mu.Unlock()
	h.log.Debug("pipeline: draining")
}

// finishDrain is called once the FIFO empties while Draining. It
// performs the same terminal transition HandleClose would, since the
// drain's whole point was to close the transport once safe to do so.
func (h *Handler) finishDrain(completion *Completion) {
	h.mu.Lock()
	if h.state != stateDraining || len(h.queue) != 0 {
		h.mu.Unlock()
		return
	}
	h.state = stateErrored
	h.err = poolerrors.ErrConnClosed
	h.mu.Unlock()

	_ = h.closeFn()
	completion.Complete()
}

// failLocked transitions to Errored while already holding h.mu and
// releases it before draining the FIFO (which always includes the
// sink whose write just failed). Used by Write's synchronous-failure
// path; the lock is not held on return.
func (h *Handler) failLocked(err error) {
	h.state = stateErrored
	h.err = err
	queue := h.queue
	h.queue = nil
	h.mu.Unlock()

	for _, s := range queue {
		s.Fail(err)
	}
	h.log.WithError(err).Warn("pipeline: write failed")
	_ = h.closeFn()
}
