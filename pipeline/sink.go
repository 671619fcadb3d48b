// Package pipeline adapts a bidirectional byte stream into a
// request/response channel with strict FIFO pairing: the order
// responses arrive in is the order their requests were written in.
package pipeline

import (
	"sync"

	"github.com/xenking/respool/resp"
)

// Result is the outcome delivered to a Sink: either a decoded value
// or the error that completed the request instead.
type Result struct {
	Value resp.Value
	Err   error
}

// Sink is a one-shot, write-once completion channel with stable
// (pointer) identity, so it can be queued and later completed
// out-of-band. Completing an already-completed Sink is a silent
// no-op — callers on different goroutines (a timeout firing the same
// instant a response arrives) must never observe a second delivery.
type Sink struct {
	once sync.Once
	ch   chan Result
}

// NewSink allocates a ready-to-use Sink.
func NewSink() *Sink {
	return &Sink{ch: make(chan Result, 1)}
}

// Succeed completes the sink with a decoded value.
func (s *Sink) Succeed(v resp.Value) { s.complete(Result{Value: v}) }

// Fail completes the sink with an error.
func (s *Sink) Fail(err error) { s.complete(Result{Err: err}) }

func (s *Sink) complete(r Result) {
	s.once.Do(func() { s.ch <- r })
}

// Wait blocks for the sink's result.
func (s *Sink) Wait() (resp.Value, error) {
	r := <-s.ch
	return r.Value, r.Err
}
