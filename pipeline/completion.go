package pipeline

import "sync"

// Completion is a one-shot signal with no payload: the graceful-drain
// event and the pool's shutdown both "resolve with success" rather
// than carrying an error, so a closed channel is all they need.
type Completion struct {
	once sync.Once
	ch   chan struct{}
}

// NewCompletion allocates a ready-to-use Completion.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan struct{})}
}

// Done returns a channel closed once Complete has run. Calling
// Complete more than once is safe and has no further effect.
func (c *Completion) Done() <-chan struct{} { return c.ch }

// Complete resolves c. Idempotent.
func (c *Completion) Complete() {
	c.once.Do(func() { close(c.ch) })
}

// Wait blocks until c resolves.
func (c *Completion) Wait() { <-c.ch }
