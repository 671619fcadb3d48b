package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// leaseResult is delivered to a waiter exactly once.
type leaseResult struct {
	conn *Conn
	err  error
}

// waiter is a pending leaseConnection call that could not be
// satisfied immediately. It carries a stable identity so it can be
// found and removed from the queue by a timer firing on a different
// goroutine than the one that eventually hands it a connection.
type waiter struct {
	id     string
	result chan leaseResult
	once   sync.Once
	timer  *time.Timer
}

func newWaiter() *waiter {
	return &waiter{id: uuid.NewString(), result: make(chan leaseResult, 1)}
}

// deliver completes the waiter. Guarded by sync.Once so a deadline
// firing the same instant a connection becomes available can never
// double-complete the result channel, even though in practice the
// pool's single event loop already serializes the two paths.
func (w *waiter) deliver(r leaseResult) {
	w.once.Do(func() {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.result <- r
	})
}
