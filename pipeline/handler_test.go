package pipeline

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/xenking/respool/poolerrors"
	"github.com/xenking/respool/resp"
)

type fakeTransport struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (t *fakeTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Write(p)
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func TestHandlerInOrderResponses(t *testing.T) {
	tr := &fakeTransport{}
	h := NewHandler(tr, tr.Close, nil, nil)

	const n = 5
	sinks := make([]*Sink, n)
	for i := 0; i < n; i++ {
		sinks[i] = NewSink()
		if err := h.Write(resp.IntValue(int64(i)), sinks[i]); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		h.HandleValue(resp.IntValue(int64(i)))
	}

	for i := 0; i < n; i++ {
		v, err := sinks[i].Wait()
		if err != nil {
			t.Fatalf("sink %d failed: %v", i, err)
		}
		if v.Int != int64(i) {
			t.Errorf("sink %d resolved to %d, want %d", i, v.Int, i)
		}
	}
}

func TestHandlerTransportErrorDrainsRemaining(t *testing.T) {
	tr := &fakeTransport{}
	h := NewHandler(tr, tr.Close, nil, nil)

	const writes = 5
	const responded = 2
	sinks := make([]*Sink, writes)
	for i := 0; i < writes; i++ {
		sinks[i] = NewSink()
		if err := h.Write(resp.IntValue(int64(i)), sinks[i]); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	for i := 0; i < responded; i++ {
		h.HandleValue(resp.IntValue(int64(i)))
	}

	boom := errors.New("boom")
	h.HandleError(boom)

	for i := 0; i < responded; i++ {
		if _, err := sinks[i].Wait(); err != nil {
			t.Errorf("already-responded sink %d got error %v", i, err)
		}
	}
	for i := responded; i < writes; i++ {
		_, err := sinks[i].Wait()
		if !errors.Is(err, boom) {
			t.Errorf("sink %d err = %v, want %v", i, err, boom)
		}
	}

	// Further writes fail immediately, nothing further is written.
	s := NewSink()
	if err := h.Write(resp.IntValue(99), s); !errors.Is(err, boom) {
		t.Errorf("post-error write err = %v, want %v", err, boom)
	}
	if !tr.isClosed() {
		t.Error("transport should have been closed on transport error")
	}
}

func TestHandlerServerErrorFailsOnlyFrontSink(t *testing.T) {
	tr := &fakeTransport{}
	h := NewHandler(tr, tr.Close, nil, nil)

	a, b := NewSink(), NewSink()
	_ = h.Write(resp.IntValue(1), a)
	_ = h.Write(resp.IntValue(2), b)

	h.HandleValue(resp.ErrValue("ERR boom"))
	h.HandleValue(resp.IntValue(2))

	if _, err := a.Wait(); err == nil {
		t.Fatal("expected server error on first sink")
	} else {
		var se poolerrors.ServerError
		if !errors.As(err, &se) {
			t.Errorf("err = %v, want ServerError", err)
		}
	}
	if v, err := b.Wait(); err != nil || v.Int != 2 {
		t.Errorf("second sink = (%+v, %v), want (2, nil)", v, err)
	}
}

func TestHandlerGracefulDrainEmptyQueueClosesImmediately(t *testing.T) {
	tr := &fakeTransport{}
	h := NewHandler(tr, tr.Close, nil, nil)

	c := NewCompletion()
	h.Drain(c)
	<-c.Done()

	if !tr.isClosed() {
		t.Error("transport should be closed when draining an empty queue")
	}

	s := NewSink()
	if err := h.Write(resp.IntValue(1), s); !errors.Is(err, poolerrors.ErrConnClosed) {
		t.Errorf("write after drain err = %v, want ErrConnClosed", err)
	}
}

func TestHandlerGracefulDrainNonEmptyQueueDrainsThenCloses(t *testing.T) {
	tr := &fakeTransport{}
	h := NewHandler(tr, tr.Close, nil, nil)

	a, b := NewSink(), NewSink()
	_ = h.Write(resp.IntValue(1), a)
	_ = h.Write(resp.IntValue(2), b)

	c := NewCompletion()
	h.Drain(c)

	select {
	case <-c.Done():
		t.Fatal("drain completion resolved before queue emptied")
	default:
	}

	// Writes fail once draining even though the transport isn't closed yet.
	s := NewSink()
	if err := h.Write(resp.IntValue(3), s); !errors.Is(err, poolerrors.ErrConnClosed) {
		t.Errorf("write during drain err = %v, want ErrConnClosed", err)
	}

	h.HandleValue(resp.IntValue(1))
	select {
	case <-c.Done():
		t.Fatal("drain completion resolved before queue emptied")
	default:
	}

	h.HandleValue(resp.IntValue(2))
	<-c.Done()

	if _, err := a.Wait(); err != nil {
		t.Errorf("a: unexpected error %v", err)
	}
	if _, err := b.Wait(); err != nil {
		t.Errorf("b: unexpected error %v", err)
	}
	if !tr.isClosed() {
		t.Error("transport should be closed once the drained queue empties")
	}
}

func TestHandlerDrainIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	h := NewHandler(tr, tr.Close, nil, nil)

	c1 := NewCompletion()
	h.Drain(c1)
	<-c1.Done()

	c2 := NewCompletion()
	h.Drain(c2)
	<-c2.Done()
}
