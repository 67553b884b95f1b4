package odm

import (
	"context"
	"sync"
)

// tracker counts in-flight operations so teardown can wait for them.
type tracker struct {
	mu      sync.Mutex
	active  int
	closed  bool
	waiters []chan struct{}
}

// start admits an operation. The returned func must be called when the
// operation finishes, whatever its outcome.
func (t *tracker) start() (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	t.active++

	var once sync.Once
	return func() { once.Do(t.finish) }, nil
}

func (t *tracker) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active--
	if t.active > 0 {
		return
	}
	for _, w := range t.waiters {
		close(w)
	}
	t.waiters = nil
}

// close stops admitting operations.
func (t *tracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// wait blocks until no operation is in flight or ctx is done.
func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if t.active == 0 {
		t.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// inFlight returns the number of running operations.
func (t *tracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
