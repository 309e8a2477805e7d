package waiter

import (
	"context"
	"sync"
)

// Latch is a one-shot event. It starts unset, is Set at most once, and
// stays set: a waiter arriving after Set returns immediately, so there is
// no window for a lost wakeup. Anything written before Set is visible to a
// goroutine whose Wait has returned.
type Latch struct {
	mu   sync.Mutex
	set  bool
	done chan struct{}
}

func (l *Latch) channel() chan struct{} {
	if l.done == nil {
		l.done = make(chan struct{})
	}

	return l.done
}

// Set signals the latch. It reports false if the latch was already set.
func (l *Latch) Set() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.set {
		return false
	}

	l.set = true
	close(l.channel())

	return true
}

func (l *Latch) IsSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.set
}

func (l *Latch) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.channel()
}

// Wait blocks until the latch is set or ctx is done.
func (l *Latch) Wait(ctx context.Context) error {
	select {
	case <-l.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
