package kahea

import (
	"context"
	"sync"
)

// A pending is a single-resolution gate for one connection phase (transport
// ready, registered, unregistered, transport closed). The first resolve wins;
// later resolves are ignored. Any number of goroutines may wait on the same
// gate and observe the same outcome, which is what makes overlapping
// Connect/Disconnect calls idempotent.
type pending struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

// resolve completes the gate. Only the first call has any effect.
func (p *pending) resolve(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// wait blocks until the gate resolves or the context ends. The gate's
// outcome is not affected by a caller giving up.
func (p *pending) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outcome reports whether the gate has resolved, and with what.
func (p *pending) outcome() (error, bool) {
	select {
	case <-p.done:
		return p.err, true
	default:
		return nil, false
	}
}

func (p *pending) resolved() bool {
	_, done := p.outcome()
	return done
}
