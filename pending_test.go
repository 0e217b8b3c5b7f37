package kahea

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPendingSingleResolution(t *testing.T) {
	p := newPending()
	assert.False(t, p.resolved())

	first := errors.New("first")
	p.resolve(first)
	p.resolve(errors.New("second")) // ignored

	err, done := p.outcome()
	assert.True(t, done)
	assert.Equal(t, first, err)
	assert.Equal(t, first, p.wait(context.Background()))
}

func TestPendingSharedOutcome(t *testing.T) {
	p := newPending()
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- p.wait(context.Background()) }()
	}
	p.resolve(nil)
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter never resolved")
		}
	}
}

func TestPendingWaitHonorsContext(t *testing.T) {
	p := newPending()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, p.wait(ctx))

	// A caller giving up does not resolve the gate.
	assert.False(t, p.resolved())
}
