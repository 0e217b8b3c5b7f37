//////////////////////////////////////////////////////////////////////////////
//
// Connection retry loop and reconnect supervision. Attempts within one
// Connect cycle draw from the client's retry budget with jittered
// exponential backoff, covering both transport establishment and the
// registration wait; an unexpected transport loss spawns at most one
// supervision sequence, which cleans up and re-runs the normal Connect path.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package kahea

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/lanikai/kahea/internal/signaling"
)

// connectCycle runs the transport and registration phases as one bounded
// sequence. A transport-level failure in either phase consumes an attempt
// and retries with backoff; a registration rejection or an intentional
// teardown ends the cycle immediately. Each failed attempt is reported to
// the observer with the attempts remaining; reporting never aborts the
// sequence.
func (c *Client) connectCycle(ctx context.Context, eng signaling.Engine) error {
	c.mu.Lock()
	policy := c.config.Reconnect
	budget := c.retryBudget
	c.mu.Unlock()

	if budget <= 0 {
		return errors.Wrap(ErrConnection, "retry budget exhausted")
	}

	for attempt := 1; ; attempt++ {
		err := c.attempt(ctx, eng)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, errClientClosed) {
			// The client is tearing down; don't fight it.
			return err
		}
		var regErr *RegistrationError
		if errors.As(err, &regErr) {
			// The server said no; asking again would not change its mind.
			return err
		}

		c.mu.Lock()
		c.retryBudget--
		remaining := c.retryBudget
		c.mu.Unlock()

		log.Warn("Connection attempt %d failed (%d remaining): %v", attempt, remaining, err)
		if f := c.OnReconnectAttempt; f != nil {
			f(attempt, remaining, err)
		}
		if remaining <= 0 {
			return errors.Wrapf(ErrConnection, "gave up after %d attempts", attempt)
		}

		select {
		case <-time.After(policy.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt performs one transport establishment followed by one registration
// request and waits for each outcome. The transport phase is skipped when a
// previous attempt left the transport up, e.g. after a registration
// rejection. A transport loss while a phase is pending resolves that
// phase's gate with the loss reason; see onTransportDisconnected.
func (c *Client) attempt(ctx context.Context, eng signaling.Engine) error {
	c.mu.Lock()
	up := c.transportConnected
	c.mu.Unlock()

	if !up {
		ready := newPending()
		c.mu.Lock()
		c.transportReady = ready
		c.mu.Unlock()

		err := eng.Start(ctx)
		if err == nil {
			err = ready.wait(ctx)
		}

		c.mu.Lock()
		c.transportReady = nil
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	regWait := newPending()
	c.mu.Lock()
	c.regWait = regWait
	c.mu.Unlock()

	err := eng.Register(ctx)
	if err == nil {
		err = regWait.wait(ctx)
	} else {
		err = errors.Wrap(err, "register")
	}

	c.mu.Lock()
	c.regWait = nil
	c.mu.Unlock()
	return err
}

// superviseReconnect owns the single reconnect sequence triggered by an
// unexpected transport loss. It first disconnects internally to clear
// registration and session bookkeeping, then re-runs the normal Connect
// path, whose transport loop performs the bounded retries. Losses arriving
// while the sequence is active are absorbed by the in-flight attempt rather
// than spawning nested loops.
func (c *Client) superviseReconnect(cause error) {
	log.Warn("Transport lost unexpectedly: %v", cause)
	ctx := context.Background()

	if err := c.Disconnect(ctx); err != nil && err != ErrNotConnected {
		log.Warn("Cleanup disconnect: %v", err)
	}

	err := c.Connect(ctx)

	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()

	if err != nil {
		log.Error("Reconnect failed permanently: %v", err)
		if f := c.OnConnectionFailed; f != nil {
			f(err)
		}
		return
	}
	log.Info("Reconnected")
}

// backoff computes the delay before the next attempt: exponential from
// MinInterval, capped at MaxInterval, with ±25% jitter.
func (p ReconnectPolicy) backoff(attempt int) time.Duration {
	d := p.MinInterval
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxInterval || d <= 0 {
			d = p.MaxInterval
			break
		}
	}
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	return d + jitter
}
