//////////////////////////////////////////////////////////////////////////////
//
// Client supervises the lifecycle of one signaling engine: transport connect,
// registration, graceful unregistration and disconnect, and automatic
// reconnection after unexpected transport loss. It is also the sole entry
// point that creates Sessions, inbound or outbound, and keeps the session
// registry consistent with connection state.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package kahea

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/kahea/internal/logging"
	"github.com/lanikai/kahea/internal/signaling"
)

var log = logging.DefaultLogger.WithTag("kahea")

var errTransportClosed = errors.New("transport closed")

type Client struct {
	// Callback when an inbound call has been accepted into the registry.
	OnIncomingSession func(*Session)

	// Callback for each failed connection attempt: attempt number within
	// the current sequence, attempts remaining in the budget, and the
	// failure. Reporting an attempt never aborts the sequence.
	OnReconnectAttempt func(attempt, remaining int, err error)

	// Callback when reconnect supervision exhausts its budget. The client
	// makes no further attempts after this.
	OnConnectionFailed func(err error)

	mu     sync.Mutex
	config Config
	engine signaling.Engine

	sessions *registry

	// Phase gates. transportReady and regWait are per-attempt, replaced by
	// the retry loop; the rest are per-cycle, shared by overlapping calls
	// instead of starting duplicate work.
	transportReady  *pending
	regWait         *pending
	registered      *pending
	unregistered    *pending
	disconnecting   *pending
	transportClosed *pending

	transportConnected bool
	isRegistered       bool
	reconnecting       bool
	closing            bool

	// Remaining connection attempts. Restored after each successful
	// registration unless the policy preserves a single lifetime budget.
	retryBudget int
}

// New creates a Client. The engine is not constructed until the first
// Connect.
func New(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()
	return &Client{
		config:      config,
		sessions:    newRegistry(),
		retryBudget: config.Reconnect.MaxAttempts,
	}, nil
}

// Must is a helper that wraps a call to New and panics if the error is
// non-nil. It is intended for use in variable initializations such as
//	var client = kahea.Must(kahea.New(config))
func Must(c *Client, err error) *Client {
	if err != nil {
		panic(err)
	}
	return c
}

// Connect establishes the transport and registers with the call server.
// Idempotent under concurrent invocation: while a registration cycle is in
// flight (or completed), additional calls share its outcome. Returns
// ErrConnection (wrapped) when a registered connection cannot be reached
// within the retry budget, or a RegistrationError when the server rejects
// the registration.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()

	// A teardown still in flight, unregistration included, must fully
	// finish before a new cycle starts. Waiting on the unregistered gate
	// alone would let this call observe the dying cycle's state before
	// Disconnect has cleared it. Not an error, but worth noticing.
	if p := c.disconnecting; p != nil && !p.resolved() {
		c.mu.Unlock()
		log.Warn("Connect while disconnect in flight; waiting")
		p.wait(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
	}

	// At most one registration cycle runs at a time.
	if p := c.registered; p != nil {
		c.mu.Unlock()
		return p.wait(ctx)
	}

	reg := newPending()
	c.registered = reg
	if c.engine == nil {
		eng := signaling.NewEngine(c.config.engineOptions())
		eng.SetHandlers(c.handlers())
		c.engine = eng
	}
	eng := c.engine
	c.mu.Unlock()

	if err := c.runConnect(ctx, eng); err != nil {
		c.mu.Lock()
		if c.registered == reg {
			c.registered = nil
		}
		c.mu.Unlock()
		// Concurrent callers waiting on this cycle see the same outcome.
		reg.resolve(err)
		return err
	}
	reg.resolve(nil)
	return nil
}

// runConnect drives one registration cycle through the bounded retry loop,
// then restores the attempt budget per policy.
func (c *Client) runConnect(ctx context.Context, eng signaling.Engine) error {
	if err := c.connectCycle(ctx, eng); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.config.Reconnect.PreserveBudget {
		c.retryBudget = c.config.Reconnect.MaxAttempts
	}
	c.reconnecting = false
	c.mu.Unlock()
	log.Info("Registered as %s", c.config.Account.URI)
	return nil
}

// Disconnect unregisters (when registered) and tears down the transport, in
// that order. The ordering is mandatory: skipping unregistration leaves
// server-side state behind. Idempotent under concurrent invocation. Returns
// ErrNotConnected when no engine exists.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.engine == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if p := c.disconnecting; p != nil {
		c.mu.Unlock()
		return p.wait(ctx)
	}
	disc := newPending()
	c.disconnecting = disc

	// Transport drops from here on are expected, not triggers for
	// reconnect supervision.
	c.closing = true
	eng := c.engine
	c.mu.Unlock()

	err := c.teardown(ctx, eng)

	// Sessions cannot outlive the connection.
	for _, s := range c.sessions.drain() {
		s.terminate(errClientClosed)
	}

	c.mu.Lock()
	c.engine = nil
	c.registered = nil
	c.transportReady = nil
	c.regWait = nil
	c.unregistered = nil
	c.transportClosed = nil
	c.disconnecting = nil
	c.closing = false
	c.transportConnected = false
	c.isRegistered = false
	c.mu.Unlock()

	// Detach listeners; the engine reference is gone.
	eng.SetHandlers(signaling.EventHandlers{})

	disc.resolve(err)
	return err
}

func (c *Client) teardown(ctx context.Context, eng signaling.Engine) error {
	c.mu.Lock()
	var unreg *pending
	if c.isRegistered {
		unreg = newPending()
		c.unregistered = unreg
	}
	c.mu.Unlock()

	// Unregistration completes (or fails) strictly before the transport
	// goes away.
	if unreg != nil {
		if err := eng.Unregister(ctx); err != nil {
			log.Warn("Unregister: %v", err)
			unreg.resolve(err)
		}
		if err := unreg.wait(ctx); err != nil {
			log.Warn("Unregistration did not complete cleanly: %v", err)
		}
		c.mu.Lock()
		c.isRegistered = false
		c.mu.Unlock()
	}

	c.mu.Lock()
	var closed *pending
	if c.transportConnected {
		closed = newPending()
		c.transportClosed = closed
	}
	c.mu.Unlock()

	if err := eng.Disconnect(); err != nil {
		log.Warn("Engine disconnect: %v", err)
	}
	if closed != nil {
		return closed.wait(ctx)
	}
	return nil
}

// Reconfigure is equivalent to Disconnect, swap configuration, Connect. Not
// safe against concurrent independent Connect/Disconnect calls; callers must
// serialize.
func (c *Client) Reconfigure(ctx context.Context, config Config) error {
	if err := config.validate(); err != nil {
		return err
	}
	if err := c.Disconnect(ctx); err != nil && err != ErrNotConnected {
		return err
	}

	c.mu.Lock()
	c.config = config.withDefaults()
	c.retryBudget = c.config.Reconnect.MaxAttempts
	c.mu.Unlock()

	return c.Connect(ctx)
}

// Invite dials an outbound call. Requires a completed registration: an
// in-flight one does not count, so callers must await Connect first. A nil
// opts uses the configured media preferences.
func (c *Client) Invite(ctx context.Context, target string, opts *MediaOptions) (*Session, error) {
	c.mu.Lock()
	reg := c.registered
	eng := c.engine
	media := c.config.Media
	c.mu.Unlock()

	if opts != nil {
		media = *opts
	}
	if reg == nil || eng == nil {
		return nil, ErrNotRegistered
	}
	if err, done := reg.outcome(); !done || err != nil {
		return nil, ErrNotRegistered
	}

	handle, err := eng.Invite(ctx, target, media.description())
	if err != nil {
		return nil, errors.Wrapf(err, "invite %s", target)
	}

	s := newSession(handle, Outbound, media)
	c.sessions.add(s)
	handle.OnTerminated(func(reason error) {
		c.finishSession(s, reason)
	})
	log.Info("Outbound call %s to %s", s.ID(), target)
	return s, nil
}

// Sessions returns a snapshot of the active sessions.
func (c *Client) Sessions() []*Session {
	return c.sessions.all()
}

// Session looks up an active session by id. Nil if terminated or unknown.
func (c *Client) Session(id string) *Session {
	return c.sessions.get(id)
}

// Connected reports whether the transport is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transportConnected
}

// Registered reports whether a registration is currently in effect.
func (c *Client) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRegistered
}

// Reconnecting reports whether a supervised reconnect sequence is active.
func (c *Client) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

func (c *Client) handlers() signaling.EventHandlers {
	return signaling.EventHandlers{
		TransportCreated:      func() { log.Debug("Transport created") },
		TransportConnected:    c.onTransportConnected,
		TransportDisconnected: c.onTransportDisconnected,
		Registered:            c.onRegistered,
		RegistrationFailed:    c.onRegistrationFailed,
		Unregistered:          c.onUnregistered,
		Invite:                c.onInvite,
	}
}

func (c *Client) onTransportConnected() {
	c.mu.Lock()
	c.transportConnected = true
	ready := c.transportReady
	c.mu.Unlock()
	if ready != nil {
		ready.resolve(nil)
	}
}

// onTransportDisconnected classifies a transport loss. A loss while a
// connect cycle is in flight fails the pending attempt, which the cycle's
// retry loop absorbs; a loss during teardown is expected; anything else is
// an unexpected drop that spawns exactly one supervision loop.
func (c *Client) onTransportDisconnected(reason error) {
	if reason == nil {
		reason = errTransportClosed
	}

	c.mu.Lock()
	c.transportConnected = false
	c.isRegistered = false
	ready := c.transportReady
	regWait := c.regWait
	reg := c.registered
	unreg := c.unregistered
	closed := c.transportClosed

	// A drop while the client is tearing down intentionally must end the
	// in-flight attempt, not send it back into the retry loop.
	phaseErr := reason
	if c.closing {
		phaseErr = errClientClosed
	}

	// A pending outcome gate means a Connect cycle is in flight; the loss
	// belongs to that cycle's retry loop, not to supervision.
	inFlight := reg != nil && !reg.resolved()
	supervise := false
	if !inFlight && closed == nil && !c.closing && !c.reconnecting {
		c.reconnecting = true
		supervise = true
	}
	c.mu.Unlock()

	// Fail whatever phase was waiting on the transport. All resolves are
	// idempotent.
	if ready != nil {
		ready.resolve(phaseErr)
	}
	if regWait != nil {
		regWait.resolve(phaseErr)
	}
	if unreg != nil {
		unreg.resolve(reason)
	}
	if closed != nil {
		closed.resolve(nil)
	}

	if supervise {
		go c.superviseReconnect(reason)
	}
}

func (c *Client) onRegistered() {
	c.mu.Lock()
	c.isRegistered = true
	regWait := c.regWait
	c.mu.Unlock()
	if regWait != nil {
		regWait.resolve(nil)
	}
}

func (c *Client) onRegistrationFailed(reason error) {
	c.mu.Lock()
	regWait := c.regWait
	c.mu.Unlock()
	if regWait != nil {
		regWait.resolve(&RegistrationError{Reason: reason})
	}
}

func (c *Client) onUnregistered() {
	c.mu.Lock()
	c.isRegistered = false
	unreg := c.unregistered
	c.mu.Unlock()
	if unreg != nil {
		unreg.resolve(nil)
	}
}

func (c *Client) onInvite(h signaling.Handle) {
	c.mu.Lock()
	media := c.config.Media
	c.mu.Unlock()

	s := newSession(h, Inbound, media)
	c.sessions.add(s)
	h.OnTerminated(func(reason error) {
		c.finishSession(s, reason)
	})

	log.Info("Incoming call %s from %s", s.ID(), s.Remote())
	if f := c.OnIncomingSession; f != nil {
		f(s)
	}
}

// finishSession removes a terminated session from the registry. The terminal
// transition happens at most once, so removal does too, even if the engine
// reports termination twice.
func (c *Client) finishSession(s *Session, reason error) {
	if s.terminate(reason) {
		c.sessions.remove(s.ID())
		log.Debug("Session %s ended: %v", s.ID(), reason)
	}
}
