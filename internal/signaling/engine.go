//////////////////////////////////////////////////////////////////////////////
//
// The signaling Engine is the boundary to the component that performs the
// actual call-signaling protocol work: message exchange with the call
// server, dialog handling, and session description negotiation. The kahea
// client supervises an Engine's lifecycle but never looks below this
// interface.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package signaling

import (
	"context"
	"time"
)

// An Engine maintains one transport to the call server and performs protocol
// work on behalf of the client. All commands are issued by the owning client;
// progress is reported back through the EventHandlers installed with
// SetHandlers before Start.
type Engine interface {
	// Start establishes the underlying transport. Readiness is reported via
	// the TransportConnected handler, not by Start returning.
	Start(ctx context.Context) error

	// Register announces presence to the call server. The outcome arrives
	// via the Registered or RegistrationFailed handler.
	Register(ctx context.Context) error

	// Unregister withdraws the registration. Completion arrives via the
	// Unregistered handler.
	Unregister(ctx context.Context) error

	// Disconnect tears down the transport. The TransportDisconnected
	// handler fires once the transport is actually closed. Safe to call on
	// an already-closed engine.
	Disconnect() error

	// Invite starts an outbound call toward target and returns a Handle for
	// it. Requires a completed registration.
	Invite(ctx context.Context, target string, media MediaDescription) (Handle, error)

	// SetHandlers installs the event callbacks. Must be called before Start.
	SetHandlers(h EventHandlers)
}

// EventHandlers receives engine lifecycle notifications. Nil members are
// skipped. Handlers may be invoked from the engine's own goroutines.
type EventHandlers struct {
	// TransportCreated fires when the engine instantiates a transport,
	// before it is connected.
	TransportCreated      func()
	TransportConnected    func()
	TransportDisconnected func(reason error)
	Registered            func()
	RegistrationFailed    func(reason error)
	Unregistered          func()

	// Invite fires for each inbound call offered by the server.
	Invite func(h Handle)
}

// A Handle is the engine's view of one call, inbound or outbound. It is
// exclusively owned by the session wrapping it.
type Handle interface {
	// ID is the engine-assigned call identifier. May be empty, in which
	// case the owner assigns its own.
	ID() string

	// Remote identifies the peer (caller or callee address).
	Remote() string

	// Accept answers an inbound call with the given media description.
	Accept(ctx context.Context, media MediaDescription) error

	// Hangup ends the call. Termination is still reported through the
	// OnTerminated callback.
	Hangup(ctx context.Context) error

	// OnProgress registers a callback fired when the remote end starts
	// ringing or produces early media.
	OnProgress(f func())

	// OnAnswered registers a callback fired when the remote end answers an
	// outbound call.
	OnAnswered(f func())

	// OnTerminated registers a callback fired exactly once when the call
	// reaches its terminal state. A nil reason means a normal hangup.
	OnTerminated(f func(reason error))
}

// MediaDescription carries the platform's device selection into a call. The
// engine and the media subsystem interpret it; the client passes it through
// opaquely.
type MediaDescription struct {
	InputDevice     string
	OutputDevice    string
	Volume          int
	Mute            bool
	AudioProcessing bool
}

// Options configures an Engine at construction time. Translated from the
// client's Config; the engine never sees the client's reconnect policy.
type Options struct {
	// Candidate signaling server URLs, tried in order.
	Servers []string

	// Account identity presented to the call server.
	User        string
	Credential  string
	URI         string
	DisplayName string

	// Registration lifetime requested from the server.
	Expiry time.Duration

	// ICE servers advertised to the media layer. Opaque to the engine's
	// transport.
	ICEServers []string
}

// NewEngine constructs the Engine implementation. Package variable so that
// tests (and alternative protocol stacks) can substitute their own.
var NewEngine func(opts Options) Engine = func(opts Options) Engine {
	return newWebsocketEngine(opts)
}
