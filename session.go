//////////////////////////////////////////////////////////////////////////////
//
// A Session represents one call, inbound or outbound, atop an opaque engine
// call handle. It exposes a small lifecycle state machine and a termination
// notification that fires exactly once.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package kahea

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/lanikai/kahea/internal/signaling"
)

// Direction of a call.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// SessionState is the call lifecycle state.
type SessionState int

const (
	Initiating SessionState = iota
	EarlyMedia
	Established
	Terminating
	Terminated
)

func (s SessionState) String() string {
	switch s {
	case Initiating:
		return "initiating"
	case EarlyMedia:
		return "early-media"
	case Established:
		return "established"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type Session struct {
	id        string
	direction Direction
	media     MediaOptions
	handle    signaling.Handle

	mu    sync.Mutex
	state SessionState
	err   error

	// Closed on the terminal transition.
	done chan struct{}
}

// newSession wraps an engine handle. The handle's id is used when the engine
// supplies one; otherwise we assign our own.
func newSession(handle signaling.Handle, direction Direction, media MediaOptions) *Session {
	id := handle.ID()
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		id:        id,
		direction: direction,
		media:     media,
		handle:    handle,
		state:     Initiating,
		done:      make(chan struct{}),
	}

	handle.OnProgress(func() {
		s.mu.Lock()
		if s.state == Initiating {
			s.state = EarlyMedia
		}
		s.mu.Unlock()
	})
	handle.OnAnswered(func() {
		s.mu.Lock()
		if s.state == Initiating || s.state == EarlyMedia {
			s.state = Established
		}
		s.mu.Unlock()
	})

	return s
}

// ID is the unique session identifier, stable for the session's lifetime.
func (s *Session) ID() string { return s.id }

// Direction reports whether this call was received or dialed.
func (s *Session) Direction() Direction { return s.direction }

// Remote identifies the peer.
func (s *Session) Remote() string { return s.handle.Remote() }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Answer accepts an inbound call with the session's media preferences.
func (s *Session) Answer(ctx context.Context) error {
	if err := s.handle.Accept(ctx, s.media.description()); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == Initiating || s.state == EarlyMedia {
		s.state = Established
	}
	s.mu.Unlock()
	return nil
}

// Hangup ends the call. The terminal transition still arrives through the
// engine's termination notification.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return nil
	}
	if s.state != Terminating {
		s.state = Terminating
	}
	s.mu.Unlock()
	return s.handle.Hangup(ctx)
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended. Nil for a normal hangup; only valid
// after Done.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// terminate performs the terminal transition. Idempotent: returns true only
// for the call that actually moved the session to Terminated, which is what
// guarantees exactly-once registry removal even if the engine reports
// termination twice.
func (s *Session) terminate(reason error) bool {
	s.mu.Lock()
	if s.state == Terminated {
		s.mu.Unlock()
		return false
	}
	s.state = Terminated
	s.err = reason
	s.mu.Unlock()
	close(s.done)
	return true
}
