package kahea

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/kahea/internal/signaling"
)

// fakeEngine scripts the engine side of the boundary. Events fire
// synchronously from the calling goroutine, which keeps test interleavings
// deterministic.
type fakeEngine struct {
	mu       sync.Mutex
	handlers signaling.EventHandlers

	// Commands issued by the client, in order.
	commands []string

	// Remaining Start calls that fail before one succeeds. Negative means
	// fail forever.
	startFailures int

	// Registration behavior.
	rejectRegister error // fire RegistrationFailed with this reason
	manualRegister bool  // do not auto-fire Registered
	manualUnregister bool

	connected bool
	invites   int
}

func (e *fakeEngine) SetHandlers(h signaling.EventHandlers) {
	e.mu.Lock()
	e.handlers = h
	e.mu.Unlock()
}

func (e *fakeEngine) snapshot() signaling.EventHandlers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers
}

func (e *fakeEngine) record(cmd string) {
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	e.mu.Unlock()
}

func (e *fakeEngine) commandLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *fakeEngine) count(cmd string) int {
	n := 0
	for _, c := range e.commandLog() {
		if c == cmd {
			n++
		}
	}
	return n
}

func (e *fakeEngine) Start(ctx context.Context) error {
	e.record("start")
	e.mu.Lock()
	if e.startFailures != 0 {
		if e.startFailures > 0 {
			e.startFailures--
		}
		e.mu.Unlock()
		return errors.New("connection refused")
	}
	e.connected = true
	h := e.handlers
	e.mu.Unlock()
	if h.TransportConnected != nil {
		h.TransportConnected()
	}
	return nil
}

func (e *fakeEngine) Register(ctx context.Context) error {
	e.record("register")
	e.mu.Lock()
	reject := e.rejectRegister
	manual := e.manualRegister
	h := e.handlers
	e.mu.Unlock()
	if reject != nil {
		if h.RegistrationFailed != nil {
			h.RegistrationFailed(reject)
		}
		return nil
	}
	if !manual && h.Registered != nil {
		h.Registered()
	}
	return nil
}

func (e *fakeEngine) Unregister(ctx context.Context) error {
	e.record("unregister")
	e.mu.Lock()
	manual := e.manualUnregister
	h := e.handlers
	e.mu.Unlock()
	if !manual && h.Unregistered != nil {
		h.Unregistered()
	}
	return nil
}

func (e *fakeEngine) Disconnect() error {
	e.record("disconnect")
	e.mu.Lock()
	e.connected = false
	h := e.handlers
	e.mu.Unlock()
	if h.TransportDisconnected != nil {
		h.TransportDisconnected(nil)
	}
	return nil
}

func (e *fakeEngine) Invite(ctx context.Context, target string, media signaling.MediaDescription) (signaling.Handle, error) {
	e.record("invite " + target)
	e.mu.Lock()
	e.invites++
	id := fmt.Sprintf("out-%d", e.invites)
	e.mu.Unlock()
	return newFakeHandle(id, target), nil
}

// Test drivers, not part of the Engine interface.

// drop simulates an unexpected transport loss.
func (e *fakeEngine) drop(reason error) {
	e.mu.Lock()
	e.connected = false
	h := e.handlers
	e.mu.Unlock()
	if h.TransportDisconnected != nil {
		h.TransportDisconnected(reason)
	}
}

func (e *fakeEngine) fireRegistered() {
	if h := e.snapshot().Registered; h != nil {
		h()
	}
}

func (e *fakeEngine) fireUnregistered() {
	if h := e.snapshot().Unregistered; h != nil {
		h()
	}
}

func (e *fakeEngine) fireInvite(h signaling.Handle) {
	if f := e.snapshot().Invite; f != nil {
		f(h)
	}
}

// fakeHandle is a scriptable engine call handle. terminate is deliberately
// not idempotent here: the client must tolerate a double report.
type fakeHandle struct {
	id     string
	remote string

	mu           sync.Mutex
	onProgress   func()
	onAnswered   func()
	onTerminated func(error)
	hangups      int
}

func newFakeHandle(id, remote string) *fakeHandle {
	return &fakeHandle{id: id, remote: remote}
}

func (h *fakeHandle) ID() string     { return h.id }
func (h *fakeHandle) Remote() string { return h.remote }

func (h *fakeHandle) Accept(ctx context.Context, media signaling.MediaDescription) error {
	return nil
}

func (h *fakeHandle) Hangup(ctx context.Context) error {
	h.mu.Lock()
	h.hangups++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) OnProgress(f func()) {
	h.mu.Lock()
	h.onProgress = f
	h.mu.Unlock()
}

func (h *fakeHandle) OnAnswered(f func()) {
	h.mu.Lock()
	h.onAnswered = f
	h.mu.Unlock()
}

func (h *fakeHandle) OnTerminated(f func(error)) {
	h.mu.Lock()
	h.onTerminated = f
	h.mu.Unlock()
}

func (h *fakeHandle) ring() {
	h.mu.Lock()
	f := h.onProgress
	h.mu.Unlock()
	if f != nil {
		f()
	}
}

func (h *fakeHandle) answer() {
	h.mu.Lock()
	f := h.onAnswered
	h.mu.Unlock()
	if f != nil {
		f()
	}
}

func (h *fakeHandle) terminate(reason error) {
	h.mu.Lock()
	f := h.onTerminated
	h.mu.Unlock()
	if f != nil {
		f(reason)
	}
}
