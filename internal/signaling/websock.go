//////////////////////////////////////////////////////////////////////////////
//
// Default Engine implementation. Speaks a small JSON frame protocol over a
// single websocket to the call server. One frame per signaling action; the
// read pump dispatches server frames to the installed event handlers.
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package signaling

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/lanikai/kahea/internal/logging"
)

var log = logging.DefaultLogger.WithTag("signaling")

// Frame types exchanged with the call server. Server-to-client frames reuse
// the same structure.
const (
	frameRegister       = "register"
	frameRegistered     = "registered"
	frameRegisterFailed = "register-failed"
	frameUnregister     = "unregister"
	frameUnregistered   = "unregistered"
	frameInvite         = "invite"
	frameRinging        = "ringing"
	frameAnswer         = "answer"
	frameBye            = "bye"
)

type frame struct {
	Type        string      `json:"type"`
	Call        string      `json:"call,omitempty"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
	User        string      `json:"user,omitempty"`
	URI         string      `json:"uri,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Credential  string      `json:"credential,omitempty"`
	Expires     int         `json:"expires,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Media       *mediaFrame `json:"media,omitempty"`
}

type mediaFrame struct {
	InputDevice     string `json:"inputDevice,omitempty"`
	OutputDevice    string `json:"outputDevice,omitempty"`
	Volume          int    `json:"volume,omitempty"`
	Mute            bool   `json:"mute,omitempty"`
	AudioProcessing bool   `json:"audioProcessing,omitempty"`
}

func toMediaFrame(m MediaDescription) *mediaFrame {
	return &mediaFrame{
		InputDevice:     m.InputDevice,
		OutputDevice:    m.OutputDevice,
		Volume:          m.Volume,
		Mute:            m.Mute,
		AudioProcessing: m.AudioProcessing,
	}
}

type websocketEngine struct {
	opts Options

	mu       sync.Mutex
	handlers EventHandlers
	conn     *websocket.Conn
	calls    map[string]*wsHandle
	closing  bool

	// Guards the single TransportDisconnected report per transport
	// generation. Replaced on each Start.
	report *sync.Once
}

func newWebsocketEngine(opts Options) *websocketEngine {
	return &websocketEngine{
		opts:   opts,
		calls:  make(map[string]*wsHandle),
		report: new(sync.Once),
	}
}

func (e *websocketEngine) SetHandlers(h EventHandlers) {
	e.mu.Lock()
	e.handlers = h
	e.mu.Unlock()
}

func (e *websocketEngine) snapshot() EventHandlers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers
}

// Start dials the configured servers in order and begins dispatching frames.
// May be called again after a transport loss or Disconnect.
func (e *websocketEngine) Start(ctx context.Context) error {
	if len(e.opts.Servers) == 0 {
		return errors.New("no signaling servers configured")
	}

	if h := e.snapshot().TransportCreated; h != nil {
		h()
	}

	var conn *websocket.Conn
	var err error
	for _, url := range e.opts.Servers {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			break
		}
		log.Warn("Dial %s: %v", url, err)
	}
	if conn == nil {
		return errors.Wrap(err, "all signaling servers unreachable")
	}

	e.mu.Lock()
	e.conn = conn
	e.closing = false
	e.report = new(sync.Once)
	report := e.report
	e.mu.Unlock()

	if h := e.snapshot().TransportConnected; h != nil {
		h()
	}

	go e.readPump(conn, report)
	return nil
}

// Disconnect closes the transport. The TransportDisconnected handler fires
// from the read pump once the socket is down.
func (e *websocketEngine) Disconnect() error {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.closing = true
	report := e.report
	e.mu.Unlock()

	if conn == nil {
		// Transport never came up (or is already gone). Still report, so
		// the owner's teardown sequencing can proceed.
		report.Do(func() {
			if h := e.snapshot().TransportDisconnected; h != nil {
				h(nil)
			}
		})
		return nil
	}
	return conn.Close()
}

func (e *websocketEngine) Register(ctx context.Context) error {
	return e.write(frame{
		Type:        frameRegister,
		User:        e.opts.User,
		URI:         e.opts.URI,
		DisplayName: e.opts.DisplayName,
		Credential:  e.opts.Credential,
		Expires:     int(e.opts.Expiry.Seconds()),
	})
}

func (e *websocketEngine) Unregister(ctx context.Context) error {
	return e.write(frame{Type: frameUnregister, User: e.opts.User, URI: e.opts.URI})
}

func (e *websocketEngine) Invite(ctx context.Context, target string, media MediaDescription) (Handle, error) {
	h := &wsHandle{
		eng:    e,
		id:     uuid.NewString(),
		remote: target,
	}

	e.mu.Lock()
	e.calls[h.id] = h
	e.mu.Unlock()

	err := e.write(frame{
		Type:  frameInvite,
		Call:  h.id,
		From:  e.opts.URI,
		To:    target,
		Media: toMediaFrame(media),
	})
	if err != nil {
		e.dropCall(h.id)
		return nil, err
	}
	return h, nil
}

func (e *websocketEngine) write(f frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return errors.New("transport not connected")
	}
	return e.conn.WriteJSON(f)
}

func (e *websocketEngine) dropCall(id string) *wsHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.calls[id]
	delete(e.calls, id)
	return h
}

func (e *websocketEngine) lookupCall(id string) *wsHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

// readPump dispatches server frames until the websocket fails or is closed.
// On exit it terminates any outstanding calls and reports the transport loss
// exactly once.
func (e *websocketEngine) readPump(conn *websocket.Conn, report *sync.Once) {
	var reason error
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			e.mu.Lock()
			closing := e.closing
			e.mu.Unlock()
			if !closing {
				reason = err
			}
			break
		}
		e.dispatch(f)
	}

	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	outstanding := make([]*wsHandle, 0, len(e.calls))
	for _, h := range e.calls {
		outstanding = append(outstanding, h)
	}
	e.calls = make(map[string]*wsHandle)
	e.mu.Unlock()

	for _, h := range outstanding {
		h.terminate(errors.New("transport lost"))
	}

	report.Do(func() {
		if h := e.snapshot().TransportDisconnected; h != nil {
			h(reason)
		}
	})
}

func (e *websocketEngine) dispatch(f frame) {
	handlers := e.snapshot()

	switch f.Type {
	case frameRegistered:
		if handlers.Registered != nil {
			handlers.Registered()
		}
	case frameRegisterFailed:
		if handlers.RegistrationFailed != nil {
			handlers.RegistrationFailed(errors.New(f.Reason))
		}
	case frameUnregistered:
		if handlers.Unregistered != nil {
			handlers.Unregistered()
		}
	case frameInvite:
		h := &wsHandle{eng: e, id: f.Call, remote: f.From}
		if h.id == "" {
			h.id = uuid.NewString()
		}
		e.mu.Lock()
		e.calls[h.id] = h
		e.mu.Unlock()
		if handlers.Invite != nil {
			handlers.Invite(h)
		}
	case frameRinging:
		if h := e.lookupCall(f.Call); h != nil {
			h.progress()
		}
	case frameAnswer:
		if h := e.lookupCall(f.Call); h != nil {
			h.answered()
		}
	case frameBye:
		if h := e.dropCall(f.Call); h != nil {
			var reason error
			if f.Reason != "" {
				reason = errors.New(f.Reason)
			}
			h.terminate(reason)
		}
	default:
		log.Warn("Unexpected frame from server: %q", f.Type)
	}
}

// wsHandle is the engine's per-call state. Callback registration and firing
// may race with server frames, hence the mutex.
type wsHandle struct {
	eng    *websocketEngine
	id     string
	remote string

	mu           sync.Mutex
	onProgress   func()
	onAnswered   func()
	onTerminated func(error)
	terminated   bool
}

func (h *wsHandle) ID() string     { return h.id }
func (h *wsHandle) Remote() string { return h.remote }

func (h *wsHandle) Accept(ctx context.Context, media MediaDescription) error {
	return h.eng.write(frame{Type: frameAnswer, Call: h.id, Media: toMediaFrame(media)})
}

func (h *wsHandle) Hangup(ctx context.Context) error {
	err := h.eng.write(frame{Type: frameBye, Call: h.id})
	h.eng.dropCall(h.id)
	h.terminate(nil)
	return err
}

func (h *wsHandle) OnProgress(f func()) {
	h.mu.Lock()
	h.onProgress = f
	h.mu.Unlock()
}

func (h *wsHandle) OnAnswered(f func()) {
	h.mu.Lock()
	h.onAnswered = f
	h.mu.Unlock()
}

func (h *wsHandle) OnTerminated(f func(reason error)) {
	h.mu.Lock()
	h.onTerminated = f
	h.mu.Unlock()
}

func (h *wsHandle) progress() {
	h.mu.Lock()
	f := h.onProgress
	h.mu.Unlock()
	if f != nil {
		f()
	}
}

func (h *wsHandle) answered() {
	h.mu.Lock()
	f := h.onAnswered
	h.mu.Unlock()
	if f != nil {
		f()
	}
}

func (h *wsHandle) terminate(reason error) {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	f := h.onTerminated
	h.mu.Unlock()
	if f != nil {
		f(reason)
	}
}
