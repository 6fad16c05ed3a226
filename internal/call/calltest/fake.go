// Package calltest provides in-memory call.Transport and call.MediaDevices
// implementations that record every invocation.
package calltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/counselhub/room-server-go/internal/call"
)

// Transport is a scripted call.Transport. Error fields are returned by the
// matching method; the Fail*Times counters make a method fail that many times
// before succeeding.
type Transport struct {
	mu sync.Mutex

	InitializeErr   error
	AuthenticateErr error
	ConnectErr      error
	DialErr         error
	RegisterErr     error
	DisconnectErr   error
	RemoveErr       error

	FailConnectTimes int

	// Hook, when set, runs before each method with the method name and
	// without holding the fake's lock.
	Hook func(method string)

	calls     []string
	listeners map[string]call.Listener
	dialed    []*Handle
	nextID    int
}

func NewTransport() *Transport {
	return &Transport{listeners: make(map[string]call.Listener)}
}

func (t *Transport) hook(name string) {
	if t.Hook != nil {
		t.Hook(name)
	}
}

func (t *Transport) record(name string) {
	t.calls = append(t.calls, name)
}

// Calls returns the method names invoked so far, in order.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

// Count returns how many times the named method was invoked.
func (t *Transport) Count(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (t *Transport) Initialize(ctx context.Context, appID string) error {
	t.hook("Initialize")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Initialize")
	return t.InitializeErr
}

func (t *Transport) Authenticate(ctx context.Context, identity, token string) error {
	t.hook("Authenticate")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Authenticate")
	return t.AuthenticateErr
}

func (t *Transport) ConnectTransport(ctx context.Context) error {
	t.hook("ConnectTransport")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("ConnectTransport")
	if t.FailConnectTimes > 0 {
		t.FailConnectTimes--
		return fmt.Errorf("transport unavailable")
	}
	return t.ConnectErr
}

func (t *Transport) DisconnectTransport() error {
	t.hook("DisconnectTransport")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("DisconnectTransport")
	return t.DisconnectErr
}

func (t *Transport) Dial(ctx context.Context, target string, opts call.DialOptions) (call.CallHandle, error) {
	t.hook("Dial")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("Dial")
	if t.DialErr != nil {
		return nil, t.DialErr
	}
	t.nextID++
	h := NewHandle(fmt.Sprintf("out-%d", t.nextID))
	t.dialed = append(t.dialed, h)
	return h, nil
}

func (t *Transport) RegisterListener(name string, l call.Listener) error {
	t.hook("RegisterListener")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("RegisterListener")
	if t.RegisterErr != nil {
		return t.RegisterErr
	}
	t.listeners[name] = l
	return nil
}

func (t *Transport) RemoveListener(name string) error {
	t.hook("RemoveListener")
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("RemoveListener")
	delete(t.listeners, name)
	return t.RemoveErr
}

// LastDialed returns the most recent handle returned by Dial.
func (t *Transport) LastDialed() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.dialed) == 0 {
		return nil
	}
	return t.dialed[len(t.dialed)-1]
}

// Listeners returns the number of registered listeners.
func (t *Transport) Listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

// Ring delivers an incoming call to every registered listener and returns it.
func (t *Transport) Ring() *Handle {
	t.mu.Lock()
	t.nextID++
	h := NewHandle(fmt.Sprintf("in-%d", t.nextID))
	listeners := make([]call.Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		if l.OnIncoming != nil {
			l.OnIncoming(h)
		}
	}
	return h
}

// Handle is a recording call.CallHandle. Tests drive its lifecycle with
// Establish, Connect and RemoteEnd.
type Handle struct {
	mu       sync.Mutex
	id       string
	handlers call.Handlers
	calls    []string

	AcceptErr error
	EndErr    error
}

func NewHandle(id string) *Handle {
	return &Handle{id: id}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) record(name string) {
	h.mu.Lock()
	h.calls = append(h.calls, name)
	h.mu.Unlock()
}

func (h *Handle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *Handle) Count(name string) int {
	n := 0
	for _, c := range h.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (h *Handle) Accept(ctx context.Context, opts call.AcceptOptions) error {
	h.record("Accept")
	return h.AcceptErr
}

func (h *Handle) End() error {
	h.record("End")
	return h.EndErr
}

func (h *Handle) MuteAudio() error   { h.record("MuteAudio"); return nil }
func (h *Handle) UnmuteAudio() error { h.record("UnmuteAudio"); return nil }
func (h *Handle) StopVideo() error   { h.record("StopVideo"); return nil }
func (h *Handle) StartVideo() error  { h.record("StartVideo"); return nil }

func (h *Handle) SetHandlers(handlers call.Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
}

func (h *Handle) current() call.Handlers {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handlers
}

func (h *Handle) Establish() { call.Fire(h.current().OnEstablished) }
func (h *Handle) Connect()   { call.Fire(h.current().OnConnected) }
func (h *Handle) RemoteEnd() { call.Fire(h.current().OnEnded) }

// Devices is a call.MediaDevices that returns Media or Err.
type Devices struct {
	mu       sync.Mutex
	Err      error
	acquired int
	media    []*Media
}

func (d *Devices) Acquire(ctx context.Context, c call.Constraints) (call.LocalMedia, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquired++
	if d.Err != nil {
		return nil, d.Err
	}
	m := &Media{}
	d.media = append(d.media, m)
	return m, nil
}

func (d *Devices) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

// Released reports how many acquired media have been closed.
func (d *Devices) Released() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.media {
		if m.Closed() {
			n++
		}
	}
	return n
}

type Media struct {
	mu     sync.Mutex
	closed int
}

func (m *Media) Close() error {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	return nil
}

func (m *Media) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed > 0
}
