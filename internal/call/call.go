// Package call defines the contract between the room orchestrator and the
// underlying real-time call capability.
package call

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by MediaDevices when local capture is refused.
// It is never retried automatically.
var ErrPermissionDenied = errors.New("media permission denied")

// Constraints selects which local tracks to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// LocalMedia is the local capture bound to a call. The transport decides how
// to use it; the orchestrator only owns its lifetime.
type LocalMedia interface {
	Close() error
}

type MediaDevices interface {
	Acquire(ctx context.Context, c Constraints) (LocalMedia, error)
}

type DialOptions struct {
	Media LocalMedia
	Video bool
}

type AcceptOptions struct {
	Media LocalMedia
	Video bool
}

// Handlers are the lifecycle callbacks of a single call. Any field may be nil.
type Handlers struct {
	OnEstablished func()
	OnConnected   func()
	OnEnded       func()
}

// Listener receives incoming calls for a registered name.
type Listener struct {
	OnIncoming func(CallHandle)
}

// CallHandle is one dialed or received call.
type CallHandle interface {
	ID() string
	Accept(ctx context.Context, opts AcceptOptions) error
	End() error
	MuteAudio() error
	UnmuteAudio() error
	StopVideo() error
	StartVideo() error
	// SetHandlers replaces the lifecycle callbacks. A handle may replay its
	// latest lifecycle event to the new handlers.
	SetHandlers(h Handlers)
}

type Transport interface {
	Initialize(ctx context.Context, appID string) error
	Authenticate(ctx context.Context, identity, token string) error
	ConnectTransport(ctx context.Context) error
	DisconnectTransport() error
	Dial(ctx context.Context, target string, opts DialOptions) (CallHandle, error)
	RegisterListener(name string, l Listener) error
	RemoveListener(name string) error
}

// Fire runs fn if it is set.
func Fire(fn func()) {
	if fn != nil {
		fn()
	}
}
