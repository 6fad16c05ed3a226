package siptransport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/call"
)

var (
	ErrNotInitialized   = errors.New("transport not initialized")
	ErrNotAuthenticated = errors.New("transport not authenticated")
	ErrNotConnected     = errors.New("transport not connected")
)

// Transport is the call.Transport of one room. It registers the room's
// identity on the shared stack.
type Transport struct {
	stack *Stack

	mu         sync.Mutex
	appID      string
	identity   string
	token      string
	connected  bool
	registered bool
}

func (t *Transport) Initialize(ctx context.Context, appID string) error {
	if appID == "" {
		return fmt.Errorf("app id is required")
	}
	t.mu.Lock()
	t.appID = appID
	t.mu.Unlock()
	return nil
}

func (t *Transport) Authenticate(ctx context.Context, identity, token string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.appID == "" {
		return ErrNotInitialized
	}
	if identity == "" || token == "" {
		return fmt.Errorf("identity and token are required")
	}
	t.identity = identity
	t.token = token
	return nil
}

func (t *Transport) ConnectTransport(ctx context.Context) error {
	t.mu.Lock()
	identity, token := t.identity, t.token
	if identity == "" {
		t.mu.Unlock()
		return ErrNotAuthenticated
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.stack.cfg.RequestTimeout)
	defer cancel()
	if err := t.stack.register(ctx, t.stack.endpointFor(identity), token, t.stack.cfg.RegisterExpires); err != nil {
		return err
	}

	t.mu.Lock()
	t.connected = true
	t.registered = t.stack.registrar != nil
	t.mu.Unlock()
	return nil
}

func (t *Transport) DisconnectTransport() error {
	t.mu.Lock()
	identity, token, registered := t.identity, t.token, t.registered
	t.connected = false
	t.registered = false
	t.mu.Unlock()

	if !registered {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.stack.cfg.RequestTimeout)
	defer cancel()
	if err := t.stack.register(ctx, t.stack.endpointFor(identity), token, 0); err != nil {
		log.Warn().Err(err).Str("identity", identity).Msg("SIP unregister failed")
		return err
	}
	return nil
}

func (t *Transport) Dial(ctx context.Context, target string, opts call.DialOptions) (call.CallHandle, error) {
	t.mu.Lock()
	identity, connected := t.identity, t.connected
	t.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}
	return t.stack.dial(ctx, identity, target, opts)
}

func (t *Transport) RegisterListener(name string, l call.Listener) error {
	t.mu.Lock()
	identity := t.identity
	t.mu.Unlock()

	if identity == "" {
		return ErrNotAuthenticated
	}
	return t.stack.addListener(identity, name, l)
}

func (t *Transport) RemoveListener(name string) error {
	t.mu.Lock()
	identity := t.identity
	t.mu.Unlock()

	t.stack.removeListener(identity, name)
	return nil
}
