package siptransport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/room-server-go/internal/call"
)

func newTestStack(t *testing.T) *Stack {
	t.Helper()
	s, err := NewStack(Config{
		ListenAddr:      "127.0.0.1:0",
		AdvertiseHost:   "127.0.0.1",
		Port:            5070,
		Domain:          "rooms.local",
		ConnectFallback: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fakeMedia struct {
	mu      sync.Mutex
	muted   bool
	video   bool
	resets  int
	first   chan struct{}
	remote  []byte
	offerer bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{first: make(chan struct{})}
}

func (f *fakeMedia) Offer() ([]byte, error) {
	f.mu.Lock()
	f.offerer = true
	f.mu.Unlock()
	return []byte("v=0\r\n"), nil
}

func (f *fakeMedia) Answer(offer []byte) ([]byte, error) {
	f.mu.Lock()
	f.remote = offer
	f.mu.Unlock()
	return []byte("v=0\r\n"), nil
}

func (f *fakeMedia) SetRemote(body []byte) error {
	f.mu.Lock()
	f.remote = body
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) Start() <-chan struct{} { return f.first }

func (f *fakeMedia) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeMedia) SetMuted(m bool) {
	f.mu.Lock()
	f.muted = m
	f.mu.Unlock()
}

func (f *fakeMedia) SetVideo(v bool) {
	f.mu.Lock()
	f.video = v
	f.mu.Unlock()
}

func (f *fakeMedia) Close() error { return nil }

func TestTransportLifecycleOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("initialize requires app id", func(t *testing.T) {
		tr := newTestStack(t).NewTransport()
		assert.Error(t, tr.Initialize(ctx, ""))
	})

	t.Run("authenticate before initialize", func(t *testing.T) {
		tr := newTestStack(t).NewTransport()
		assert.ErrorIs(t, tr.Authenticate(ctx, "customer-1", "tok"), ErrNotInitialized)
	})

	t.Run("authenticate requires token", func(t *testing.T) {
		tr := newTestStack(t).NewTransport()
		require.NoError(t, tr.Initialize(ctx, "app"))
		assert.Error(t, tr.Authenticate(ctx, "customer-1", ""))
	})

	t.Run("connect before authenticate", func(t *testing.T) {
		tr := newTestStack(t).NewTransport()
		require.NoError(t, tr.Initialize(ctx, "app"))
		assert.ErrorIs(t, tr.ConnectTransport(ctx), ErrNotAuthenticated)
	})

	t.Run("dial before connect", func(t *testing.T) {
		tr := newTestStack(t).NewTransport()
		_, err := tr.Dial(ctx, "counselor-9", call.DialOptions{Media: newFakeMedia()})
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("connect without registrar and disconnect", func(t *testing.T) {
		tr := newTestStack(t).NewTransport()
		require.NoError(t, tr.Initialize(ctx, "app"))
		require.NoError(t, tr.Authenticate(ctx, "customer-1", "tok"))
		require.NoError(t, tr.ConnectTransport(ctx))
		require.NoError(t, tr.ConnectTransport(ctx))
		assert.NoError(t, tr.DisconnectTransport())
	})
}

func TestTransportDialRejectsForeignMedia(t *testing.T) {
	ctx := context.Background()
	tr := newTestStack(t).NewTransport()
	require.NoError(t, tr.Initialize(ctx, "app"))
	require.NoError(t, tr.Authenticate(ctx, "customer-1", "tok"))
	require.NoError(t, tr.ConnectTransport(ctx))

	_, err := tr.Dial(ctx, "counselor-9", call.DialOptions{Media: nil})
	assert.Error(t, err)
}

func TestTransportListeners(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	first := stack.NewTransport()
	require.NoError(t, first.Initialize(ctx, "app"))
	assert.ErrorIs(t, first.RegisterListener("room-1", call.Listener{}), ErrNotAuthenticated)

	require.NoError(t, first.Authenticate(ctx, "counselor-9", "tok"))
	require.NoError(t, first.RegisterListener("room-1", call.Listener{}))
	require.NoError(t, first.RegisterListener("room-1", call.Listener{}))

	second := stack.NewTransport()
	require.NoError(t, second.Initialize(ctx, "app"))
	require.NoError(t, second.Authenticate(ctx, "counselor-9", "tok"))
	assert.Error(t, second.RegisterListener("room-2", call.Listener{}))

	require.NoError(t, first.RemoveListener("room-1"))
	assert.NoError(t, second.RegisterListener("room-2", call.Listener{}))

	_, ok := stack.listenerFor("counselor-9")
	assert.True(t, ok)
}
