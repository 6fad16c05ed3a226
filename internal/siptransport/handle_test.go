package siptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/room-server-go/internal/call"
)

type events struct {
	ch chan string
}

func newEvents() *events {
	return &events{ch: make(chan string, 16)}
}

func (e *events) handlers() call.Handlers {
	return call.Handlers{
		OnEstablished: func() { e.ch <- "established" },
		OnConnected:   func() { e.ch <- "connected" },
		OnEnded:       func() { e.ch <- "ended" },
	}
}

func (e *events) next(t *testing.T) string {
	t.Helper()
	select {
	case ev := <-e.ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return ""
	}
}

func (e *events) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-e.ch:
		t.Fatalf("unexpected event %q", ev)
	default:
	}
}

func TestHandleAdvance(t *testing.T) {
	stack := newTestStack(t)

	t.Run("fires each status once and in order", func(t *testing.T) {
		h := newHandle(stack, "c1", true, testLocal)
		ev := newEvents()
		h.SetHandlers(ev.handlers())

		h.advance(statusEstablished)
		h.advance(statusEstablished)
		h.advance(statusConnected)
		h.advance(statusEstablished)
		h.advance(statusEnded)
		h.advance(statusEnded)

		assert.Equal(t, "established", ev.next(t))
		assert.Equal(t, "connected", ev.next(t))
		assert.Equal(t, "ended", ev.next(t))
		ev.none(t)
	})

	t.Run("set handlers replays latest status", func(t *testing.T) {
		h := newHandle(stack, "c2", true, testLocal)
		h.advance(statusConnected)

		ev := newEvents()
		h.SetHandlers(ev.handlers())
		assert.Equal(t, "connected", ev.next(t))
		ev.none(t)
	})

	t.Run("pending handle replays nothing", func(t *testing.T) {
		h := newHandle(stack, "c3", true, testLocal)
		ev := newEvents()
		h.SetHandlers(ev.handlers())
		ev.none(t)
	})

	t.Run("remote end forgets the call and resets media", func(t *testing.T) {
		h := newHandle(stack, "c4", true, testLocal)
		m := newFakeMedia()
		h.media = m
		stack.track(h)

		h.advance(statusEnded)

		_, ok := stack.lookup("c4")
		assert.False(t, ok)
		assert.Equal(t, 1, m.resets)
	})
}

func TestHandleWatchMedia(t *testing.T) {
	stack := newTestStack(t)

	t.Run("first packet connects", func(t *testing.T) {
		h := newHandle(stack, "w1", true, testLocal)
		ev := newEvents()
		h.SetHandlers(ev.handlers())
		m := newFakeMedia()

		go h.watchMedia(m)
		close(m.first)
		assert.Equal(t, "connected", ev.next(t))
	})

	t.Run("silent remote connects after fallback", func(t *testing.T) {
		h := newHandle(stack, "w2", true, testLocal)
		ev := newEvents()
		h.SetHandlers(ev.handlers())

		go h.watchMedia(newFakeMedia())
		assert.Equal(t, "connected", ev.next(t))
	})

	t.Run("ended call stops watching", func(t *testing.T) {
		h := newHandle(stack, "w3", true, testLocal)
		require.NoError(t, h.End())

		ev := newEvents()
		done := make(chan struct{})
		go func() {
			h.watchMedia(newFakeMedia())
			close(done)
		}()
		<-done
		h.SetHandlers(call.Handlers{OnConnected: func() { ev.ch <- "connected" }})
		ev.none(t)
	})
}

func TestHandleMediaControls(t *testing.T) {
	stack := newTestStack(t)

	h := newHandle(stack, "m1", true, testLocal)
	assert.Error(t, h.MuteAudio())

	m := newFakeMedia()
	h.media = m

	require.NoError(t, h.MuteAudio())
	assert.True(t, m.muted)
	require.NoError(t, h.UnmuteAudio())
	assert.False(t, m.muted)
	require.NoError(t, h.StartVideo())
	assert.True(t, m.video)
	require.NoError(t, h.StopVideo())
	assert.False(t, m.video)

	require.NoError(t, h.End())
	assert.ErrorIs(t, h.MuteAudio(), ErrCallEnded)
	assert.NoError(t, h.End())
}

func TestHandleOutboundEndBeforeAnswer(t *testing.T) {
	stack := newTestStack(t)

	h := newHandle(stack, "o1", true, testLocal)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancelDial = cancel
	ev := newEvents()
	h.SetHandlers(ev.handlers())

	require.NoError(t, h.End())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	ev.none(t)
}

func TestHandleAcceptRejectsOutbound(t *testing.T) {
	stack := newTestStack(t)
	h := newHandle(stack, "o2", true, testLocal)
	assert.Error(t, h.Accept(context.Background(), call.AcceptOptions{Media: newFakeMedia()}))
}
