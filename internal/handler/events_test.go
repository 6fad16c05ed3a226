package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/room"
	"github.com/counselhub/room-server-go/internal/service"
	"github.com/counselhub/room-server-go/internal/sse"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	client       *sse.Client
	unsubscribed int
}

func newFakeSubscriber(events ...sse.Event) *fakeSubscriber {
	client := &sse.Client{Events: make(chan sse.Event, len(events)+1), Done: make(chan struct{})}
	for _, e := range events {
		client.Events <- e
	}
	return &fakeSubscriber{client: client}
}

func (f *fakeSubscriber) Subscribe(roomID string) *sse.Client {
	f.client.RoomID = roomID
	return f.client
}

func (f *fakeSubscriber) Unsubscribe(client *sse.Client) {
	f.mu.Lock()
	f.unsubscribed++
	f.mu.Unlock()
}

type fakeSnapshotter struct {
	snap *service.RoomSnapshot
	err  error
}

func (f *fakeSnapshotter) Snapshot(roomID string) (*service.RoomSnapshot, error) {
	return f.snap, f.err
}

func serveEvents(h *EventsHandler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/v1/rooms/{roomID}/events", h.ServeHTTP)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEventsHandler_ServeHTTP(t *testing.T) {
	t.Run("unknown room is 404", func(t *testing.T) {
		h := NewEventsHandler(newFakeSubscriber(), &fakeSnapshotter{err: apperrors.NotFound("Room")})

		rec := serveEvents(h, "/v1/rooms/customer:missing/events")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("streams snapshot then room events until closed", func(t *testing.T) {
		state, err := sse.NewEvent(sse.EventState, room.Snapshot{Seq: 3, State: room.StateConnected})
		require.NoError(t, err)
		closed, err := sse.NewEvent(sse.EventClosed, map[string]string{"reason": "left"})
		require.NoError(t, err)

		sub := newFakeSubscriber(state, closed)
		snap := &service.RoomSnapshot{RoomID: "customer:res-1", Connection: room.Snapshot{State: room.StateRinging}}
		h := NewEventsHandler(sub, &fakeSnapshotter{snap: snap})

		rec := serveEvents(h, "/v1/rooms/customer:res-1/events")

		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "customer:res-1", sub.client.RoomID)
		assert.Equal(t, 1, sub.unsubscribed)

		body := rec.Body.String()
		first := strings.Index(body, "event: connected\n")
		second := strings.Index(body, "event: state\n")
		third := strings.Index(body, "event: closed\n")
		require.GreaterOrEqual(t, first, 0)
		assert.Greater(t, second, first)
		assert.Greater(t, third, second)
		assert.Contains(t, body, `"state":"RINGING"`)
		assert.Contains(t, body, `"state":"CONNECTED"`)
	})

	t.Run("broker shutdown ends the stream", func(t *testing.T) {
		sub := newFakeSubscriber()
		close(sub.client.Done)
		h := NewEventsHandler(sub, &fakeSnapshotter{snap: &service.RoomSnapshot{RoomID: "counselor:res-1"}})

		rec := serveEvents(h, "/v1/rooms/counselor:res-1/events")

		assert.Contains(t, rec.Body.String(), "event: connected\n")
		assert.Equal(t, 1, sub.unsubscribed)
	})
}

func TestEventsHandler_sendEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	err := handler.sendEvent(rec, rec, sse.EventTimer, map[string]any{"phase": "grace"})

	assert.NoError(t, err)
	body := rec.Body.String()
	assert.Contains(t, body, "event: timer\n")
	assert.Contains(t, body, `data: {"phase":"grace"}`)
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestEventsHandler_sendRawEvent(t *testing.T) {
	handler := &EventsHandler{}
	rec := httptest.NewRecorder()

	event := sse.Event{Type: sse.EventExtension, Data: json.RawMessage(`{"decision":"pending"}`)}
	err := handler.sendRawEvent(rec, rec, event)

	assert.NoError(t, err)
	assert.Equal(t, "event: extension\ndata: {\"decision\":\"pending\"}\n\n", rec.Body.String())
}
