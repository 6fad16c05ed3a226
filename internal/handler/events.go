package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/service"
	"github.com/counselhub/room-server-go/internal/sse"
)

// Subscriber hands out per-room event streams.
type Subscriber interface {
	Subscribe(roomID string) *sse.Client
	Unsubscribe(client *sse.Client)
}

// Snapshotter returns the current room snapshot sent when a stream opens.
type Snapshotter interface {
	Snapshot(roomID string) (*service.RoomSnapshot, error)
}

type EventsHandler struct {
	broker    Subscriber
	rooms     Snapshotter
	heartbeat time.Duration
}

func NewEventsHandler(broker Subscriber, rooms Snapshotter) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		rooms:     rooms,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/rooms/{roomID}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	snap, err := h.rooms.Snapshot(roomID)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(roomID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("roomId", roomID).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, sse.EventConnected, snap); err != nil {
		log.Debug().Err(err).Str("roomId", roomID).Msg("failed to send initial snapshot")
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("roomId", roomID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("roomId", roomID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Str("roomId", roomID).Msg("failed to send event")
				return
			}
			if event.Type == sse.EventClosed {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("roomId", roomID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
