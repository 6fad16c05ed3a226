package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/audit"
	"github.com/counselhub/room-server-go/internal/config"
	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/middleware"
	"github.com/counselhub/room-server-go/internal/model"
	"github.com/counselhub/room-server-go/internal/service"
)

// RoomService is the room registry the handlers drive.
type RoomService interface {
	Join(ctx context.Context, params service.JoinParams) (*service.RoomSnapshot, error)
	Authorize(roomID, bearer string) error
	Snapshot(roomID string) (*service.RoomSnapshot, error)
	ToggleAudio(roomID string) (*service.RoomSnapshot, error)
	ToggleVideo(roomID string) (*service.RoomSnapshot, error)
	Retry(roomID string) (*service.RoomSnapshot, error)
	Accept(roomID string) (*service.RoomSnapshot, error)
	Decline(roomID string) (*service.RoomSnapshot, error)
	DecideExtension(ctx context.Context, roomID, decision string) (*service.RoomSnapshot, error)
	EndSession(ctx context.Context, roomID string, reason model.EndReason) (*service.RoomSnapshot, error)
	Leave(roomID string) error
	History(ctx context.Context, roomID string, limit int) ([]model.RoomEvent, int, error)
}

type RoomHandler struct {
	rooms  RoomService
	events *EventsHandler
}

func NewRoomHandler(rooms RoomService, events *EventsHandler) *RoomHandler {
	return &RoomHandler{rooms: rooms, events: events}
}

func (h *RoomHandler) Routes() chi.Router {
	r := chi.NewRouter()
	timeout := chimiddleware.Timeout(config.ServerRequestTimeout)

	r.With(timeout).Post("/", h.Join)
	r.Route("/{roomID}", func(r chi.Router) {
		r.Use(h.authorize)
		if h.events != nil {
			r.Get("/events", h.events.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Get("/", h.GetRoom)
			r.Delete("/", h.Leave)
			r.Get("/history", h.History)
			r.Post("/audio", h.action(h.rooms.ToggleAudio))
			r.Post("/video", h.action(h.rooms.ToggleVideo))
			r.Post("/retry", h.action(h.rooms.Retry))
			r.Post("/accept", h.action(h.rooms.Accept))
			r.Post("/decline", h.action(h.rooms.Decline))
			r.Post("/end", h.EndSession)
			r.Post("/extension", h.DecideExtension)
		})
	})

	return r
}

type joinRequest struct {
	ReservationID string     `json:"reservationId"`
	Role          model.Role `json:"role"`
}

type extensionRequest struct {
	Decision string `json:"decision"`
}

type endRequest struct {
	Reason model.EndReason `json:"reason"`
}

// POST /v1/rooms
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	snap, err := h.rooms.Join(r.Context(), service.JoinParams{
		ReservationID: req.ReservationID,
		Role:          req.Role,
		BearerToken:   middleware.GetBearerToken(r.Context()),
	})
	if err != nil {
		log.Warn().Err(err).Str("reservationId", req.ReservationID).Str("role", string(req.Role)).Msg("failed to join room")
		writeError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventRoomJoin,
		RoomID:    snap.RoomID,
		SessionID: snap.Session.ID,
		Details:   map[string]interface{}{"mock": snap.Connection.Mock},
	})
	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/rooms/{roomID}
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := h.rooms.Snapshot(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DELETE /v1/rooms/{roomID}
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := h.rooms.Leave(roomID); err != nil {
		writeError(w, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{Type: audit.EventRoomLeave, RoomID: roomID})
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/rooms/{roomID}/end
func (h *RoomHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	// The body is optional; a chunked body still carries the reason.
	var req endRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	snap, err := h.rooms.EndSession(r.Context(), chi.URLParam(r, "roomID"), req.Reason)
	if err != nil {
		log.Error().Err(err).Str("roomId", chi.URLParam(r, "roomID")).Msg("failed to end session")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /v1/rooms/{roomID}/extension
func (h *RoomHandler) DecideExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	snap, err := h.rooms.DecideExtension(r.Context(), chi.URLParam(r, "roomID"), req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GET /v1/rooms/{roomID}/history
func (h *RoomHandler) History(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	page := ParsePagination(r)

	events, total, err := h.rooms.History(r.Context(), roomID, page.Limit)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Msg("failed to load room history")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  page.Limit,
	})
}

func (h *RoomHandler) action(fn func(roomID string) (*service.RoomSnapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := fn(chi.URLParam(r, "roomID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func (h *RoomHandler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if err := h.rooms.Authorize(roomID, middleware.GetBearerToken(r.Context())); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
