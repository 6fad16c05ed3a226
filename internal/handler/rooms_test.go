package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/middleware"
	"github.com/counselhub/room-server-go/internal/model"
	"github.com/counselhub/room-server-go/internal/room"
	"github.com/counselhub/room-server-go/internal/service"
)

type mockRoomService struct {
	mock.Mock
}

func (m *mockRoomService) snapResult(args mock.Arguments) (*service.RoomSnapshot, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RoomSnapshot), args.Error(1)
}

func (m *mockRoomService) Join(ctx context.Context, params service.JoinParams) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(ctx, params))
}

func (m *mockRoomService) Authorize(roomID, bearer string) error {
	return m.Called(roomID, bearer).Error(0)
}

func (m *mockRoomService) Snapshot(roomID string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(roomID))
}

func (m *mockRoomService) ToggleAudio(roomID string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(roomID))
}

func (m *mockRoomService) ToggleVideo(roomID string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(roomID))
}

func (m *mockRoomService) Retry(roomID string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(roomID))
}

func (m *mockRoomService) Accept(roomID string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(roomID))
}

func (m *mockRoomService) Decline(roomID string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(roomID))
}

func (m *mockRoomService) DecideExtension(ctx context.Context, roomID, decision string) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(ctx, roomID, decision))
}

func (m *mockRoomService) EndSession(ctx context.Context, roomID string, reason model.EndReason) (*service.RoomSnapshot, error) {
	return m.snapResult(m.Called(ctx, roomID, reason))
}

func (m *mockRoomService) Leave(roomID string) error {
	return m.Called(roomID).Error(0)
}

func (m *mockRoomService) History(ctx context.Context, roomID string, limit int) ([]model.RoomEvent, int, error) {
	args := m.Called(ctx, roomID, limit)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]model.RoomEvent), args.Int(1), args.Error(2)
}

func newRoomRouter(svc *mockRoomService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewBearerAuthMiddleware().Handler)
	r.Mount("/v1/rooms", NewRoomHandler(svc, nil).Routes())
	return r
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sampleSnapshot(state room.ConnectionState) *service.RoomSnapshot {
	return &service.RoomSnapshot{
		RoomID:        "customer:res-1",
		ReservationID: "res-1",
		Role:          model.RoleCustomer,
		Session:       &model.Session{ID: "sess-1", ReservationID: "res-1"},
		Connection:    room.Snapshot{State: state, AudioEnabled: true},
	}
}

func TestRoomHandler_Join(t *testing.T) {
	t.Run("joins with the caller's bearer token", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Join", mock.Anything, service.JoinParams{ReservationID: "res-1", Role: model.RoleCustomer, BearerToken: "tok"}).
			Return(sampleSnapshot(room.StateRinging), nil)

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms", `{"reservationId":"res-1","role":"customer"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "customer:res-1", got["roomId"])
		assert.Equal(t, "RINGING", got["connection"].(map[string]any)["state"])
		svc.AssertExpectations(t)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		svc := &mockRoomService{}
		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "Join", mock.Anything, mock.Anything)
	})

	t.Run("maps service errors", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Join", mock.Anything, mock.Anything).Return(nil, apperrors.Unauthorized("Booking service rejected the token"))

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms", `{"reservationId":"res-1","role":"customer"}`)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("requires a bearer token", func(t *testing.T) {
		svc := &mockRoomService{}
		req := httptest.NewRequest(http.MethodPost, "/v1/rooms", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		newRoomRouter(svc).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRoomHandler_Authorization(t *testing.T) {
	svc := &mockRoomService{}
	svc.On("Authorize", "customer:res-1", "tok").Return(apperrors.Forbidden("Room belongs to another session"))

	rec := doRequest(newRoomRouter(svc), http.MethodGet, "/v1/rooms/customer:res-1", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	svc.AssertNotCalled(t, "Snapshot", mock.Anything)
}

func TestRoomHandler_Actions(t *testing.T) {
	tests := []struct {
		path   string
		method string
	}{
		{"/audio", "ToggleAudio"},
		{"/video", "ToggleVideo"},
		{"/retry", "Retry"},
		{"/accept", "Accept"},
		{"/decline", "Decline"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			svc := &mockRoomService{}
			svc.On("Authorize", "customer:res-1", "tok").Return(nil)
			svc.On(tt.method, "customer:res-1").Return(sampleSnapshot(room.StateConnected), nil)

			rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/customer:res-1"+tt.path, "")

			assert.Equal(t, http.StatusOK, rec.Code)
			svc.AssertExpectations(t)
		})
	}

	t.Run("invalid state is a conflict", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Authorize", "customer:res-1", "tok").Return(nil)
		svc.On("Retry", "customer:res-1").Return(nil, apperrors.InvalidState("retry", "CONNECTED"))

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/customer:res-1/retry", "")

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_STATE")
	})
}

func TestRoomHandler_GetRoom(t *testing.T) {
	svc := &mockRoomService{}
	svc.On("Authorize", "customer:res-1", "tok").Return(nil)
	svc.On("Snapshot", "customer:res-1").Return(sampleSnapshot(room.StateWaiting), nil)

	rec := doRequest(newRoomRouter(svc), http.MethodGet, "/v1/rooms/customer:res-1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"WAITING"`)
}

func TestRoomHandler_DecideExtension(t *testing.T) {
	svc := &mockRoomService{}
	svc.On("Authorize", "counselor:res-1", "tok").Return(nil)
	svc.On("DecideExtension", mock.Anything, "counselor:res-1", "continue").Return(sampleSnapshot(room.StateConnected), nil)

	rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/counselor:res-1/extension", `{"decision":"continue"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestRoomHandler_EndSession(t *testing.T) {
	t.Run("with reason", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Authorize", "customer:res-1", "tok").Return(nil)
		svc.On("EndSession", mock.Anything, "customer:res-1", model.EndReasonUserLeft).Return(sampleSnapshot(room.StateIdle), nil)

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/customer:res-1/end", `{"reason":"user_left"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("without body", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Authorize", "customer:res-1", "tok").Return(nil)
		svc.On("EndSession", mock.Anything, "customer:res-1", model.EndReason("")).Return(sampleSnapshot(room.StateIdle), nil)

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/customer:res-1/end", "")

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("chunked body keeps its reason", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Authorize", "customer:res-1", "tok").Return(nil)
		svc.On("EndSession", mock.Anything, "customer:res-1", model.EndReasonUserLeft).Return(sampleSnapshot(room.StateIdle), nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/rooms/customer:res-1/end", io.NopCloser(strings.NewReader(`{"reason":"user_left"}`)))
		req.ContentLength = -1
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		newRoomRouter(svc).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("malformed body", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Authorize", "customer:res-1", "tok").Return(nil)

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/customer:res-1/end", `{"reason":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		svc.AssertNotCalled(t, "EndSession", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("booking failure is a bad gateway", func(t *testing.T) {
		svc := &mockRoomService{}
		svc.On("Authorize", "customer:res-1", "tok").Return(nil)
		svc.On("EndSession", mock.Anything, "customer:res-1", model.EndReason("")).Return(nil, apperrors.External("booking", assert.AnError))

		rec := doRequest(newRoomRouter(svc), http.MethodPost, "/v1/rooms/customer:res-1/end", "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestRoomHandler_Leave(t *testing.T) {
	svc := &mockRoomService{}
	svc.On("Authorize", "customer:res-1", "tok").Return(nil)
	svc.On("Leave", "customer:res-1").Return(nil)

	rec := doRequest(newRoomRouter(svc), http.MethodDelete, "/v1/rooms/customer:res-1", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	svc.AssertExpectations(t)
}

func TestRoomHandler_History(t *testing.T) {
	svc := &mockRoomService{}
	svc.On("Authorize", "customer:res-1", "tok").Return(nil)
	events := []model.RoomEvent{{ID: "e1", RoomID: "customer:res-1", Kind: model.RoomEventStateChange}}
	svc.On("History", mock.Anything, "customer:res-1", 10).Return(events, 1, nil)

	rec := doRequest(newRoomRouter(svc), http.MethodGet, "/v1/rooms/customer:res-1/history?limit=10", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Events []model.RoomEvent `json:"events"`
		Total  int               `json:"total"`
		Limit  int               `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Events, 1)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 10, got.Limit)
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", DefaultLimit},
		{"limit=20", 20},
		{"limit=0", DefaultLimit},
		{"limit=-3", DefaultLimit},
		{"limit=1000", DefaultLimit},
		{"limit=abc", DefaultLimit},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		assert.Equal(t, tt.want, ParsePagination(req).Limit, tt.query)
	}
}
