package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/audit"
	"github.com/counselhub/room-server-go/internal/call"
	"github.com/counselhub/room-server-go/internal/clock"
	"github.com/counselhub/room-server-go/internal/database"
	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/extension"
	"github.com/counselhub/room-server-go/internal/model"
	"github.com/counselhub/room-server-go/internal/repository"
	"github.com/counselhub/room-server-go/internal/room"
	"github.com/counselhub/room-server-go/internal/sse"
	"github.com/counselhub/room-server-go/internal/timer"
	"github.com/counselhub/room-server-go/internal/util"
)

const eventWriteTimeout = 5 * time.Second

// Booking is the per-user view of the booking service: session metadata,
// call credentials and the session lifecycle.
type Booking interface {
	GetSession(ctx context.Context, reservationID string) (*model.Session, error)
	FetchCredentials(ctx context.Context, role model.Role, reservationID string) (*model.CallCredentials, error)
	room.Lifecycle
	extension.Lifecycle
}

// BookingFactory returns a Booking acting on behalf of the bearer token.
type BookingFactory func(bearerToken string) Booking

// TransportFactory returns a fresh call transport for one room.
type TransportFactory func() call.Transport

// Publisher pushes room events to subscribed clients.
type Publisher interface {
	Publish(ctx context.Context, roomID string, event sse.Event) error
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// Watchers reports how many clients are streaming a room's events.
type Watchers interface {
	ClientCount(roomID string) int
}

type RoomServiceConfig struct {
	DialTimeout time.Duration
	GracePeriod time.Duration
	Thresholds  []time.Duration
	Video       bool
	Clock       clock.Clock
	// Watchers keeps streamed rooms out of idle reaping. Optional.
	Watchers Watchers
}

type JoinParams struct {
	ReservationID string     `json:"reservationId"`
	Role          model.Role `json:"role"`
	BearerToken   string     `json:"-"`
}

// RoomSnapshot is everything a client needs to render a room.
type RoomSnapshot struct {
	RoomID        string             `json:"roomId"`
	ReservationID string             `json:"reservationId"`
	Role          model.Role         `json:"role"`
	Session       *model.Session     `json:"session"`
	Connection    room.Snapshot      `json:"connection"`
	Timer         *timer.State       `json:"timer,omitempty"`
	Extension     extension.Snapshot `json:"extension"`
}

type activeRoom struct {
	id            string
	reservationID string
	role          model.Role
	session       *model.Session

	timer *timer.Timer
	ext   *extension.Extender

	// mountMu serializes credential refetches on rejoin.
	mountMu sync.Mutex

	mu           sync.Mutex
	orch         *room.Orchestrator
	ownerHash    string
	lastSeq      uint64
	lastState    room.ConnectionState
	timerStarted bool
	lastActive   time.Time
	closed       bool
	unsubscribe  func()
}

type RoomService struct {
	cfg        RoomServiceConfig
	booking    BookingFactory
	transports TransportFactory
	devices    call.MediaDevices
	events     repository.RoomEventRepository
	tx         TxRunner
	publisher  Publisher
	clock      clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	rooms map[string]*activeRoom
}

func NewRoomService(
	cfg RoomServiceConfig,
	booking BookingFactory,
	transports TransportFactory,
	devices call.MediaDevices,
	events repository.RoomEventRepository,
	tx TxRunner,
	publisher Publisher,
) *RoomService {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomService{
		cfg:        cfg,
		booking:    booking,
		transports: transports,
		devices:    devices,
		events:     events,
		tx:         tx,
		publisher:  publisher,
		clock:      c,
		ctx:        ctx,
		cancel:     cancel,
		rooms:      make(map[string]*activeRoom),
	}
}

// RoomID is the registry key of a reservation joined in a role.
func RoomID(role model.Role, reservationID string) string {
	return fmt.Sprintf("%s:%s", role, reservationID)
}

// Join mounts the room for a reservation, or returns the existing one.
func (s *RoomService) Join(ctx context.Context, params JoinParams) (*RoomSnapshot, error) {
	if params.ReservationID == "" {
		return nil, apperrors.MissingRequired("reservationId")
	}
	if !params.Role.Valid() {
		return nil, apperrors.InvalidInput("role", "must be customer or counselor")
	}
	if params.BearerToken == "" {
		return nil, apperrors.Unauthorized("Missing bearer token")
	}

	id := RoomID(params.Role, params.ReservationID)
	bk := s.booking(params.BearerToken)
	if r := s.lookup(id); r != nil {
		return s.rejoin(ctx, r, bk, params.BearerToken)
	}

	session, err := bk.GetSession(ctx, params.ReservationID)
	if err != nil {
		return nil, err
	}

	creds, err := bk.FetchCredentials(ctx, params.Role, params.ReservationID)
	if err != nil {
		log.Warn().Err(err).
			Str("roomId", id).
			Str("reservationId", params.ReservationID).
			Msg("Failed to fetch call credentials, falling back to preview mode")
		creds = nil
	}

	r := &activeRoom{
		id:            id,
		reservationID: params.ReservationID,
		role:          params.Role,
		session:       session,
		ownerHash:     util.HashToken(params.BearerToken),
		lastState:     room.StateIdle,
		lastActive:    s.clock.Now(),
	}

	orch := s.newOrchestrator(r, creds, bk)
	r.orch = orch

	r.ext = extension.New(bk, session.ID, extension.Hooks{
		OnOffer:    func(next model.NextBooking) { s.onExtensionOffer(r, next) },
		OnExtended: func(ext model.Extension) { s.onExtended(r, ext) },
		OnEnded:    func(reason model.EndReason) { s.onSessionEnded(r, reason) },
	})

	r.timer = timer.New(s.clock, timer.Config{
		Start:      session.ScheduledStart,
		Duration:   creds.EffectiveDuration(session),
		Grace:      s.cfg.GracePeriod,
		Thresholds: s.cfg.Thresholds,
	}, timer.Callbacks{
		OnTick:         func(st timer.State) { s.publish(r.id, sse.EventTimer, st) },
		OnThreshold:    func(th time.Duration, st timer.State) { s.onThreshold(r, th, st) },
		OnTimeUp:       func(st timer.State) { s.onTimeUp(r, st) },
		OnGraceExpired: func(st timer.State) { s.onGraceExpired(r, st) },
	})

	r.unsubscribe = orch.Subscribe(func(snap room.Snapshot) { s.onSnapshot(r, orch, snap) })

	s.mu.Lock()
	if existing, ok := s.rooms[id]; ok {
		s.mu.Unlock()
		r.unsubscribe()
		return s.snapshot(existing), nil
	}
	s.rooms[id] = r
	s.mu.Unlock()

	if err := orch.Start(s.ctx); err != nil {
		s.remove(r)
		orch.Close()
		return nil, err
	}

	log.Info().
		Str("roomId", id).
		Str("reservationId", params.ReservationID).
		Str("sessionId", session.ID).
		Bool("mock", creds.IsMock()).
		Msg("Room joined")

	return s.snapshot(r), nil
}

// rejoin hands an existing room to a caller whose token the booking service
// accepts for the same reservation.
func (s *RoomService) rejoin(ctx context.Context, r *activeRoom, bk Booking, bearer string) (*RoomSnapshot, error) {
	hash := util.HashToken(bearer)
	r.mu.Lock()
	same := util.ConstantTimeEqual(r.ownerHash, hash)
	r.mu.Unlock()

	if !same {
		if _, err := bk.GetSession(ctx, r.reservationID); err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.ownerHash = hash
		r.mu.Unlock()
		log.Info().Str("roomId", r.id).Msg("Room rejoined with a new token")
	}
	r.touch(s.clock.Now())

	if r.orchestrator().Snapshot().Mock {
		if err := s.remount(ctx, r, bk); err != nil {
			log.Warn().Err(err).Str("roomId", r.id).Msg("Failed to remount room with live credentials")
		}
	}
	return s.snapshot(r), nil
}

// remount fetches credentials again for a room running in preview mode. Live
// credentials replace the orchestrator with one that connects.
func (s *RoomService) remount(ctx context.Context, r *activeRoom, bk Booking) error {
	r.mountMu.Lock()
	defer r.mountMu.Unlock()

	prev := r.orchestrator()
	if !prev.Snapshot().Mock {
		return nil
	}

	creds, err := bk.FetchCredentials(ctx, r.role, r.reservationID)
	if err != nil {
		return err
	}
	if creds.IsMock() {
		return nil
	}

	orch := s.newOrchestrator(r, creds, bk)
	unsubscribe := orch.Subscribe(func(snap room.Snapshot) { s.onSnapshot(r, orch, snap) })

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		unsubscribe()
		return apperrors.RoomClosed()
	}
	prevUnsubscribe := r.unsubscribe
	r.orch = orch
	r.unsubscribe = unsubscribe
	r.lastSeq = 0
	r.mu.Unlock()

	if prevUnsubscribe != nil {
		prevUnsubscribe()
	}
	prev.Close()
	r.timer.Reset(r.session.ScheduledStart, creds.EffectiveDuration(r.session))

	log.Info().Str("roomId", r.id).Str("sessionId", r.session.ID).Msg("Room remounted with live credentials")
	return orch.Start(s.ctx)
}

func (s *RoomService) newOrchestrator(r *activeRoom, creds *model.CallCredentials, bk Booking) *room.Orchestrator {
	variant := room.VariantCustomer
	if r.role == model.RoleCounselor {
		variant = room.VariantCounselor
	}
	return room.New(room.Config{
		RoomID:      r.id,
		SessionID:   r.session.ID,
		Variant:     variant,
		Credentials: creds,
		DialTimeout: s.cfg.DialTimeout,
		Video:       s.cfg.Video,
	}, s.transports(), s.devices, bk, room.WithClock(s.clock))
}

// Authorize checks that bearer is the token the room was joined with.
func (s *RoomService) Authorize(roomID, bearer string) error {
	r, err := s.get(roomID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if bearer == "" || !util.ConstantTimeEqual(r.ownerHash, util.HashToken(bearer)) {
		return apperrors.Forbidden("Room belongs to another session")
	}
	return nil
}

func (s *RoomService) Snapshot(roomID string) (*RoomSnapshot, error) {
	r, err := s.get(roomID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(r), nil
}

func (s *RoomService) ToggleAudio(roomID string) (*RoomSnapshot, error) {
	return s.act(roomID, func(r *activeRoom) error {
		_, err := r.orchestrator().ToggleAudio()
		return err
	})
}

func (s *RoomService) ToggleVideo(roomID string) (*RoomSnapshot, error) {
	return s.act(roomID, func(r *activeRoom) error {
		_, err := r.orchestrator().ToggleVideo()
		return err
	})
}

func (s *RoomService) Retry(roomID string) (*RoomSnapshot, error) {
	return s.act(roomID, func(r *activeRoom) error { return r.orchestrator().Retry() })
}

func (s *RoomService) Accept(roomID string) (*RoomSnapshot, error) {
	return s.act(roomID, func(r *activeRoom) error { return r.orchestrator().Accept() })
}

func (s *RoomService) Decline(roomID string) (*RoomSnapshot, error) {
	return s.act(roomID, func(r *activeRoom) error { return r.orchestrator().Decline() })
}

// DecideExtension applies the operator's answer to an extension offer.
func (s *RoomService) DecideExtension(ctx context.Context, roomID, decision string) (*RoomSnapshot, error) {
	return s.act(roomID, func(r *activeRoom) error {
		if r.role != model.RoleCounselor {
			return apperrors.Forbidden("Only the counselor can decide on an extension")
		}
		switch decision {
		case "continue":
			if _, err := r.ext.Continue(ctx); err != nil {
				return err
			}
			audit.Log(ctx, audit.Event{
				Type:      audit.EventExtensionContinue,
				RoomID:    r.id,
				SessionID: r.session.ID,
			})
			return nil
		case "end":
			if err := r.ext.End(ctx, model.EndReasonOperatorEnded); err != nil {
				return err
			}
			audit.Log(ctx, audit.Event{
				Type:      audit.EventExtensionEnd,
				RoomID:    r.id,
				SessionID: r.session.ID,
			})
			return nil
		default:
			return apperrors.InvalidInput("decision", "must be continue or end")
		}
	})
}

// EndSession ends the consultation immediately for both parties.
func (s *RoomService) EndSession(ctx context.Context, roomID string, reason model.EndReason) (*RoomSnapshot, error) {
	if reason == "" {
		reason = model.EndReasonCompleted
	}
	return s.act(roomID, func(r *activeRoom) error {
		return s.driverFor(r).ext.End(ctx, reason)
	})
}

// Leave tears the room down without ending the session.
func (s *RoomService) Leave(roomID string) error {
	r, err := s.get(roomID)
	if err != nil {
		return err
	}
	s.closeRoom(r, "left")
	return nil
}

// History returns the room's persisted events, newest first.
func (s *RoomService) History(ctx context.Context, roomID string, limit int) ([]model.RoomEvent, int, error) {
	events, err := s.events.FindByRoomID(ctx, roomID, limit)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total, err := s.events.CountByRoomID(ctx, roomID)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	return events, total, nil
}

// ReapIdle closes rooms that have no live call and have not been touched for
// ttl. It returns the number of rooms closed.
func (s *RoomService) ReapIdle(ttl time.Duration) int {
	cutoff := s.clock.Now().Add(-ttl)

	s.mu.Lock()
	var stale []*activeRoom
	for _, r := range s.rooms {
		if s.watched(r.id) {
			continue
		}
		if r.idleSince(cutoff) {
			stale = append(stale, r)
		}
	}
	s.mu.Unlock()

	for _, r := range stale {
		s.closeRoom(r, "idle")
	}
	return len(stale)
}

func (s *RoomService) ActiveRooms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Shutdown closes every room.
func (s *RoomService) Shutdown() {
	s.mu.Lock()
	rooms := make([]*activeRoom, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	for _, r := range rooms {
		s.closeRoom(r, "shutdown")
	}
	s.cancel()
}

func (s *RoomService) act(roomID string, fn func(r *activeRoom) error) (*RoomSnapshot, error) {
	r, err := s.get(roomID)
	if err != nil {
		return nil, err
	}
	r.touch(s.clock.Now())
	if err := fn(r); err != nil {
		if _, ok := apperrors.AsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.External("booking", err)
	}
	return s.snapshot(r), nil
}

func (s *RoomService) get(roomID string) (*activeRoom, error) {
	r := s.lookup(roomID)
	if r == nil {
		return nil, apperrors.NotFound("Room")
	}
	return r, nil
}

func (s *RoomService) lookup(roomID string) *activeRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

func (s *RoomService) remove(r *activeRoom) {
	s.mu.Lock()
	if s.rooms[r.id] == r {
		delete(s.rooms, r.id)
	}
	s.mu.Unlock()
}

func (s *RoomService) snapshot(r *activeRoom) *RoomSnapshot {
	snap := &RoomSnapshot{
		RoomID:        r.id,
		ReservationID: r.reservationID,
		Role:          r.role,
		Session:       r.session,
		Connection:    r.orchestrator().Snapshot(),
		Extension:     s.driverFor(r).ext.Snapshot(),
	}
	r.mu.Lock()
	started := r.timerStarted
	r.mu.Unlock()
	if started {
		st := r.timer.Snapshot()
		snap.Timer = &st
	}
	return snap
}

func (s *RoomService) closeRoom(r *activeRoom, reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	orch := r.orch
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	s.remove(r)
	r.timer.Stop()
	orch.Close()
	if unsubscribe != nil {
		unsubscribe()
	}

	s.publish(r.id, sse.EventClosed, map[string]string{"reason": reason})
	log.Info().Str("roomId", r.id).Str("reason", reason).Msg("Room torn down")
}

func (s *RoomService) onSnapshot(r *activeRoom, source *room.Orchestrator, snap room.Snapshot) {
	r.mu.Lock()
	if r.orch != source || snap.Seq <= r.lastSeq {
		r.mu.Unlock()
		return
	}
	r.lastSeq = snap.Seq
	from := r.lastState
	changed := snap.State != from
	r.lastState = snap.State
	startTimer := snap.State == room.StateConnected && !r.timerStarted && !r.closed
	if startTimer {
		r.timerStarted = true
	}
	r.mu.Unlock()

	s.publish(r.id, sse.EventState, snap)

	if changed {
		s.record(r, model.RoomEventStateChange, strPtr(string(from)), strPtr(string(snap.State)), snap.Message, nil)
		if snap.State == room.StateFailed {
			audit.Log(context.Background(), audit.Event{
				Type:   audit.EventCallFailed,
				RoomID: r.id,
				Details: map[string]interface{}{
					"action": string(snap.Action),
					"error":  snap.Error,
				},
			})
		}
	}

	if startTimer {
		r.timer.Start()
	}
}

func (s *RoomService) onThreshold(r *activeRoom, threshold time.Duration, st timer.State) {
	msg := fmt.Sprintf("%d minute(s) remaining", int(threshold/time.Minute))
	s.record(r, model.RoomEventTimerThreshold, nil, nil, msg, map[string]any{"threshold": threshold.String()})
	s.publish(r.id, sse.EventTimer, st)
}

func (s *RoomService) onTimeUp(r *activeRoom, st timer.State) {
	s.record(r, model.RoomEventTimeUp, nil, nil, "Session time is up", nil)

	driver := s.driverFor(r)
	if driver != r {
		s.publish(r.id, sse.EventExtension, driver.ext.Snapshot())
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, eventWriteTimeout)
	defer cancel()
	if _, err := r.ext.HandleTimeUp(ctx); err != nil {
		log.Warn().Err(err).Str("roomId", r.id).Msg("Failed to look up consecutive booking")
	}
	s.publishSession(r.session.ID, sse.EventExtension, r.ext.Snapshot())
}

func (s *RoomService) onGraceExpired(r *activeRoom, st timer.State) {
	s.record(r, model.RoomEventGraceExpired, nil, nil, "Grace period expired", nil)

	if s.driverFor(r) != r {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, eventWriteTimeout)
	defer cancel()
	if err := r.ext.HandleGraceExpired(ctx); err != nil {
		log.Error().Err(err).Str("roomId", r.id).Msg("Failed to end session after grace period")
	}
}

func (s *RoomService) onExtensionOffer(r *activeRoom, next model.NextBooking) {
	s.record(r, model.RoomEventExtensionOffered, nil, nil, "Consecutive booking available", map[string]any{
		"nextBookingId": next.NextBookingID,
	})
}

// onExtended moves every running timer of the session to the new end time so
// no room of the session reaches the original grace expiry.
func (s *RoomService) onExtended(r *activeRoom, ext model.Extension) {
	start := r.session.ScheduledStart
	duration := ext.NewEndTime.Sub(start)
	for _, member := range s.sessionRooms(r.session.ID) {
		if member == r || member.timerRunning() {
			member.timer.Reset(start, duration)
		}
	}

	s.record(r, model.RoomEventExtensionContinue, nil, nil, "Session extended", map[string]any{
		"extendedDurationMinutes": ext.ExtendedDurationMinutes,
		"newEndTime":              ext.NewEndTime,
	})
	s.publishSession(r.session.ID, sse.EventExtension, r.ext.Snapshot())
}

// onSessionEnded tears down every room of the ended session.
func (s *RoomService) onSessionEnded(r *activeRoom, reason model.EndReason) {
	members := s.sessionRooms(r.session.ID)
	if len(members) == 0 {
		members = []*activeRoom{r}
	}
	s.recordAll(members, model.RoomEventSessionEnded, "Session ended", map[string]any{"reason": reason})
	s.publishSession(r.session.ID, sse.EventExtension, r.ext.Snapshot())
	audit.Log(context.Background(), audit.Event{
		Type:      audit.EventSessionEnd,
		RoomID:    r.id,
		SessionID: r.session.ID,
		Details:   map[string]interface{}{"reason": string(reason), "rooms": len(members)},
	})

	// Hooks may run under a timer or orchestrator callback.
	for _, member := range members {
		go s.closeRoom(member, "session_ended")
	}
}

// driverFor returns the room whose timer and extender decide r's session:
// the counselor room while its timer runs, otherwise r itself.
func (s *RoomService) driverFor(r *activeRoom) *activeRoom {
	if r.role == model.RoleCounselor {
		return r
	}
	for _, member := range s.sessionRooms(r.session.ID) {
		if member.role == model.RoleCounselor && member.timerRunning() {
			return member
		}
	}
	return r
}

func (s *RoomService) sessionRooms(sessionID string) []*activeRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []*activeRoom
	for _, r := range s.rooms {
		if r.session.ID == sessionID {
			members = append(members, r)
		}
	}
	return members
}

func (s *RoomService) watched(roomID string) bool {
	return s.cfg.Watchers != nil && s.cfg.Watchers.ClientCount(roomID) > 0
}

func (s *RoomService) publishSession(sessionID, eventType string, data any) {
	for _, member := range s.sessionRooms(sessionID) {
		s.publish(member.id, eventType, data)
	}
}

func (s *RoomService) publish(roomID, eventType string, data any) {
	event, err := sse.NewEvent(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("roomId", roomID).Str("type", eventType).Msg("Failed to encode room event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, roomID, event); err != nil {
		log.Warn().Err(err).Str("roomId", roomID).Str("type", eventType).Msg("Failed to publish room event")
	}
}

func (s *RoomService) record(r *activeRoom, kind model.RoomEventKind, from, to *string, message string, metadata map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()
	if _, err := s.events.Create(ctx, eventParams(r, kind, from, to, message, metadata)); err != nil {
		log.Warn().Err(err).Str("roomId", r.id).Str("kind", string(kind)).Msg("Failed to persist room event")
	}
}

// recordAll writes the same event for several rooms in one transaction.
func (s *RoomService) recordAll(rooms []*activeRoom, kind model.RoomEventKind, message string, metadata map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()

	write := func(repo repository.RoomEventRepository) error {
		for _, r := range rooms {
			if _, err := repo.Create(ctx, eventParams(r, kind, nil, nil, message, metadata)); err != nil {
				return fmt.Errorf("room %s: %w", r.id, err)
			}
		}
		return nil
	}

	var err error
	if s.tx == nil {
		err = write(s.events)
	} else {
		err = s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			return write(s.events.WithTx(tx))
		})
	}
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Int("rooms", len(rooms)).Msg("Failed to persist room events")
	}
}

func eventParams(r *activeRoom, kind model.RoomEventKind, from, to *string, message string, metadata map[string]any) model.CreateRoomEventParams {
	params := model.CreateRoomEventParams{
		ID:            uuid.New().String(),
		RoomID:        r.id,
		ReservationID: r.reservationID,
		Role:          r.role,
		Kind:          kind,
		FromState:     from,
		ToState:       to,
		Message:       message,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err == nil {
			msg := json.RawMessage(raw)
			params.Metadata = &msg
		}
	}
	return params
}

func (r *activeRoom) orchestrator() *room.Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orch
}

func (r *activeRoom) timerRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timerStarted && !r.closed
}

func (r *activeRoom) touch(now time.Time) {
	r.mu.Lock()
	r.lastActive = now
	r.mu.Unlock()
}

func (r *activeRoom) idleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.lastActive.After(cutoff) {
		return false
	}
	switch r.lastState {
	case room.StateConnected, room.StateRinging, room.StateConnecting, room.StateReconnecting:
		return false
	}
	return true
}

func strPtr(s string) *string {
	return &s
}
