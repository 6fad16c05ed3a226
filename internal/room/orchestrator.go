package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/counselhub/room-server-go/internal/call"
	"github.com/counselhub/room-server-go/internal/clock"
	"github.com/counselhub/room-server-go/internal/config"
	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/model"
)

// Variant selects the customer-facing or counselor-facing room behavior.
type Variant string

const (
	// VariantCustomer auto-accepts incoming calls and returns to IDLE after a
	// hangup.
	VariantCustomer Variant = "customer"
	// VariantCounselor surfaces incoming calls for manual accept/decline and
	// returns to WAITING after every call.
	VariantCounselor Variant = "counselor"
)

// Lifecycle is the part of the session lifecycle collaborator the
// orchestrator calls itself.
type Lifecycle interface {
	MarkOperatorReady(ctx context.Context, sessionID string) error
}

type Config struct {
	RoomID       string
	SessionID    string
	Variant      Variant
	Credentials  *model.CallCredentials
	ListenerName string
	DialTimeout  time.Duration
	Video        bool
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// Snapshot is the presentation view of the orchestrator.
type Snapshot struct {
	Seq          uint64          `json:"seq"`
	State        ConnectionState `json:"state"`
	Previous     ConnectionState `json:"previousState"`
	Message      string          `json:"message"`
	Action       RecoveryAction  `json:"action,omitempty"`
	AudioEnabled bool            `json:"audioEnabled"`
	VideoEnabled bool            `json:"videoEnabled"`
	IncomingCall bool            `json:"incomingCall"`
	Mock         bool            `json:"mock"`
	Attempt      int             `json:"attempt"`
	CallID       string          `json:"callId,omitempty"`
	Error        string          `json:"error,omitempty"`
	Closed       bool            `json:"closed"`
}

var errStale = errors.New("attempt superseded")

// Orchestrator owns the connection state machine of one room.
//
// Every state change goes through transitionLocked. Asynchronous callbacks
// (dial timeout, reconnect timer, call lifecycle events) carry the attempt
// generation and call handle they were created for and are dropped when
// either has been superseded.
type Orchestrator struct {
	cfg       Config
	transport call.Transport
	devices   call.MediaDevices
	lifecycle Lifecycle
	clock     clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          ConnectionState
	previous       ConnectionState
	message        string
	action         RecoveryAction
	lastErr        error
	attempts       int
	gen            uint64
	seq            uint64
	handle         call.CallHandle
	connected      bool
	incoming       bool
	media          call.LocalMedia
	audioEnabled   bool
	videoEnabled   bool
	mock           bool
	transportUsed  bool
	operatorReady  bool
	dialTimer      clock.Timer
	reconnectTimer clock.Timer
	closed         bool
	stopWatch      func() bool

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObsID int

	closeOnce sync.Once
}

func New(cfg Config, transport call.Transport, devices call.MediaDevices, lifecycle Lifecycle, opts ...Option) *Orchestrator {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantCustomer
	}
	if cfg.ListenerName == "" {
		cfg.ListenerName = cfg.RoomID
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:          cfg,
		transport:    transport,
		devices:      devices,
		lifecycle:    lifecycle,
		clock:        clock.New(),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateIdle,
		previous:     StateIdle,
		message:      IdleMessage,
		audioEnabled: true,
		videoEnabled: cfg.Video,
		observers:    make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Subscribe registers fn to receive a snapshot after every change. fn runs on
// the goroutine that made the change and must not block; Seq orders the
// snapshots. The returned function removes the observer.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()

	id := o.nextObsID
	o.nextObsID++
	o.observers[id] = fn

	return func() {
		o.obsMu.Lock()
		delete(o.observers, id)
		o.obsMu.Unlock()
	}
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) State() ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start begins the first connection attempt. ctx bounds the room's lifetime:
// cancelling it tears the room down like Close.
//
// Without live credentials Start only enters preview mode and never touches
// the transport; calling it again has the same effect.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return apperrors.RoomClosed()
	}
	if o.stopWatch == nil {
		o.stopWatch = context.AfterFunc(ctx, o.Close)
	}

	if o.cfg.Credentials.IsMock() {
		snap, changed := o.enterMockLocked()
		o.mu.Unlock()
		if changed {
			o.notify(snap)
		}
		return nil
	}

	if o.state != StateIdle {
		state := o.state
		o.mu.Unlock()
		return apperrors.InvalidState("start", string(state))
	}
	o.attempts = 0
	o.mu.Unlock()

	o.runAttempt()
	return nil
}

// Retry restarts from zero after FAILED or NO_ANSWER.
func (o *Orchestrator) Retry() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return apperrors.RoomClosed()
	}
	if !o.state.IsRetryable() {
		state := o.state
		o.mu.Unlock()
		return apperrors.InvalidState("retry", string(state))
	}
	o.attempts = 0
	o.mu.Unlock()

	log.Info().Str("roomId", o.cfg.RoomID).Msg("Manual retry")
	o.runAttempt()
	return nil
}

// ToggleAudio mutes or unmutes the active call and returns the new flag.
func (o *Orchestrator) ToggleAudio() (bool, error) {
	o.mu.Lock()
	h, err := o.activeHandleLocked("toggle audio")
	if err != nil {
		o.mu.Unlock()
		return false, err
	}

	if o.audioEnabled {
		err = h.MuteAudio()
	} else {
		err = h.UnmuteAudio()
	}
	if err != nil {
		o.mu.Unlock()
		return false, apperrors.Transport(err)
	}
	o.audioEnabled = !o.audioEnabled
	enabled := o.audioEnabled
	snap := o.publishLocked()
	o.mu.Unlock()

	o.notify(snap)
	return enabled, nil
}

// ToggleVideo stops or restarts local video on the active call and returns the
// new flag.
func (o *Orchestrator) ToggleVideo() (bool, error) {
	o.mu.Lock()
	h, err := o.activeHandleLocked("toggle video")
	if err != nil {
		o.mu.Unlock()
		return false, err
	}

	if o.videoEnabled {
		err = h.StopVideo()
	} else {
		err = h.StartVideo()
	}
	if err != nil {
		o.mu.Unlock()
		return false, apperrors.Transport(err)
	}
	o.videoEnabled = !o.videoEnabled
	enabled := o.videoEnabled
	snap := o.publishLocked()
	o.mu.Unlock()

	o.notify(snap)
	return enabled, nil
}

// Accept answers a pending incoming call (counselor variant).
func (o *Orchestrator) Accept() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return apperrors.RoomClosed()
	}
	if !o.incoming || o.handle == nil {
		state := o.state
		o.mu.Unlock()
		return apperrors.InvalidState("accept", string(state))
	}
	h := o.handle
	gen := o.gen
	o.incoming = false
	o.message = ConnectingMessage
	opts := call.AcceptOptions{Media: o.media, Video: o.videoEnabled}
	snap := o.publishLocked()
	o.mu.Unlock()

	o.notify(snap)

	if err := h.Accept(o.ctx, opts); err != nil {
		o.dropHandle(h)
		endQuietly(h, o.cfg.RoomID)
		o.handleFailure(gen, fmt.Errorf("accept call: %w", err))
		return apperrors.Transport(err)
	}
	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Msg("Incoming call accepted")
	return nil
}

// Decline rejects a pending incoming call and returns to WAITING.
func (o *Orchestrator) Decline() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return apperrors.RoomClosed()
	}
	if !o.incoming || o.handle == nil {
		state := o.state
		o.mu.Unlock()
		return apperrors.InvalidState("decline", string(state))
	}
	h := o.handle
	o.handle = nil
	o.incoming = false
	o.transitionLocked(StateWaiting, WaitingMessage, ActionNone)
	snap := o.publishLocked()
	o.mu.Unlock()

	endQuietly(h, o.cfg.RoomID)
	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Msg("Incoming call declined")
	o.notify(snap)
	return nil
}

// Close tears the room down. It cancels pending timers, ends the active call,
// removes the listener and disconnects the transport. Every step runs even if
// an earlier one fails; errors are logged, never returned. Close is
// idempotent and no state transition happens afterwards.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.gen++
		o.stopTimersLocked()
		h := o.handle
		o.handle = nil
		o.connected = false
		o.incoming = false
		media := o.media
		o.media = nil
		used := o.transportUsed
		stopWatch := o.stopWatch
		snap := o.publishLocked()
		o.mu.Unlock()

		o.cancel()
		if stopWatch != nil {
			stopWatch()
		}

		if h != nil {
			endQuietly(h, o.cfg.RoomID)
		}
		if used {
			if err := o.transport.RemoveListener(o.cfg.ListenerName); err != nil {
				log.Debug().Err(err).Str("roomId", o.cfg.RoomID).Msg("Failed to remove call listener")
			}
			if err := o.transport.DisconnectTransport(); err != nil {
				log.Debug().Err(err).Str("roomId", o.cfg.RoomID).Msg("Failed to disconnect transport")
			}
		}
		if media != nil {
			if err := media.Close(); err != nil {
				log.Debug().Err(err).Str("roomId", o.cfg.RoomID).Msg("Failed to release local media")
			}
		}

		log.Info().Str("roomId", o.cfg.RoomID).Str("state", string(snap.State)).Msg("Room closed")
		o.notify(snap)
	})
}

func (o *Orchestrator) enterMockLocked() (Snapshot, bool) {
	o.mock = true
	target := StateIdle
	if !o.cfg.Credentials.IsCaller() {
		target = StateWaiting
	}

	changed := o.message != MockModeMessage
	o.message = MockModeMessage
	o.action = ActionNone
	if o.state != target {
		o.transitionLocked(target, MockModeMessage, ActionNone)
		changed = true
	}
	if !changed {
		return Snapshot{}, false
	}
	log.Info().Str("roomId", o.cfg.RoomID).Str("state", string(o.state)).Msg("No live call credentials, running in preview mode")
	return o.publishLocked(), true
}

func (o *Orchestrator) runAttempt() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.gen++
	gen := o.gen
	o.transportUsed = true
	o.lastErr = nil
	if !o.transitionLocked(StateConnecting, ConnectingMessage, ActionNone) {
		o.mu.Unlock()
		return
	}
	attempt := o.attempts
	snap := o.publishLocked()
	o.mu.Unlock()

	log.Info().Str("roomId", o.cfg.RoomID).Int("attempt", attempt).Msg("Connecting")
	o.notify(snap)

	if err := o.connect(gen); err != nil {
		o.handleFailure(gen, err)
	}
}

func (o *Orchestrator) connect(gen uint64) error {
	creds := o.cfg.Credentials
	ctx := o.ctx

	if err := o.transport.Initialize(ctx, creds.ApplicationID); err != nil {
		return fmt.Errorf("initialize transport: %w", err)
	}
	if !o.isCurrent(gen) {
		return errStale
	}
	if err := o.transport.Authenticate(ctx, creds.LocalIdentity, creds.IdentityToken); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !o.isCurrent(gen) {
		return errStale
	}
	if err := o.transport.ConnectTransport(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	if !o.isCurrent(gen) {
		return errStale
	}

	media, err := o.devices.Acquire(ctx, call.Constraints{Audio: true, Video: o.cfg.Video})
	if err != nil {
		if errors.Is(err, call.ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("acquire local media: %w", err)
	}

	o.mu.Lock()
	if o.closed || o.gen != gen {
		o.mu.Unlock()
		_ = media.Close()
		return errStale
	}
	previousMedia := o.media
	o.media = media
	o.mu.Unlock()
	if previousMedia != nil {
		_ = previousMedia.Close()
	}

	if creds.IsCaller() {
		return o.dial(gen, *creds.TargetIdentity, media)
	}
	return o.listen(gen)
}

func (o *Orchestrator) dial(gen uint64, target string, media call.LocalMedia) error {
	o.mu.Lock()
	if o.closed || o.gen != gen {
		o.mu.Unlock()
		return errStale
	}
	o.transitionLocked(StateRinging, RingingMessage, ActionNone)
	video := o.videoEnabled
	snap := o.publishLocked()
	o.mu.Unlock()
	o.notify(snap)

	h, err := o.transport.Dial(o.ctx, target, call.DialOptions{Media: media, Video: video})
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}

	o.mu.Lock()
	if o.closed || o.gen != gen {
		o.mu.Unlock()
		endQuietly(h, o.cfg.RoomID)
		return errStale
	}
	o.handle = h
	o.connected = false
	o.mu.Unlock()

	h.SetHandlers(o.handlersFor(h))

	o.mu.Lock()
	if o.handle == h && !o.connected && o.state == StateRinging {
		o.dialTimer = o.clock.AfterFunc(o.cfg.DialTimeout, func() { o.onDialTimeout(h) })
	}
	o.mu.Unlock()

	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Msg("Dialing")
	return nil
}

func (o *Orchestrator) listen(gen uint64) error {
	o.mu.Lock()
	if o.closed || o.gen != gen {
		o.mu.Unlock()
		return errStale
	}
	o.transitionLocked(StateWaiting, WaitingMessage, ActionNone)
	snap := o.publishLocked()
	o.mu.Unlock()
	o.notify(snap)

	listener := call.Listener{OnIncoming: func(h call.CallHandle) { o.onIncoming(gen, h) }}
	if err := o.transport.RegisterListener(o.cfg.ListenerName, listener); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}

	o.markOperatorReady(gen)
	return nil
}

func (o *Orchestrator) markOperatorReady(gen uint64) {
	if o.cfg.Variant != VariantCounselor || o.lifecycle == nil {
		return
	}

	o.mu.Lock()
	if o.operatorReady || o.closed || o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.operatorReady = true
	o.mu.Unlock()

	if err := o.lifecycle.MarkOperatorReady(o.ctx, o.cfg.SessionID); err != nil {
		log.Warn().Err(err).Str("roomId", o.cfg.RoomID).Str("sessionId", o.cfg.SessionID).Msg("Failed to mark operator ready")
	}
}

func (o *Orchestrator) onIncoming(gen uint64, h call.CallHandle) {
	o.mu.Lock()
	if o.closed || o.gen != gen || o.state != StateWaiting || o.handle != nil {
		state := o.state
		o.mu.Unlock()
		log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Str("state", string(state)).Msg("Rejecting incoming call")
		endQuietly(h, o.cfg.RoomID)
		return
	}
	o.handle = h
	o.connected = false
	manual := o.cfg.Variant == VariantCounselor
	var snap Snapshot
	if manual {
		o.incoming = true
		o.transitionLocked(StateRinging, IncomingMessage, ActionNone)
		snap = o.publishLocked()
	}
	opts := call.AcceptOptions{Media: o.media, Video: o.videoEnabled}
	o.mu.Unlock()

	h.SetHandlers(o.handlersFor(h))

	if manual {
		log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Msg("Incoming call pending")
		o.notify(snap)
		return
	}

	if err := h.Accept(o.ctx, opts); err != nil {
		o.dropHandle(h)
		endQuietly(h, o.cfg.RoomID)
		o.handleFailure(gen, fmt.Errorf("accept call: %w", err))
		return
	}
	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Msg("Incoming call accepted")
}

func (o *Orchestrator) handlersFor(h call.CallHandle) call.Handlers {
	return call.Handlers{
		OnEstablished: func() { o.onEstablished(h) },
		OnConnected:   func() { o.onConnected(h) },
		OnEnded:       func() { o.onEnded(h) },
	}
}

func (o *Orchestrator) onEstablished(h call.CallHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.handle != h {
		return
	}
	o.stopDialTimerLocked()
}

func (o *Orchestrator) onConnected(h call.CallHandle) {
	o.mu.Lock()
	if o.closed || o.handle != h || o.connected {
		o.mu.Unlock()
		return
	}
	o.stopDialTimerLocked()
	o.connected = true
	o.incoming = false
	o.attempts = 0
	o.lastErr = nil
	o.transitionLocked(StateConnected, ConnectedMessage, ActionNone)
	snap := o.publishLocked()
	o.mu.Unlock()

	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Msg("Call connected")
	o.notify(snap)
}

func (o *Orchestrator) onEnded(h call.CallHandle) {
	o.mu.Lock()
	if o.closed || o.handle != h {
		o.mu.Unlock()
		return
	}
	o.stopDialTimerLocked()
	prev := o.state
	o.handle = nil
	o.connected = false
	o.incoming = false

	switch {
	case o.cfg.Variant == VariantCounselor:
		if prev != StateWaiting {
			o.transitionLocked(StateWaiting, WaitingMessage, ActionNone)
		}
	case prev == StateConnected:
		o.transitionLocked(StateIdle, EndedMessage, ActionNone)
	case prev == StateRinging:
		o.transitionLocked(StateNoAnswer, NoAnswerMessage, ActionCallAgain)
	}
	snap := o.publishLocked()
	o.mu.Unlock()

	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Str("state", string(snap.State)).Msg("Call ended")
	o.notify(snap)
}

func (o *Orchestrator) onDialTimeout(h call.CallHandle) {
	o.mu.Lock()
	if o.closed || o.handle != h || o.connected {
		o.mu.Unlock()
		return
	}
	o.dialTimer = nil
	o.handle = nil
	o.transitionLocked(StateNoAnswer, NoAnswerMessage, ActionCallAgain)
	snap := o.publishLocked()
	o.mu.Unlock()

	log.Info().Str("roomId", o.cfg.RoomID).Str("callId", h.ID()).Dur("timeout", o.cfg.DialTimeout).Msg("Dial timed out")
	endQuietly(h, o.cfg.RoomID)
	o.notify(snap)
}

func (o *Orchestrator) handleFailure(gen uint64, err error) {
	if errors.Is(err, errStale) {
		return
	}

	o.mu.Lock()
	if o.closed || o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.stopDialTimerLocked()
	h := o.handle
	o.handle = nil
	o.connected = false
	o.incoming = false
	media := o.media
	o.media = nil
	o.lastErr = err

	attempt := o.attempts
	switch {
	case errors.Is(err, call.ErrPermissionDenied):
		o.transitionLocked(StateFailed, PermissionDeniedMessage, ActionGrantPermission)
	case o.attempts >= config.MaxReconnectAttempts:
		o.transitionLocked(StateFailed, FailedMessage, ActionRetry)
	default:
		delay := ReconnectDelay(o.attempts)
		o.attempts++
		o.transitionLocked(StateReconnecting, ReconnectingMessage, ActionNone)
		o.reconnectTimer = o.clock.AfterFunc(delay, func() { o.reconnect(gen) })
		log.Warn().Err(err).Str("roomId", o.cfg.RoomID).Int("attempt", o.attempts).Dur("delay", delay).Msg("Connection attempt failed, reconnecting")
	}
	snap := o.publishLocked()
	o.mu.Unlock()

	if snap.State == StateFailed {
		log.Error().Err(err).Str("roomId", o.cfg.RoomID).Int("attempt", attempt).Msg("Connection failed")
	}
	if h != nil {
		endQuietly(h, o.cfg.RoomID)
	}
	if media != nil {
		_ = media.Close()
	}
	o.notify(snap)
}

func (o *Orchestrator) reconnect(gen uint64) {
	o.mu.Lock()
	if o.closed || o.gen != gen || o.state != StateReconnecting {
		o.mu.Unlock()
		return
	}
	o.reconnectTimer = nil
	o.mu.Unlock()

	o.runAttempt()
}

func (o *Orchestrator) dropHandle(h call.CallHandle) {
	o.mu.Lock()
	if o.handle == h {
		o.handle = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && o.gen == gen
}

func (o *Orchestrator) activeHandleLocked(action string) (call.CallHandle, error) {
	if o.closed {
		return nil, apperrors.RoomClosed()
	}
	if o.handle == nil || !o.connected {
		return nil, apperrors.InvalidState(action, string(o.state))
	}
	return o.handle, nil
}

// transitionLocked moves to next if the transition table allows it.
func (o *Orchestrator) transitionLocked(next ConnectionState, message string, action RecoveryAction) bool {
	if o.closed {
		return false
	}
	if !o.state.CanTransitionTo(next) {
		log.Warn().Str("roomId", o.cfg.RoomID).Str("from", string(o.state)).Str("to", string(next)).Msg("Rejected invalid state transition")
		return false
	}
	o.previous = o.state
	o.state = next
	o.message = message
	o.action = action
	return true
}

func (o *Orchestrator) stopDialTimerLocked() {
	if o.dialTimer != nil {
		o.dialTimer.Stop()
		o.dialTimer = nil
	}
}

func (o *Orchestrator) stopTimersLocked() {
	o.stopDialTimerLocked()
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
}

// publishLocked numbers a new snapshot for observers.
func (o *Orchestrator) publishLocked() Snapshot {
	o.seq++
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:          o.seq,
		State:        o.state,
		Previous:     o.previous,
		Message:      o.message,
		Action:       o.action,
		AudioEnabled: o.audioEnabled,
		VideoEnabled: o.videoEnabled,
		IncomingCall: o.incoming,
		Mock:         o.mock,
		Attempt:      o.attempts,
		Closed:       o.closed,
	}
	if o.handle != nil {
		snap.CallID = o.handle.ID()
	}
	if o.lastErr != nil {
		snap.Error = o.lastErr.Error()
	}
	return snap
}

func (o *Orchestrator) notify(snap Snapshot) {
	o.obsMu.Lock()
	observers := make([]func(Snapshot), 0, len(o.observers))
	for _, fn := range o.observers {
		observers = append(observers, fn)
	}
	o.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func endQuietly(h call.CallHandle, roomID string) {
	if err := h.End(); err != nil {
		log.Debug().Err(err).Str("roomId", roomID).Str("callId", h.ID()).Msg("Failed to end call")
	}
}
