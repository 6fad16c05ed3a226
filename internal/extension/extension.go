// Package extension decides what happens when a session's time is up: offer
// the operator a seamless continuation into an immediately following booking,
// or end the session.
package extension

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/counselhub/room-server-go/internal/errors"
	"github.com/counselhub/room-server-go/internal/model"
)

type Lifecycle interface {
	GetNextConsecutiveBooking(ctx context.Context, sessionID string) (*model.NextBooking, error)
	ExtendSession(ctx context.Context, params model.ExtendSessionParams) (*model.Extension, error)
	EndSession(ctx context.Context, sessionID string, reason model.EndReason) error
}

type Decision string

const (
	DecisionUndecided Decision = ""
	// DecisionNone means there is no next booking; the session ends when the
	// grace period expires.
	DecisionNone      Decision = "none"
	DecisionPending   Decision = "pending"
	DecisionContinued Decision = "continued"
	DecisionEnded     Decision = "ended"
)

type Hooks struct {
	OnOffer    func(next model.NextBooking)
	OnExtended func(ext model.Extension)
	OnEnded    func(reason model.EndReason)
}

type Snapshot struct {
	Decision Decision           `json:"decision"`
	Next     *model.NextBooking `json:"next,omitempty"`
	Ended    bool               `json:"ended"`
}

type Extender struct {
	lifecycle Lifecycle
	sessionID string
	hooks     Hooks

	mu        sync.Mutex
	decision  Decision
	next      *model.NextBooking
	extending bool
	ending    bool
	ended     bool
}

func New(lifecycle Lifecycle, sessionID string, hooks Hooks) *Extender {
	return &Extender{
		lifecycle: lifecycle,
		sessionID: sessionID,
		hooks:     hooks,
	}
}

func (e *Extender) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{Decision: e.decision, Ended: e.ended}
	if e.next != nil {
		next := *e.next
		s.Next = &next
	}
	return s
}

// HandleTimeUp asks whether a consecutive booking follows. A lookup failure is
// treated like no next booking so the grace path still ends the session.
func (e *Extender) HandleTimeUp(ctx context.Context) (Decision, error) {
	e.mu.Lock()
	if e.ended || e.decision == DecisionPending {
		d := e.decision
		e.mu.Unlock()
		return d, nil
	}
	e.mu.Unlock()

	next, err := e.lifecycle.GetNextConsecutiveBooking(ctx, e.sessionID)
	if err != nil {
		e.setDecision(DecisionNone, nil)
		return DecisionNone, fmt.Errorf("get next consecutive booking: %w", err)
	}
	if next == nil || !next.HasNext {
		e.setDecision(DecisionNone, nil)
		log.Info().Str("sessionId", e.sessionID).Msg("No consecutive booking, waiting for grace period")
		return DecisionNone, nil
	}

	e.mu.Lock()
	if e.ended {
		e.mu.Unlock()
		return DecisionEnded, nil
	}
	e.decision = DecisionPending
	e.next = next
	e.mu.Unlock()

	log.Info().Str("sessionId", e.sessionID).Str("nextBookingId", next.NextBookingID).Msg("Consecutive booking found, offering extension")
	if e.hooks.OnOffer != nil {
		e.hooks.OnOffer(*next)
	}
	return DecisionPending, nil
}

// Continue commits to the next booking. The live call is left untouched; only
// OnExtended is told about the new allotment.
func (e *Extender) Continue(ctx context.Context) (*model.Extension, error) {
	e.mu.Lock()
	if e.ended || e.ending {
		e.mu.Unlock()
		return nil, apperrors.InvalidState("continue", string(DecisionEnded))
	}
	if e.decision != DecisionPending || e.next == nil {
		d := e.decision
		e.mu.Unlock()
		return nil, apperrors.InvalidState("continue", decisionLabel(d))
	}
	if e.extending {
		e.mu.Unlock()
		return nil, apperrors.Conflict("Extension is already in progress")
	}
	e.extending = true
	params := model.ExtendSessionParams{SessionID: e.sessionID, NextBookingID: e.next.NextBookingID}
	e.mu.Unlock()

	ext, err := e.lifecycle.ExtendSession(ctx, params)

	e.mu.Lock()
	e.extending = false
	if err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("extend session: %w", err)
	}
	e.decision = DecisionContinued
	e.next = nil
	e.mu.Unlock()

	log.Info().
		Str("sessionId", e.sessionID).
		Str("nextBookingId", params.NextBookingID).
		Int("extendedMinutes", ext.ExtendedDurationMinutes).
		Time("newEndTime", ext.NewEndTime).
		Msg("Session extended")

	if e.hooks.OnExtended != nil {
		e.hooks.OnExtended(*ext)
	}
	return ext, nil
}

// End terminates the session immediately, bypassing any grace period. Only
// the first successful call reaches the lifecycle collaborator.
func (e *Extender) End(ctx context.Context, reason model.EndReason) error {
	e.mu.Lock()
	if e.ended || e.ending {
		e.mu.Unlock()
		return nil
	}
	e.ending = true
	e.mu.Unlock()

	if err := e.lifecycle.EndSession(ctx, e.sessionID, reason); err != nil {
		e.mu.Lock()
		e.ending = false
		e.mu.Unlock()
		return fmt.Errorf("end session: %w", err)
	}

	e.mu.Lock()
	e.ending = false
	e.ended = true
	e.decision = DecisionEnded
	e.next = nil
	e.mu.Unlock()

	log.Info().Str("sessionId", e.sessionID).Str("reason", string(reason)).Msg("Session ended")
	if e.hooks.OnEnded != nil {
		e.hooks.OnEnded(reason)
	}
	return nil
}

// HandleGraceExpired force-ends the session when no decision to continue was
// made in time.
func (e *Extender) HandleGraceExpired(ctx context.Context) error {
	return e.End(ctx, model.EndReasonTimeExpired)
}

func (e *Extender) setDecision(d Decision, next *model.NextBooking) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return
	}
	e.decision = d
	e.next = next
}

func decisionLabel(d Decision) string {
	if d == DecisionUndecided {
		return "undecided"
	}
	return string(d)
}
