package model

import (
	"strings"
	"time"
)

// Session is one scheduled consultation, owned by the booking service.
type Session struct {
	ID              string        `json:"id"`
	ReservationID   string        `json:"reservationId"`
	CounterpartName string        `json:"counterpartName"`
	Specialty       string        `json:"specialty"`
	ScheduledStart  time.Time     `json:"scheduledStart"`
	DurationMinutes int           `json:"durationMinutes"`
	Status          SessionStatus `json:"status"`
	ChannelID       *string       `json:"channelId,omitempty"`
}

func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

var placeholderAppIDs = []string{
	"", "mock", "placeholder", "your-app-id", "test-app-id",
}

// CallCredentials are issued per session mount and never persisted.
type CallCredentials struct {
	IdentityToken            string  `json:"identityToken"`
	LocalIdentity            string  `json:"localIdentity"`
	ApplicationID            string  `json:"applicationId"`
	TargetIdentity           *string `json:"targetIdentity,omitempty"`
	ChannelID                *string `json:"channelId,omitempty"`
	EffectiveDurationMinutes *int    `json:"effectiveDurationMinutes,omitempty"`
}

// IsMock reports whether the credentials cannot drive a live call.
func (c *CallCredentials) IsMock() bool {
	if c == nil || c.IdentityToken == "" {
		return true
	}
	appID := strings.ToLower(strings.TrimSpace(c.ApplicationID))
	for _, p := range placeholderAppIDs {
		if appID == p {
			return true
		}
	}
	return false
}

// IsCaller reports whether this side initiates the call.
func (c *CallCredentials) IsCaller() bool {
	return c != nil && c.TargetIdentity != nil && *c.TargetIdentity != ""
}

// EffectiveDuration prefers the credential override over the session duration.
func (c *CallCredentials) EffectiveDuration(session *Session) time.Duration {
	if c != nil && c.EffectiveDurationMinutes != nil && *c.EffectiveDurationMinutes > 0 {
		return time.Duration(*c.EffectiveDurationMinutes) * time.Minute
	}
	if session == nil {
		return 0
	}
	return session.Duration()
}

type NextBooking struct {
	HasNext       bool       `json:"hasNext"`
	NextBookingID string     `json:"nextBookingId,omitempty"`
	NextSlotStart *time.Time `json:"nextSlotStart,omitempty"`
	NextSlotEnd   *time.Time `json:"nextSlotEnd,omitempty"`
}

type Extension struct {
	ExtendedDurationMinutes int       `json:"extendedDurationMinutes"`
	NewEndTime              time.Time `json:"newEndTime"`
}

type ExtendSessionParams struct {
	SessionID     string `json:"sessionId"`
	NextBookingID string `json:"nextBookingId"`
}
