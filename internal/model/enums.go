package model

type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// Role selects which room variant a client joins.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleCounselor Role = "counselor"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleCounselor
}

type EndReason string

const (
	EndReasonCompleted     EndReason = "completed"
	EndReasonTimeExpired   EndReason = "time_expired"
	EndReasonOperatorEnded EndReason = "operator_ended"
	EndReasonUserLeft      EndReason = "user_left"
)

type RoomEventKind string

const (
	RoomEventStateChange       RoomEventKind = "state_change"
	RoomEventTimerThreshold    RoomEventKind = "timer_threshold"
	RoomEventTimeUp            RoomEventKind = "time_up"
	RoomEventGraceExpired      RoomEventKind = "grace_expired"
	RoomEventExtensionOffered  RoomEventKind = "extension_offered"
	RoomEventExtensionContinue RoomEventKind = "extension_continue"
	RoomEventSessionEnded      RoomEventKind = "session_ended"
)
