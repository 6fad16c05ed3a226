package model

import (
	"encoding/json"
	"time"
)

type RoomEvent struct {
	ID            string           `db:"id" json:"id"`
	RoomID        string           `db:"room_id" json:"roomId"`
	ReservationID string           `db:"reservation_id" json:"reservationId"`
	Role          Role             `db:"role" json:"role"`
	Kind          RoomEventKind    `db:"kind" json:"kind"`
	FromState     *string          `db:"from_state" json:"fromState,omitempty"`
	ToState       *string          `db:"to_state" json:"toState,omitempty"`
	Message       string           `db:"message" json:"message"`
	Metadata      *json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
}

type CreateRoomEventParams struct {
	ID            string
	RoomID        string
	ReservationID string
	Role          Role
	Kind          RoomEventKind
	FromState     *string
	ToState       *string
	Message       string
	Metadata      *json.RawMessage
}
