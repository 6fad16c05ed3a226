package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/counselhub/room-server-go/internal/model"
)

type RoomEventRepository interface {
	Create(ctx context.Context, params model.CreateRoomEventParams) (*model.RoomEvent, error)
	FindByRoomID(ctx context.Context, roomID string, limit int) ([]model.RoomEvent, error)
	CountByRoomID(ctx context.Context, roomID string) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) RoomEventRepository
}

// roomEventDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type roomEventDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type roomEventRepo struct {
	db roomEventDB
}

func NewRoomEventRepository(db *sqlx.DB) RoomEventRepository {
	return &roomEventRepo{db: db}
}

func (r *roomEventRepo) WithTx(tx *sqlx.Tx) RoomEventRepository {
	return &roomEventRepo{db: tx}
}

func (r *roomEventRepo) Create(ctx context.Context, params model.CreateRoomEventParams) (*model.RoomEvent, error) {
	var event model.RoomEvent
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO room_events (id, room_id, reservation_id, role, kind, from_state, to_state, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, params.ID, params.RoomID, params.ReservationID, params.Role, params.Kind,
		params.FromState, params.ToState, params.Message, params.Metadata)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *roomEventRepo) FindByRoomID(ctx context.Context, roomID string, limit int) ([]model.RoomEvent, error) {
	events := []model.RoomEvent{}
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM room_events
		WHERE room_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *roomEventRepo) CountByRoomID(ctx context.Context, roomID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM room_events WHERE room_id = $1
	`, roomID)
	return count, err
}

func (r *roomEventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM room_events WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
