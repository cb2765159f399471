package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/topicindex/internal/models"
)

// ErrInvalidEvent is returned when an event is missing required fields.
var ErrInvalidEvent = errors.New("invalid event")

// EventQuery filters ListEvents. Zero values match everything.
type EventQuery struct {
	StreamID models.StreamID
	Type     models.EventType
	Limit    int
}

// EventRepository persists index events in publish order.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create appends an event.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event == nil || event.ID == "" || event.Type == "" {
		return ErrInvalidEvent
	}

	var payload sql.NullString
	if len(event.Payload) > 0 {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}

	err := r.db.retryBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO events (id, timestamp, type, entity_type, stream_id, topic, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			event.ID,
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			string(event.Type),
			string(event.EntityType),
			int64(event.StreamID),
			event.Topic,
			payload,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns events matching q in the order they were created.
func (r *EventRepository) List(ctx context.Context, q EventQuery) ([]*models.Event, error) {
	query := `SELECT id, timestamp, type, entity_type, stream_id, topic, payload FROM events WHERE 1=1`
	var args []any
	if q.StreamID != 0 {
		query += ` AND stream_id = ?`
		args = append(args, int64(q.StreamID))
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var (
			event     models.Event
			timestamp string
			typ       string
			entity    string
			payload   sql.NullString
		)
		if err := rows.Scan(&event.ID, &timestamp, &typ, &entity, &event.StreamID, &event.Topic, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = models.EventType(typ)
		event.EntityType = models.EntityType(entity)
		if ts, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			event.Timestamp = ts
		}
		if payload.Valid {
			event.Payload = []byte(payload.String)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

// DeleteAll empties the event log.
func (r *EventRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}
