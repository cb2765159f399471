package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tOgg1/topicindex/internal/foldmap"
	"github.com/tOgg1/topicindex/internal/models"
)

// Message repository errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMessage  = errors.New("invalid message")
)

// MessageRepository handles message persistence.
type MessageRepository struct {
	db *DB
}

// NewMessageRepository creates a new MessageRepository.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert stores messages, replacing any existing row with the same id.
func (r *MessageRepository) Insert(ctx context.Context, messages ...models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("%w %d: %w", ErrInvalidMessage, msg.ID, err)
		}
	}

	return r.db.RetryTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO messages (id, stream_id, topic, topic_key)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, msg := range messages {
			if _, err := stmt.ExecContext(ctx, int64(msg.ID), int64(msg.StreamID), msg.Topic, foldmap.Fold(msg.Topic)); err != nil {
				return fmt.Errorf("insert message %d: %w", msg.ID, err)
			}
		}
		return nil
	})
}

// Get returns a single message.
func (r *MessageRepository) Get(ctx context.Context, id models.MessageID) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowContext(ctx,
		`SELECT id, stream_id, topic FROM messages WHERE id = ?`, int64(id),
	).Scan(&msg.ID, &msg.StreamID, &msg.Topic)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message %d: %w", id, err)
	}
	return msg, nil
}

// Delete removes messages by id and returns how many rows were deleted.
func (r *MessageRepository) Delete(ctx context.Context, ids ...models.MessageID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders, args := idArgs(ids)
	result, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return result.RowsAffected()
}

// DeleteAll empties the message table.
func (r *MessageRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// Move reassigns messages to a stream and topic.
func (r *MessageRepository) Move(ctx context.Context, streamID models.StreamID, topic string, ids ...models.MessageID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := models.ValidateTopic(topic); err != nil {
		return 0, err
	}
	placeholders, args := idArgs(ids)
	args = append([]any{int64(streamID), topic, foldmap.Fold(topic)}, args...)
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET stream_id = ?, topic = ?, topic_key = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("move messages: %w", err)
	}
	return result.RowsAffected()
}

// MessagesInTopic returns the messages of a topic, matched case-insensitively,
// in ascending id order.
func (r *MessageRepository) MessagesInTopic(ctx context.Context, streamID models.StreamID, topic string) ([]models.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stream_id, topic FROM messages
		WHERE stream_id = ? AND topic_key = ?
		ORDER BY id
	`, int64(streamID), foldmap.Fold(topic))
	if err != nil {
		return nil, fmt.Errorf("query topic messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.StreamID, &msg.Topic); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// LatestInTopic returns the newest message of a topic.
func (r *MessageRepository) LatestInTopic(ctx context.Context, streamID models.StreamID, topic string) (models.Message, bool, error) {
	var msg models.Message
	err := r.db.QueryRowContext(ctx, `
		SELECT id, stream_id, topic FROM messages
		WHERE stream_id = ? AND topic_key = ?
		ORDER BY id DESC LIMIT 1
	`, int64(streamID), foldmap.Fold(topic)).Scan(&msg.ID, &msg.StreamID, &msg.Topic)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("latest topic message: %w", err)
	}
	return msg, true, nil
}

// MaxIDInStream returns the newest message id of a stream, or 0.
func (r *MessageRepository) MaxIDInStream(ctx context.Context, streamID models.StreamID) (models.MessageID, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM messages WHERE stream_id = ?`, int64(streamID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("max stream message id: %w", err)
	}
	return models.MessageID(id), nil
}

// MinID returns the oldest message id across all streams.
func (r *MessageRepository) MinID(ctx context.Context) (models.MessageID, bool, error) {
	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(id) FROM messages`).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("min message id: %w", err)
	}
	return models.MessageID(id.Int64), id.Valid, nil
}

// MaxID returns the newest message id across all streams.
func (r *MessageRepository) MaxID(ctx context.Context) (models.MessageID, bool, error) {
	var id sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(id) FROM messages`).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("max message id: %w", err)
	}
	return models.MessageID(id.Int64), id.Valid, nil
}

// Count returns the number of stored messages.
func (r *MessageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// StreamTopics returns one row per topic of a stream with its newest message
// id and the spelling used by that message, newest first.
func (r *MessageRepository) StreamTopics(ctx context.Context, streamID models.StreamID) ([]models.ServerTopic, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.topic, m.id
		FROM messages m
		JOIN (
			SELECT MAX(id) AS max_id FROM messages
			WHERE stream_id = ?
			GROUP BY topic_key
		) latest ON m.id = latest.max_id
		ORDER BY m.id DESC
	`, int64(streamID))
	if err != nil {
		return nil, fmt.Errorf("query stream topics: %w", err)
	}
	defer rows.Close()

	var out []models.ServerTopic
	for rows.Next() {
		var topic models.ServerTopic
		if err := rows.Scan(&topic.Name, &topic.MaxID); err != nil {
			return nil, fmt.Errorf("scan stream topic: %w", err)
		}
		out = append(out, topic)
	}
	return out, rows.Err()
}

func idArgs(ids []models.MessageID) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}
