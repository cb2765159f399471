package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes topic index events.
type EventType string

const (
	// Topic events
	EventTypeTopicCreated          EventType = "topic.created"
	EventTypeTopicRemoved          EventType = "topic.removed"
	EventTypeTopicRefreshRequested EventType = "topic.refresh_requested"

	// Stream events
	EventTypeStreamHistoryComplete    EventType = "stream.history_complete"
	EventTypeStreamHistoryInvalidated EventType = "stream.history_invalidated"

	// User topic events
	EventTypeUserTopicUpdated EventType = "user_topic.updated"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeStream EntityType = "stream"
	EntityTypeTopic  EntityType = "topic"
)

// Event is a notification about a change in the topic index.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// StreamID is the stream the event belongs to.
	StreamID StreamID `json:"stream_id"`

	// Topic is set for topic-scoped events.
	Topic string `json:"topic,omitempty"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TopicPayload is the payload for topic.created and topic.removed events.
type TopicPayload struct {
	MessageID MessageID `json:"message_id"`
	Count     int       `json:"count"`
}

// HistoryInvalidatedPayload is the payload for stream.history_invalidated.
type HistoryInvalidatedPayload struct {
	// PreviousFirstMessageID is nil when the stream had no known history.
	PreviousFirstMessageID *MessageID `json:"previous_first_message_id,omitempty"`
	FirstMessageID         MessageID  `json:"first_message_id"`
}

// UserTopicPayload is the payload for user_topic.updated events.
type UserTopicPayload struct {
	VisibilityPolicy int   `json:"visibility_policy"`
	LastUpdated      int64 `json:"last_updated"`
}
