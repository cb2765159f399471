// Package models defines the core domain types for the topic index.
package models

import (
	"strings"
	"unicode/utf8"
)

// MaxTopicLength mirrors the server-side limit on topic names (in runes).
const MaxTopicLength = 60

// StreamID identifies a stream (channel).
type StreamID int64

// MessageID identifies a message. Ids are assigned by the server in
// increasing order, so a larger id is always a more recent message.
type MessageID int64

// Message is the slice of a message the topic index cares about.
type Message struct {
	ID       MessageID `json:"id" yaml:"id"`
	StreamID StreamID  `json:"stream_id" yaml:"stream_id"`
	Topic    string    `json:"topic" yaml:"topic"`
}

// ServerTopic is one row of a server topic-history response.
type ServerTopic struct {
	Name  string    `json:"name" yaml:"name"`
	MaxID MessageID `json:"max_id" yaml:"max_id"`
}

// Subscription holds the channel metadata the index reads and writes.
type Subscription struct {
	StreamID StreamID `json:"stream_id" yaml:"stream_id"`
	Name     string   `json:"name" yaml:"name"`

	// FirstMessageID is the oldest message id known for the stream.
	// Nil means the stream has never had a message sent to it.
	FirstMessageID *MessageID `json:"first_message_id,omitempty" yaml:"first_message_id,omitempty"`
}

// HasFirstMessageID reports whether the earliest message id is known.
func (s Subscription) HasFirstMessageID() bool {
	return s.FirstMessageID != nil
}

// Validate checks that a message can be indexed.
func (m Message) Validate() error {
	validation := &ValidationErrors{}
	if m.ID <= 0 {
		validation.Add("id", ErrInvalidMessageID)
	}
	if m.StreamID <= 0 {
		validation.Add("stream_id", ErrInvalidStreamID)
	}
	validation.Add("topic", ValidateTopic(m.Topic))
	return validation.Err()
}

// Validate checks a server topic-history row.
func (t ServerTopic) Validate() error {
	validation := &ValidationErrors{}
	validation.Add("name", ValidateTopic(t.Name))
	if t.MaxID <= 0 {
		validation.Add("max_id", ErrInvalidMessageID)
	}
	return validation.Err()
}

// Validate checks subscription metadata.
func (s Subscription) Validate() error {
	validation := &ValidationErrors{}
	if s.StreamID <= 0 {
		validation.Add("stream_id", ErrInvalidStreamID)
	}
	if s.FirstMessageID != nil && *s.FirstMessageID <= 0 {
		validation.Add("first_message_id", ErrInvalidMessageID)
	}
	return validation.Err()
}

// ValidateTopic enforces topic naming rules. The empty topic is allowed
// ("general chat"), but whitespace-padded or overlong names are not.
func ValidateTopic(topic string) error {
	if topic != strings.TrimSpace(topic) {
		return ErrInvalidTopic
	}
	if utf8.RuneCountInString(topic) > MaxTopicLength {
		return ErrTopicTooLong
	}
	return nil
}
