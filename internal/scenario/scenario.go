// Package scenario describes a topic-index session in YAML: initial server
// and client state followed by an ordered list of events. Running a scenario
// drives every component through the event loop and reports the resulting
// per-stream topic history.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/usertopics"
)

// ErrScenarioInvalid wraps every validation failure.
var ErrScenarioInvalid = errors.New("invalid scenario")

// Scenario is the parsed YAML document.
type Scenario struct {
	Subscriptions  []models.Subscription `yaml:"subscriptions"`
	ServerMessages []models.Message      `yaml:"server_messages"`
	Cache          CacheState            `yaml:"cache"`
	Unread         []models.Message      `yaml:"unread"`
	UserTopics     []UserTopic           `yaml:"user_topics"`
	Events         []Event               `yaml:"events"`
}

// CacheState is the client's message range before any event is applied.
// Cached messages are also present on the server.
type CacheState struct {
	Messages    []models.Message `yaml:"messages"`
	FoundNewest bool             `yaml:"found_newest"`
	FoundOldest bool             `yaml:"found_oldest"`
}

// UserTopic sets a visibility policy.
type UserTopic struct {
	StreamID models.StreamID `yaml:"stream_id"`
	Topic    string          `yaml:"topic"`
	Policy   string          `yaml:"policy"`
}

// Event is one step. Exactly one field must be set.
type Event struct {
	Message     *MessageEvent      `yaml:"message,omitempty"`
	Remove      *RemoveEvent       `yaml:"remove,omitempty"`
	Move        *MoveEvent         `yaml:"move,omitempty"`
	Fetch       *FetchEvent        `yaml:"fetch,omitempty"`
	MarkRead    []models.MessageID `yaml:"mark_read,omitempty"`
	UserTopic   *UserTopic         `yaml:"user_topic,omitempty"`
	RefreshWait bool               `yaml:"refresh_wait,omitempty"`
}

// MessageEvent delivers a newly sent message.
type MessageEvent struct {
	models.Message `yaml:",inline"`
	Unread         bool `yaml:"unread"`
}

// RemoveEvent deletes messages of one topic.
type RemoveEvent struct {
	StreamID   models.StreamID    `yaml:"stream_id"`
	Topic      string             `yaml:"topic"`
	MessageIDs []models.MessageID `yaml:"message_ids"`
}

// MoveEvent moves messages to another stream or topic.
type MoveEvent struct {
	MessageIDs []models.MessageID `yaml:"message_ids"`
	ToStreamID models.StreamID    `yaml:"to_stream_id"`
	ToTopic    string             `yaml:"to_topic"`
}

// FetchEvent requests the full topic history of a stream.
type FetchEvent struct {
	StreamID models.StreamID `yaml:"stream_id"`
}

// Kind names the populated field.
func (e Event) Kind() string {
	kinds := e.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (e Event) kinds() []string {
	var kinds []string
	if e.Message != nil {
		kinds = append(kinds, "message")
	}
	if e.Remove != nil {
		kinds = append(kinds, "remove")
	}
	if e.Move != nil {
		kinds = append(kinds, "move")
	}
	if e.Fetch != nil {
		kinds = append(kinds, "fetch")
	}
	if len(e.MarkRead) > 0 {
		kinds = append(kinds, "mark_read")
	}
	if e.UserTopic != nil {
		kinds = append(kinds, "user_topic")
	}
	if e.RefreshWait {
		kinds = append(kinds, "refresh_wait")
	}
	return kinds
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScenarioInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scenario for structural errors.
func (s *Scenario) Validate() error {
	validation := &models.ValidationErrors{}

	seen := make(map[models.StreamID]bool)
	for i, sub := range s.Subscriptions {
		field := fmt.Sprintf("subscriptions[%d]", i)
		validation.Add(field, sub.Validate())
		if seen[sub.StreamID] {
			validation.AddMessage(field, fmt.Sprintf("duplicate stream %d", sub.StreamID))
		}
		seen[sub.StreamID] = true
	}

	addMessages := func(prefix string, msgs []models.Message) {
		for i, msg := range msgs {
			validation.Add(fmt.Sprintf("%s[%d]", prefix, i), msg.Validate())
		}
	}
	addMessages("server_messages", s.ServerMessages)
	addMessages("cache.messages", s.Cache.Messages)
	addMessages("unread", s.Unread)

	for i, ut := range s.UserTopics {
		validation.Add(fmt.Sprintf("user_topics[%d]", i), ut.validate())
	}

	for i, event := range s.Events {
		field := fmt.Sprintf("events[%d]", i)
		kinds := event.kinds()
		if len(kinds) != 1 {
			validation.AddMessage(field, fmt.Sprintf("exactly one event kind required, got %v", kinds))
			continue
		}
		validation.Add(field, event.validate())
	}

	if err := validation.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrScenarioInvalid, err)
	}
	return nil
}

func (u UserTopic) validate() error {
	validation := &models.ValidationErrors{}
	if u.StreamID <= 0 {
		validation.Add("stream_id", models.ErrInvalidStreamID)
	}
	validation.Add("topic", models.ValidateTopic(u.Topic))
	if _, err := usertopics.ParsePolicy(u.Policy); err != nil {
		validation.Add("policy", err)
	}
	return validation.Err()
}

func (e Event) validate() error {
	validation := &models.ValidationErrors{}
	switch {
	case e.Message != nil:
		validation.Add("message", e.Message.Validate())
	case e.Remove != nil:
		if e.Remove.StreamID <= 0 {
			validation.Add("remove.stream_id", models.ErrInvalidStreamID)
		}
		validation.Add("remove.topic", models.ValidateTopic(e.Remove.Topic))
		if len(e.Remove.MessageIDs) == 0 {
			validation.AddMessage("remove.message_ids", "at least one message id required")
		}
	case e.Move != nil:
		if e.Move.ToStreamID <= 0 {
			validation.Add("move.to_stream_id", models.ErrInvalidStreamID)
		}
		validation.Add("move.to_topic", models.ValidateTopic(e.Move.ToTopic))
		if len(e.Move.MessageIDs) == 0 {
			validation.AddMessage("move.message_ids", "at least one message id required")
		}
	case e.Fetch != nil:
		if e.Fetch.StreamID <= 0 {
			validation.Add("fetch.stream_id", models.ErrInvalidStreamID)
		}
	case e.UserTopic != nil:
		validation.Add("user_topic", e.UserTopic.validate())
	}
	return validation.Err()
}
