// Package usertopics keeps the current user's per-topic visibility policies
// and announces changes to them.
package usertopics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tOgg1/topicindex/internal/foldmap"
	"github.com/tOgg1/topicindex/internal/models"
)

// Policy is a topic visibility policy.
type Policy int

const (
	PolicyInherit  Policy = 0
	PolicyMuted    Policy = 1
	PolicyUnmuted  Policy = 2
	PolicyFollowed Policy = 3
)

// GeneralChatDisplayName is how clients display the empty topic. Requests
// naming it are stored under the empty topic.
const GeneralChatDisplayName = "general chat"

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyInherit:
		return "inherit"
	case PolicyMuted:
		return "muted"
	case PolicyUnmuted:
		return "unmuted"
	case PolicyFollowed:
		return "followed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p >= PolicyInherit && p <= PolicyFollowed
}

// ParsePolicy parses a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch foldmap.Fold(s) {
	case "inherit", "":
		return PolicyInherit, nil
	case "muted":
		return PolicyMuted, nil
	case "unmuted":
		return PolicyUnmuted, nil
	case "followed":
		return PolicyFollowed, nil
	}
	return PolicyInherit, fmt.Errorf("%w: %q", models.ErrInvalidPolicy, s)
}

// Publisher receives user_topic.updated events.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event)
}

// UserTopic is one stored policy row.
type UserTopic struct {
	StreamID    models.StreamID `json:"stream_id"`
	Topic       string          `json:"topic_name"`
	Policy      Policy          `json:"visibility_policy"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Store holds policies keyed by stream and case-insensitive topic. Inherit is
// never stored; setting it removes the row.
type Store struct {
	mu        sync.RWMutex
	streams   map[models.StreamID]*foldmap.Map[UserTopic]
	publisher Publisher
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets where change events are sent.
func WithPublisher(p Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithNow overrides the clock used when no update time is given.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		streams: make(map[models.StreamID]*foldmap.Map[UserTopic]),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set stores policy for a topic and reports whether anything changed.
// Setting the current value, or inherit on a topic with no row, is a no-op
// and publishes nothing. A zero lastUpdated means now.
func (s *Store) Set(ctx context.Context, streamID models.StreamID, topic string, policy Policy, lastUpdated time.Time) (bool, error) {
	if streamID <= 0 {
		return false, models.ErrInvalidStreamID
	}
	if !policy.Valid() {
		return false, fmt.Errorf("%w: %d", models.ErrInvalidPolicy, int(policy))
	}
	if foldmap.Fold(topic) == GeneralChatDisplayName {
		topic = ""
	}
	if err := models.ValidateTopic(topic); err != nil {
		return false, err
	}
	if lastUpdated.IsZero() {
		lastUpdated = s.now()
	}

	s.mu.Lock()
	topics, ok := s.streams[streamID]
	if !ok {
		topics = foldmap.New[UserTopic]()
		s.streams[streamID] = topics
	}
	current, exists := topics.Get(topic)
	changed := false
	switch {
	case policy == PolicyInherit:
		changed = topics.Delete(topic)
	case !exists || current.Policy != policy:
		topics.Set(topic, UserTopic{StreamID: streamID, Topic: topic, Policy: policy, LastUpdated: lastUpdated})
		changed = true
	}
	if topics.Len() == 0 {
		delete(s.streams, streamID)
	}
	s.mu.Unlock()

	if changed {
		s.publish(ctx, streamID, topic, policy, lastUpdated)
	}
	return changed, nil
}

// Policy returns the stored policy, or inherit.
func (s *Store) Policy(streamID models.StreamID, topic string) Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics, ok := s.streams[streamID]
	if !ok {
		return PolicyInherit
	}
	row, ok := topics.Get(topic)
	if !ok {
		return PolicyInherit
	}
	return row.Policy
}

// IsMuted reports whether the topic is explicitly muted.
func (s *Store) IsMuted(streamID models.StreamID, topic string) bool {
	return s.Policy(streamID, topic) == PolicyMuted
}

// List returns all stored rows ordered by stream then topic key.
func (s *Store) List() []UserTopic {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []UserTopic
	for _, topics := range s.streams {
		out = append(out, topics.Values()...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StreamID != out[j].StreamID {
			return out[i].StreamID < out[j].StreamID
		}
		return foldmap.Fold(out[i].Topic) < foldmap.Fold(out[j].Topic)
	})
	return out
}

func (s *Store) publish(ctx context.Context, streamID models.StreamID, topic string, policy Policy, lastUpdated time.Time) {
	if s.publisher == nil {
		return
	}
	payload, _ := json.Marshal(models.UserTopicPayload{
		VisibilityPolicy: int(policy),
		LastUpdated:      lastUpdated.Unix(),
	})
	s.publisher.Publish(ctx, &models.Event{
		Timestamp:  s.now(),
		Type:       models.EventTypeUserTopicUpdated,
		EntityType: models.EntityTypeTopic,
		StreamID:   streamID,
		Topic:      topic,
		Payload:    payload,
	})
}
