// Package substore keeps channel metadata for the streams the user is
// subscribed to.
package substore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tOgg1/topicindex/internal/models"
)

// Store is an in-memory subscription store. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	subs map[models.StreamID]*models.Subscription
}

// New creates an empty Store.
func New() *Store {
	return &Store{subs: make(map[models.StreamID]*models.Subscription)}
}

// Add creates or replaces a subscription.
func (s *Store) Add(sub models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("invalid subscription %d: %w", sub.StreamID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneSubscription(sub)
	s.subs[sub.StreamID] = &stored
	return nil
}

// Remove deletes the subscription for streamID.
func (s *Store) Remove(streamID models.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, streamID)
}

// Subscription returns a copy of the subscription for streamID.
func (s *Store) Subscription(streamID models.StreamID) (models.Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[streamID]
	if !ok {
		return models.Subscription{}, false
	}
	return cloneSubscription(*sub), true
}

// SetFirstMessageID updates the earliest known message id. Unknown streams
// are ignored.
func (s *Store) SetFirstMessageID(streamID models.StreamID, id models.MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[streamID]
	if !ok {
		return
	}
	sub.FirstMessageID = &id
}

// List returns all subscriptions ordered by stream id.
func (s *Store) List() []models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, cloneSubscription(*sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

func cloneSubscription(sub models.Subscription) models.Subscription {
	if sub.FirstMessageID != nil {
		first := *sub.FirstMessageID
		sub.FirstMessageID = &first
	}
	return sub
}
