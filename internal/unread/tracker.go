// Package unread tracks unread messages and reports topics with unreads that
// the local topic index has not seen yet.
package unread

import (
	"sort"
	"sync"

	"github.com/tOgg1/topicindex/internal/foldmap"
	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/topichistory"
)

// MuteChecker reports whether a topic is muted for the current user.
type MuteChecker interface {
	IsMuted(streamID models.StreamID, topic string) bool
}

// Tracker holds unread messages keyed by id.
type Tracker struct {
	mu     sync.RWMutex
	unread map[models.MessageID]models.Message
	muted  MuteChecker
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMuteChecker hides muted topics from MissingTopics.
func WithMuteChecker(muted MuteChecker) Option {
	return func(t *Tracker) {
		t.muted = muted
	}
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{unread: make(map[models.MessageID]models.Message)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkUnread records msg as unread.
func (t *Tracker) MarkUnread(msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.unread[msg.ID] = msg
	t.mu.Unlock()
	return nil
}

// MarkRead forgets the given ids. Unknown ids are ignored.
func (t *Tracker) MarkRead(ids ...models.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.unread, id)
	}
}

// Move updates the location of unread messages that were retopiced.
func (t *Tracker) Move(streamID models.StreamID, topic string, ids ...models.MessageID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		if msg, ok := t.unread[id]; ok {
			msg.StreamID = streamID
			msg.Topic = topic
			t.unread[id] = msg
		}
	}
}

// Count returns the number of unread messages in a topic.
func (t *Tracker) Count(streamID models.StreamID, topic string) int {
	key := foldmap.Fold(topic)

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, msg := range t.unread {
		if msg.StreamID == streamID && foldmap.Fold(msg.Topic) == key {
			n++
		}
	}
	return n
}

// MissingTopics returns topics in streamID that have unread messages but are
// absent from known. Each entry carries the newest unread id of the topic and
// the spelling that message used.
func (t *Tracker) MissingTopics(streamID models.StreamID, known topichistory.TopicSet) []topichistory.TopicHistoryEntry {
	t.mu.RLock()
	byTopic := foldmap.New[*topichistory.TopicHistoryEntry]()
	for _, msg := range t.unread {
		if msg.StreamID != streamID {
			continue
		}
		entry, ok := byTopic.Get(msg.Topic)
		if !ok {
			byTopic.Set(msg.Topic, &topichistory.TopicHistoryEntry{MessageID: msg.ID, PrettyName: msg.Topic, Count: 1})
			continue
		}
		entry.Count++
		if msg.ID > entry.MessageID {
			entry.MessageID = msg.ID
			entry.PrettyName = msg.Topic
		}
	}
	t.mu.RUnlock()

	var out []topichistory.TopicHistoryEntry
	for _, entry := range byTopic.Values() {
		if known != nil && known.Has(entry.PrettyName) {
			continue
		}
		if t.muted != nil && t.muted.IsMuted(streamID, entry.PrettyName) {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID > out[j].MessageID })
	return out
}
