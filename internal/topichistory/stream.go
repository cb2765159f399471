package topichistory

import (
	"sort"

	"github.com/tOgg1/topicindex/internal/foldmap"
	"github.com/tOgg1/topicindex/internal/models"
)

// TopicHistoryEntry is the index record for one topic.
type TopicHistoryEntry struct {
	// MessageID is the latest message id known for the topic. It may lag
	// behind the server if we have not seen every message.
	MessageID models.MessageID `json:"message_id"`

	// PrettyName is the most recently observed spelling of the topic.
	PrettyName string `json:"pretty_name"`

	// Count is the number of messages attributed to the topic locally. It is
	// only used to notice when a topic has been emptied by moves or deletes.
	Count int `json:"count"`
}

// PerStreamHistory indexes the topics of a single stream.
type PerStreamHistory struct {
	streamID     models.StreamID
	topics       *foldmap.Map[*TopicHistoryEntry]
	maxMessageID models.MessageID
	registry     *Registry
}

func newPerStreamHistory(streamID models.StreamID, registry *Registry) *PerStreamHistory {
	return &PerStreamHistory{
		streamID: streamID,
		topics:   foldmap.New[*TopicHistoryEntry](),
		registry: registry,
	}
}

// StreamID returns the stream this history belongs to.
func (h *PerStreamHistory) StreamID() models.StreamID {
	return h.streamID
}

// HasTopics reports whether any topic is indexed.
func (h *PerStreamHistory) HasTopics() bool {
	return h.topics.Len() != 0
}

// Len returns the number of indexed topics.
func (h *PerStreamHistory) Len() int {
	return h.topics.Len()
}

// MaxMessageID returns the most recent message id seen for the stream.
func (h *PerStreamHistory) MaxMessageID() models.MessageID {
	return h.maxMessageID
}

// Topic returns a copy of the entry for topic.
func (h *PerStreamHistory) Topic(topic string) (TopicHistoryEntry, bool) {
	existing, ok := h.topics.Get(topic)
	if !ok {
		return TopicHistoryEntry{}, false
	}
	return *existing, true
}

// Topics returns copies of all entries in insertion order.
func (h *PerStreamHistory) Topics() []TopicHistoryEntry {
	out := make([]TopicHistoryEntry, 0, h.topics.Len())
	for _, entry := range h.topics.All() {
		out = append(out, *entry)
	}
	return out
}

// updateStreamWithMessageID folds id into the stream-level bookkeeping.
//
// Raising the stream's first message id is harmless, so removals never do
// it. Lowering it means older messages were moved into the stream and the
// range between the old and new first id may hold topics we have not seen,
// so the stream stops being known-complete.
func (h *PerStreamHistory) updateStreamWithMessageID(id models.MessageID) {
	if id > h.maxMessageID {
		h.maxMessageID = id
	}

	r := h.registry
	sub, ok := r.subs.Subscription(h.streamID)
	if !ok {
		return
	}

	if sub.FirstMessageID == nil || id < *sub.FirstMessageID {
		r.subs.SetFirstMessageID(h.streamID, id)
		r.invalidate(h.streamID, sub.FirstMessageID, id)
	}
}

// RecordMessage accounts for a message in topic. The id may be far from the
// topic's true latest message; caching the topic matters more than an exact
// id.
func (h *PerStreamHistory) RecordMessage(topic string, id models.MessageID) {
	h.updateStreamWithMessageID(id)

	existing, ok := h.topics.Get(topic)
	if !ok {
		entry := &TopicHistoryEntry{MessageID: id, PrettyName: topic, Count: 1}
		h.topics.Set(topic, entry)
		h.registry.topicCreated(h.streamID, *entry)
		return
	}

	existing.Count++

	// Ties keep the existing spelling.
	if id > existing.MessageID {
		existing.MessageID = id
		existing.PrettyName = topic
		h.topics.Set(topic, existing)
	}
}

// RemoveMessages un-counts numMessages from topic after they were moved
// away or deleted. When the topic looks empty it is dropped; if the stream
// is not known-complete the server is asked for the topic's real latest
// message, since other messages may still exist outside our cache.
func (h *PerStreamHistory) RemoveMessages(topic string, numMessages int) {
	existing, ok := h.topics.Get(topic)
	if !ok || existing.Count == 0 {
		return
	}

	if existing.Count <= numMessages {
		h.topics.Delete(topic)
		h.registry.topicRemoved(h.streamID, *existing)
		if !h.registry.HasCompleteHistory(h.streamID) {
			h.registry.requestRefresh(h.streamID, topic)
		}
		return
	}

	existing.Count = max(existing.Count-numMessages, 0)
}

// MergeServerSnapshot folds a server topic-history response into the index.
// Known topics take the server's message id as-is, even when it is lower
// than a locally observed one; local counts are left alone. New topics start
// with a zero count because the server does not report counts.
func (h *PerStreamHistory) MergeServerSnapshot(entries []models.ServerTopic) {
	for _, item := range entries {
		if existing, ok := h.topics.Get(item.Name); ok {
			existing.MessageID = item.MaxID
			continue
		}

		entry := &TopicHistoryEntry{MessageID: item.MaxID, PrettyName: item.Name}
		h.topics.Set(item.Name, entry)
		h.registry.topicCreated(h.streamID, *entry)
		h.updateStreamWithMessageID(item.MaxID)
	}
}

// RecentTopics returns the indexed topics plus any missing topics with
// unreads, most recent first.
func (h *PerStreamHistory) RecentTopics() []TopicHistoryEntry {
	recents := h.Topics()
	if supplier := h.registry.missing; supplier != nil {
		recents = append(recents, supplier.MissingTopics(h.streamID, h.topics)...)
	}

	sort.SliceStable(recents, func(i, j int) bool {
		return recents[i].MessageID > recents[j].MessageID
	})
	return recents
}

// RecentTopicNames returns topic display names, most recent first.
func (h *PerStreamHistory) RecentTopicNames() []string {
	recents := h.RecentTopics()
	names := make([]string, 0, len(recents))
	for _, entry := range recents {
		names = append(names, entry.PrettyName)
	}
	return names
}
