package topichistory

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/models"
)

type fakeCache struct {
	messages    []models.Message
	foundNewest bool
}

func (c *fakeCache) Empty() bool          { return len(c.messages) == 0 }
func (c *fakeCache) HasFoundNewest() bool { return c.foundNewest }

func (c *fakeCache) OldestMessageID() models.MessageID {
	var oldest models.MessageID
	for i, msg := range c.messages {
		if i == 0 || msg.ID < oldest {
			oldest = msg.ID
		}
	}
	return oldest
}

func (c *fakeCache) MessagesInTopic(streamID models.StreamID, topic string) []models.Message {
	var out []models.Message
	for _, msg := range c.messages {
		if msg.StreamID == streamID && strings.EqualFold(msg.Topic, topic) {
			out = append(out, msg)
		}
	}
	return out
}

func (c *fakeCache) MaxMessageIDInStream(streamID models.StreamID) models.MessageID {
	var latest models.MessageID
	for _, msg := range c.messages {
		if msg.StreamID == streamID && msg.ID > latest {
			latest = msg.ID
		}
	}
	return latest
}

type fakeSubs map[models.StreamID]models.Subscription

func (s fakeSubs) Subscription(streamID models.StreamID) (models.Subscription, bool) {
	sub, ok := s[streamID]
	return sub, ok
}

func (s fakeSubs) SetFirstMessageID(streamID models.StreamID, id models.MessageID) {
	sub, ok := s[streamID]
	if !ok {
		return
	}
	sub.FirstMessageID = &id
	s[streamID] = sub
}

func (s fakeSubs) add(streamID models.StreamID, first *models.MessageID) {
	s[streamID] = models.Subscription{StreamID: streamID, FirstMessageID: first}
}

type fakeMissing struct {
	entries map[models.StreamID][]TopicHistoryEntry
}

func (m *fakeMissing) MissingTopics(streamID models.StreamID, known TopicSet) []TopicHistoryEntry {
	var out []TopicHistoryEntry
	for _, entry := range m.entries[streamID] {
		if !known.Has(entry.PrettyName) {
			out = append(out, entry)
		}
	}
	return out
}

type refreshCall struct {
	streamID models.StreamID
	topic    string
}

type fakeRefresher struct {
	calls []refreshCall
}

func (f *fakeRefresher) RequestLatestMessageID(streamID models.StreamID, topic string) {
	f.calls = append(f.calls, refreshCall{streamID: streamID, topic: topic})
}

type recordingNotifier struct {
	events []*models.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event *models.Event) {
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []models.EventType {
	out := make([]models.EventType, 0, len(n.events))
	for _, event := range n.events {
		out = append(out, event.Type)
	}
	return out
}

type harness struct {
	reg       *Registry
	cache     *fakeCache
	subs      fakeSubs
	missing   *fakeMissing
	refresher *fakeRefresher
	notifier  *recordingNotifier
}

func newHarness(t require.TestingT) *harness {
	h := &harness{
		cache:     &fakeCache{},
		subs:      fakeSubs{},
		missing:   &fakeMissing{entries: map[models.StreamID][]TopicHistoryEntry{}},
		refresher: &fakeRefresher{},
		notifier:  &recordingNotifier{},
	}
	reg, err := New(Deps{
		Cache:         h.cache,
		Subscriptions: h.subs,
		Messages:      h.cache,
		MissingTopics: h.missing,
		Refresher:     h.refresher,
		Notifier:      h.notifier,
	}, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	h.reg = reg
	return h
}

func idPtr(id models.MessageID) *models.MessageID {
	return &id
}
