// Package topichistory maintains a per-stream index of topics: which topics
// exist, their latest known message, a local message count, and whether the
// topic list of a stream is known to be complete.
//
// A Registry is not safe for concurrent use. It is meant to be owned by a
// single goroutine (see internal/eventloop) that applies events in the order
// they were delivered.
package topichistory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/topicindex/internal/logging"
	"github.com/tOgg1/topicindex/internal/models"
)

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("topichistory: missing dependency")

// Deps are the collaborators a Registry is built with. Cache, Subscriptions
// and Messages are required; the rest may be nil.
type Deps struct {
	Cache         RangeCache
	Subscriptions SubscriptionStore
	Messages      MessageLookup
	MissingTopics MissingTopicsSupplier
	Refresher     TopicRefresher
	Notifier      Notifier
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger overrides the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithNow overrides the clock used for event timestamps.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// RemoveRequest describes messages leaving a topic.
type RemoveRequest struct {
	StreamID            models.StreamID
	Topic               string
	NumMessages         int
	MaxRemovedMessageID models.MessageID
}

// Registry owns the PerStreamHistory of every stream seen this session.
type Registry struct {
	cache     RangeCache
	subs      SubscriptionStore
	messages  MessageLookup
	missing   MissingTopicsSupplier
	refresher TopicRefresher
	notifier  Notifier
	logger    zerolog.Logger
	now       func() time.Time

	streams         map[models.StreamID]*PerStreamHistory
	fullyFetched    map[models.StreamID]struct{}
	pendingRequests map[models.StreamID]struct{}
}

// New builds an empty Registry.
func New(deps Deps, opts ...Option) (*Registry, error) {
	switch {
	case deps.Cache == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("range cache required"))
	case deps.Subscriptions == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("subscription store required"))
	case deps.Messages == nil:
		return nil, errors.Join(ErrMissingDependency, errors.New("message lookup required"))
	}

	r := &Registry{
		cache:           deps.Cache,
		subs:            deps.Subscriptions,
		messages:        deps.Messages,
		missing:         deps.MissingTopics,
		refresher:       deps.Refresher,
		notifier:        deps.Notifier,
		logger:          logging.Component("topic-history"),
		now:             func() time.Time { return time.Now().UTC() },
		streams:         make(map[models.StreamID]*PerStreamHistory),
		fullyFetched:    make(map[models.StreamID]struct{}),
		pendingRequests: make(map[models.StreamID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FindOrCreate returns the history for streamID, creating it on first use.
func (r *Registry) FindOrCreate(streamID models.StreamID) *PerStreamHistory {
	history, ok := r.streams[streamID]
	if !ok {
		history = newPerStreamHistory(streamID, r)
		r.streams[streamID] = history
	}
	return history
}

// History returns the history for streamID without creating it.
func (r *Registry) History(streamID models.StreamID) (*PerStreamHistory, bool) {
	history, ok := r.streams[streamID]
	return history, ok
}

// Streams returns the ids of all streams with a history, ascending.
func (r *Registry) Streams() []models.StreamID {
	ids := make([]models.StreamID, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RecordMessage indexes a new (or newly moved-in) message.
func (r *Registry) RecordMessage(msg models.Message) {
	r.FindOrCreate(msg.StreamID).RecordMessage(msg.Topic, msg.ID)
}

// MergeServerSnapshot merges the server's topic list for a stream and marks
// the stream fully fetched.
func (r *Registry) MergeServerSnapshot(streamID models.StreamID, entries []models.ServerTopic) {
	r.FindOrCreate(streamID).MergeServerSnapshot(entries)
	r.markComplete(streamID)
}

// RemoveMessages handles messages that were moved out of a topic or deleted.
// Unknown streams are ignored.
func (r *Registry) RemoveMessages(req RemoveRequest) {
	history, ok := r.streams[req.StreamID]
	if !ok {
		return
	}

	history.RemoveMessages(req.Topic, req.NumMessages)

	existing, ok := history.topics.Get(req.Topic)
	if !ok {
		return
	}

	if existing.MessageID <= req.MaxRemovedMessageID {
		var latest models.MessageID
		for _, msg := range r.messages.MessagesInTopic(req.StreamID, req.Topic) {
			if msg.ID > latest {
				latest = msg.ID
			}
		}
		existing.MessageID = latest
	}

	if history.maxMessageID <= req.MaxRemovedMessageID {
		history.maxMessageID = r.messages.MaxMessageIDInStream(req.StreamID)
	}
}

// HasTopics reports whether streamID has any indexed topic. It never
// creates a history.
func (r *Registry) HasTopics(streamID models.StreamID) bool {
	history, ok := r.streams[streamID]
	if !ok {
		return false
	}
	return history.HasTopics()
}

// HasHistoryFor reports whether streamID is already known to be complete,
// without consulting the range cache.
func (r *Registry) HasHistoryFor(streamID models.StreamID) bool {
	_, ok := r.fullyFetched[streamID]
	return ok
}

// HasCompleteHistory reports whether the local topic list of streamID can be
// trusted without asking the server. A positive answer from the range cache
// is remembered; a negative one is not, since the initial message fetch may
// simply not have finished yet.
func (r *Registry) HasCompleteHistory(streamID models.StreamID) bool {
	if r.HasHistoryFor(streamID) {
		return true
	}

	sub, ok := r.subs.Subscription(streamID)
	if !ok || !AllTopicsInCache(r.cache, sub) {
		return false
	}

	r.markComplete(streamID)
	return true
}

// RecentTopicNames returns the display names of streamID's topics, most
// recent first.
func (r *Registry) RecentTopicNames(streamID models.StreamID) []string {
	return r.FindOrCreate(streamID).RecentTopicNames()
}

// MaxMessageID returns the latest message id seen for streamID.
func (r *Registry) MaxMessageID(streamID models.StreamID) models.MessageID {
	return r.FindOrCreate(streamID).MaxMessageID()
}

// RequestPending reports whether a topic-history fetch is outstanding.
func (r *Registry) RequestPending(streamID models.StreamID) bool {
	_, ok := r.pendingRequests[streamID]
	return ok
}

// MarkRequestPending records an outstanding fetch for streamID.
func (r *Registry) MarkRequestPending(streamID models.StreamID) {
	r.pendingRequests[streamID] = struct{}{}
}

// ClearRequestPending forgets the outstanding fetch for streamID.
func (r *Registry) ClearRequestPending(streamID models.StreamID) {
	delete(r.pendingRequests, streamID)
}

// Reset drops all state. Used by tests.
func (r *Registry) Reset() {
	clear(r.streams)
	clear(r.fullyFetched)
	clear(r.pendingRequests)
}

func (r *Registry) markComplete(streamID models.StreamID) {
	if _, ok := r.fullyFetched[streamID]; ok {
		return
	}
	r.fullyFetched[streamID] = struct{}{}
	logger := logging.WithStream(r.logger, streamID)
	logger.Debug().Msg("stream topic history complete")
	r.publish(models.EventTypeStreamHistoryComplete, models.EntityTypeStream, streamID, "", nil)
}

func (r *Registry) invalidate(streamID models.StreamID, previous *models.MessageID, first models.MessageID) {
	_, wasComplete := r.fullyFetched[streamID]
	delete(r.fullyFetched, streamID)

	logger := logging.WithStream(r.logger, streamID)
	event := logger.Debug().
		Int64("first_message_id", int64(first)).
		Bool("was_complete", wasComplete)
	if previous != nil {
		event = event.Int64("previous_first_message_id", int64(*previous))
	}
	event.Msg("stream first message id lowered")

	r.publish(models.EventTypeStreamHistoryInvalidated, models.EntityTypeStream, streamID, "",
		models.HistoryInvalidatedPayload{PreviousFirstMessageID: previous, FirstMessageID: first})
}

func (r *Registry) topicCreated(streamID models.StreamID, entry TopicHistoryEntry) {
	r.publish(models.EventTypeTopicCreated, models.EntityTypeTopic, streamID, entry.PrettyName,
		models.TopicPayload{MessageID: entry.MessageID, Count: entry.Count})
}

func (r *Registry) topicRemoved(streamID models.StreamID, entry TopicHistoryEntry) {
	logger := logging.WithStream(r.logger, streamID)
	logger.Debug().
		Str("topic", entry.PrettyName).
		Int("count", entry.Count).
		Msg("topic emptied locally")
	r.publish(models.EventTypeTopicRemoved, models.EntityTypeTopic, streamID, entry.PrettyName,
		models.TopicPayload{MessageID: entry.MessageID, Count: entry.Count})
}

func (r *Registry) requestRefresh(streamID models.StreamID, topic string) {
	if r.refresher == nil {
		return
	}
	logger := logging.WithStream(r.logger, streamID)
	logger.Debug().Str("topic", topic).Msg("requesting latest topic message")
	r.refresher.RequestLatestMessageID(streamID, topic)
	r.publish(models.EventTypeTopicRefreshRequested, models.EntityTypeTopic, streamID, topic, nil)
}

func (r *Registry) publish(typ models.EventType, entity models.EntityType, streamID models.StreamID, topic string, payload any) {
	if r.notifier == nil {
		return
	}
	event := &models.Event{
		Timestamp:  r.now(),
		Type:       typ,
		EntityType: entity,
		StreamID:   streamID,
		Topic:      topic,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			r.logger.Warn().Err(err).Str("event_type", string(typ)).Msg("failed to encode event payload")
		} else {
			event.Payload = data
		}
	}
	r.notifier.Publish(context.Background(), event)
}
