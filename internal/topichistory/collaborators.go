package topichistory

import (
	"context"

	"github.com/tOgg1/topicindex/internal/models"
)

// RangeCache is the client's contiguous cache of recent messages across all
// streams.
type RangeCache interface {
	// Empty reports whether the cache holds no messages.
	Empty() bool
	// HasFoundNewest reports whether the cache reaches the newest message.
	HasFoundNewest() bool
	// OldestMessageID returns the id of the oldest cached message.
	OldestMessageID() models.MessageID
}

// SubscriptionStore exposes channel metadata for known streams.
type SubscriptionStore interface {
	Subscription(streamID models.StreamID) (models.Subscription, bool)
	SetFirstMessageID(streamID models.StreamID, id models.MessageID)
}

// TopicSet is a read-only view of the topics already indexed for a stream.
type TopicSet interface {
	Has(name string) bool
}

// MissingTopicsSupplier reports topics with unread messages that the local
// index does not know about (typically older than the cached range).
type MissingTopicsSupplier interface {
	MissingTopics(streamID models.StreamID, known TopicSet) []TopicHistoryEntry
}

// MessageLookup answers questions about locally cached messages.
type MessageLookup interface {
	MessagesInTopic(streamID models.StreamID, topic string) []models.Message
	MaxMessageIDInStream(streamID models.StreamID) models.MessageID
}

// TopicRefresher asks the server for the latest message id of a topic.
// Implementations must not block; the answer arrives later as a regular
// RecordMessage.
type TopicRefresher interface {
	RequestLatestMessageID(streamID models.StreamID, topic string)
}

// Notifier receives index change events.
type Notifier interface {
	Publish(ctx context.Context, event *models.Event)
}
