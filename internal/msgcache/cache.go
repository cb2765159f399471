// Package msgcache holds the client's contiguous range of recently fetched
// messages across all streams, backed by SQLite.
package msgcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/topicindex/internal/db"
	"github.com/tOgg1/topicindex/internal/logging"
	"github.com/tOgg1/topicindex/internal/models"
)

const defaultQueryTimeout = 5 * time.Second

// Cache is the message-range cache. Query failures are logged and answered
// with the conservative value: an empty cache that has not found the newest
// message.
type Cache struct {
	repo    *db.MessageRepository
	logger  zerolog.Logger
	timeout time.Duration

	mu          sync.RWMutex
	foundNewest bool
	foundOldest bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithQueryTimeout bounds every repository query.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a cache over repo.
func New(repo *db.MessageRepository, opts ...Option) *Cache {
	c := &Cache{
		repo:    repo,
		logger:  logging.Component("msgcache"),
		timeout: defaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add stores fetched messages.
func (c *Cache) Add(ctx context.Context, messages ...models.Message) error {
	return c.repo.Insert(ctx, messages...)
}

// Remove drops messages from the cache.
func (c *Cache) Remove(ctx context.Context, ids ...models.MessageID) error {
	_, err := c.repo.Delete(ctx, ids...)
	return err
}

// Move retopics cached messages.
func (c *Cache) Move(ctx context.Context, streamID models.StreamID, topic string, ids ...models.MessageID) error {
	_, err := c.repo.Move(ctx, streamID, topic, ids...)
	return err
}

// Get returns a cached message.
func (c *Cache) Get(ctx context.Context, id models.MessageID) (models.Message, bool) {
	msg, err := c.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, db.ErrMessageNotFound) {
			c.logger.Warn().Err(err).Int64("message_id", int64(id)).Msg("cache lookup failed")
		}
		return models.Message{}, false
	}
	return msg, true
}

// SetFoundNewest records whether the cached range reaches the newest message.
func (c *Cache) SetFoundNewest(found bool) {
	c.mu.Lock()
	c.foundNewest = found
	c.mu.Unlock()
}

// SetFoundOldest records whether the cached range reaches the first message.
func (c *Cache) SetFoundOldest(found bool) {
	c.mu.Lock()
	c.foundOldest = found
	c.mu.Unlock()
}

// HasFoundNewest reports whether the cache reaches the newest message.
func (c *Cache) HasFoundNewest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.foundNewest
}

// HasFoundOldest reports whether the cache reaches the first message.
func (c *Cache) HasFoundOldest() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.foundOldest
}

// Empty reports whether the cache holds no messages.
func (c *Cache) Empty() bool {
	ctx, cancel := c.queryContext()
	defer cancel()

	n, err := c.repo.Count(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("count cached messages")
		return true
	}
	return n == 0
}

// OldestMessageID returns the oldest cached id, or 0 when empty.
func (c *Cache) OldestMessageID() models.MessageID {
	ctx, cancel := c.queryContext()
	defer cancel()

	id, _, err := c.repo.MinID(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("oldest cached message")
		return 0
	}
	return id
}

// NewestMessageID returns the newest cached id, or 0 when empty.
func (c *Cache) NewestMessageID() models.MessageID {
	ctx, cancel := c.queryContext()
	defer cancel()

	id, _, err := c.repo.MaxID(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("newest cached message")
		return 0
	}
	return id
}

// MessagesInTopic returns cached messages of a topic in ascending id order.
func (c *Cache) MessagesInTopic(streamID models.StreamID, topic string) []models.Message {
	ctx, cancel := c.queryContext()
	defer cancel()

	msgs, err := c.repo.MessagesInTopic(ctx, streamID, topic)
	if err != nil {
		logger := logging.WithStream(c.logger, streamID)
		logger.Warn().Err(err).Str("topic", topic).Msg("cached topic messages")
		return nil
	}
	return msgs
}

// MaxMessageIDInStream returns the newest cached id in a stream, or 0.
func (c *Cache) MaxMessageIDInStream(streamID models.StreamID) models.MessageID {
	ctx, cancel := c.queryContext()
	defer cancel()

	id, err := c.repo.MaxIDInStream(ctx, streamID)
	if err != nil {
		logger := logging.WithStream(c.logger, streamID)
		logger.Warn().Err(err).Msg("max cached stream id")
		return 0
	}
	return id
}

func (c *Cache) queryContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}
