package scenario

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tOgg1/topicindex/internal/config"
	"github.com/tOgg1/topicindex/internal/db"
	"github.com/tOgg1/topicindex/internal/eventloop"
	"github.com/tOgg1/topicindex/internal/events"
	"github.com/tOgg1/topicindex/internal/foldmap"
	"github.com/tOgg1/topicindex/internal/logging"
	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/msgcache"
	"github.com/tOgg1/topicindex/internal/substore"
	"github.com/tOgg1/topicindex/internal/topicfetch"
	"github.com/tOgg1/topicindex/internal/topichistory"
	"github.com/tOgg1/topicindex/internal/unread"
	"github.com/tOgg1/topicindex/internal/usertopics"
)

// Report is the state of the index after a scenario has run.
type Report struct {
	Streams    []StreamReport         `json:"streams"`
	UserTopics []usertopics.UserTopic `json:"user_topics,omitempty"`
	Events     []*models.Event        `json:"events"`
}

// StreamReport summarises one stream.
type StreamReport struct {
	StreamID       models.StreamID                  `json:"stream_id"`
	Name           string                           `json:"name,omitempty"`
	FirstMessageID *models.MessageID                `json:"first_message_id,omitempty"`
	MaxMessageID   models.MessageID                 `json:"max_message_id"`
	Complete       bool                             `json:"complete"`
	Topics         []topichistory.TopicHistoryEntry `json:"topics"`
}

// Stream returns the report for streamID.
func (r *Report) Stream(streamID models.StreamID) (StreamReport, bool) {
	for _, s := range r.Streams {
		if s.StreamID == streamID {
			return s, true
		}
	}
	return StreamReport{}, false
}

// TopicNames returns topic names most recent first, keeping only those that
// start with prefix under case folding.
func (s StreamReport) TopicNames(prefix string) []string {
	folded := foldmap.Fold(prefix)
	names := make([]string, 0, len(s.Topics))
	for _, topic := range s.Topics {
		if strings.HasPrefix(foldmap.Fold(topic.PrettyName), folded) {
			names = append(names, topic.PrettyName)
		}
	}
	return names
}

type runner struct {
	server  *db.MessageRepository
	cache   *msgcache.Cache
	subs    *substore.Store
	unread  *unread.Tracker
	topics  *usertopics.Store
	loop    *eventloop.Loop
	fetcher *topicfetch.Fetcher
	events  *db.EventRepository
}

// Run builds every component from cfg, replays s and reports the result.
// A nil cfg uses the defaults.
func Run(ctx context.Context, s *Scenario, cfg *config.Config) (*Report, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	logger := logging.Component("scenario")

	cacheDB, err := db.Open(db.Config{
		DSN:           cfg.Cache.DSN,
		BusyTimeoutMs: cfg.Cache.BusyTimeoutMs,
		Retry:         db.RetryPolicy{Attempts: cfg.Cache.RetryAttempts, Backoff: cfg.Cache.RetryBackoff},
	})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	defer cacheDB.Close()
	if _, err := cacheDB.MigrateUp(ctx); err != nil {
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}

	serverDB, err := db.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("open server database: %w", err)
	}
	defer serverDB.Close()
	if _, err := serverDB.MigrateUp(ctx); err != nil {
		return nil, fmt.Errorf("migrate server database: %w", err)
	}

	cacheRepo := db.NewMessageRepository(cacheDB)
	if err := cacheRepo.DeleteAll(ctx); err != nil {
		return nil, err
	}
	eventRepo := db.NewEventRepository(cacheDB)
	if err := eventRepo.DeleteAll(ctx); err != nil {
		return nil, err
	}

	r := &runner{
		server: db.NewMessageRepository(serverDB),
		cache:  msgcache.New(cacheRepo, msgcache.WithQueryTimeout(cfg.Cache.QueryTimeout)),
		subs:   substore.New(),
		events: eventRepo,
	}
	publisher := events.NewInMemoryPublisher(events.WithRepository(r.events))
	r.topics = usertopics.New(usertopics.WithPublisher(publisher))
	r.unread = unread.New(unread.WithMuteChecker(r.topics))
	r.loop = eventloop.New(eventloop.Config{QueueSize: cfg.Loop.QueueSize})
	r.fetcher = topicfetch.New(topicfetch.NewDBServer(r.server), r.loop, topicfetch.Config{
		Timeout:       cfg.Fetch.Timeout,
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
	})
	defer r.fetcher.Close()

	reg, err := topichistory.New(topichistory.Deps{
		Cache:         r.cache,
		Subscriptions: r.subs,
		Messages:      r.cache,
		MissingTopics: r.unread,
		Refresher:     r.fetcher,
		Notifier:      publisher,
	})
	if err != nil {
		return nil, err
	}
	if err := r.loop.Start(ctx, reg); err != nil {
		return nil, err
	}
	defer func() { _ = r.loop.Stop() }()

	if err := r.seed(ctx, s); err != nil {
		return nil, err
	}

	for i, event := range s.Events {
		logger.Debug().Int("index", i).Str("kind", event.Kind()).Msg("applying event")
		if err := r.apply(ctx, event); err != nil {
			return nil, fmt.Errorf("events[%d] (%s): %w", i, event.Kind(), err)
		}
	}

	if err := r.settle(ctx); err != nil {
		return nil, err
	}
	return r.report(ctx, s)
}

func (r *runner) seed(ctx context.Context, s *Scenario) error {
	for _, sub := range s.Subscriptions {
		if err := r.subs.Add(sub); err != nil {
			return err
		}
	}
	if err := r.server.Insert(ctx, s.ServerMessages...); err != nil {
		return fmt.Errorf("seed server: %w", err)
	}
	if err := r.server.Insert(ctx, s.Cache.Messages...); err != nil {
		return fmt.Errorf("seed server: %w", err)
	}
	if err := r.cache.Add(ctx, s.Cache.Messages...); err != nil {
		return fmt.Errorf("seed cache: %w", err)
	}
	r.cache.SetFoundNewest(s.Cache.FoundNewest)
	r.cache.SetFoundOldest(s.Cache.FoundOldest)

	for _, msg := range s.Unread {
		if err := r.unread.MarkUnread(msg); err != nil {
			return err
		}
	}
	for _, ut := range s.UserTopics {
		if err := r.setUserTopic(ctx, ut); err != nil {
			return err
		}
	}

	cached := slices.Clone(s.Cache.Messages)
	slices.SortFunc(cached, func(a, b models.Message) int { return cmp.Compare(a.ID, b.ID) })
	return r.loop.Do(ctx, func(reg *topichistory.Registry) {
		for _, msg := range cached {
			reg.RecordMessage(msg)
		}
	})
}

func (r *runner) apply(ctx context.Context, event Event) error {
	switch {
	case event.Message != nil:
		return r.applyMessage(ctx, *event.Message)
	case event.Remove != nil:
		return r.applyRemove(ctx, *event.Remove)
	case event.Move != nil:
		return r.applyMove(ctx, *event.Move)
	case event.Fetch != nil:
		return r.fetcher.FetchStreamHistory(ctx, event.Fetch.StreamID)
	case len(event.MarkRead) > 0:
		r.unread.MarkRead(event.MarkRead...)
		return nil
	case event.UserTopic != nil:
		return r.setUserTopic(ctx, *event.UserTopic)
	case event.RefreshWait:
		return r.settle(ctx)
	}
	return nil
}

func (r *runner) applyMessage(ctx context.Context, event MessageEvent) error {
	msg := event.Message
	if err := r.server.Insert(ctx, msg); err != nil {
		return err
	}
	// New messages extend the cached range only when it already reaches the
	// newest message.
	if r.cache.HasFoundNewest() {
		if err := r.cache.Add(ctx, msg); err != nil {
			return err
		}
	}
	if event.Unread {
		if err := r.unread.MarkUnread(msg); err != nil {
			return err
		}
	}
	return r.loop.Do(ctx, func(reg *topichistory.Registry) {
		reg.RecordMessage(msg)
	})
}

// removal groups locally known messages leaving one topic.
type removal struct {
	streamID models.StreamID
	topic    string
	count    int
	maxID    models.MessageID
}

func (r *runner) cachedRemovals(ctx context.Context, ids []models.MessageID, keep func(models.Message) bool) ([]*removal, []models.Message) {
	var (
		groups []*removal
		found  []models.Message
	)
	for _, id := range ids {
		msg, ok := r.cache.Get(ctx, id)
		if !ok || !keep(msg) {
			continue
		}
		found = append(found, msg)

		idx := slices.IndexFunc(groups, func(g *removal) bool {
			return g.streamID == msg.StreamID && foldmap.Fold(g.topic) == foldmap.Fold(msg.Topic)
		})
		if idx < 0 {
			groups = append(groups, &removal{streamID: msg.StreamID, topic: msg.Topic})
			idx = len(groups) - 1
		}
		groups[idx].count++
		groups[idx].maxID = max(groups[idx].maxID, msg.ID)
	}
	return groups, found
}

func (r *runner) applyRemove(ctx context.Context, event RemoveEvent) error {
	groups, _ := r.cachedRemovals(ctx, event.MessageIDs, func(msg models.Message) bool {
		return msg.StreamID == event.StreamID && foldmap.Fold(msg.Topic) == foldmap.Fold(event.Topic)
	})

	if _, err := r.server.Delete(ctx, event.MessageIDs...); err != nil {
		return err
	}
	if err := r.cache.Remove(ctx, event.MessageIDs...); err != nil {
		return err
	}
	r.unread.MarkRead(event.MessageIDs...)

	return r.removeFromRegistry(ctx, groups)
}

func (r *runner) applyMove(ctx context.Context, event MoveEvent) error {
	groups, moved := r.cachedRemovals(ctx, event.MessageIDs, func(models.Message) bool { return true })

	if _, err := r.server.Move(ctx, event.ToStreamID, event.ToTopic, event.MessageIDs...); err != nil {
		return err
	}
	if err := r.cache.Move(ctx, event.ToStreamID, event.ToTopic, event.MessageIDs...); err != nil {
		return err
	}
	r.unread.Move(event.ToStreamID, event.ToTopic, event.MessageIDs...)

	if err := r.removeFromRegistry(ctx, groups); err != nil {
		return err
	}
	return r.loop.Do(ctx, func(reg *topichistory.Registry) {
		for _, msg := range moved {
			reg.RecordMessage(models.Message{ID: msg.ID, StreamID: event.ToStreamID, Topic: event.ToTopic})
		}
	})
}

func (r *runner) removeFromRegistry(ctx context.Context, groups []*removal) error {
	if len(groups) == 0 {
		return nil
	}
	return r.loop.Do(ctx, func(reg *topichistory.Registry) {
		for _, g := range groups {
			reg.RemoveMessages(topichistory.RemoveRequest{
				StreamID:            g.streamID,
				Topic:               g.topic,
				NumMessages:         g.count,
				MaxRemovedMessageID: g.maxID,
			})
		}
	})
}

func (r *runner) setUserTopic(ctx context.Context, ut UserTopic) error {
	policy, err := usertopics.ParsePolicy(ut.Policy)
	if err != nil {
		return err
	}
	_, err = r.topics.Set(ctx, ut.StreamID, ut.Topic, policy, time.Time{})
	return err
}

// settle waits for outstanding topic refreshes and for their results to be
// applied.
func (r *runner) settle(ctx context.Context) error {
	r.fetcher.Wait()
	return r.loop.Do(ctx, nil)
}

func (r *runner) report(ctx context.Context, s *Scenario) (*Report, error) {
	report := &Report{UserTopics: r.topics.List()}

	err := r.loop.Do(ctx, func(reg *topichistory.Registry) {
		ids := reg.Streams()
		for _, sub := range s.Subscriptions {
			if !slices.Contains(ids, sub.StreamID) {
				ids = append(ids, sub.StreamID)
			}
		}
		slices.Sort(ids)

		for _, id := range ids {
			stream := StreamReport{
				StreamID: id,
				Complete: reg.HasCompleteHistory(id),
				Topics:   []topichistory.TopicHistoryEntry{},
			}
			if sub, ok := r.subs.Subscription(id); ok {
				stream.Name = sub.Name
				stream.FirstMessageID = sub.FirstMessageID
			}
			history := reg.FindOrCreate(id)
			stream.MaxMessageID = history.MaxMessageID()
			if topics := history.RecentTopics(); len(topics) > 0 {
				stream.Topics = topics
			}
			report.Streams = append(report.Streams, stream)
		}
	})
	if err != nil {
		return nil, err
	}

	report.Events, err = r.events.List(ctx, db.EventQuery{})
	if err != nil {
		return nil, err
	}
	return report, nil
}
