package topicfetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/eventloop"
	"github.com/tOgg1/topicindex/internal/foldmap"
	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/msgcache"
	"github.com/tOgg1/topicindex/internal/substore"
	"github.com/tOgg1/topicindex/internal/testutil"
	"github.com/tOgg1/topicindex/internal/topichistory"
)

var (
	_ Server                      = (*DBServer)(nil)
	_ topichistory.TopicRefresher = (*Fetcher)(nil)
)

type harness struct {
	loop    *eventloop.Loop
	fetcher *Fetcher
	cache   *msgcache.Cache
	subs    *substore.Store
}

func newHarness(t *testing.T, server Server) *harness {
	t.Helper()

	testutil.QuietLogs(t)
	cache := msgcache.New(testutil.MessageRepo(t), msgcache.WithLogger(zerolog.Nop()))
	subs := substore.New()

	loop := eventloop.New(eventloop.Config{})
	fetcher := New(server, loop, Config{Timeout: time.Second, MaxConcurrent: 2})
	fetcher.logger = zerolog.Nop()

	reg, err := topichistory.New(topichistory.Deps{
		Cache:         cache,
		Subscriptions: subs,
		Messages:      cache,
		Refresher:     fetcher,
	}, topichistory.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, loop.Start(context.Background(), reg))
	t.Cleanup(func() {
		fetcher.Close()
		_ = loop.Stop()
	})

	return &harness{loop: loop, fetcher: fetcher, cache: cache, subs: subs}
}

func (h *harness) do(t *testing.T, op eventloop.Op) {
	t.Helper()
	require.NoError(t, h.loop.Do(context.Background(), op))
}

func (h *harness) recentTopicNames(t *testing.T, streamID models.StreamID) []string {
	t.Helper()
	var names []string
	h.do(t, func(reg *topichistory.Registry) {
		names = reg.RecentTopicNames(streamID)
	})
	return names
}

func newServer(t *testing.T, msgs ...models.Message) *DBServer {
	t.Helper()
	return NewDBServer(testutil.MessageRepo(t, msgs...))
}

func TestFetchStreamHistory_MergesServerTopics(t *testing.T) {
	server := newServer(t,
		models.Message{ID: 3, StreamID: 1, Topic: "old"},
		models.Message{ID: 8, StreamID: 1, Topic: "Lunch"},
		models.Message{ID: 9, StreamID: 2, Topic: "elsewhere"},
	)
	h := newHarness(t, server)
	require.NoError(t, h.subs.Add(models.Subscription{StreamID: 1}))

	require.NoError(t, h.fetcher.FetchStreamHistory(context.Background(), 1))

	var (
		complete, pending bool
		names             []string
	)
	h.do(t, func(reg *topichistory.Registry) {
		complete = reg.HasHistoryFor(1)
		pending = reg.RequestPending(1)
		names = reg.RecentTopicNames(1)
	})
	require.True(t, complete)
	require.False(t, pending)
	require.Equal(t, []string{"Lunch", "old"}, names)

	sub, ok := h.subs.Subscription(1)
	require.True(t, ok)
	require.NotNil(t, sub.FirstMessageID)
	require.Equal(t, models.MessageID(3), *sub.FirstMessageID)
}

type countingServer struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	topics  []models.ServerTopic
	latest  map[string]models.Message
}

func (s *countingServer) StreamTopics(ctx context.Context, _ models.StreamID) ([]models.ServerTopic, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.topics, s.err
}

// LatestMessageInTopic matches topics case-insensitively, like DBServer.
func (s *countingServer) LatestMessageInTopic(_ context.Context, _ models.StreamID, topic string) (models.Message, bool, error) {
	for name, msg := range s.latest {
		if foldmap.Fold(name) == foldmap.Fold(topic) {
			return msg, true, nil
		}
	}
	return models.Message{}, false, nil
}

func TestFetchStreamHistory_SharesConcurrentRequests(t *testing.T) {
	testutil.SkipIfShort(t)

	server := &countingServer{
		release: make(chan struct{}),
		topics:  []models.ServerTopic{{Name: "a", MaxID: 4}},
	}
	h := newHarness(t, server)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.fetcher.FetchStreamHistory(context.Background(), 1)
		}()
	}

	require.Eventually(t, func() bool { return server.calls.Load() == 1 }, time.Second, time.Millisecond)
	var pending bool
	h.do(t, func(reg *topichistory.Registry) {
		pending = reg.RequestPending(1)
	})
	require.True(t, pending)

	// Let the remaining callers join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(server.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, server.calls.Load())

	require.NoError(t, h.fetcher.FetchStreamHistory(context.Background(), 1))
	require.EqualValues(t, 1, server.calls.Load(), "complete streams are not refetched")
}

func TestFetchStreamHistory_ErrorClearsPending(t *testing.T) {
	server := &countingServer{err: errors.New("503")}
	h := newHarness(t, server)

	err := h.fetcher.FetchStreamHistory(context.Background(), 1)
	require.Error(t, err)

	var pending, complete bool
	h.do(t, func(reg *topichistory.Registry) {
		pending = reg.RequestPending(1)
		complete = reg.HasHistoryFor(1)
	})
	require.False(t, pending)
	require.False(t, complete)
}

func TestFetchStreamHistory_SkipsInvalidTopics(t *testing.T) {
	server := &countingServer{topics: []models.ServerTopic{
		{Name: "ok", MaxID: 2},
		{Name: " padded", MaxID: 3},
		{Name: "zero", MaxID: 0},
	}}
	h := newHarness(t, server)

	require.NoError(t, h.fetcher.FetchStreamHistory(context.Background(), 1))
	require.Equal(t, []string{"ok"}, h.recentTopicNames(t, 1))
}

func TestRequestLatestMessageID_RecordsServerAnswer(t *testing.T) {
	server := &countingServer{latest: map[string]models.Message{
		"Lunch": {ID: 2, StreamID: 1, Topic: "Lunch"},
	}}
	h := newHarness(t, server)

	h.do(t, func(reg *topichistory.Registry) {
		reg.RecordMessage(models.Message{ID: 10, StreamID: 1, Topic: "lunch"})
		reg.RemoveMessages(topichistory.RemoveRequest{StreamID: 1, Topic: "lunch", NumMessages: 1, MaxRemovedMessageID: 10})
	})
	require.Empty(t, h.recentTopicNames(t, 1))

	h.fetcher.Wait()
	require.Equal(t, []string{"Lunch"}, h.recentTopicNames(t, 1))
}

func TestRequestLatestMessageID_EmptyTopicStaysRemoved(t *testing.T) {
	h := newHarness(t, &countingServer{})

	h.do(t, func(reg *topichistory.Registry) {
		reg.RecordMessage(models.Message{ID: 10, StreamID: 1, Topic: "gone"})
		reg.RemoveMessages(topichistory.RemoveRequest{StreamID: 1, Topic: "gone", NumMessages: 1, MaxRemovedMessageID: 10})
	})
	h.fetcher.Wait()
	require.Empty(t, h.recentTopicNames(t, 1))
}

func TestFetcher_Closed(t *testing.T) {
	h := newHarness(t, &countingServer{})
	h.fetcher.Close()

	require.ErrorIs(t, h.fetcher.FetchStreamHistory(context.Background(), 1), ErrFetcherClosed)
	h.fetcher.RequestLatestMessageID(1, "x")
	h.fetcher.Wait()
}

func TestLatestMessageInTopic_IgnoresCase(t *testing.T) {
	servers := map[string]Server{
		"db": newServer(t,
			models.Message{ID: 2, StreamID: 1, Topic: "Lunch"},
			models.Message{ID: 5, StreamID: 1, Topic: "other"},
		),
		"counting": &countingServer{latest: map[string]models.Message{
			"Lunch": {ID: 2, StreamID: 1, Topic: "Lunch"},
		}},
	}
	for name, server := range servers {
		t.Run(name, func(t *testing.T) {
			msg, ok, err := server.LatestMessageInTopic(context.Background(), 1, "LUNCH")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, models.MessageID(2), msg.ID)
			require.Equal(t, "Lunch", msg.Topic)
		})
	}
}

func TestFetcher_CloseWhileRequesting(t *testing.T) {
	server := &countingServer{latest: map[string]models.Message{
		"lunch": {ID: 2, StreamID: 1, Topic: "lunch"},
	}}
	h := newHarness(t, server)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.fetcher.RequestLatestMessageID(1, "lunch")
			}
		}()
	}
	h.fetcher.Close()
	wg.Wait()

	// Nothing is started once Close has returned.
	h.fetcher.RequestLatestMessageID(1, "lunch")
	h.fetcher.Wait()
	require.True(t, h.fetcher.closed)
}
