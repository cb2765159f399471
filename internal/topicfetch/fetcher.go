// Package topicfetch requests topic history from the server and feeds the
// answers back into the registry through the event loop.
package topicfetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tOgg1/topicindex/internal/eventloop"
	"github.com/tOgg1/topicindex/internal/logging"
	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/topichistory"
)

// ErrFetcherClosed is returned once Close has been called.
var ErrFetcherClosed = errors.New("topic fetcher closed")

// Server answers topic-history queries.
type Server interface {
	// StreamTopics returns every topic of a stream with its newest message id.
	StreamTopics(ctx context.Context, streamID models.StreamID) ([]models.ServerTopic, error)

	// LatestMessageInTopic returns the newest message of a topic, if any.
	LatestMessageInTopic(ctx context.Context, streamID models.StreamID, topic string) (models.Message, bool, error)
}

// Config contains fetcher settings.
type Config struct {
	// Timeout bounds a single server request.
	// Default: 10s
	Timeout time.Duration

	// MaxConcurrent limits simultaneous server requests.
	// Default: 4
	MaxConcurrent int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxConcurrent: 4,
	}
}

// Fetcher issues server requests on behalf of the registry. Registry state is
// only read or written through the loop.
type Fetcher struct {
	server Server
	loop   *eventloop.Loop
	config Config
	logger zerolog.Logger

	group singleflight.Group
	sem   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Fetcher. The loop does not need to be started yet.
func New(server Server, loop *eventloop.Loop, config Config) *Fetcher {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Fetcher{
		server: server,
		loop:   loop,
		config: config,
		logger: logging.Component("topic-fetch"),
		sem:    make(chan struct{}, config.MaxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}
}

// FetchStreamHistory makes sure the registry holds the complete topic list of
// streamID. If the stream is already known-complete nothing is requested.
// Concurrent calls for the same stream share one server request.
func (f *Fetcher) FetchStreamHistory(ctx context.Context, streamID models.StreamID) error {
	if f.ctx.Err() != nil {
		return ErrFetcherClosed
	}

	var complete bool
	if err := f.loop.Do(ctx, func(reg *topichistory.Registry) {
		complete = reg.HasCompleteHistory(streamID)
	}); err != nil {
		return err
	}
	if complete {
		return nil
	}

	ch := f.group.DoChan(strconv.FormatInt(int64(streamID), 10), func() (any, error) {
		return nil, f.fetchStream(context.WithoutCancel(ctx), streamID)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) fetchStream(ctx context.Context, streamID models.StreamID) error {
	logger := logging.WithStream(f.logger, streamID)

	if err := f.loop.Do(ctx, func(reg *topichistory.Registry) {
		reg.MarkRequestPending(streamID)
	}); err != nil {
		return err
	}

	var topics []models.ServerTopic
	err := f.withServer(ctx, func(ctx context.Context) error {
		var err error
		topics, err = f.server.StreamTopics(ctx, streamID)
		return err
	})

	valid := topics[:0:0]
	for _, topic := range topics {
		if verr := topic.Validate(); verr != nil {
			logger.Warn().Err(verr).Str("topic", topic.Name).Msg("skipping invalid server topic")
			continue
		}
		valid = append(valid, topic)
	}

	doErr := f.loop.Do(ctx, func(reg *topichistory.Registry) {
		reg.ClearRequestPending(streamID)
		if err == nil {
			reg.MergeServerSnapshot(streamID, valid)
		}
	})
	if err != nil {
		logger.Warn().Err(err).Msg("stream topic history fetch failed")
		return fmt.Errorf("fetch topics for stream %d: %w", streamID, err)
	}
	if doErr != nil {
		return doErr
	}

	logger.Debug().Int("topics", len(valid)).Msg("stream topic history merged")
	return nil
}

// RequestLatestMessageID asks the server for the newest message of a topic
// and records it in the registry when it arrives. It never blocks, so it is
// safe to call from inside a loop op.
func (f *Fetcher) RequestLatestMessageID(streamID models.StreamID, topic string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		logger := logging.WithStream(f.logger, streamID).With().Str("topic", topic).Logger()

		var (
			msg   models.Message
			found bool
		)
		err := f.withServer(f.ctx, func(ctx context.Context) error {
			var err error
			msg, found, err = f.server.LatestMessageInTopic(ctx, streamID, topic)
			return err
		})
		if err != nil {
			logger.Warn().Err(err).Msg("latest topic message fetch failed")
			return
		}
		if !found {
			logger.Debug().Msg("topic has no remaining messages")
			return
		}
		if err := msg.Validate(); err != nil {
			logger.Warn().Err(err).Msg("server returned invalid message")
			return
		}

		if err := f.loop.Post(func(reg *topichistory.Registry) {
			reg.RecordMessage(msg)
		}); err != nil {
			logger.Debug().Err(err).Msg("dropping latest topic message")
		}
	}()
}

// Wait blocks until every outstanding RequestLatestMessageID has finished.
func (f *Fetcher) Wait() {
	f.wg.Wait()
}

// Close cancels outstanding requests and waits for them. Later refresh
// requests are ignored.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.cancel()
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Fetcher) withServer(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ctx.Done():
		return ErrFetcherClosed
	}
	defer func() { <-f.sem }()

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()

	return fn(ctx)
}
