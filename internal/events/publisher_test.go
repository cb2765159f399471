package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/models"
	"github.com/tOgg1/topicindex/internal/topichistory"
)

var _ topichistory.Notifier = (*InMemoryPublisher)(nil)

func TestFilter_Matches(t *testing.T) {
	created := &models.Event{
		Type:       models.EventTypeTopicCreated,
		EntityType: models.EntityTypeTopic,
		StreamID:   7,
		Topic:      "Lunch",
	}

	tests := []struct {
		name   string
		filter Filter
		event  *models.Event
		want   bool
	}{
		{name: "empty filter matches any event", filter: Filter{}, event: created, want: true},
		{name: "nil event returns false", filter: Filter{}, event: nil, want: false},
		{
			name:   "event type filter matches",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeTopicCreated}},
			event:  created,
			want:   true,
		},
		{
			name:   "event type filter rejects non-matching",
			filter: Filter{EventTypes: []models.EventType{models.EventTypeTopicRemoved}},
			event:  created,
			want:   false,
		},
		{
			name:   "entity type filter rejects non-matching",
			filter: Filter{EntityTypes: []models.EntityType{models.EntityTypeStream}},
			event:  created,
			want:   false,
		},
		{name: "stream filter matches", filter: Filter{StreamID: 7}, event: created, want: true},
		{name: "stream filter rejects other stream", filter: Filter{StreamID: 8}, event: created, want: false},
		{name: "topic filter ignores case", filter: Filter{Topic: "LUNCH"}, event: created, want: true},
		{name: "topic filter rejects other topic", filter: Filter{Topic: "dinner"}, event: created, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Matches(tt.event))
		})
	}
}

func TestInMemoryPublisher_PublishOrderAndFill(t *testing.T) {
	p := NewInMemoryPublisher(WithLogger(zerolog.Nop()))

	var got []string
	require.NoError(t, p.Subscribe("first", Filter{}, func(*models.Event) { got = append(got, "first") }))
	require.NoError(t, p.Subscribe("second", Filter{StreamID: 1}, func(*models.Event) { got = append(got, "second") }))
	require.NoError(t, p.Subscribe("third", Filter{StreamID: 2}, func(*models.Event) { got = append(got, "third") }))

	event := &models.Event{Type: models.EventTypeStreamHistoryComplete, StreamID: 1}
	p.Publish(context.Background(), event)

	require.Equal(t, []string{"first", "second"}, got)
	require.NotEmpty(t, event.ID)
	require.False(t, event.Timestamp.IsZero())
}

func TestInMemoryPublisher_SubscribeErrors(t *testing.T) {
	p := NewInMemoryPublisher()
	noop := func(*models.Event) {}

	require.ErrorIs(t, p.Subscribe("", Filter{}, noop), ErrInvalidSubscriptionID)
	require.ErrorIs(t, p.Subscribe("a", Filter{}, nil), ErrNilHandler)
	require.NoError(t, p.Subscribe("a", Filter{}, noop))
	require.ErrorIs(t, p.Subscribe("a", Filter{}, noop), ErrSubscriptionExists)
	require.Equal(t, 1, p.SubscriberCount())

	require.NoError(t, p.UpdateSubscription("a", Filter{StreamID: 3}))
	require.ErrorIs(t, p.UpdateSubscription("b", Filter{}), ErrSubscriptionNotFound)

	require.NoError(t, p.Unsubscribe("a"))
	require.ErrorIs(t, p.Unsubscribe("a"), ErrSubscriptionNotFound)
	require.Zero(t, p.SubscriberCount())
}

func TestInMemoryPublisher_Close(t *testing.T) {
	p := NewInMemoryPublisher()
	calls := 0
	require.NoError(t, p.Subscribe("a", Filter{}, func(*models.Event) { calls++ }))

	p.Close()
	p.Publish(context.Background(), &models.Event{Type: models.EventTypeTopicCreated})

	require.Zero(t, calls)
	require.Zero(t, p.SubscriberCount())
}

type failingRepo struct {
	calls int
}

func (r *failingRepo) Create(context.Context, *models.Event) error {
	r.calls++
	return errors.New("disk full")
}

func TestInMemoryPublisher_RepositoryErrorsDoNotBlockHandlers(t *testing.T) {
	repo := &failingRepo{}
	p := NewInMemoryPublisher(WithRepository(repo), WithLogger(zerolog.Nop()))

	delivered := false
	require.NoError(t, p.Subscribe("a", Filter{}, func(*models.Event) { delivered = true }))
	p.Publish(context.Background(), &models.Event{Type: models.EventTypeTopicRemoved})

	require.Equal(t, 1, repo.calls)
	require.True(t, delivered)
}
