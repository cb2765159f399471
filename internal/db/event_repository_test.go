package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/models"
)

func TestEventRepository_CreateList(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &models.Event{
		ID: "e1", Timestamp: now, Type: models.EventTypeTopicCreated,
		EntityType: models.EntityTypeTopic, StreamID: 1, Topic: "Lunch",
		Payload: []byte(`{"message_id":5,"count":1}`),
	}))
	require.NoError(t, repo.Create(ctx, &models.Event{
		ID: "e2", Timestamp: now, Type: models.EventTypeStreamHistoryComplete,
		EntityType: models.EntityTypeStream, StreamID: 2,
	}))

	all, err := repo.List(ctx, EventQuery{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "e1", all[0].ID)
	require.True(t, now.Equal(all[0].Timestamp))
	require.JSONEq(t, `{"message_id":5,"count":1}`, string(all[0].Payload))
	require.Nil(t, all[1].Payload)

	byStream, err := repo.List(ctx, EventQuery{StreamID: 2})
	require.NoError(t, err)
	require.Len(t, byStream, 1)
	require.Equal(t, models.EventTypeStreamHistoryComplete, byStream[0].Type)

	limited, err := repo.List(ctx, EventQuery{Type: models.EventTypeTopicCreated, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	require.NoError(t, repo.DeleteAll(ctx))
	all, err = repo.List(ctx, EventQuery{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestEventRepository_CreateRejectsInvalid(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	require.ErrorIs(t, repo.Create(context.Background(), nil), ErrInvalidEvent)
	require.ErrorIs(t, repo.Create(context.Background(), &models.Event{Type: models.EventTypeTopicCreated}), ErrInvalidEvent)
}
