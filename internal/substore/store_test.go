package substore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/models"
)

func TestStoreAddAndGet(t *testing.T) {
	store := New()
	first := models.MessageID(10)
	require.NoError(t, store.Add(models.Subscription{StreamID: 2, Name: "design", FirstMessageID: &first}))
	require.NoError(t, store.Add(models.Subscription{StreamID: 1, Name: "general"}))

	sub, ok := store.Subscription(2)
	require.True(t, ok)
	require.Equal(t, "design", sub.Name)
	require.Equal(t, models.MessageID(10), *sub.FirstMessageID)

	// Returned values are copies.
	*sub.FirstMessageID = 99
	again, _ := store.Subscription(2)
	require.Equal(t, models.MessageID(10), *again.FirstMessageID)

	list := store.List()
	require.Len(t, list, 2)
	require.Equal(t, models.StreamID(1), list[0].StreamID)
	require.False(t, list[0].HasFirstMessageID())
}

func TestStoreRejectsInvalid(t *testing.T) {
	store := New()
	require.Error(t, store.Add(models.Subscription{StreamID: 0}))
}

func TestStoreSetFirstMessageID(t *testing.T) {
	store := New()
	require.NoError(t, store.Add(models.Subscription{StreamID: 1}))

	store.SetFirstMessageID(1, 42)
	store.SetFirstMessageID(5, 42)

	sub, ok := store.Subscription(1)
	require.True(t, ok)
	require.Equal(t, models.MessageID(42), *sub.FirstMessageID)

	_, ok = store.Subscription(5)
	require.False(t, ok)

	store.Remove(1)
	_, ok = store.Subscription(1)
	require.False(t, ok)
}
