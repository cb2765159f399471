package topichistory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/topicindex/internal/models"
)

func TestRecordMessageCreatesEntry(t *testing.T) {
	h := newHarness(t)
	h.reg.RecordMessage(models.Message{StreamID: 1, Topic: "lunch", ID: 10})

	entry, ok := h.reg.FindOrCreate(1).Topic("lunch")
	require.True(t, ok)
	require.Equal(t, TopicHistoryEntry{MessageID: 10, PrettyName: "lunch", Count: 1}, entry)
	require.Equal(t, models.MessageID(10), h.reg.MaxMessageID(1))
}

func TestRecordMessageNewerMessageUpdatesEntry(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("Lunch", 10)
	history.RecordMessage("LUNCH", 20)

	entry, ok := history.Topic("lunch")
	require.True(t, ok)
	require.Equal(t, models.MessageID(20), entry.MessageID)
	require.Equal(t, "LUNCH", entry.PrettyName)
	require.Equal(t, 2, entry.Count)
}

func TestRecordMessageOlderMessageOnlyCounts(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("Lunch", 20)
	history.RecordMessage("lunch", 15)
	history.RecordMessage("LUNCH", 20)

	entry, ok := history.Topic("lunch")
	require.True(t, ok)
	require.Equal(t, models.MessageID(20), entry.MessageID)
	require.Equal(t, "Lunch", entry.PrettyName, "ties keep the first spelling")
	require.Equal(t, 3, entry.Count)
	require.Equal(t, 1, history.Len())
}

func TestRecordMessageCaseInsensitiveIdentity(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("Lunch", 1)
	history.RecordMessage("lunch", 2)

	require.Equal(t, 1, history.Len())
	require.Equal(t, []string{"lunch"}, history.RecentTopicNames())
}

func TestRecordMessageSetsUnknownFirstMessageID(t *testing.T) {
	h := newHarness(t)
	h.subs.add(1, nil)

	h.reg.RecordMessage(models.Message{StreamID: 1, Topic: "a", ID: 50})
	sub, _ := h.subs.Subscription(1)
	require.NotNil(t, sub.FirstMessageID)
	require.Equal(t, models.MessageID(50), *sub.FirstMessageID)

	// A later message never raises the first id.
	h.reg.RecordMessage(models.Message{StreamID: 1, Topic: "a", ID: 60})
	sub, _ = h.subs.Subscription(1)
	require.Equal(t, models.MessageID(50), *sub.FirstMessageID)

	h.reg.RecordMessage(models.Message{StreamID: 1, Topic: "b", ID: 30})
	sub, _ = h.subs.Subscription(1)
	require.Equal(t, models.MessageID(30), *sub.FirstMessageID)
}

func TestRecordMessageWithoutSubscriptionLeavesCompleteness(t *testing.T) {
	h := newHarness(t)
	h.reg.MergeServerSnapshot(9, nil)
	require.True(t, h.reg.HasHistoryFor(9))

	h.reg.RecordMessage(models.Message{StreamID: 9, Topic: "x", ID: 1})
	require.True(t, h.reg.HasHistoryFor(9))
}

func TestRemoveMessagesDeletesWhenCountExhausted(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	for id := models.MessageID(1); id <= 3; id++ {
		history.RecordMessage("topic", id)
	}

	history.RemoveMessages("topic", 3)
	_, ok := history.Topic("topic")
	require.False(t, ok)
	require.False(t, history.HasTopics())
}

func TestRemoveMessagesDecrements(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	for id := models.MessageID(1); id <= 3; id++ {
		history.RecordMessage("topic", id)
	}

	history.RemoveMessages("Topic", 2)
	entry, ok := history.Topic("topic")
	require.True(t, ok)
	require.Equal(t, 1, entry.Count)
	require.Empty(t, h.refresher.calls)
}

func TestRemoveMessagesIncompleteStreamRequestsRefreshOnce(t *testing.T) {
	h := newHarness(t)
	h.subs.add(1, idPtr(1))
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("Deploys", 40)

	history.RemoveMessages("deploys", 1)

	require.False(t, history.HasTopics())
	require.Equal(t, []refreshCall{{streamID: 1, topic: "deploys"}}, h.refresher.calls)

	// The entry is gone, so a repeat is a no-op.
	history.RemoveMessages("deploys", 1)
	require.Len(t, h.refresher.calls, 1)
}

func TestRemoveMessagesCompleteStreamSkipsRefresh(t *testing.T) {
	h := newHarness(t)
	h.reg.MergeServerSnapshot(1, nil)
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("deploys", 40)

	history.RemoveMessages("deploys", 5)

	require.False(t, history.HasTopics())
	require.Empty(t, h.refresher.calls)
}

func TestRemoveMessagesIgnoresUncountedTopics(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.MergeServerSnapshot([]models.ServerTopic{{Name: "old", MaxID: 5}})

	history.RemoveMessages("old", 1)
	history.RemoveMessages("never-seen", 1)

	entry, ok := history.Topic("old")
	require.True(t, ok)
	require.Equal(t, 0, entry.Count)
	require.Empty(t, h.refresher.calls)
}

func TestMergeServerSnapshot(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("known", 100)
	history.RecordMessage("known", 101)

	history.MergeServerSnapshot([]models.ServerTopic{
		{Name: "KNOWN", MaxID: 90},
		{Name: "fresh", MaxID: 70},
	})

	known, ok := history.Topic("known")
	require.True(t, ok)
	require.Equal(t, models.MessageID(90), known.MessageID, "server id wins even when lower")
	require.Equal(t, 2, known.Count)
	require.Equal(t, "known", known.PrettyName)

	fresh, ok := history.Topic("fresh")
	require.True(t, ok)
	require.Equal(t, TopicHistoryEntry{MessageID: 70, PrettyName: "fresh", Count: 0}, fresh)

	require.Equal(t, models.MessageID(101), history.MaxMessageID())
}

func TestMergeServerSnapshotLowersFirstMessageID(t *testing.T) {
	h := newHarness(t)
	h.subs.add(1, idPtr(50))
	h.reg.MergeServerSnapshot(1, []models.ServerTopic{{Name: "ancient", MaxID: 10}})

	sub, _ := h.subs.Subscription(1)
	require.Equal(t, models.MessageID(10), *sub.FirstMessageID)
	require.True(t, h.reg.HasHistoryFor(1), "the snapshot itself marks the stream complete")
}

func TestRecentTopicNamesMergesMissingTopics(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.RecordMessage("b", 20)
	history.RecordMessage("a", 30)
	history.RecordMessage("c", 10)
	h.missing.entries[1] = []TopicHistoryEntry{
		{PrettyName: "old unread", MessageID: 5},
		{PrettyName: "B", MessageID: 99}, // already indexed, must not be duplicated
		{PrettyName: "mid unread", MessageID: 25},
	}

	require.Equal(t, []string{"a", "mid unread", "b", "c", "old unread"}, history.RecentTopicNames())
}

func TestRecentTopicNamesTiesKeepConcatenationOrder(t *testing.T) {
	h := newHarness(t)
	history := h.reg.FindOrCreate(1)
	history.MergeServerSnapshot([]models.ServerTopic{{Name: "x", MaxID: 7}, {Name: "y", MaxID: 7}})
	h.missing.entries[1] = []TopicHistoryEntry{{PrettyName: "z", MessageID: 7}}

	require.Equal(t, []string{"x", "y", "z"}, history.RecentTopicNames())
}
