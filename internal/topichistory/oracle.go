package topichistory

import "github.com/tOgg1/topicindex/internal/models"

// AllTopicsInCache reports whether the range cache holds every message of the
// stream described by sub, in which case the locally indexed topics are the
// complete topic list.
func AllTopicsInCache(cache RangeCache, sub models.Subscription) bool {
	if cache == nil || cache.Empty() {
		return false
	}

	// Without the newest messages we cannot rule out recent topics.
	if !cache.HasFoundNewest() {
		return false
	}

	// A stream nobody ever posted to is vacuously complete.
	if sub.FirstMessageID == nil {
		return true
	}

	return cache.OldestMessageID() <= *sub.FirstMessageID
}
