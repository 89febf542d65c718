package service

import (
	"sort"

	"github.com/spec-kit/request-engine/internal/domain"
)

// MergeTimeline combines updates and comments into one feed ordered by
// creation time. Entries created at the same instant keep id order, and ids
// are ULIDs so that is insertion order.
func MergeTimeline(updates, comments []domain.ActivityEntry) []domain.ActivityEntry {
	merged := make([]domain.ActivityEntry, 0, len(updates)+len(comments))
	merged = append(merged, updates...)
	merged = append(merged, comments...)
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return merged
}
