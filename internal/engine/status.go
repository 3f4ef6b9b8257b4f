package engine

import "time"

// TaskStatus is the task lifecycle as the engine observes it. The
// engine only ever writes 'queued'; every other status is set by the
// downstream agent.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	// StatusCanceled (US spelling) marks work a human explicitly
	// killed. It blocks re-decomposition of its gap with no time
	// bound, unlike every other blocking status.
	StatusCanceled TaskStatus = "canceled"
	// StatusCancelled (UK spelling) is plain terminal: it neither
	// blocks dedup nor keeps an initiative out of re-seeding. The
	// asymmetry with StatusCanceled is intentional, preserved from the
	// product's original behavior; the unbounded blocking is pending
	// product-owner confirmation.
	StatusCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusCanceled, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the task is still pending or being worked.
func (s TaskStatus) Active() bool {
	return s == StatusQueued || s == StatusInProgress
}

// BlocksReplenishment reports whether a decomposition task in this
// status still covers its gap at instant now. completedAt applies to
// completed tasks, createdAt to failed ones; both block only inside
// the dedup window.
func (s TaskStatus) BlocksReplenishment(completedAt, createdAt, now time.Time, window time.Duration) bool {
	switch s {
	case StatusQueued, StatusInProgress:
		return true
	case StatusCanceled:
		return true
	case StatusCompleted:
		return completedAt.After(now.Add(-window))
	case StatusFailed:
		return createdAt.After(now.Add(-window))
	}
	return false
}
