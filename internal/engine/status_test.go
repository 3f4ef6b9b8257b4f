package engine

import (
	"testing"
	"time"
)

func TestTaskStatusValid(t *testing.T) {
	for _, s := range []TaskStatus{StatusQueued, StatusInProgress, StatusCompleted, StatusFailed, StatusCanceled, StatusCancelled} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if TaskStatus("done").Valid() {
		t.Error("unknown status accepted")
	}
}

func TestBlocksReplenishment(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	if !StatusQueued.BlocksReplenishment(time.Time{}, time.Time{}, now, window) {
		t.Error("queued must block")
	}
	if !StatusInProgress.BlocksReplenishment(time.Time{}, time.Time{}, now, window) {
		t.Error("in_progress must block")
	}
	// canceled ignores timestamps entirely
	if !StatusCanceled.BlocksReplenishment(time.Time{}, now.Add(-365*24*time.Hour), now, window) {
		t.Error("canceled must block with no time bound")
	}
	if StatusCancelled.BlocksReplenishment(now, now, now, window) {
		t.Error("cancelled must never block")
	}
	// completed keys off completed_at
	if !StatusCompleted.BlocksReplenishment(now.Add(-window+time.Minute), time.Time{}, now, window) {
		t.Error("recently completed must block")
	}
	if StatusCompleted.BlocksReplenishment(now.Add(-window-time.Second), time.Time{}, now, window) {
		t.Error("completed outside the window must not block")
	}
	// failed keys off created_at, not completed_at
	if !StatusFailed.BlocksReplenishment(time.Time{}, now.Add(-window+time.Minute), now, window) {
		t.Error("recently failed must block")
	}
	if StatusFailed.BlocksReplenishment(now, now.Add(-window-time.Second), now, window) {
		t.Error("failed outside the window must not block")
	}
}
