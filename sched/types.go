// Package sched implements the two scheduling policies of the enhancement
// engine: a tier-based global request queue (Queue) and a position-aware
// task scheduler (Pages) for sequential reading layouts.
//
// Both schedulers run a single worker and dispatch strictly one task at a
// time; the compute context is exclusive, so there is nothing to gain from
// dispatching more.
package sched

import "errors"

// Scheduler errors.
var (
	// ErrClosed is returned for submissions to a closed scheduler.
	ErrClosed = errors.New("sched: scheduler closed")

	// ErrCancelled marks tasks that were discarded before or during
	// processing.
	ErrCancelled = errors.New("sched: task cancelled")
)

// Key uniquely identifies an enhancement request: at most one outstanding
// request per key exists at any time.
type Key struct {
	Doc     string
	Section string
	Page    int
}

// Tier is the coarse priority class of a request.
type Tier uint8

const (
	// TierLow marks preload work for pages not yet visible.
	TierLow Tier = iota

	// TierHigh marks work for the currently visible page.
	TierHigh
)

// String returns the tier name.
func (t Tier) String() string {
	if t == TierHigh {
		return "high"
	}
	return "low"
}

// State is the externally queryable lifecycle state of a page's task.
type State uint8

const (
	// StateNone means no task is known for the page.
	StateNone State = iota

	// StateQueued means the task is waiting for the worker.
	StateQueued

	// StateProcessing means the worker is running the task.
	StateProcessing

	// StateCompleted means the task finished successfully.
	StateCompleted

	// StateCancelled means the task was discarded or failed.
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "none"
	}
}
