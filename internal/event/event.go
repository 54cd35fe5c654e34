package event

import (
	"github.com/tinoosan/ferry/internal/task"
)

// Kind indicates what a published event carries.
type Kind string

const (
	KindStatus   Kind = "status"
	KindProgress Kind = "progress"
)

// Sentinel progress values. Observers must treat a negative progress as a
// terminal-status signal, not a regression; values in [0,1) are fractional
// completion. This numeric encoding is kept for compatibility; the typed
// Status on the event carries the same information for consumers that
// prefer it.
const (
	ProgressComplete       = 1.0
	ProgressFailed         = -1.0
	ProgressCanceled       = -2.0
	ProgressNotFound       = -3.0
	ProgressWaitingToRetry = -4.0
	// ProgressPaused surfaces the internal paused marker, which is not part
	// of the status enum.
	ProgressPaused = -5.0
)

// Event is a status or progress notification for a single task. Status
// events carry Status; progress events carry Progress and, for sentinel
// values, the equivalent Status alongside.
type Event struct {
	Kind     Kind        `json:"kind"`
	Task     *task.Task  `json:"-"`
	TaskID   string      `json:"taskId"`
	Group    string      `json:"group"`
	Status   task.Status `json:"status,omitempty"`
	Progress float64     `json:"progress,omitempty"`
	// Metadata echoes the task's opaque metadata string.
	Metadata string `json:"metadata,omitempty"`
}

// NewStatus builds a status event for t.
func NewStatus(t *task.Task, s task.Status) Event {
	return Event{
		Kind:     KindStatus,
		Task:     t,
		TaskID:   t.ID,
		Group:    t.Group,
		Status:   s,
		Metadata: t.Metadata,
	}
}

// NewProgress builds a progress event for t. Sentinel values also carry
// the equivalent typed status.
func NewProgress(t *task.Task, p float64) Event {
	return Event{
		Kind:     KindProgress,
		Task:     t,
		TaskID:   t.ID,
		Group:    t.Group,
		Status:   SentinelStatus(p),
		Progress: p,
		Metadata: t.Metadata,
	}
}

// SentinelStatus maps a sentinel progress value to its status, or "" for
// fractional progress.
func SentinelStatus(p float64) task.Status {
	switch p {
	case ProgressComplete:
		return task.StatusComplete
	case ProgressFailed:
		return task.StatusFailed
	case ProgressCanceled:
		return task.StatusCanceled
	case ProgressNotFound:
		return task.StatusNotFound
	case ProgressWaitingToRetry:
		return task.StatusWaitingToRetry
	}
	return ""
}

// StatusSentinel is the inverse mapping, used when a terminal transition
// must be mirrored on the numeric progress channel.
func StatusSentinel(s task.Status) (float64, bool) {
	switch s {
	case task.StatusComplete:
		return ProgressComplete, true
	case task.StatusFailed:
		return ProgressFailed, true
	case task.StatusCanceled:
		return ProgressCanceled, true
	case task.StatusNotFound:
		return ProgressNotFound, true
	case task.StatusWaitingToRetry:
		return ProgressWaitingToRetry, true
	}
	return 0, false
}
