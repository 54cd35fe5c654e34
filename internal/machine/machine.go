package machine

import (
	"sync"
	"time"

	"github.com/tinoosan/ferry/internal/task"
)

// machine is the per-task lifecycle authority. Every field is guarded by
// mu; one transition completes before the next begins, so a single task's
// events are published in transition order while unrelated tasks proceed
// in parallel.
type machine struct {
	mu sync.Mutex

	t      *task.Task
	status task.Status
	// paused is an internal marker outside the status enum. It is surfaced
	// to progress observers as a sentinel, never as a status event.
	paused bool
	// attempts counts failures that led to a retry, starting at 1 for the
	// first backoff computation.
	attempts int
	timer    *time.Timer
	retired  bool

	submittedAt time.Time
}

func newMachine(t *task.Task) *machine {
	return &machine{
		t:           t,
		status:      task.StatusEnqueued,
		submittedAt: time.Now(),
	}
}

// stopTimer aborts a pending re-enqueue. Caller holds mu.
func (m *machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
