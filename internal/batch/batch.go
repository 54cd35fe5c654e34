package batch

import (
	"sync"

	"github.com/tinoosan/ferry/internal/task"
)

// Callback is invoked after each task in a batch resolves, with the
// running tally over the results recorded so far.
type Callback func(succeeded, failed int)

// Batch tracks a caller-defined group of tasks submitted together and
// tallies their outcomes. Results are written only by the coordinator's
// event-handling path; readers get point-in-time snapshots which may be
// stale mid-batch.
type Batch struct {
	id    string
	tasks []*task.Task

	mu      sync.RWMutex
	members map[string]struct{}
	results map[string]task.Status
}

// New builds a batch over tasks. Order is preserved for the Succeeded and
// Failed views.
func New(id string, tasks []*task.Task) *Batch {
	b := &Batch{
		id:      id,
		tasks:   tasks,
		members: make(map[string]struct{}, len(tasks)),
		results: make(map[string]task.Status, len(tasks)),
	}
	for _, t := range tasks {
		b.members[t.ID] = struct{}{}
	}
	return b
}

func (b *Batch) ID() string { return b.id }

// Tasks returns the batch members in submission order.
func (b *Batch) Tasks() []*task.Task { return b.tasks }

// record stores the first final status seen for a task. It reports false
// for duplicates or tasks outside the batch.
func (b *Batch) record(id string, s task.Status) bool {
	if !s.IsFinal() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.members[id]; !ok {
		return false
	}
	if _, dup := b.results[id]; dup {
		return false
	}
	b.results[id] = s
	return true
}

// NumSucceeded counts tasks that resolved complete.
func (b *Batch) NumSucceeded() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.results {
		if s == task.StatusComplete {
			n++
		}
	}
	return n
}

// NumFailed counts tasks that resolved with any final status other than
// complete; canceled and notFound both count as failed.
func (b *Batch) NumFailed() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.results {
		if s != task.StatusComplete {
			n++
		}
	}
	return n
}

// Succeeded returns the tasks that resolved complete, in submission order.
func (b *Batch) Succeeded() []*task.Task {
	return b.filter(func(s task.Status) bool { return s == task.StatusComplete })
}

// Failed returns the tasks that resolved with any non-complete final
// status, in submission order.
func (b *Batch) Failed() []*task.Task {
	return b.filter(func(s task.Status) bool { return s != task.StatusComplete })
}

// Resolved reports whether every task in the batch has a final status.
func (b *Batch) Resolved() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.results) == len(b.tasks)
}

// Result returns the recorded final status for a task, if any.
func (b *Batch) Result(id string) (task.Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.results[id]
	return s, ok
}

func (b *Batch) filter(keep func(task.Status) bool) []*task.Task {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*task.Task
	for _, t := range b.tasks {
		if s, ok := b.results[t.ID]; ok && keep(s) {
			out = append(out, t)
		}
	}
	return out
}
