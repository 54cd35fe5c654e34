package machine

import "github.com/tinoosan/ferry/internal/task"

// Snapshot is a point-in-time view of one tracked task.
type Snapshot struct {
	Task   *task.Task
	Status task.Status
}

// Tasks returns a snapshot of every tracked task, retired ones included.
func (mg *Manager) Tasks() []Snapshot {
	mg.mu.RLock()
	machines := make([]*machine, 0, len(mg.machines))
	for _, m := range mg.machines {
		machines = append(machines, m)
	}
	mg.mu.RUnlock()

	out := make([]Snapshot, 0, len(machines))
	for _, m := range machines {
		m.mu.Lock()
		out = append(out, Snapshot{Task: m.t.Clone(), Status: m.status})
		m.mu.Unlock()
	}
	return out
}
