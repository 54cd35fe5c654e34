package task

// Status is the lifecycle state of a download task.
type Status string

const (
	StatusEnqueued       Status = "enqueued"
	StatusRunning        Status = "running"
	StatusComplete       Status = "complete"
	StatusNotFound       Status = "notFound"
	StatusFailed         Status = "failed"
	StatusCanceled       Status = "canceled"
	StatusWaitingToRetry Status = "waitingToRetry"
)

var finalStatuses = map[Status]bool{
	StatusComplete: true,
	StatusNotFound: true,
	StatusFailed:   true,
	StatusCanceled: true,
}

// IsFinal reports whether no further transition is possible from s.
// Once a task reaches a final status its state machine is retired and
// late events for it are dropped.
func (s Status) IsFinal() bool {
	return finalStatuses[s]
}

// Known reports whether s is one of the enumerated statuses. Collaborators
// must not invent statuses outside this set; unknown values are treated as
// protocol violations and dropped.
func (s Status) Known() bool {
	switch s {
	case StatusEnqueued, StatusRunning, StatusComplete, StatusNotFound,
		StatusFailed, StatusCanceled, StatusWaitingToRetry:
		return true
	}
	return false
}
