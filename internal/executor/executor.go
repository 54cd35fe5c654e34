package executor

import (
	"context"
	"errors"

	"github.com/tinoosan/ferry/internal/task"
)

var (
	// ErrUnknownTask is returned when the executor has no transfer for the id.
	ErrUnknownTask = errors.New("executor: unknown task")
	// ErrPauseUnsupported is returned for pause/resume against an executor
	// that does not advertise the capability.
	ErrPauseUnsupported = errors.New("executor: pause not supported")
)

// Executor is the external transfer collaborator. The core owns task
// identity and lifecycle; the executor owns the actual byte movement.
// Submit must eventually report exactly one terminal outcome through the
// Sink, or a failure the core can escalate into a retry.
type Executor interface {
	Submit(ctx context.Context, t *task.Task) error
	// Cancel aborts the transfer for id. It is fire-and-forget from the
	// core's perspective and must be idempotent.
	Cancel(ctx context.Context, id string) error
}

// PauseResumer is implemented by executors that can suspend a transfer in
// place. The core treats absence of this interface as the capability flag
// being off and rejects pause requests instead of silently ignoring them.
type PauseResumer interface {
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
}

// Sink receives asynchronous reports from an executor. The core is the
// sole translator of these callbacks into observer events. Statuses
// outside the enumerated set, and reports for retired tasks, are dropped
// as protocol violations.
type Sink interface {
	// OnStatus reports a lifecycle change: running, complete, notFound or
	// failed. Retry escalation is the core's decision, not the executor's.
	OnStatus(id string, s task.Status)
	// OnProgress reports fractional completion in [0,1), or a sentinel
	// value encoding a terminal outcome.
	OnProgress(id string, fraction float64)
}
