package executor

import (
	"context"
	"log/slog"

	"github.com/tinoosan/ferry/internal/task"
)

// Noop is a stand-in executor for development runs: it accepts every task
// and immediately reports a successful transfer.
type Noop struct {
	sink Sink
	log  *slog.Logger
}

func NewNoop(log *slog.Logger, sink Sink) *Noop {
	if log == nil {
		log = slog.Default()
	}
	return &Noop{sink: sink, log: log}
}

var _ Executor = (*Noop)(nil)

func (n *Noop) Submit(ctx context.Context, t *task.Task) error {
	n.log.Info("noop submit", "task_id", t.ID)
	go func() {
		n.sink.OnStatus(t.ID, task.StatusRunning)
		n.sink.OnProgress(t.ID, 0)
		n.sink.OnStatus(t.ID, task.StatusComplete)
	}()
	return nil
}

func (n *Noop) Cancel(ctx context.Context, id string) error {
	n.log.Info("noop cancel", "task_id", id)
	return nil
}
