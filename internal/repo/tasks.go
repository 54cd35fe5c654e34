package repo

import (
	"context"

	"github.com/tinoosan/ferry/internal/task"
)

// TaskRepo stores the small persisted record each task needs to survive a
// process restart. The core consumes this capability; it does not own the
// storage itself.
type TaskRepo interface {
	TaskReader
	TaskWriter
}

type TaskReader interface {
	List(ctx context.Context) ([]task.Record, error)
	Get(ctx context.Context, id string) (task.Record, error)
}

type TaskWriter interface {
	// Put inserts or replaces the record for its taskId.
	Put(ctx context.Context, rec task.Record) error
	Delete(ctx context.Context, id string) error
}
