package repo

import (
	"context"
	"sync"

	"github.com/tinoosan/ferry/internal/fp"
	"github.com/tinoosan/ferry/internal/task"
)

// InMemoryTaskRepo keeps records in process memory. It is the default
// backend and the one tests run against.
type InMemoryTaskRepo struct {
	mu      sync.RWMutex
	records map[string]task.Record
	// byFP guards against two live tasks addressing the same destination.
	byFP map[string]string
}

func NewInMemoryTaskRepo() *InMemoryTaskRepo {
	return &InMemoryTaskRepo{
		records: make(map[string]task.Record),
		byFP:    make(map[string]string),
	}
}

var _ TaskRepo = (*InMemoryTaskRepo)(nil)

func (r *InMemoryTaskRepo) List(ctx context.Context) ([]task.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *InMemoryTaskRepo) Get(ctx context.Context, id string) (task.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return task.Record{}, task.ErrNotFound
	}
	return rec, nil
}

func (r *InMemoryTaskRepo) Put(ctx context.Context, rec task.Record) error {
	key := fp.Fingerprint(rec)
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.byFP[key]; ok && owner != rec.TaskID {
		return task.ErrDuplicate
	}
	if old, ok := r.records[rec.TaskID]; ok {
		delete(r.byFP, fp.Fingerprint(old))
	}
	r.records[rec.TaskID] = rec
	r.byFP[key] = rec.TaskID
	return nil
}

func (r *InMemoryTaskRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return task.ErrNotFound
	}
	delete(r.records, id)
	delete(r.byFP, fp.Fingerprint(rec))
	return nil
}
