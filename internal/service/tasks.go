package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tinoosan/ferry/internal/batch"
	"github.com/tinoosan/ferry/internal/event"
	"github.com/tinoosan/ferry/internal/idgen"
	"github.com/tinoosan/ferry/internal/machine"
	"github.com/tinoosan/ferry/internal/task"
)

// Action is a control operation on a live task.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionCancel Action = "cancel"
)

var ErrBadAction = errors.New("invalid action")

// ParseAction validates a client-supplied action string.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionPause, ActionResume, ActionCancel:
		return Action(s), nil
	}
	return "", ErrBadAction
}

// Tasks is the application service the API layer talks to.
type Tasks interface {
	Submit(ctx context.Context, opts task.Options) (*task.Task, error)
	SubmitBatch(ctx context.Context, opts []task.Options, cb batch.Callback) (*batch.Batch, error)
	List(ctx context.Context) []machine.Snapshot
	Get(ctx context.Context, id string) (machine.Snapshot, error)
	Control(ctx context.Context, id string, action Action) error
	Batch(id string) (*batch.Batch, error)
	Close()
}

type tasks struct {
	log  *slog.Logger
	mgr  *machine.Manager
	disp *event.Dispatcher
	gen  idgen.Generator

	mu      sync.RWMutex
	coords  map[string]*batch.Coordinator
	batches map[string]*batch.Batch
}

// NewTasks wires the task service.
func NewTasks(log *slog.Logger, mgr *machine.Manager, disp *event.Dispatcher, gen idgen.Generator) Tasks {
	if log == nil {
		log = slog.Default()
	}
	if gen == nil {
		gen = idgen.UUID{}
	}
	return &tasks{
		log:     log,
		mgr:     mgr,
		disp:    disp,
		gen:     gen,
		coords:  make(map[string]*batch.Coordinator),
		batches: make(map[string]*batch.Batch),
	}
}

func (s *tasks) Submit(ctx context.Context, opts task.Options) (*task.Task, error) {
	if opts.ID == "" {
		opts.ID = s.gen.NewID()
	}
	t, err := task.New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.mgr.Submit(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SubmitBatch validates every task before submitting any, so a bad entry
// rejects the whole batch instead of leaving it half-submitted. The
// coordinator subscribes before the first submission so no terminal event
// can slip past it.
func (s *tasks) SubmitBatch(ctx context.Context, opts []task.Options, cb batch.Callback) (*batch.Batch, error) {
	if len(opts) == 0 {
		return nil, &task.ValidationError{Field: "tasks", Reason: "batch must not be empty"}
	}
	ts := make([]*task.Task, 0, len(opts))
	for _, o := range opts {
		if o.ID == "" {
			o.ID = s.gen.NewID()
		}
		t, err := task.New(o)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}

	b := batch.New(s.gen.NewID(), ts)
	inner := cb
	coord := batch.NewCoordinator(s.log, s.disp, b, func(succeeded, failed int) {
		if inner != nil {
			inner(succeeded, failed)
		}
		// The coordinator exits on its own once the batch resolves;
		// forget it so resolved batches do not pin coordinators until
		// shutdown. The batch itself stays queryable.
		if b.Resolved() {
			s.mu.Lock()
			delete(s.coords, b.ID())
			s.mu.Unlock()
		}
	})
	// Register before Run so a batch that resolves immediately cannot be
	// re-added after its own cleanup.
	s.mu.Lock()
	s.coords[b.ID()] = coord
	s.batches[b.ID()] = b
	s.mu.Unlock()
	coord.Run()

	for _, t := range ts {
		if err := s.mgr.Submit(ctx, t); err != nil {
			// Already-submitted ids surface here; the batch still tracks
			// the task through the shared event stream.
			s.log.Error("batch submit", "task_id", t.ID, "err", err)
		}
	}
	return b, nil
}

func (s *tasks) List(ctx context.Context) []machine.Snapshot {
	return s.mgr.Tasks()
}

func (s *tasks) Get(ctx context.Context, id string) (machine.Snapshot, error) {
	t, err := s.mgr.Task(id)
	if err != nil {
		return machine.Snapshot{}, err
	}
	st, err := s.mgr.Status(id)
	if err != nil {
		return machine.Snapshot{}, err
	}
	return machine.Snapshot{Task: t, Status: st}, nil
}

func (s *tasks) Control(ctx context.Context, id string, action Action) error {
	switch action {
	case ActionPause:
		return s.mgr.Pause(ctx, id)
	case ActionResume:
		return s.mgr.Resume(ctx, id)
	case ActionCancel:
		return s.mgr.Cancel(ctx, id)
	}
	return ErrBadAction
}

func (s *tasks) Batch(id string) (*batch.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return b, nil
}

// Close stops every batch coordinator.
func (s *tasks) Close() {
	s.mu.Lock()
	coords := make([]*batch.Coordinator, 0, len(s.coords))
	for _, c := range s.coords {
		coords = append(coords, c)
	}
	s.mu.Unlock()
	for _, c := range coords {
		c.Stop()
	}
}
