package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/ferry/internal/event"
	"github.com/tinoosan/ferry/internal/idgen"
	"github.com/tinoosan/ferry/internal/machine"
	"github.com/tinoosan/ferry/internal/repo"
	"github.com/tinoosan/ferry/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordExec remembers submitted ids so tests can drive their outcomes.
type recordExec struct {
	mu  sync.Mutex
	ids []string
}

func (e *recordExec) Submit(ctx context.Context, t *task.Task) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, t.ID)
	return nil
}

func (e *recordExec) Cancel(ctx context.Context, id string) error { return nil }

func newFixture(t *testing.T) (Tasks, *machine.Manager, *recordExec) {
	t.Helper()
	disp := event.NewDispatcher(testLogger())
	t.Cleanup(disp.Close)
	exec := &recordExec{}
	mgr := machine.NewManager(testLogger(), exec, disp, repo.NewInMemoryTaskRepo(), machine.Backoff{Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond})
	t.Cleanup(mgr.Stop)
	svc := NewTasks(testLogger(), mgr, disp, &idgen.Sequential{Prefix: "task"})
	t.Cleanup(svc.Close)
	return svc, mgr, exec
}

func TestSubmitGeneratesID(t *testing.T) {
	svc, _, exec := newFixture(t)
	tk, err := svc.Submit(context.Background(), task.Options{
		URL:      "https://example.com/f",
		Filename: "f.bin",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tk.ID != "task-1" {
		t.Fatalf("generated id %q", tk.ID)
	}
	if len(exec.ids) != 1 || exec.ids[0] != "task-1" {
		t.Fatalf("executor saw %v", exec.ids)
	}

	snap, err := svc.Get(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != task.StatusEnqueued {
		t.Fatalf("status %s", snap.Status)
	}
}

func TestSubmitRejectsInvalidOptions(t *testing.T) {
	svc, _, exec := newFixture(t)
	_, err := svc.Submit(context.Background(), task.Options{URL: "https://example.com/f"})
	if !task.IsValidation(err) {
		t.Fatalf("err %v, want validation error", err)
	}
	if len(exec.ids) != 0 {
		t.Fatal("invalid task reached the executor")
	}
}

func TestParseAction(t *testing.T) {
	for _, s := range []string{"pause", "resume", "cancel"} {
		if _, err := ParseAction(s); err != nil {
			t.Fatalf("ParseAction(%q): %v", s, err)
		}
	}
	if _, err := ParseAction("restart"); !errors.Is(err, ErrBadAction) {
		t.Fatalf("ParseAction(restart): %v", err)
	}
}

// End-to-end batch flow: all tasks validated up front, outcomes tallied as
// the executor resolves them, callback fired per resolution.
func TestSubmitBatch(t *testing.T) {
	svc, mgr, exec := newFixture(t)

	opts := []task.Options{
		{URL: "https://example.com/a", Filename: "a.bin", Updates: task.UpdatesNone},
		{URL: "https://example.com/b", Filename: "b.bin", Updates: task.UpdatesNone},
		{URL: "https://example.com/c", Filename: "c.bin", Updates: task.UpdatesNone},
	}
	var mu sync.Mutex
	calls := 0
	b, err := svc.SubmitBatch(context.Background(), opts, func(succeeded, failed int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if len(exec.ids) != 3 {
		t.Fatalf("executor saw %d tasks", len(exec.ids))
	}

	for i, id := range exec.ids {
		mgr.OnStatus(id, task.StatusRunning)
		if i == 1 {
			mgr.OnStatus(id, task.StatusNotFound)
		} else {
			mgr.OnStatus(id, task.StatusComplete)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !b.Resolved() {
		time.Sleep(2 * time.Millisecond)
	}
	if !b.Resolved() {
		t.Fatal("batch never resolved")
	}
	if b.NumSucceeded() != 2 || b.NumFailed() != 1 {
		t.Fatalf("tally %d/%d", b.NumSucceeded(), b.NumFailed())
	}
	mu.Lock()
	if calls != 3 {
		t.Fatalf("callback calls %d", calls)
	}
	mu.Unlock()

	got, err := svc.Batch(b.ID())
	if err != nil || got != b {
		t.Fatalf("batch lookup %v %v", got, err)
	}
}

// A single invalid entry rejects the whole batch before any submission.
func TestSubmitBatchAllOrNothing(t *testing.T) {
	svc, _, exec := newFixture(t)
	_, err := svc.SubmitBatch(context.Background(), []task.Options{
		{URL: "https://example.com/a", Filename: "a.bin"},
		{URL: "https://example.com/b"}, // missing filename
	}, nil)
	if !task.IsValidation(err) {
		t.Fatalf("err %v, want validation error", err)
	}
	if len(exec.ids) != 0 {
		t.Fatalf("executor saw %v before rejection", exec.ids)
	}
}

func TestControlRoutesToManager(t *testing.T) {
	svc, mgr, _ := newFixture(t)
	tk, err := svc.Submit(context.Background(), task.Options{URL: "https://example.com/f", Filename: "f.bin"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.Control(context.Background(), tk.ID, ActionCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if st, _ := mgr.Status(tk.ID); st != task.StatusCanceled {
		t.Fatalf("status %s", st)
	}
}
