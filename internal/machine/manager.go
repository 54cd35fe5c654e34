package machine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/ferry/internal/event"
	"github.com/tinoosan/ferry/internal/executor"
	"github.com/tinoosan/ferry/internal/metrics"
	"github.com/tinoosan/ferry/internal/repo"
	"github.com/tinoosan/ferry/internal/reqid"
	"github.com/tinoosan/ferry/internal/task"
)

var (
	ErrAlreadySubmitted = errors.New("task already submitted")
	ErrNotRunning       = errors.New("task is not running")
	ErrNotPaused        = errors.New("task is not paused")
)

// Manager owns one state machine per live task. It forwards control
// operations to the transfer executor, translates executor callbacks into
// observer events, schedules backoff retries, and keeps the persisted
// record per task current so tasks can be restored after a restart.
type Manager struct {
	log     *slog.Logger
	exec    executor.Executor
	disp    *event.Dispatcher
	store   repo.TaskRepo
	backoff Backoff

	mu       sync.RWMutex
	machines map[string]*machine
}

// NewManager wires a manager. store may be nil when persistence is not
// configured. The manager tags its log output with a stable operation_id
// for correlation.
func NewManager(log *slog.Logger, exec executor.Executor, disp *event.Dispatcher, store repo.TaskRepo, backoff Backoff) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if backoff.Base == 0 {
		backoff = DefaultBackoff
	}
	return &Manager{
		log:      log.With("operation_id", uuid.NewString()),
		exec:     exec,
		disp:     disp,
		store:    store,
		backoff:  backoff,
		machines: make(map[string]*machine),
	}
}

var _ executor.Sink = (*Manager)(nil)

// SetExecutor installs the transfer collaborator. The manager is the
// executor's callback sink, so the two are constructed in sequence; this
// must be called before the first Submit.
func (mg *Manager) SetExecutor(exec executor.Executor) { mg.exec = exec }

// Submit registers t in the enqueued state and hands it to the executor.
// The record is persisted first: a fingerprint conflict means another live
// task already owns the same URL and destination, and the submission is
// rejected with task.ErrDuplicate before a machine exists. A synchronous
// executor rejection is treated like any runtime failure and goes through
// the retry path.
func (mg *Manager) Submit(ctx context.Context, t *task.Task) error {
	if _, ok := mg.lookup(t.ID); ok {
		return ErrAlreadySubmitted
	}
	if err := mg.persist(ctx, t); err != nil {
		if errors.Is(err, task.ErrDuplicate) {
			return err
		}
		mg.log.Error("persist record", "task_id", t.ID, "err", err)
	}

	mg.mu.Lock()
	if _, ok := mg.machines[t.ID]; ok {
		mg.mu.Unlock()
		return ErrAlreadySubmitted
	}
	m := newMachine(t)
	mg.machines[t.ID] = m
	mg.mu.Unlock()

	log := mg.log
	if rid, ok := reqid.From(ctx); ok {
		log = log.With("request_id", rid)
	}
	log.Info("task submitted", "task_id", t.ID, "group", t.Group, "retries", t.Retries)

	metrics.ActiveTasks.Inc()

	if err := mg.exec.Submit(ctx, t); err != nil {
		mg.log.Error("executor submit", "task_id", t.ID, "err", err)
		mg.reportFailure(m, task.StatusFailed)
	}
	return nil
}

// Restore rebuilds a task from its persisted record and resubmits it.
// Used at startup to resume tasks that were live before a restart.
func (mg *Manager) Restore(ctx context.Context, rec task.Record) error {
	t, err := task.FromRecord(rec)
	if err != nil {
		return err
	}
	return mg.Submit(ctx, t)
}

// Cancel moves the task to canceled regardless of its current state and
// forwards the abort to the executor. Canceling an already-final task is a
// no-op, not an error; the canceled status event is published exactly once.
func (mg *Manager) Cancel(ctx context.Context, id string) error {
	m, ok := mg.lookup(id)
	if !ok {
		return task.ErrNotFound
	}
	m.mu.Lock()
	if m.retired {
		m.mu.Unlock()
		return nil
	}
	m.stopTimer()
	mg.retire(m, task.StatusCanceled)
	m.mu.Unlock()

	// Fire-and-forget towards the executor; local state is already final.
	if err := mg.exec.Cancel(ctx, id); err != nil {
		mg.log.Warn("executor cancel", "task_id", id, "err", err)
	}
	return nil
}

// Pause suspends a running transfer. The executor must advertise the
// capability; the local marker is only set after the executor acknowledges.
func (mg *Manager) Pause(ctx context.Context, id string) error {
	pr, ok := mg.exec.(executor.PauseResumer)
	if !ok {
		return executor.ErrPauseUnsupported
	}
	m, ok := mg.lookup(id)
	if !ok {
		return task.ErrNotFound
	}
	m.mu.Lock()
	if m.retired || m.status != task.StatusRunning || m.paused {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.mu.Unlock()

	if err := pr.Pause(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired || m.status != task.StatusRunning {
		// Lost a race with a terminal report; the pause ack is moot.
		return nil
	}
	m.paused = true
	mg.publishProgress(m.t, event.ProgressPaused)
	return nil
}

// Resume returns a paused transfer to running.
func (mg *Manager) Resume(ctx context.Context, id string) error {
	pr, ok := mg.exec.(executor.PauseResumer)
	if !ok {
		return executor.ErrPauseUnsupported
	}
	m, ok := mg.lookup(id)
	if !ok {
		return task.ErrNotFound
	}
	m.mu.Lock()
	if m.retired || !m.paused {
		m.mu.Unlock()
		return ErrNotPaused
	}
	m.mu.Unlock()

	if err := pr.Resume(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired || !m.paused {
		return nil
	}
	m.paused = false
	mg.publishStatus(m.t, task.StatusRunning)
	return nil
}

// Status reports the task's current lifecycle state.
func (mg *Manager) Status(id string) (task.Status, error) {
	m, ok := mg.lookup(id)
	if !ok {
		return "", task.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

// Task returns a snapshot of the tracked task.
func (mg *Manager) Task(id string) (*task.Task, error) {
	m, ok := mg.lookup(id)
	if !ok {
		return nil, task.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.Clone(), nil
}

// Stop aborts every pending retry timer. In-flight transfers are left to
// the executor; this only quiesces the core's own scheduling.
func (mg *Manager) Stop() {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	for _, m := range mg.machines {
		m.mu.Lock()
		m.stopTimer()
		m.mu.Unlock()
	}
}

// OnStatus translates an executor lifecycle report into a transition.
// Reports for retired or unknown tasks, and statuses the collaborator has
// no business reporting, are dropped and logged, never propagated.
func (mg *Manager) OnStatus(id string, s task.Status) {
	m, ok := mg.lookup(id)
	if !ok {
		mg.drop("unknown_task", id, "status", string(s))
		return
	}
	if !s.Known() {
		mg.drop("invalid_status", id, "status", string(s))
		return
	}
	switch s {
	case task.StatusRunning:
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.retired {
			mg.drop("late_event", id, "status", string(s))
			return
		}
		if m.status != task.StatusEnqueued {
			mg.drop("invalid_transition", id, "status", string(s))
			return
		}
		m.status = task.StatusRunning
		mg.publishStatus(m.t, task.StatusRunning)
	case task.StatusComplete, task.StatusNotFound:
		mg.reportTerminal(m, s)
	case task.StatusFailed:
		mg.reportFailure(m, task.StatusFailed)
	default:
		// enqueued, canceled and waitingToRetry are core-owned transitions
		// that a collaborator must not drive.
		mg.drop("invalid_transition", id, "status", string(s))
	}
}

// OnProgress translates an executor progress report. Fractions in [0,1)
// are forwarded as progress events; sentinel values are folded into the
// equivalent lifecycle transition.
func (mg *Manager) OnProgress(id string, fraction float64) {
	m, ok := mg.lookup(id)
	if !ok {
		mg.drop("unknown_task", id, "progress", fraction)
		return
	}
	if fraction >= 0 && fraction < 1 {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.retired {
			mg.drop("late_event", id, "progress", fraction)
			return
		}
		mg.publishProgress(m.t, fraction)
		return
	}
	switch fraction {
	case event.ProgressComplete:
		mg.reportTerminal(m, task.StatusComplete)
	case event.ProgressNotFound:
		mg.reportTerminal(m, task.StatusNotFound)
	case event.ProgressCanceled:
		mg.reportTerminal(m, task.StatusCanceled)
	case event.ProgressFailed, event.ProgressWaitingToRetry:
		mg.reportFailure(m, task.StatusFailed)
	default:
		mg.drop("unknown_progress", id, "progress", fraction)
	}
}

// reportTerminal applies a terminal outcome from the executor. The first
// terminal-or-canceled transition wins; any later report is a late event.
func (mg *Manager) reportTerminal(m *machine, s task.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		mg.drop("late_event", m.t.ID, "status", string(s))
		return
	}
	m.stopTimer()
	mg.retire(m, s)
}

// reportFailure applies a failure report: schedule a retry when budget
// remains, otherwise the failure is terminal.
func (mg *Manager) reportFailure(m *machine, s task.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retired {
		mg.drop("late_event", m.t.ID, "status", string(s))
		return
	}
	if m.status == task.StatusWaitingToRetry {
		// A backoff timer is already armed; a second failure report for
		// the same attempt must not arm another.
		mg.drop("invalid_transition", m.t.ID, "status", string(s))
		return
	}
	m.paused = false
	if m.t.Remaining <= 0 {
		mg.retire(m, s)
		return
	}
	m.attempts++
	m.status = task.StatusWaitingToRetry
	// Sentinel first, then the status event, then the timer starts.
	mg.publishProgress(m.t, event.ProgressWaitingToRetry)
	mg.publishStatus(m.t, task.StatusWaitingToRetry)
	delay := mg.backoff.Delay(m.attempts)
	metrics.RetriesScheduled.Inc()
	mg.log.Info("retry scheduled", "task_id", m.t.ID, "attempt", m.attempts, "delay", delay)
	m.timer = time.AfterFunc(delay, func() { mg.reenqueue(m) })
}

// reenqueue fires when the backoff delay elapses: it consumes one retry,
// moves the task back to enqueued and resubmits it. A cancellation that
// landed while waiting aborts the re-enqueue.
func (mg *Manager) reenqueue(m *machine) {
	m.mu.Lock()
	if m.retired || m.status != task.StatusWaitingToRetry {
		m.mu.Unlock()
		return
	}
	if !m.t.ConsumeRetry() {
		// Budget raced to zero; terminal failure.
		mg.retire(m, task.StatusFailed)
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.status = task.StatusEnqueued
	t := m.t
	mg.publishStatus(t, task.StatusEnqueued)
	m.mu.Unlock()

	if err := mg.persist(context.Background(), t); err != nil {
		mg.log.Error("persist record", "task_id", t.ID, "err", err)
	}
	if err := mg.exec.Submit(context.Background(), t); err != nil {
		mg.log.Error("executor resubmit", "task_id", t.ID, "err", err)
		mg.reportFailure(m, task.StatusFailed)
	}
}

// retire finalizes the machine. Caller holds m.mu. After this no further
// events for the task are valid.
func (mg *Manager) retire(m *machine, s task.Status) {
	m.status = s
	m.retired = true
	m.paused = false
	if p, ok := event.StatusSentinel(s); ok {
		mg.publishProgress(m.t, p)
	}
	mg.publishStatus(m.t, s)
	metrics.ActiveTasks.Dec()
	metrics.TasksResolved.WithLabelValues(string(s)).Inc()
	metrics.TaskDuration.WithLabelValues(string(s)).Observe(time.Since(m.submittedAt).Seconds())
	mg.log.Info("task resolved", "task_id", m.t.ID, "status", s)
	if mg.store != nil {
		if err := mg.store.Delete(context.Background(), m.t.ID); err != nil && !errors.Is(err, task.ErrNotFound) {
			mg.log.Error("delete record", "task_id", m.t.ID, "err", err)
		}
	}
}

func (mg *Manager) publishStatus(t *task.Task, s task.Status) {
	mg.disp.Publish(event.NewStatus(t, s))
}

func (mg *Manager) publishProgress(t *task.Task, p float64) {
	mg.disp.Publish(event.NewProgress(t, p))
}

func (mg *Manager) persist(ctx context.Context, t *task.Task) error {
	if mg.store == nil {
		return nil
	}
	return mg.store.Put(ctx, t.Record())
}

func (mg *Manager) lookup(id string) (*machine, bool) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()
	m, ok := mg.machines[id]
	return m, ok
}

func (mg *Manager) drop(reason, id string, args ...any) {
	metrics.ProtocolViolations.WithLabelValues(reason).Inc()
	kv := append([]any{"task_id", id, "reason", reason}, args...)
	mg.log.Warn("dropped collaborator report", kv...)
}
