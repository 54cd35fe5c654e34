package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tinoosan/ferry/internal/batch"
	"github.com/tinoosan/ferry/internal/event"
	"github.com/tinoosan/ferry/internal/executor"
	"github.com/tinoosan/ferry/internal/machine"
	"github.com/tinoosan/ferry/internal/service"
	"github.com/tinoosan/ferry/internal/task"
)

// TaskHandler serves the v1 task and batch endpoints.
type TaskHandler struct {
	l    *slog.Logger
	svc  service.Tasks
	disp *event.Dispatcher
}

func NewTaskHandler(l *slog.Logger, svc service.Tasks, disp *event.Dispatcher) *TaskHandler {
	return &TaskHandler{l: l, svc: svc, disp: disp}
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyTask struct{}
type ctxKeyControl struct{}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	snaps := h.svc.List(r.Context())
	out := make([]taskResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toTaskResponse(s))
	}
	if err := writeJSON(w, http.StatusOK, out); err != nil {
		markErr(w, err)
	}
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, toTaskResponse(snap)); err != nil {
		markErr(w, err)
	}
}

func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	body, ok := r.Context().Value(ctxKeyTask{}).(taskBody)
	if !ok {
		markErr(w, ErrTaskCtx)
		http.Error(w, ErrTaskCtx.Error(), http.StatusInternalServerError)
		return
	}
	t, err := h.svc.Submit(r.Context(), body.options())
	if err != nil {
		h.writeErr(w, err)
		return
	}
	snap := machine.Snapshot{Task: t, Status: task.StatusEnqueued}
	if err := writeJSON(w, http.StatusCreated, toTaskResponse(snap)); err != nil {
		markErr(w, err)
	}
}

func (h *TaskHandler) ControlTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := r.Context().Value(ctxKeyControl{}).(controlBody)
	if !ok {
		markErr(w, ErrControlCtx)
		http.Error(w, ErrControlCtx.Error(), http.StatusInternalServerError)
		return
	}
	action, err := service.ParseAction(body.Action)
	if err != nil {
		markErr(w, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.svc.Control(r.Context(), id, action); err != nil {
		h.writeErr(w, err)
		return
	}
	snap, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, toTaskResponse(snap)); err != nil {
		markErr(w, err)
	}
}

func (h *TaskHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := decodeJSONStrict(w, r, &body, 4<<20, "application/json"); err != nil {
		markErr(w, err)
		status := http.StatusBadRequest
		if errors.Is(err, ErrContentType) {
			status = http.StatusUnsupportedMediaType
		}
		http.Error(w, err.Error(), status)
		return
	}
	if err := validate.Struct(body); err != nil {
		markErr(w, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := make([]task.Options, 0, len(body.Tasks))
	for _, tb := range body.Tasks {
		opts = append(opts, tb.options())
	}
	b, err := h.svc.SubmitBatch(r.Context(), opts, nil)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, h.batchResponse(b)); err != nil {
		markErr(w, err)
	}
}

func (h *TaskHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := h.svc.Batch(id)
	if err != nil {
		markErr(w, err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err := writeJSON(w, http.StatusOK, h.batchResponse(b)); err != nil {
		markErr(w, err)
	}
}

func (h *TaskHandler) batchResponse(b *batch.Batch) batchResponse {
	results := make(map[string]task.Status, len(b.Tasks()))
	for _, t := range b.Tasks() {
		if s, ok := b.Result(t.ID); ok {
			results[t.ID] = s
		}
	}
	return batchResponse{
		BatchID:   b.ID(),
		Succeeded: b.NumSucceeded(),
		Failed:    b.NumFailed(),
		Resolved:  b.Resolved(),
		Results:   results,
	}
}

// writeErr maps service errors onto HTTP statuses.
func (h *TaskHandler) writeErr(w http.ResponseWriter, err error) {
	markErr(w, err)
	switch {
	case task.IsValidation(err) || errors.Is(err, service.ErrBadAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, task.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, task.ErrDuplicate),
		errors.Is(err, machine.ErrAlreadySubmitted),
		errors.Is(err, machine.ErrNotRunning),
		errors.Is(err, machine.ErrNotPaused),
		errors.Is(err, executor.ErrPauseUnsupported):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *TaskHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		if rw.err != nil {
			h.l.Error(rw.err.Error(),
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}
		h.l.Info("", "method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}
