package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/tinoosan/ferry/internal/batch"
	"github.com/tinoosan/ferry/internal/machine"
	"github.com/tinoosan/ferry/internal/service"
	"github.com/tinoosan/ferry/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type controlCall struct {
	id     string
	action service.Action
}

// stubSvc is a canned service.Tasks for handler tests.
type stubSvc struct {
	submitErr  error
	controlErr error
	getErr     error
	snap       machine.Snapshot
	batch      *batch.Batch

	submitted []task.Options
	controls  []controlCall
}

func (s *stubSvc) Submit(ctx context.Context, opts task.Options) (*task.Task, error) {
	s.submitted = append(s.submitted, opts)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if opts.ID == "" {
		opts.ID = "generated-1"
	}
	return task.New(opts)
}

func (s *stubSvc) SubmitBatch(ctx context.Context, opts []task.Options, cb batch.Callback) (*batch.Batch, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	ts := make([]*task.Task, 0, len(opts))
	for i, o := range opts {
		if o.ID == "" {
			o.ID = "generated-" + string(rune('1'+i))
		}
		t, err := task.New(o)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	s.batch = batch.New("batch-1", ts)
	return s.batch, nil
}

func (s *stubSvc) List(ctx context.Context) []machine.Snapshot {
	if s.snap.Task == nil {
		return nil
	}
	return []machine.Snapshot{s.snap}
}

func (s *stubSvc) Get(ctx context.Context, id string) (machine.Snapshot, error) {
	if s.getErr != nil {
		return machine.Snapshot{}, s.getErr
	}
	return s.snap, nil
}

func (s *stubSvc) Control(ctx context.Context, id string, action service.Action) error {
	s.controls = append(s.controls, controlCall{id: id, action: action})
	return s.controlErr
}

func (s *stubSvc) Batch(id string) (*batch.Batch, error) {
	if s.batch == nil {
		return nil, task.ErrNotFound
	}
	return s.batch, nil
}

func (s *stubSvc) Close() {}

func newTestRouter(svc service.Tasks) *mux.Router {
	h := NewTaskHandler(testLogger(), svc, nil)
	r := mux.NewRouter()
	r.Handle("/v1/tasks", MiddlewareTaskValidation(http.HandlerFunc(h.SubmitTask))).Methods(http.MethodPost)
	r.HandleFunc("/v1/tasks", h.ListTasks).Methods(http.MethodGet)
	r.HandleFunc("/v1/tasks/{id}", h.GetTask).Methods(http.MethodGet)
	r.Handle("/v1/tasks/{id}", MiddlewareControl(http.HandlerFunc(h.ControlTask))).Methods(http.MethodPatch)
	r.HandleFunc("/v1/batches", h.SubmitBatch).Methods(http.MethodPost)
	r.HandleFunc("/v1/batches/{id}", h.GetBatch).Methods(http.MethodGet)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func stubSnap(t *testing.T, id string, st task.Status) machine.Snapshot {
	t.Helper()
	tk, err := task.New(task.Options{ID: id, URL: "https://example.com/f", Filename: "f.bin"})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return machine.Snapshot{Task: tk, Status: st}
}

func TestSubmitTask(t *testing.T) {
	svc := &stubSvc{}
	r := newTestRouter(svc)

	body := `{"url":"https://example.com/f","filename":"f.bin","retries":3}`
	rec := doJSON(t, r, http.MethodPost, "/v1/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskID != "generated-1" || resp.Status != task.StatusEnqueued {
		t.Fatalf("response %+v", resp)
	}
	if resp.Retries != 3 || resp.Remaining != 3 {
		t.Fatalf("retries %d/%d", resp.Retries, resp.Remaining)
	}
	if len(svc.submitted) != 1 {
		t.Fatalf("service calls %d", len(svc.submitted))
	}
}

func TestSubmitTaskRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
		ct   string
		want int
	}{
		{"not json", `{{{`, "application/json", http.StatusBadRequest},
		{"wrong content type", `{"url":"https://example.com/f","filename":"f.bin"}`, "text/plain", http.StatusUnsupportedMediaType},
		{"missing url", `{"filename":"f.bin"}`, "application/json", http.StatusBadRequest},
		{"missing filename", `{"url":"https://example.com/f"}`, "application/json", http.StatusBadRequest},
		{"loopback url", `{"url":"http://localhost/f","filename":"f.bin"}`, "application/json", http.StatusBadRequest},
		{"metadata endpoint", `{"url":"http://169.254.169.254/meta","filename":"f.bin"}`, "application/json", http.StatusBadRequest},
		{"file scheme", `{"url":"file:///etc/passwd","filename":"f.bin"}`, "application/json", http.StatusBadRequest},
		{"retries over cap", `{"url":"https://example.com/f","filename":"f.bin","retries":11}`, "application/json", http.StatusBadRequest},
		{"negative retries", `{"url":"https://example.com/f","filename":"f.bin","retries":-1}`, "application/json", http.StatusBadRequest},
		{"unknown field", `{"url":"https://example.com/f","filename":"f.bin","bogus":1}`, "application/json", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubSvc{}
			r := newTestRouter(svc)
			req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader([]byte(tc.body)))
			req.Header.Set("Content-Type", tc.ct)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.want, rec.Body)
			}
			if len(svc.submitted) != 0 {
				t.Fatal("bad input reached the service")
			}
		})
	}
}

func TestSubmitTaskConflict(t *testing.T) {
	svc := &stubSvc{submitErr: machine.ErrAlreadySubmitted}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodPost, "/v1/tasks", `{"url":"https://example.com/f","filename":"f.bin"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

func TestSubmitTaskDuplicateDestination(t *testing.T) {
	svc := &stubSvc{submitErr: task.ErrDuplicate}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodPost, "/v1/tasks", `{"url":"https://example.com/f","filename":"f.bin"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d, want 409", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	svc := &stubSvc{snap: stubSnap(t, "t-1", task.StatusRunning)}
	r := newTestRouter(svc)

	rec := doJSON(t, r, http.MethodGet, "/v1/tasks/t-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TaskID != "t-1" || resp.Status != task.StatusRunning {
		t.Fatalf("response %+v", resp)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	svc := &stubSvc{getErr: task.ErrNotFound}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodGet, "/v1/tasks/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

// Only a missing task is a 404; any other lookup failure is a server error.
func TestGetTaskServiceFailure(t *testing.T) {
	svc := &stubSvc{getErr: errors.New("store unavailable")}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodGet, "/v1/tasks/t-1", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}
}

func TestControlTask(t *testing.T) {
	svc := &stubSvc{snap: stubSnap(t, "t-1", task.StatusCanceled)}
	r := newTestRouter(svc)

	rec := doJSON(t, r, http.MethodPatch, "/v1/tasks/t-1", `{"action":"cancel"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if len(svc.controls) != 1 || svc.controls[0] != (controlCall{id: "t-1", action: service.ActionCancel}) {
		t.Fatalf("control calls %v", svc.controls)
	}
}

func TestControlTaskErrors(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		controlErr error
		want       int
	}{
		{"unknown action", `{"action":"defenestrate"}`, nil, http.StatusBadRequest},
		{"empty action", `{}`, nil, http.StatusBadRequest},
		{"not paused", `{"action":"resume"}`, machine.ErrNotPaused, http.StatusConflict},
		{"not running", `{"action":"pause"}`, machine.ErrNotRunning, http.StatusConflict},
		{"unknown task", `{"action":"cancel"}`, task.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubSvc{controlErr: tc.controlErr, snap: stubSnap(t, "t-1", task.StatusRunning)}
			r := newTestRouter(svc)
			rec := doJSON(t, r, http.MethodPatch, "/v1/tasks/t-1", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestSubmitBatch(t *testing.T) {
	svc := &stubSvc{}
	r := newTestRouter(svc)

	body := `{"tasks":[
		{"url":"https://example.com/a","filename":"a.bin"},
		{"url":"https://example.com/b","filename":"b.bin"}
	]}`
	rec := doJSON(t, r, http.MethodPost, "/v1/batches", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BatchID != "batch-1" || resp.Resolved {
		t.Fatalf("response %+v", resp)
	}
}

func TestSubmitBatchRejectsEmpty(t *testing.T) {
	svc := &stubSvc{}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodPost, "/v1/batches", `{"tasks":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetBatchNotFound(t *testing.T) {
	svc := &stubSvc{}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodGet, "/v1/batches/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	svc := &stubSvc{snap: stubSnap(t, "t-1", task.StatusEnqueued)}
	r := newTestRouter(svc)
	rec := doJSON(t, r, http.MethodGet, "/v1/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp []taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].TaskID != "t-1" {
		t.Fatalf("response %+v", resp)
	}
}
