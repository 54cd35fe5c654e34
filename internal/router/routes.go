package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinoosan/ferry/api/v1"
	"github.com/tinoosan/ferry/internal/auth"
	"github.com/tinoosan/ferry/internal/event"
	"github.com/tinoosan/ferry/internal/service"
)

// Pinger is implemented by repositories that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New sets up the application routes and required middleware. ready may be
// nil when the record store has no connectivity to probe.
func New(logger *slog.Logger, taskSvc service.Tasks, disp *event.Dispatcher, ready Pinger) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready.Ping(req.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ready")); err != nil {
			logger.Error("write readyz response", "err", err)
		}
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	taskHandler := v1.NewTaskHandler(logger, taskSvc, disp)

	r.Use(v1.RequestID)
	r.Use(taskHandler.Log)
	r.Use(auth.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/tasks", taskHandler.ListTasks)
	get.HandleFunc("/tasks/{id}", taskHandler.GetTask)
	get.HandleFunc("/batches/{id}", taskHandler.GetBatch)
	get.HandleFunc("/events", taskHandler.StreamEvents)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/tasks", taskHandler.SubmitTask)
	post.Use(v1.MiddlewareTaskValidation)

	batches := api.Path("/batches").Methods("POST").Subrouter()
	batches.HandleFunc("", taskHandler.SubmitBatch)

	// PATCHes
	patch := api.Methods("PATCH").Subrouter()
	patch.HandleFunc("/tasks/{id}", taskHandler.ControlTask)
	patch.Use(v1.MiddlewareControl)

	return r
}
