package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tinoosan/ferry/internal/config"
	"github.com/tinoosan/ferry/internal/event"
	"github.com/tinoosan/ferry/internal/executor"
	"github.com/tinoosan/ferry/internal/executor/httpx"
	"github.com/tinoosan/ferry/internal/idgen"
	"github.com/tinoosan/ferry/internal/machine"
	"github.com/tinoosan/ferry/internal/metrics"
	"github.com/tinoosan/ferry/internal/repo"
	"github.com/tinoosan/ferry/internal/router"
	"github.com/tinoosan/ferry/internal/service"
	"github.com/tinoosan/ferry/internal/task"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)

	metrics.Register()

	var store repo.TaskRepo
	var ready router.Pinger
	switch cfg.Repo {
	case "postgres":
		pg, err := repo.NewPostgresRepoFromEnv()
		if err != nil {
			logger.Error("postgres", "err", err)
			os.Exit(1)
		}
		defer func() { _ = pg.Close() }()
		store = pg
		ready = pg
	default:
		store = repo.NewInMemoryTaskRepo()
	}

	disp := event.NewDispatcher(logger)

	backoff := machine.DefaultBackoff
	backoff.Base = cfg.RetryBase
	backoff.Max = cfg.RetryMax

	// The manager is constructed first so it can be handed to the executor
	// as the callback sink.
	mgr := machine.NewManager(logger, nil, disp, store, backoff)

	var exec executor.Executor
	switch cfg.Executor {
	case "noop":
		exec = executor.NewNoop(logger, mgr)
	default:
		exec = httpx.New(mgr, httpx.Options{
			MaxConcurrent:  cfg.MaxConcurrent,
			BandwidthLimit: cfg.BandwidthLimit,
			Collision:      httpx.ParseCollisionPolicy(cfg.Collision),
			BaseDirs: map[task.BaseLocation]string{
				task.LocationDocuments: cfg.DocumentsDir,
				task.LocationTemporary: cfg.TemporaryDir,
				task.LocationSupport:   cfg.SupportDir,
			},
			Logger: logger,
		})
	}
	mgr.SetExecutor(exec)

	// Resume tasks that were live before the last shutdown.
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	records, err := store.List(restoreCtx)
	if err != nil {
		logger.Error("list records", "err", err)
	}
	for _, rec := range records {
		if err := mgr.Restore(restoreCtx, rec); err != nil {
			logger.Error("restore task", "task_id", rec.TaskID, "err", err)
		}
	}
	cancelRestore()

	taskSvc := service.NewTasks(logger, mgr, disp, idgen.UUID{})
	defer taskSvc.Close()

	r := router.New(logger, taskSvc, disp, ready)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      r,
		IdleTimeout:  120 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming event endpoint
	}

	go func() {
		logger.Info("starting ferry API", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "err", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received signal, graceful shutdown", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	mgr.Stop()
	disp.Close()
}
