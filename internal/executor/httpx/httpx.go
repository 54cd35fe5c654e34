// Package httpx is the reference transfer collaborator: a plain HTTP GET
// executor with ranged resume, a shared bandwidth budget and a concurrency
// cap. The core never imports it directly; it only sees the executor
// interfaces.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"golang.org/x/sync/semaphore"

	"github.com/tinoosan/ferry/internal/executor"
	"github.com/tinoosan/ferry/internal/task"
)

// Options configure the executor.
type Options struct {
	Client *http.Client
	// MaxConcurrent caps simultaneous transfers.
	MaxConcurrent int64
	// BandwidthLimit is a shared bytes/sec budget; 0 means unlimited.
	BandwidthLimit int64
	// BaseDirs maps each base location to a root directory.
	BaseDirs map[task.BaseLocation]string
	// Collision decides what happens when the target file already exists.
	Collision CollisionPolicy
	// Unmetered reports whether the current network is unmetered. Tasks
	// that require one fail immediately when it returns false. nil means
	// always unmetered.
	Unmetered func() bool
	Logger    *slog.Logger
}

type transfer struct {
	t      *task.Task
	cancel context.CancelFunc
	// done is closed when the run goroutine has exited. Pause blocks on it
	// so the partial file never has two writers.
	done chan struct{}
	// offset is how many bytes are already on disk; a resume continues
	// from here with a Range request. Guarded by Executor.mu once the run
	// goroutine is live.
	offset   int64
	path     string
	paused   bool
	canceled bool
}

// Executor performs HTTP transfers and reports outcomes through the Sink.
type Executor struct {
	sink      executor.Sink
	client    *http.Client
	sem       *semaphore.Weighted
	bucket    *ratelimit.Bucket
	baseDirs  map[task.BaseLocation]string
	collision CollisionPolicy
	unmetered func() bool
	log       *slog.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
}

// New builds the executor. sink receives every asynchronous report.
func New(sink executor.Sink, opts Options) *Executor {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var bucket *ratelimit.Bucket
	if opts.BandwidthLimit > 0 {
		bucket = ratelimit.NewBucketWithRate(float64(opts.BandwidthLimit), opts.BandwidthLimit)
	}
	return &Executor{
		sink:      sink,
		client:    opts.Client,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		bucket:    bucket,
		baseDirs:  opts.BaseDirs,
		collision: opts.Collision,
		unmetered: opts.Unmetered,
		log:       opts.Logger,
	}
}

var (
	_ executor.Executor     = (*Executor)(nil)
	_ executor.PauseResumer = (*Executor)(nil)
)

// Submit registers the task and starts the transfer asynchronously.
func (e *Executor) Submit(ctx context.Context, t *task.Task) error {
	path, err := e.targetPath(t)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	tr := &transfer{t: t, cancel: cancel, path: path, done: make(chan struct{})}

	e.mu.Lock()
	if e.transfers == nil {
		e.transfers = make(map[string]*transfer)
	}
	// A re-enqueued retry reuses the slot and keeps the partial offset.
	if old, ok := e.transfers[t.ID]; ok {
		tr.offset = old.offset
	}
	e.transfers[t.ID] = tr
	e.mu.Unlock()

	go e.run(runCtx, tr)
	return nil
}

// Cancel aborts the transfer. Idempotent; unknown ids are not an error
// because cancel is fire-and-forget from the core's perspective.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	tr, ok := e.transfers[id]
	if ok {
		tr.canceled = true
		delete(e.transfers, id)
	}
	e.mu.Unlock()
	if ok {
		tr.cancel()
	}
	return nil
}

// Pause suspends the transfer in place, keeping the partial file so Resume
// can continue with a Range request.
func (e *Executor) Pause(ctx context.Context, id string) error {
	e.mu.Lock()
	tr, ok := e.transfers[id]
	if !ok {
		e.mu.Unlock()
		return executor.ErrUnknownTask
	}
	if tr.paused {
		e.mu.Unlock()
		return nil
	}
	tr.paused = true
	e.mu.Unlock()
	tr.cancel()
	// Wait for the run goroutine to exit so the recorded offset is final
	// and a later resume cannot race it on the partial file.
	<-tr.done
	return nil
}

// Resume continues a paused transfer from its recorded offset.
func (e *Executor) Resume(ctx context.Context, id string) error {
	e.mu.Lock()
	tr, ok := e.transfers[id]
	if !ok {
		e.mu.Unlock()
		return executor.ErrUnknownTask
	}
	if !tr.paused {
		e.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	next := &transfer{t: tr.t, cancel: cancel, path: tr.path, offset: tr.offset, done: make(chan struct{})}
	e.transfers[id] = next
	e.mu.Unlock()
	go e.run(runCtx, next)
	return nil
}

func (e *Executor) run(ctx context.Context, tr *transfer) {
	defer close(tr.done)
	t := tr.t

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.finish(tr, task.StatusFailed, err)
		return
	}
	defer e.sem.Release(1)

	if t.RequiresUnmetered && e.unmetered != nil && !e.unmetered() {
		e.finish(tr, task.StatusFailed, fmt.Errorf("metered network"))
		return
	}

	req, err := e.buildRequest(ctx, tr)
	if err != nil {
		e.finish(tr, task.StatusFailed, err)
		return
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.abortOrFail(ctx, tr, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		e.finish(tr, task.StatusNotFound, nil)
		return
	case resp.StatusCode == http.StatusOK:
		// Server ignored the Range header; start over.
		e.mu.Lock()
		tr.offset = 0
		e.mu.Unlock()
	case resp.StatusCode == http.StatusPartialContent:
	default:
		e.finish(tr, task.StatusFailed, fmt.Errorf("http %d", resp.StatusCode))
		return
	}

	e.sink.OnStatus(t.ID, task.StatusRunning)

	e.mu.Lock()
	resumedFrom := tr.offset
	e.mu.Unlock()
	total := resp.ContentLength
	if total >= 0 {
		total += resumedFrom
	}

	if err := e.copyBody(ctx, tr, resp.Body, total); err != nil {
		e.abortOrFail(ctx, tr, err)
		return
	}
	e.finish(tr, task.StatusComplete, nil)
}

func (e *Executor) buildRequest(ctx context.Context, tr *transfer) (*http.Request, error) {
	t := tr.t
	var body io.Reader
	method := http.MethodGet
	if !t.Body.IsZero() {
		method = http.MethodPost
		switch t.Body.Kind {
		case task.BodyText:
			body = bytes.NewReader([]byte(t.Body.Text))
		case task.BodyBytes:
			body = bytes.NewReader(t.Body.Raw)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, t.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	e.mu.Lock()
	offset := tr.offset
	e.mu.Unlock()
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return req, nil
}

func (e *Executor) copyBody(ctx context.Context, tr *transfer, src io.Reader, total int64) error {
	e.mu.Lock()
	offset := tr.offset
	path := tr.path
	e.mu.Unlock()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		resolved, err := resolveCollision(path, e.collision)
		if err != nil {
			return err
		}
		path = resolved
		e.mu.Lock()
		tr.path = path
		e.mu.Unlock()
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if e.bucket != nil {
		src = ratelimit.Reader(src, e.bucket)
	}

	buf := make([]byte, 64<<10)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			offset += int64(n)
			e.mu.Lock()
			tr.offset = offset
			e.mu.Unlock()
			if total > 0 {
				fraction := float64(offset) / float64(total)
				if fraction >= 1 {
					// The terminal 1.0 sentinel is reported by finish.
					fraction = 0.999
				}
				e.sink.OnProgress(tr.t.ID, fraction)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// abortOrFail suppresses reports for transfers the core already resolved
// (pause and cancel both surface here as context cancellation).
func (e *Executor) abortOrFail(ctx context.Context, tr *transfer, err error) {
	e.mu.Lock()
	silent := tr.paused || tr.canceled
	e.mu.Unlock()
	if silent || ctx.Err() != nil {
		e.log.Debug("transfer aborted", "task_id", tr.t.ID, "err", err)
		return
	}
	e.finish(tr, task.StatusFailed, err)
}

func (e *Executor) finish(tr *transfer, s task.Status, err error) {
	e.mu.Lock()
	// Keep the slot (and its offset) on failure so a retry resumes the
	// partial file; drop it on success or notFound.
	if s != task.StatusFailed {
		delete(e.transfers, tr.t.ID)
	}
	e.mu.Unlock()
	if err != nil {
		e.log.Warn("transfer failed", "task_id", tr.t.ID, "err", err)
	}
	e.sink.OnStatus(tr.t.ID, s)
}

func (e *Executor) targetPath(t *task.Task) (string, error) {
	base, ok := e.baseDirs[t.BaseLocation]
	if !ok || base == "" {
		return "", fmt.Errorf("no base directory for location %d", t.BaseLocation)
	}
	dir := filepath.Join(base, filepath.FromSlash(t.Directory))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, t.Filename), nil
}
