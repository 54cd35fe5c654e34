package event

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tinoosan/ferry/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkTask(t *testing.T, id, group string, updates task.UpdatePolicy) *task.Task {
	t.Helper()
	tk, err := task.New(task.Options{
		ID:       id,
		URL:      "https://example.com/" + id,
		Filename: id + ".bin",
		Group:    group,
		Updates:  updates,
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return tk
}

func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				t.Fatalf("stream closed after %d events, want %d", len(out), n)
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timeout after %d events, want %d", len(out), n)
		}
	}
	return out
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPerTaskOrdering(t *testing.T) {
	d := NewDispatcher(testLogger())
	defer d.Close()
	tk := mkTask(t, "t-1", "", task.UpdatesBoth)
	sub := d.Subscribe(Filter{})

	d.Publish(NewStatus(tk, task.StatusRunning))
	d.Publish(NewProgress(tk, 0.25))
	d.Publish(NewProgress(tk, 0.75))
	d.Publish(NewProgress(tk, ProgressComplete))
	d.Publish(NewStatus(tk, task.StatusComplete))

	got := collect(t, sub, 5)
	wantKinds := []Kind{KindStatus, KindProgress, KindProgress, KindProgress, KindStatus}
	for i, e := range got {
		if e.Kind != wantKinds[i] {
			t.Fatalf("event %d kind = %s, want %s", i, e.Kind, wantKinds[i])
		}
	}
	if got[1].Progress != 0.25 || got[2].Progress != 0.75 || got[3].Progress != ProgressComplete {
		t.Fatalf("progress order wrong: %+v", got)
	}
	if got[3].Status != task.StatusComplete {
		t.Fatalf("sentinel should carry typed status, got %q", got[3].Status)
	}
}

func TestPolicyFiltering(t *testing.T) {
	d := NewDispatcher(testLogger())
	defer d.Close()

	statusOnly := mkTask(t, "t-s", "", task.UpdatesStatusOnly)
	progressOnly := mkTask(t, "t-p", "", task.UpdatesProgressOnly)
	silent := mkTask(t, "t-n", "", task.UpdatesNone)

	sub := d.Subscribe(Filter{})
	for _, tk := range []*task.Task{statusOnly, progressOnly, silent} {
		d.Publish(NewStatus(tk, task.StatusRunning))
		d.Publish(NewProgress(tk, 0.5))
	}

	got := collect(t, sub, 2)
	if got[0].TaskID != "t-s" || got[0].Kind != KindStatus {
		t.Fatalf("want status event for t-s, got %+v", got[0])
	}
	if got[1].TaskID != "t-p" || got[1].Kind != KindProgress {
		t.Fatalf("want progress event for t-p, got %+v", got[1])
	}
	assertNoEvent(t, sub)
}

func TestIgnorePolicyDeliversEverything(t *testing.T) {
	d := NewDispatcher(testLogger())
	defer d.Close()
	silent := mkTask(t, "t-n", "", task.UpdatesNone)

	sub := d.Subscribe(Filter{IgnorePolicy: true})
	d.Publish(NewStatus(silent, task.StatusComplete))

	got := collect(t, sub, 1)
	if got[0].Status != task.StatusComplete {
		t.Fatalf("got %+v", got[0])
	}
}

func TestGroupAndIDFilters(t *testing.T) {
	d := NewDispatcher(testLogger())
	defer d.Close()
	a := mkTask(t, "t-a", "grp-a", task.UpdatesBoth)
	b := mkTask(t, "t-b", "grp-b", task.UpdatesBoth)

	byGroup := d.Subscribe(Filter{Group: "grp-a"})
	byID := d.Subscribe(Filter{TaskIDs: []string{"t-b"}})

	d.Publish(NewStatus(a, task.StatusRunning))
	d.Publish(NewStatus(b, task.StatusRunning))

	got := collect(t, byGroup, 1)
	if got[0].TaskID != "t-a" {
		t.Fatalf("group filter delivered %q", got[0].TaskID)
	}
	assertNoEvent(t, byGroup)

	got = collect(t, byID, 1)
	if got[0].TaskID != "t-b" {
		t.Fatalf("id filter delivered %q", got[0].TaskID)
	}
	assertNoEvent(t, byID)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	d := NewDispatcher(testLogger())
	defer d.Close()
	tk := mkTask(t, "t-1", "", task.UpdatesBoth)

	// Never consumed; the queue grows but Publish must not block.
	_ = d.Subscribe(Filter{})
	fast := d.Subscribe(Filter{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			d.Publish(NewProgress(tk, float64(i%100)/100))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	collect(t, fast, 1000)
}

func TestCloseEndsStream(t *testing.T) {
	d := NewDispatcher(testLogger())
	sub := d.Subscribe(Filter{})
	d.Close()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed stream")
		}
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}
