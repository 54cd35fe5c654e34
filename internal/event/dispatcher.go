package event

import (
	"log/slog"
	"sync"

	"github.com/tinoosan/ferry/internal/metrics"
)

// Filter restricts a subscription to a slice of the event stream.
// A zero Filter matches everything.
type Filter struct {
	// Group matches tasks routed to this callback group.
	Group string
	// TaskIDs, when non-empty, restricts delivery to the given id set.
	TaskIDs []string
	// IgnorePolicy delivers events regardless of the task's update policy.
	// Internal consumers (batch coordinators) need terminal status events
	// even for tasks whose policy silences observer callbacks.
	IgnorePolicy bool
}

// Subscription is one observer's ordered view of the event stream. Events
// for a single task are delivered in transition order; delivery runs on a
// dedicated goroutine so a slow observer never stalls publishers.
type Subscription struct {
	d      *Dispatcher
	filter Filter
	ids    map[string]struct{}

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
	out   chan Event

	closeOnce sync.Once
}

// Events returns the delivery channel. It is closed after Close; events
// still queued but undelivered at that point are discarded.
func (s *Subscription) Events() <-chan Event { return s.out }

// Close unsubscribes and stops delivery.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.d.remove(s)
		close(s.done)
	})
}

func (s *Subscription) matches(e Event) bool {
	if s.filter.Group != "" && e.Group != s.filter.Group {
		return false
	}
	if len(s.ids) > 0 {
		if _, ok := s.ids[e.TaskID]; !ok {
			return false
		}
	}
	if s.filter.IgnorePolicy || e.Task == nil {
		return true
	}
	switch e.Kind {
	case KindStatus:
		return e.Task.Updates.WantsStatus()
	case KindProgress:
		return e.Task.Updates.WantsProgress()
	}
	return false
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) drain() {
	defer close(s.out)
	for {
		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range pending {
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// Dispatcher fans events out to subscribers. Publish only appends to
// per-subscriber queues and never blocks on observer consumption, so the
// state-transition path stays fast; per-task ordering is preserved because
// publishers serialize per task and queues are FIFO.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	log  *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{subs: make(map[*Subscription]struct{}), log: log}
}

// Subscribe registers an observer for events matching f.
func (d *Dispatcher) Subscribe(f Filter) *Subscription {
	s := &Subscription{
		d:      d,
		filter: f,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Event, 16),
	}
	if len(f.TaskIDs) > 0 {
		s.ids = make(map[string]struct{}, len(f.TaskIDs))
		for _, id := range f.TaskIDs {
			s.ids[id] = struct{}{}
		}
	}
	d.mu.Lock()
	d.subs[s] = struct{}{}
	d.mu.Unlock()
	go s.drain()
	return s
}

// Publish delivers e to every matching subscription.
func (d *Dispatcher) Publish(e Event) {
	metrics.EventsDispatched.WithLabelValues(string(e.Kind)).Inc()
	d.mu.RLock()
	defer d.mu.RUnlock()
	for s := range d.subs {
		if s.matches(e) {
			s.enqueue(e)
		}
	}
}

// Close shuts down every subscription.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}

func (d *Dispatcher) remove(s *Subscription) {
	d.mu.Lock()
	delete(d.subs, s)
	d.mu.Unlock()
}
