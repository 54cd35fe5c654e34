package batch

import (
	"log/slog"
	"sync"

	"github.com/tinoosan/ferry/internal/event"
)

// Coordinator subscribes to the event stream filtered to its batch's task
// ids and keeps the tally current. It subscribes with IgnorePolicy so
// tasks whose update policy silences observer callbacks still resolve the
// batch. Duplicate final events, which should not occur post-retirement,
// are ignored. Once every task has resolved the coordinator releases its
// subscription and exits on its own; Stop remains safe to call.
type Coordinator struct {
	batch *Batch
	cb    Callback
	sub   *event.Subscription
	log   *slog.Logger

	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewCoordinator wires a coordinator over disp for the given batch. cb may
// be nil when the caller only polls the tally.
func NewCoordinator(log *slog.Logger, disp *event.Dispatcher, b *Batch, cb Callback) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	ids := make([]string, 0, len(b.tasks))
	for _, t := range b.tasks {
		ids = append(ids, t.ID)
	}
	return &Coordinator{
		batch: b,
		cb:    cb,
		sub:   disp.Subscribe(event.Filter{TaskIDs: ids, IgnorePolicy: true}),
		log:   log.With("batch_id", b.id),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Batch returns the batch being coordinated.
func (c *Coordinator) Batch() *Batch { return c.batch }

// Run starts consuming events until the batch resolves, Stop is called or
// the stream closes.
func (c *Coordinator) Run() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		for {
			select {
			case <-c.stop:
				return
			case e, ok := <-c.sub.Events():
				if !ok {
					return
				}
				c.handle(e)
				if c.batch.Resolved() {
					// The tally is complete; release the subscription
					// instead of holding it until shutdown.
					c.sub.Close()
					return
				}
			}
		}
	}()
}

// Done is closed when the coordination loop exits, whether the batch
// resolved or Stop was called.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Stop terminates the coordination loop and unsubscribes.
func (c *Coordinator) Stop() {
	c.once.Do(func() {
		close(c.stop)
		c.sub.Close()
		c.wg.Wait()
	})
}

func (c *Coordinator) handle(e event.Event) {
	if e.Kind != event.KindStatus || !e.Status.IsFinal() {
		return
	}
	if !c.batch.record(e.TaskID, e.Status) {
		return
	}
	succeeded, failed := c.batch.NumSucceeded(), c.batch.NumFailed()
	c.log.Info("batch task resolved",
		"task_id", e.TaskID,
		"status", e.Status,
		"succeeded", succeeded,
		"failed", failed)
	if c.cb != nil {
		c.cb(succeeded, failed)
	}
	if c.batch.Resolved() {
		c.log.Info("batch resolved", "succeeded", succeeded, "failed", failed)
	}
}
