// Package notify delivers publication outcome events to the operator. Delivery
// is best effort and at most once: a full queue or a failed send drops the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Kind string

const (
	KindPublished Kind = "published"
	KindRetrying  Kind = "retrying"
	KindFailed    Kind = "failed"
	KindReport    Kind = "report"
)

type Event struct {
	Kind          Kind      `json:"kind"`
	PublicationID string    `json:"publication_id,omitempty"`
	Account       string    `json:"account,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	MediaID       string    `json:"media_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	NextAttempt   time.Time `json:"next_attempt,omitempty"`
	Text          string    `json:"text,omitempty"`
	At            time.Time `json:"at"`
}

// String renders e as a single notification line.
func (e Event) String() string {
	switch e.Kind {
	case KindPublished:
		return fmt.Sprintf("✅ %s published for @%s (%s)", e.ContentType, e.Account, e.PublicationID)
	case KindRetrying:
		return fmt.Sprintf("⏳ %s for @%s failed (attempt %d), retrying at %s: %s",
			e.ContentType, e.Account, e.Attempts, e.NextAttempt.Format(time.RFC3339), e.Error)
	case KindFailed:
		return fmt.Sprintf("❌ %s for @%s failed: %s", e.ContentType, e.Account, e.Error)
	}
	return e.Text
}

// Sink sends one event somewhere.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Notifier accepts events without blocking the caller.
type Notifier interface {
	Notify(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}

var ErrQueueFull = errors.New("notifier queue full")

type Options struct {
	QueueSize  int
	Workers    int
	RatePerSec float64
	Success    bool
	Errors     bool
	Reports    bool
}

// Dispatcher queues events in memory and hands them to a Sink from a small
// worker pool, at most RatePerSec sends per second.
type Dispatcher struct {
	sink    Sink
	opts    Options
	limiter *rate.Limiter
	queue   chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	burst := int(opts.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		sink:    sink,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), burst),
		queue:   make(chan Event, opts.QueueSize),
	}
}

func (d *Dispatcher) wants(k Kind) bool {
	switch k {
	case KindPublished:
		return d.opts.Success
	case KindRetrying, KindFailed:
		return d.opts.Errors
	case KindReport:
		return d.opts.Reports
	}
	return false
}

// Notify enqueues e, dropping it when the queue is full.
func (d *Dispatcher) Notify(e Event) {
	if !d.wants(e.Kind) {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case d.queue <- e:
	default:
		slog.Warn("notification dropped", "kind", e.Kind, "publication", e.PublicationID, "error", ErrQueueFull)
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(runCtx, i)
	}
}

// Stop stops the workers. Events still queued are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			if err := d.send(ctx, id, e); err != nil {
				slog.Warn("notification failed", "kind", e.Kind, "publication", e.PublicationID, "error", err)
			}
		}
	}
}

// send delivers one event. A panicking sink costs that event only.
func (d *Dispatcher) send(ctx context.Context, id int, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in notifier worker", "worker", id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return d.sink.Send(sendCtx, e)
}
