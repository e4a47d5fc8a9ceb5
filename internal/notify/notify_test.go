package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	fail   bool
	panics int // the first sends panic
}

func (s *recordingSink) Send(ctx context.Context, e Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics > 0 {
		s.panics--
		panic("sink exploded")
	}
	s.events = append(s.events, e)
	if s.fail {
		return errors.New("send failed")
	}
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcher_DeliversWantedKinds(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	d := NewDispatcher(sink, Options{RatePerSec: 100, Success: true, Errors: false})
	d.Start(context.Background())
	defer d.Stop()

	d.Notify(Event{Kind: KindPublished, PublicationID: "p1"})
	d.Notify(Event{Kind: KindFailed, PublicationID: "p2"})
	d.Notify(Event{Kind: KindReport, Text: "weekly"})

	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, sink.len())
	require.Equal(t, "p1", sink.events[0].PublicationID)
	require.False(t, sink.events[0].At.IsZero())
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(sink, Options{QueueSize: 2, Workers: 1, RatePerSec: 100, Errors: true})
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Notify(Event{Kind: KindFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a stuck sink")
	}

	close(sink.block)
	d.Stop()
	require.LessOrEqual(t, sink.len(), 3)
}

func TestDispatcher_SinkErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, Options{RatePerSec: 100, Errors: true})
	d.Start(context.Background())
	defer d.Stop()

	d.Notify(Event{Kind: KindFailed})
	d.Notify(Event{Kind: KindFailed})
	require.Eventually(t, func() bool { return sink.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_SurvivesPanickingSink(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{panics: 3}
	d := NewDispatcher(sink, Options{Workers: 1, RatePerSec: 100, Errors: true})
	d.Start(context.Background())
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Notify(Event{Kind: KindFailed})
	}
	// the worker outlives the panics and drains the rest
	require.Eventually(t, func() bool { return sink.len() == 2 }, time.Second, 5*time.Millisecond)

	d.Notify(Event{Kind: KindFailed, PublicationID: "after"})
	require.Eventually(t, func() bool { return sink.len() == 3 }, time.Second, 5*time.Millisecond)
}

func TestEventString(t *testing.T) {
	t.Parallel()
	e := Event{Kind: KindFailed, ContentType: "reel", Account: "acct1", Error: "too long"}
	require.True(t, strings.Contains(e.String(), "@acct1"))
	require.Contains(t, e.String(), "too long")
	require.Equal(t, "hello", Event{Kind: KindReport, Text: "hello"}.String())
	Nop{}.Notify(e)
}
