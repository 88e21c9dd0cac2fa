package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	var (
		mu  sync.Mutex
		got []domain.AuthEvent
	)
	d.Subscribe(func(c domain.AuthChange) {
		mu.Lock()
		got = append(got, c.Event)
		mu.Unlock()
	})

	want := []domain.AuthEvent{
		domain.EventInitialSession,
		domain.EventSignedIn,
		domain.EventTokenRefreshed,
		domain.EventSignedOut,
	}
	for _, ev := range want {
		d.Publish(domain.AuthChange{Event: ev})
	}
	d.Close()

	if len(got) != len(want) {
		t.Fatalf("expected %d changes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("change %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	defer d.Close()

	calls := make(chan domain.AuthChange, 4)
	unsubscribe := d.Subscribe(func(c domain.AuthChange) { calls <- c })

	d.Publish(domain.AuthChange{Event: domain.EventSignedIn})
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatalf("expected delivery before unsubscribe")
	}

	unsubscribe()
	d.Publish(domain.AuthChange{Event: domain.EventSignedOut})

	select {
	case c := <-calls:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatcher_PanickingSubscriberIsIsolated(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	d.Subscribe(func(domain.AuthChange) { panic("boom") })
	received := 0
	d.Subscribe(func(domain.AuthChange) { received++ })

	d.Publish(domain.AuthChange{Event: domain.EventSignedIn})
	d.Publish(domain.AuthChange{Event: domain.EventSignedOut})
	d.Close()

	if received != 2 {
		t.Fatalf("expected healthy subscriber to receive 2 changes, got %d", received)
	}
}

func TestDispatcher_PublishAfterCloseIsNoop(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	d.Close()
	d.Close()

	d.Publish(domain.AuthChange{Event: domain.EventSignedIn})
	unsubscribe := d.Subscribe(func(domain.AuthChange) { t.Fatalf("should not be called") })
	unsubscribe()
}

func TestDispatcher_PublishDoesNotWaitForSlowSubscriber(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())

	release := make(chan struct{})
	var (
		mu       sync.Mutex
		received int
	)
	d.Subscribe(func(domain.AuthChange) {
		<-release
		mu.Lock()
		received++
		mu.Unlock()
	})

	const n = 500
	published := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			d.Publish(domain.AuthChange{Event: domain.EventTokenRefreshed})
		}
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a slow subscriber")
	}

	close(release)
	d.Close()
	if received != n {
		t.Fatalf("expected %d deliveries, got %d", n, received)
	}
}
