package queue

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/metamax/dashboard/internal/core/domain"
)

// Dispatcher fans auth changes out to subscribers. Every subscriber owns a
// queue drained by its own goroutine, so each sees changes in publish order
// and a slow subscriber never delays another or the publisher.
type Dispatcher struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	closing chan struct{} // closed by Close; workers flush their queue and exit
	wg      sync.WaitGroup
	log     zerolog.Logger
}

type subscriber struct {
	mu    sync.Mutex
	queue []domain.AuthChange
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) push(change domain.AuthChange) {
	s.mu.Lock()
	s.queue = append(s.queue, change)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) take() []domain.AuthChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		subs:    make(map[int]*subscriber),
		closing: make(chan struct{}),
		log:     log,
	}
}

// Subscribe registers fn and starts its worker. The returned func removes the
// subscription; changes still queued for it are dropped.
func (d *Dispatcher) Subscribe(fn func(domain.AuthChange)) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}

	id := d.nextID
	d.nextID++
	sub := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	d.subs[id] = sub

	d.wg.Add(1)
	go d.runWorker(id, sub, fn)

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
		sub.stop()
	}
}

// Publish queues change for every current subscriber. It never blocks on a
// subscriber, so callers may publish while holding their own locks.
func (d *Dispatcher) Publish(change domain.AuthChange) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, s := range d.subs {
		s.push(change)
	}
}

// Close stops all workers after they deliver what is already queued and waits
// for them to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.subs = make(map[int]*subscriber)
	close(d.closing)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) runWorker(id int, s *subscriber, fn func(domain.AuthChange)) {
	defer d.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			if !d.deliverAll(id, s, fn) {
				return
			}
		case <-d.closing:
			d.deliverAll(id, s, fn)
			return
		}
	}
}

// deliverAll drains the queue and reports false once the subscriber is gone.
func (d *Dispatcher) deliverAll(id int, s *subscriber, fn func(domain.AuthChange)) bool {
	for _, change := range s.take() {
		select {
		case <-s.done:
			return false
		default:
		}
		d.deliver(id, fn, change)
	}
	return true
}

func (d *Dispatcher) deliver(id int, fn func(domain.AuthChange), change domain.AuthChange) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Int("subscriber_id", id).
				Str("event", string(change.Event)).
				Msg("auth change subscriber panicked")
		}
	}()
	fn(change)
}
