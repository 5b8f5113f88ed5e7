package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Subscription is a per-topic delivery queue. Deliveries are read from C in
// order: after every (re)connect or overflow a sync is delivered before any
// later event.
type Subscription struct {
	fabric *Fabric
	topic  string
	limit  int

	out  chan Delivery
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	queue    []Event
	needSync bool
	stale    bool
}

func newSubscription(f *Fabric, topic string, limit int) *Subscription {
	return &Subscription{
		fabric: f,
		topic:  topic,
		limit:  limit,
		out:    make(chan Delivery),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		stale:  true,
	}
}

func (s *Subscription) Topic() string { return s.topic }

// C yields deliveries. It is closed after Close.
func (s *Subscription) C() <-chan Delivery { return s.out }

// Stale reports whether the subscription has missed events since its last sync.
func (s *Subscription) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Close releases the subscription. Calling it more than once is a no-op.
func (s *Subscription) Close() {
	s.shutdown()
	s.fabric.remove(s)
}

func (s *Subscription) shutdown() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// requestSync drops queued events (the snapshot supersedes them) and
// schedules a sync delivery.
func (s *Subscription) requestSync() {
	s.mu.Lock()
	s.queue = nil
	s.needSync = true
	s.stale = false
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= s.limit {
		dropped := len(s.queue)
		s.queue = nil
		s.needSync = true
		s.mu.Unlock()
		s.fabric.metrics.Dropped(dropped)
		s.signal()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) pump() {
	defer close(s.out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		d, ok := s.next(ctx)
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- d:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) next(ctx context.Context) (Delivery, bool) {
	s.mu.Lock()
	if s.needSync {
		s.needSync = false
		s.mu.Unlock()
		snap, err := s.fabric.snapshot(ctx, s.topic)
		if err != nil {
			return Delivery{Type: DeliveryError, Topic: s.topic, Err: err}, true
		}
		s.fabric.metrics.Resynced()
		return Delivery{Type: DeliverySync, Topic: s.topic, Snapshot: snap}, true
	}
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return Delivery{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	return Delivery{Type: DeliveryEvent, Topic: s.topic, Event: ev}, true
}

// Handlers is the callback form of a subscription.
type Handlers struct {
	OnSync  func(topic string, snapshot json.RawMessage)
	OnEvent func(ev Event)
	OnError func(topic string, err error)
}

// Consume drives h from sub until ctx is done or sub is closed.
func Consume(ctx context.Context, sub *Subscription, h Handlers) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub.C():
			if !ok {
				return
			}
			switch d.Type {
			case DeliverySync:
				if h.OnSync != nil {
					h.OnSync(d.Topic, d.Snapshot)
				}
			case DeliveryEvent:
				if h.OnEvent != nil {
					h.OnEvent(d.Event)
				}
			case DeliveryError:
				if h.OnError != nil {
					h.OnError(d.Topic, d.Err)
				}
			}
		}
	}
}
