package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
)

// ErrDisconnected is returned by Publish while the fabric has no live link.
var ErrDisconnected = errors.New("realtime: fabric disconnected")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("realtime: fabric closed")

// Inbound is a raw payload received on a subscribed topic.
type Inbound struct {
	Topic   string
	Payload []byte
}

// Link is one live connection to the broadcast substrate. A Link is dead once
// Done is closed; the fabric then dials a new one.
type Link interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Messages() <-chan Inbound
	Done() <-chan struct{}
	Close() error
}

// Transport dials links.
type Transport interface {
	Connect(ctx context.Context) (Link, error)
}

// SnapshotFunc returns the full current state of topic for a sync delivery.
type SnapshotFunc func(ctx context.Context, topic string) (json.RawMessage, error)

type snapshotRoute struct {
	prefix string
	fn     SnapshotFunc
}

// Fabric is the process-wide subscription registry. It owns one link at a
// time, re-dials on loss, and re-syncs every subscription after each connect.
type Fabric struct {
	transport Transport
	log       *zap.Logger
	metrics   *metrics.Metrics

	origin         string
	connectTimeout time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	queueLimit     int

	mu        sync.Mutex
	link      Link
	ready     chan struct{} // closed while a link is attached
	subs      map[string]map[*Subscription]struct{}
	snapshots []snapshotRoute
	closed    bool
}

type Option func(*Fabric)

func WithLogger(l *zap.Logger) Option { return func(f *Fabric) { f.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(f *Fabric) { f.metrics = m } }

func WithConnectTimeout(d time.Duration) Option {
	return func(f *Fabric) {
		if d > 0 {
			f.connectTimeout = d
		}
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(f *Fabric) {
		if initial > 0 {
			f.backoffInitial = initial
		}
		if max > 0 {
			f.backoffMax = max
		}
	}
}

// WithQueueLimit bounds each subscription's pending deliveries.
func WithQueueLimit(n int) Option {
	return func(f *Fabric) {
		if n > 0 {
			f.queueLimit = n
		}
	}
}

// WithOrigin sets the identifier stamped on published events.
func WithOrigin(id string) Option { return func(f *Fabric) { f.origin = id } }

func NewFabric(t Transport, opts ...Option) *Fabric {
	f := &Fabric{
		transport:      t,
		log:            zap.NewNop(),
		origin:         uuid.NewString(),
		connectTimeout: 5 * time.Second,
		backoffInitial: 250 * time.Millisecond,
		backoffMax:     10 * time.Second,
		queueLimit:     256,
		ready:          make(chan struct{}),
		subs:           make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Origin identifies events published by this fabric.
func (f *Fabric) Origin() string { return f.origin }

// HandleSnapshots registers fn for topics starting with prefix. The longest
// matching prefix wins; topics with no handler sync with an empty snapshot.
func (f *Fabric) HandleSnapshots(prefix string, fn SnapshotFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshotRoute{prefix: prefix, fn: fn})
	sort.SliceStable(f.snapshots, func(i, j int) bool {
		return len(f.snapshots[i].prefix) > len(f.snapshots[j].prefix)
	})
}

func (f *Fabric) snapshot(ctx context.Context, topic string) (json.RawMessage, error) {
	f.mu.Lock()
	var fn SnapshotFunc
	for _, r := range f.snapshots {
		if strings.HasPrefix(topic, r.prefix) {
			fn = r.fn
			break
		}
	}
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, topic)
}

// Subscribe registers a subscription on topic. It may be called before Run
// has connected; the subscription then receives its first sync once a link
// is attached.
func (f *Fabric) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if topic == "" {
		return nil, errors.New("realtime: empty topic")
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	sub := newSubscription(f, topic, f.queueLimit)
	set := f.subs[topic]
	first := set == nil
	if first {
		set = make(map[*Subscription]struct{})
		f.subs[topic] = set
	}
	set[sub] = struct{}{}
	link := f.link
	f.mu.Unlock()

	go sub.pump()

	if link == nil {
		return sub, nil
	}
	if first {
		if err := link.Subscribe(ctx, topic); err != nil {
			// the link is likely dying; the next attach re-subscribes
			f.log.Warn("fabric subscribe failed", zap.String("topic", topic), zap.Error(err))
			return sub, nil
		}
	}
	sub.requestSync()
	return sub, nil
}

func (f *Fabric) remove(sub *Subscription) {
	f.mu.Lock()
	set := f.subs[sub.topic]
	if _, ok := set[sub]; !ok {
		f.mu.Unlock()
		return
	}
	delete(set, sub)
	last := len(set) == 0
	if last {
		delete(f.subs, sub.topic)
	}
	link := f.link
	f.mu.Unlock()

	if last && link != nil {
		ctx, cancel := context.WithTimeout(context.Background(), f.connectTimeout)
		defer cancel()
		if err := link.Unsubscribe(ctx, sub.topic); err != nil {
			f.log.Debug("fabric unsubscribe failed", zap.String("topic", sub.topic), zap.Error(err))
		}
	}
}

// Publish sends ev to every current subscriber of ev.Topic. Outbound events
// are never buffered: without a live link it returns ErrDisconnected.
func (f *Fabric) Publish(ctx context.Context, ev Event) error {
	if ev.Topic == "" {
		return errors.New("realtime: event without topic")
	}
	f.mu.Lock()
	link, closed := f.link, f.closed
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if link == nil {
		f.metrics.Published("disconnected")
		return ErrDisconnected
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Origin == "" {
		ev.Origin = f.origin
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}
	if err := link.Publish(ctx, ev.Topic, payload); err != nil {
		f.metrics.Published("error")
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	f.metrics.Published("ok")
	return nil
}

// Connected reports whether a link is attached.
func (f *Fabric) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.link != nil
}

// WaitConnected blocks until a link is attached or ctx is done.
func (f *Fabric) WaitConnected(ctx context.Context) error {
	f.mu.Lock()
	ready := f.ready
	f.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dials, dispatches inbound events, and re-dials with exponential
// backoff whenever the link dies. It returns when ctx is done or Close is called.
func (f *Fabric) Run(ctx context.Context) error {
	for {
		link, err := f.dial(ctx)
		if err != nil {
			return err
		}
		if !f.attach(ctx, link) {
			_ = link.Close()
			return ErrClosed
		}
		f.dispatch(ctx, link)
		f.detach(link)
		_ = link.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.isClosed() {
			return ErrClosed
		}
		f.log.Info("fabric link lost, reconnecting")
	}
}

func (f *Fabric) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fabric) dial(ctx context.Context) (Link, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.backoffInitial
	b.MaxInterval = f.backoffMax
	b.MaxElapsedTime = 0

	var link Link
	attempt := 0
	op := func() error {
		if f.isClosed() {
			return backoff.Permanent(ErrClosed)
		}
		attempt++
		cctx, cancel := context.WithTimeout(ctx, f.connectTimeout)
		defer cancel()
		l, err := f.transport.Connect(cctx)
		if err != nil {
			return err
		}
		link = l
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.log.Info("fabric connect failed", zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return link, nil
}

// attach installs link, re-subscribes every active topic and asks every
// subscription for a fresh sync.
func (f *Fabric) attach(ctx context.Context, link Link) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.link = link
	topics := make([]string, 0, len(f.subs))
	var subs []*Subscription
	for topic, set := range f.subs {
		topics = append(topics, topic)
		for s := range set {
			subs = append(subs, s)
		}
	}
	close(f.ready)
	f.mu.Unlock()

	for _, topic := range topics {
		if err := link.Subscribe(ctx, topic); err != nil {
			f.log.Warn("fabric resubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	for _, s := range subs {
		s.requestSync()
	}
	f.metrics.Reconnected()
	f.log.Info("fabric connected", zap.Int("topics", len(topics)))
	return true
}

// detach marks every subscription stale until the next attach.
func (f *Fabric) detach(link Link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.link != link {
		return
	}
	f.link = nil
	f.ready = make(chan struct{})
	for _, set := range f.subs {
		for s := range set {
			s.markStale()
		}
	}
}

func (f *Fabric) dispatch(ctx context.Context, link Link) {
	msgs := link.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case <-link.Done():
			return
		case in, ok := <-msgs:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal(in.Payload, &ev); err != nil {
				f.log.Warn("fabric dropped malformed event", zap.String("topic", in.Topic), zap.Error(err))
				continue
			}
			if ev.Topic == "" {
				ev.Topic = in.Topic
			}
			f.mu.Lock()
			for s := range f.subs[in.Topic] {
				s.enqueue(ev)
			}
			f.mu.Unlock()
		}
	}
}

// Close tears down every subscription and the current link.
func (f *Fabric) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	link := f.link
	f.link = nil
	var subs []*Subscription
	for _, set := range f.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	f.subs = make(map[string]map[*Subscription]struct{})
	f.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
	if link != nil {
		return link.Close()
	}
	return nil
}
