// Package notify turns inbound messages into best-effort notifications.
//
// A Dispatcher observes the messages topics of one user's conversations and,
// for every insert sent by someone else, synthesizes a NotificationEvent and
// hands it to each sink. Sinks fail independently; nothing is retried and
// nothing is returned to the ledger path.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/infrastructure/metrics"
	"chatcore/internal/infrastructure/realtime"
	chat "chatcore/internal/pkg/chat/application/domain"
	"chatcore/internal/pkg/chat/application/usecase"
	userport "chatcore/internal/repository/port"
)

// Fabric is the subset of *realtime.Fabric the dispatcher subscribes through.
type Fabric interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
}

// ConversationLister is satisfied by *usecase.ListConversationsUseCase.
type ConversationLister interface {
	Execute(ctx context.Context, userID string) ([]chat.Conversation, error)
}

type Dispatcher struct {
	observerID string
	convs      ConversationLister
	users      userport.UserRepository
	fabric     Fabric
	sinks      []Sink

	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	timeout time.Duration
	refresh time.Duration

	mu      sync.Mutex
	watched map[string]struct{}
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithNow(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// WithTimeout bounds each sink delivery.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithRefresh sets how often the conversation set is re-read to pick up
// conversations created after Run started.
func WithRefresh(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.refresh = t
		}
	}
}

func NewDispatcher(observerID string, convs ConversationLister, users userport.UserRepository, fabric Fabric, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		observerID: observerID,
		convs:      convs,
		users:      users,
		fabric:     fabric,
		sinks:      sinks,
		log:        zap.NewNop(),
		now:        time.Now,
		timeout:    5 * time.Second,
		refresh:    30 * time.Second,
		watched:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(zap.String("observer_id", observerID))
	return d
}

// Run watches the observer's conversations until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()

	d.sync(ctx)
	ticker := time.NewTicker(d.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sync(ctx)
		}
	}
}

// Watching reports how many conversations are currently observed.
func (d *Dispatcher) Watching() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watched)
}

func (d *Dispatcher) sync(ctx context.Context) {
	convs, err := d.convs.Execute(ctx, d.observerID)
	if err != nil {
		d.log.Warn("notification conversation refresh failed", zap.Error(err))
		return
	}
	for _, c := range convs {
		d.mu.Lock()
		_, ok := d.watched[c.ID]
		if !ok {
			d.watched[c.ID] = struct{}{}
		}
		d.mu.Unlock()
		if ok {
			continue
		}

		sub, err := d.fabric.Subscribe(ctx, realtime.MessagesTopic(c.ID))
		if err != nil {
			d.mu.Lock()
			delete(d.watched, c.ID)
			d.mu.Unlock()
			d.log.Warn("notification subscribe failed", zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		d.wg.Add(1)
		go d.watch(ctx, sub)
	}
}

func (d *Dispatcher) watch(ctx context.Context, sub *realtime.Subscription) {
	defer d.wg.Done()
	defer sub.Close()

	realtime.Consume(ctx, sub, realtime.Handlers{
		// syncs carry history, never new messages to announce
		OnEvent: func(ev realtime.Event) {
			if ev.Kind != realtime.KindInsert || ev.Entity != usecase.EntityMessage {
				return
			}
			var m chat.Message
			if err := ev.Decode(&m); err != nil {
				d.log.Warn("notification event undecodable", zap.Error(err))
				return
			}
			d.Dispatch(ctx, m)
		},
	})
}

// Dispatch synthesizes the notification for m and fans it to every sink.
// It returns the number of sinks that succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, m chat.Message) int {
	name, err := d.users.DisplayName(ctx, m.SenderID)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		d.log.Debug("sender name lookup failed", zap.String("sender_id", m.SenderID), zap.Error(err))
	}
	n, ok := chat.NewMessageNotification(m, d.observerID, name, d.now())
	if !ok {
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, s := range d.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := d.deliver(ctx, s, n); err != nil {
				d.metrics.Notified(s.Name(), "error")
				d.log.Warn("notification sink failed",
					zap.String("sink", s.Name()),
					zap.String("notification_id", n.ID),
					zap.Error(err))
				return
			}
			d.metrics.Notified(s.Name(), "ok")
			mu.Lock()
			delivered++
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, s Sink, n chat.NotificationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("sink panicked")
			d.log.Error("notification sink panic", zap.String("sink", s.Name()), zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return s.Deliver(ctx, n)
}
