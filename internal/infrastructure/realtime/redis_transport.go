package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisReceiveTimeout = 15 * time.Second
	redisPingTimeout    = 3 * time.Second
)

// RedisTransport carries fabric topics over Redis pub/sub so that several
// processes share one broadcast space. Channels are namespaced by prefix.
type RedisTransport struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

var _ Transport = (*RedisTransport)(nil)

func NewRedisTransport(client *redis.Client, prefix string, log *zap.Logger) *RedisTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisTransport{client: client, prefix: prefix, log: log}
}

func (t *RedisTransport) Connect(ctx context.Context) (Link, error) {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis transport: ping: %w", err)
	}
	ps := t.client.Subscribe(ctx)
	l := &redisLink{
		t:     t,
		ps:    ps,
		inbox: make(chan Inbound, 256),
		done:  make(chan struct{}),
	}
	go l.receive()
	return l, nil
}

type redisLink struct {
	t     *RedisTransport
	ps    *redis.PubSub
	inbox chan Inbound
	done  chan struct{}
	once  sync.Once
}

func (l *redisLink) channel(topic string) string { return l.t.prefix + topic }

func (l *redisLink) Subscribe(ctx context.Context, topic string) error {
	return l.ps.Subscribe(ctx, l.channel(topic))
}

func (l *redisLink) Unsubscribe(ctx context.Context, topic string) error {
	return l.ps.Unsubscribe(ctx, l.channel(topic))
}

func (l *redisLink) Publish(ctx context.Context, topic string, payload []byte) error {
	return l.t.client.Publish(ctx, l.channel(topic), payload).Err()
}

func (l *redisLink) Messages() <-chan Inbound { return l.inbox }

func (l *redisLink) Done() <-chan struct{} { return l.done }

func (l *redisLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.ps.Close()
	})
	return err
}

// receive pumps pub/sub messages until the connection fails. A failure
// closes the link so the fabric re-dials and re-syncs instead of relying on
// the client's silent reconnect, which would hide the gap.
func (l *redisLink) receive() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-l.done
		cancel()
	}()

	for {
		msg, err := l.ps.ReceiveTimeout(ctx, redisReceiveTimeout)
		if err != nil {
			if isTimeout(err) {
				pctx, pcancel := context.WithTimeout(ctx, redisPingTimeout)
				perr := l.ps.Ping(pctx)
				pcancel()
				if perr == nil {
					continue
				}
				err = perr
			}
			if !errors.Is(err, context.Canceled) && !errors.Is(err, redis.ErrClosed) {
				l.t.log.Warn("redis transport receive failed", zap.Error(err))
			}
			_ = l.Close()
			return
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			continue
		}
		in := Inbound{Topic: strings.TrimPrefix(m.Channel, l.t.prefix), Payload: []byte(m.Payload)}
		select {
		case l.inbox <- in:
		case <-l.done:
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
