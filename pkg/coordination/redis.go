package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces lock keys and channels.
const DefaultKeyPrefix = "sqlrest:"

// The lock value is a per-acquire token so that only the holder can extend
// or delete it.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// Redis coordinates through a Redis server: SET NX PX for locks and Pub/Sub
// for broadcasts.
type Redis struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// RedisOption configures a Redis coordinator.
type RedisOption func(*Redis)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis creates a coordinator on top of client. The caller keeps
// ownership of the client.
func NewRedis(client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: logger.Named("coordination"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) lockKey(name string) string { return r.prefix + "lock:" + name }

func (r *Redis) channel(topic string) string { return r.prefix + "topic:" + topic }

func (r *Redis) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.lockKey(name), token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLock{r: r, name: name, token: token}, true, nil
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, r.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed before returning, so
// a Publish issued after Subscribe returns is never missed.
func (r *Redis) Subscribe(ctx context.Context, topic string, fn func([]byte)) (Subscription, error) {
	ps := r.client.Subscribe(ctx, r.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()
	go func() {
		defer close(sub.done)
		for msg := range ch {
			fn([]byte(msg.Payload))
		}
		if !sub.closing.Load() {
			r.logger.Warn("Pub/Sub channel closed unexpectedly", zap.String("topic", topic))
		}
	}()
	return sub, nil
}

// Close is a no-op; the client belongs to the caller.
func (r *Redis) Close() error { return nil }

type redisLock struct {
	r     *Redis
	name  string
	token string
}

func (l *redisLock) Name() string { return l.name }

func (l *redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.r.client, []string{l.r.lockKey(l.name)}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", l.name, err)
	}
	if n == 0 {
		l.r.logger.Warn("Lock lost before refresh", zap.String("lock", l.name))
		return ErrLockLost
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.r.client, []string{l.r.lockKey(l.name)}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	return nil
}

type redisSubscription struct {
	ps      *redis.PubSub
	once    sync.Once
	closing atomic.Bool
	err     error
	done    chan struct{}
}

// Unsubscribe closes the Pub/Sub connection and waits for the delivery
// goroutine to exit.
func (s *redisSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}

var (
	_ Coordinator  = (*Redis)(nil)
	_ Lock         = (*redisLock)(nil)
	_ Subscription = (*redisSubscription)(nil)
)
