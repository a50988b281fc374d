// Package coordination provides the distributed lock and broadcast topics
// that let equivalent poll jobs on different replicas elect one active poller.
package coordination

import (
	"context"
	"errors"
	"time"
)

// ErrLockLost is returned by Lock.Refresh when the lock expired or was taken
// by another holder.
var ErrLockLost = errors.New("lock no longer held")

// Lock is a held named lock.
type Lock interface {
	Name() string

	// Refresh extends the lock's TTL. It fails with ErrLockLost when the
	// caller no longer holds the lock.
	Refresh(ctx context.Context, ttl time.Duration) error

	// Release gives the lock up. Releasing a lock that already expired is
	// not an error.
	Release(ctx context.Context) error
}

// Subscription is an active broadcast subscription.
type Subscription interface {
	Unsubscribe() error
}

// Coordinator provides try-acquire locks and publish/subscribe topics.
// Implementations are safe for concurrent use.
type Coordinator interface {
	// TryAcquire attempts to take the named lock without blocking. It
	// returns ok=false when someone else holds it.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (lock Lock, ok bool, err error)

	// Publish sends payload to every current subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers fn for messages on topic. fn runs on a
	// coordinator-owned goroutine and must not block.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (Subscription, error)

	Close() error
}
