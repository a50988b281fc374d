package coordination

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Coordinator. Every job sharing one Memory behaves
// like a replica sharing one Redis, which makes it the single-process default
// and the multi-instance fake in tests.
type Memory struct {
	mu     sync.Mutex
	locks  map[string]memoryHold
	topics map[string]map[uint64]func([]byte)
	nextID uint64
	now    func() time.Time
}

type memoryHold struct {
	token   string
	expires time.Time
}

// NewMemory creates an empty in-process coordinator.
func NewMemory() *Memory {
	return &Memory{
		locks:  make(map[string]memoryHold),
		topics: make(map[string]map[uint64]func([]byte)),
		now:    time.Now,
	}
}

func (m *Memory) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if hold, ok := m.locks[name]; ok && now.Before(hold.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	m.locks[name] = memoryHold{token: token, expires: now.Add(ttl)}
	return &memoryLock{m: m, name: name, token: token}, true, nil
}

func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	fns := make([]func([]byte), 0, len(m.topics[topic]))
	for _, fn := range m.topics[topic] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		fn(msg)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, topic string, fn func([]byte)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[uint64]func([]byte))
	}
	m.topics[topic][id] = fn
	return &memorySubscription{m: m, topic: topic, id: id}, nil
}

// Subscribers returns the number of subscriptions on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics[topic])
}

// Held reports whether name is currently locked.
func (m *Memory) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hold, ok := m.locks[name]
	return ok && m.now().Before(hold.expires)
}

func (m *Memory) Close() error { return nil }

type memoryLock struct {
	m     *Memory
	name  string
	token string
}

func (l *memoryLock) Name() string { return l.name }

func (l *memoryLock) Refresh(ctx context.Context, ttl time.Duration) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	now := l.m.now()
	hold, ok := l.m.locks[l.name]
	if !ok || hold.token != l.token || !now.Before(hold.expires) {
		return ErrLockLost
	}
	l.m.locks[l.name] = memoryHold{token: l.token, expires: now.Add(ttl)}
	return nil
}

func (l *memoryLock) Release(ctx context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	if hold, ok := l.m.locks[l.name]; ok && hold.token == l.token {
		delete(l.m.locks, l.name)
	}
	return nil
}

type memorySubscription struct {
	m     *Memory
	topic string
	id    uint64
	once  sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.m.mu.Lock()
		defer s.m.mu.Unlock()
		delete(s.m.topics[s.topic], s.id)
		if len(s.m.topics[s.topic]) == 0 {
			delete(s.m.topics, s.topic)
		}
	})
	return nil
}

var (
	_ Coordinator  = (*Memory)(nil)
	_ Lock         = (*memoryLock)(nil)
	_ Subscription = (*memorySubscription)(nil)
)
