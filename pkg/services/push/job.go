// Package push re-runs statements on an interval and notifies subscribed
// sessions when the result changes.
package push

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/coordination"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// State is the lifecycle state of a poll job.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateLeading   State = "leading"
	StateFollowing State = "following"
	StateStopped   State = "stopped"
)

// DefaultLockTTL is the leadership lock TTL used when none is configured.
const DefaultLockTTL = 30 * time.Second

// Executor runs bound statements. datasource.StatementExecutor satisfies it.
type Executor interface {
	Execute(ctx context.Context, stmt *sql.BoundStatement) (*datasource.Result, error)
	Target() string
}

// Job polls one statement with one fixed parameter set.
//
// Without a coordinator the job always polls. With one, equivalent jobs on
// every replica share an identity digest; the replica holding the lock named
// by that digest polls and broadcasts new content digests, the others follow
// and forward what they receive to their own subscribers.
type Job struct {
	id       string
	resource string
	bound    *sql.BoundStatement
	identity string
	interval sql.PollInterval
	exec     Executor
	coord    coordination.Coordinator
	lockTTL  time.Duration
	logger   *zap.Logger
	after    func(time.Duration) <-chan time.Time
	onStop   func(*Job)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu          sync.Mutex
	subscribers map[string]Session
	closed      bool
	state       State
	digest      string
	current     time.Duration
	received    string

	// Owned by the run goroutine.
	lock coordination.Lock
	sub  coordination.Subscription
}

// JobSnapshot is a point-in-time view of a job.
type JobSnapshot struct {
	ID          string            `json:"id"`
	Resource    string            `json:"resource"`
	Statement   string            `json:"statement"`
	Params      map[string]string `json:"params"`
	State       State             `json:"state"`
	Subscribers int               `json:"subscribers"`
	Interval    string            `json:"interval"`
	Digest      string            `json:"digest,omitempty"`
	Identity    string            `json:"identity"`
}

type jobConfig struct {
	id       string
	resource string
	service  string
	bound    *sql.BoundStatement
	interval sql.PollInterval
	exec     Executor
	coord    coordination.Coordinator
	lockTTL  time.Duration
	logger   *zap.Logger
	after    func(time.Duration) <-chan time.Time
	onStop   func(*Job)
}

func newJob(cfg jobConfig) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	identity := IdentityDigest(cfg.service, cfg.exec.Target(), cfg.bound.Statement, cfg.bound.Params)
	after := cfg.after
	if after == nil {
		after = time.After
	}
	return &Job{
		id:          cfg.id,
		resource:    cfg.resource,
		bound:       cfg.bound,
		identity:    identity,
		interval:    cfg.interval,
		exec:        cfg.exec,
		coord:       cfg.coord,
		lockTTL:     leadershipTTL(cfg.lockTTL, cfg.interval),
		logger:      cfg.logger.With(zap.String("job_id", cfg.id), zap.String("resource", cfg.resource)),
		after:       after,
		onStop:      cfg.onStop,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		subscribers: make(map[string]Session),
		state:       StateCreated,
		current:     cfg.interval.Base,
	}
}

// IdentityDigest identifies equivalent jobs across replicas: same service,
// same database target, same statement tokens and same parameter values.
func IdentityDigest(service, target string, stmt *sql.Statement, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(service))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(stmt.Fingerprint()))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContentDigest hashes a result payload.
func ContentDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// leadershipTTL keeps the lock alive across the longest sleep so a healthy
// leader never loses it between refreshes.
func leadershipTTL(configured time.Duration, interval sql.PollInterval) time.Duration {
	if configured <= 0 {
		configured = DefaultLockTTL
	}
	longest := interval.Base
	if interval.Max > longest {
		longest = interval.Max
	}
	if floor := 2 * longest; configured < floor {
		return floor
	}
	return configured
}

func (j *Job) ID() string { return j.id }

// Identity returns the identity digest.
func (j *Job) Identity() string { return j.identity }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Done is closed once the job has stopped.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	params := make(map[string]string, len(j.bound.Params))
	for k, v := range j.bound.Params {
		params[k] = v
	}
	return JobSnapshot{
		ID:          j.id,
		Resource:    j.resource,
		Statement:   j.bound.Statement.OriginalText(),
		Params:      params,
		State:       j.state,
		Subscribers: len(j.subscribers),
		Interval:    j.current.String(),
		Digest:      j.digest,
		Identity:    j.identity,
	}
}

// Stop cancels the job and waits for it to exit.
func (j *Job) Stop() {
	j.cancel()
	<-j.done
}

func (j *Job) start() {
	go j.run()
}

// join adds s. It reports false when the job is shutting down and can no
// longer accept subscribers.
func (j *Job) join(s Session) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return false
	}
	j.subscribers[s.ID()] = s
	return true
}

// leave removes the session and wakes the job when it was the last one, so
// the job stops without waiting out its interval.
func (j *Job) leave(sessionID string) bool {
	j.mu.Lock()
	_, ok := j.subscribers[sessionID]
	delete(j.subscribers, sessionID)
	empty := len(j.subscribers) == 0
	j.mu.Unlock()

	if ok && empty {
		j.signal()
	}
	return ok
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) signal() {
	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *Job) run() {
	defer close(j.done)
	defer j.finish()

	j.setState(StateRunning)
	j.logger.Debug("Poll job started",
		zap.String("identity", j.identity),
		zap.Duration("interval", j.interval.Base))

	for {
		if j.lead() {
			if err := j.poll(); err != nil {
				if j.ctx.Err() != nil {
					return
				}
				msg := logging.SanitizeError(err)
				j.logger.Error("Poll failed, stopping job", zap.String("error", msg))
				j.notify(Message{Type: MessageError, Job: j.id, Resource: j.resource, Error: msg})
				return
			}
		}

		if !j.sleep() {
			return
		}
		changed := j.forward()
		if !j.prune() {
			return
		}
		if !changed {
			j.grow()
		}
	}
}

// lead decides whether this iteration polls. Coordination failures make the
// job poll on its own.
func (j *Job) lead() bool {
	if j.coord == nil {
		j.setState(StateLeading)
		return true
	}

	if j.lock != nil {
		err := j.lock.Refresh(j.ctx, j.lockTTL)
		if err == nil {
			return true
		}
		if !errors.Is(err, coordination.ErrLockLost) {
			j.logger.Warn("Failed to refresh leadership, polling without coordination", zap.Error(err))
			return true
		}
		j.logger.Info("Leadership lost")
		j.lock = nil
	}

	lock, ok, err := j.coord.TryAcquire(j.ctx, j.identity, j.lockTTL)
	if err != nil {
		j.logger.Warn("Coordination unavailable, polling without it", zap.Error(err))
		j.setState(StateLeading)
		return true
	}
	if ok {
		j.lock = lock
		j.unsubscribe()
		j.setState(StateLeading)
		j.logger.Debug("Acquired leadership")
		return true
	}

	if j.sub == nil {
		sub, err := j.coord.Subscribe(j.ctx, j.identity, j.onBroadcast)
		if err != nil {
			j.logger.Warn("Failed to subscribe to broadcasts, polling without coordination", zap.Error(err))
			j.setState(StateLeading)
			return true
		}
		j.sub = sub
	}
	j.setState(StateFollowing)
	return false
}

// poll executes the statement and notifies subscribers when the content
// digest moved. The first observation only sets the baseline.
func (j *Job) poll() error {
	res, err := j.exec.Execute(j.ctx, j.bound)
	if err != nil {
		return err
	}
	payload, err := res.Payload()
	if err != nil {
		return err
	}
	digest := ContentDigest(payload)

	j.mu.Lock()
	changed := j.digest != "" && j.digest != digest
	j.digest = digest
	if changed {
		j.current = j.interval.Base
	}
	j.mu.Unlock()

	if !changed {
		return nil
	}

	j.notify(Message{Type: MessageChange, Job: j.id, Resource: j.resource, Digest: digest})
	if j.lock != nil {
		if err := j.coord.Publish(j.ctx, j.identity, []byte(digest)); err != nil {
			j.logger.Warn("Failed to broadcast change", zap.Error(err))
		}
	}
	return nil
}

func (j *Job) onBroadcast(payload []byte) {
	j.mu.Lock()
	j.received = string(payload)
	j.mu.Unlock()
	j.signal()
}

// forward relays a digest received from the leader and reports whether it
// was new.
func (j *Job) forward() bool {
	j.mu.Lock()
	digest := j.received
	j.received = ""
	changed := digest != "" && digest != j.digest
	if changed {
		j.digest = digest
		j.current = j.interval.Base
	}
	j.mu.Unlock()

	if changed {
		j.notify(Message{Type: MessageChange, Job: j.id, Resource: j.resource, Digest: digest})
	}
	return changed
}

// sleep waits for the current interval. It returns false when the job was
// cancelled; a wake-up from a broadcast or an unsubscribe returns true.
func (j *Job) sleep() bool {
	j.mu.Lock()
	d := j.current
	j.mu.Unlock()

	select {
	case <-j.ctx.Done():
		return false
	case <-j.wake:
		return true
	case <-j.after(d):
		return true
	}
}

// prune drops closed sessions. It reports false, and stops accepting new
// subscribers, when none remain.
func (j *Job) prune() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	for id, s := range j.subscribers {
		if !s.IsOpen() {
			delete(j.subscribers, id)
		}
	}
	if len(j.subscribers) == 0 {
		j.closed = true
		return false
	}
	return true
}

func (j *Job) grow() {
	j.mu.Lock()
	j.current = j.interval.Next(j.current)
	j.mu.Unlock()
}

func (j *Job) notify(m Message) {
	j.mu.Lock()
	sessions := make([]Session, 0, len(j.subscribers))
	for _, s := range j.subscribers {
		sessions = append(sessions, s)
	}
	j.mu.Unlock()

	payload := m.Encode()
	for _, s := range sessions {
		if !s.IsOpen() {
			continue
		}
		if err := s.Send(j.ctx, payload); err != nil {
			j.logger.Debug("Failed to send push message",
				zap.String("session_id", s.ID()),
				zap.Error(err))
		}
	}
}

func (j *Job) unsubscribe() {
	if j.sub == nil {
		return
	}
	if err := j.sub.Unsubscribe(); err != nil {
		j.logger.Warn("Failed to unsubscribe from broadcasts", zap.Error(err))
	}
	j.sub = nil
}

// finish releases coordination resources and detaches the job. It runs on
// the job goroutine after the loop exits for any reason.
func (j *Job) finish() {
	j.mu.Lock()
	j.closed = true
	j.state = StateStopped
	j.mu.Unlock()

	j.unsubscribe()
	if j.lock != nil {
		// The job context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := j.lock.Release(ctx); err != nil {
			j.logger.Warn("Failed to release leadership", zap.Error(err))
		}
		cancel()
		j.lock = nil
	}
	j.cancel()

	if j.onStop != nil {
		j.onStop(j)
	}
	j.logger.Debug("Poll job stopped")
}
