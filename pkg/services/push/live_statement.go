package push

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/coordination"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// Options holds the collaborators shared by every job of a runtime.
type Options struct {
	// Service identifies the deployment; replicas of one service share it.
	Service string

	Executor Executor

	// Coordinator enables leader election. Nil means every job polls.
	Coordinator coordination.Coordinator
	LockTTL     time.Duration

	// Sequence hands out job ids. Required.
	Sequence *Sequence

	Logger *zap.Logger

	// after replaces time.After in tests.
	after func(time.Duration) <-chan time.Time
}

// LiveStatement is a statement that drives push jobs. It owns one job per
// distinct parameter set for as long as that set has subscribers.
type LiveStatement struct {
	resource string
	stmt     *sql.Statement
	interval sql.PollInterval
	opts     Options
	logger   *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	stopped bool
}

// NewLiveStatement wraps stmt. interval must be valid.
func NewLiveStatement(resource string, stmt *sql.Statement, interval sql.PollInterval, opts Options) (*LiveStatement, error) {
	if err := interval.Validate(); err != nil {
		return nil, fmt.Errorf("resource %s: %w", resource, err)
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("resource %s: executor is required", resource)
	}
	if opts.Sequence == nil {
		return nil, fmt.Errorf("resource %s: sequence is required", resource)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LiveStatement{
		resource: resource,
		stmt:     stmt,
		interval: interval,
		opts:     opts,
		logger:   opts.Logger.Named("push"),
		jobs:     make(map[string]*Job),
	}, nil
}

func (l *LiveStatement) Statement() *sql.Statement { return l.stmt }

func (l *LiveStatement) Interval() sql.PollInterval { return l.interval }

// CreateOrJoin subscribes s to the job polling params, starting one if no
// running job has the same parameter values. Keys match case-insensitively,
// values exactly. Bind errors are returned before any job is created.
func (l *LiveStatement) CreateOrJoin(params map[string]string, s Session) (string, error) {
	bound, err := sql.Bind(l.stmt, params)
	if err != nil {
		return "", err
	}
	identity := IdentityDigest(l.opts.Service, l.opts.Executor.Target(), l.stmt, bound.Params)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return "", apperrors.ErrJobStopped
	}

	for _, j := range l.jobs {
		if j.Identity() == identity && j.join(s) {
			l.logger.Debug("Joined poll job",
				zap.String("job_id", j.ID()),
				zap.String("session_id", s.ID()))
			return j.ID(), nil
		}
	}

	j := newJob(jobConfig{
		id:       l.opts.Sequence.Next(),
		resource: l.resource,
		service:  l.opts.Service,
		bound:    bound,
		interval: l.interval,
		exec:     l.opts.Executor,
		coord:    l.opts.Coordinator,
		lockTTL:  l.opts.LockTTL,
		logger:   l.logger,
		after:    l.opts.after,
		onStop:   l.detach,
	})
	j.join(s)
	l.jobs[j.ID()] = j
	j.start()

	l.logger.Info("Started poll job",
		zap.String("job_id", j.ID()),
		zap.String("resource", l.resource),
		zap.String("session_id", s.ID()))
	return j.ID(), nil
}

// Unsubscribe removes a session from one job. It reports whether the
// session was subscribed there.
func (l *LiveStatement) Unsubscribe(jobID, sessionID string) bool {
	l.mu.Lock()
	j, ok := l.jobs[jobID]
	l.mu.Unlock()
	if !ok {
		return false
	}
	return j.leave(sessionID)
}

// Leave removes a session from every job, e.g. when its connection closes.
func (l *LiveStatement) Leave(sessionID string) {
	for _, j := range l.snapshotJobs() {
		j.leave(sessionID)
	}
}

// Job returns a running job by id.
func (l *LiveStatement) Job(id string) (*Job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	return j, ok
}

// Snapshot lists the active jobs ordered by id.
func (l *LiveStatement) Snapshot() []JobSnapshot {
	jobs := l.snapshotJobs()
	out := make([]JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	sort.Slice(out, func(a, b int) bool {
		if len(out[a].ID) != len(out[b].ID) {
			return len(out[a].ID) < len(out[b].ID)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// StopAll stops every job and refuses new subscriptions. It blocks until the
// jobs have exited.
func (l *LiveStatement) StopAll() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()

	for _, j := range l.snapshotJobs() {
		j.Stop()
	}
}

func (l *LiveStatement) snapshotJobs() []*Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	jobs := make([]*Job, 0, len(l.jobs))
	for _, j := range l.jobs {
		jobs = append(jobs, j)
	}
	return jobs
}

func (l *LiveStatement) detach(j *Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jobs[j.ID()] == j {
		delete(l.jobs, j.ID())
	}
}
