package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlrest/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/config"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/coordination"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/services/push"
	"github.com/ekaya-inc/ekaya-sqlrest/pkg/sql"
)

// Methods lists the HTTP methods a resource can declare statements for.
var Methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

// ResourceService owns the configured resources and routes requests and
// push subscriptions to their statements.
type ResourceService interface {
	// Resources returns the admitted resources ordered by path.
	Resources() []*Resource

	// Resource looks a resource up by name.
	Resource(name string) (*Resource, bool)

	// Execute resolves, binds and runs the statement for method and params.
	Execute(ctx context.Context, resource, method string, params map[string]string) (*datasource.Result, error)

	// Subscribe attaches session to the poll job for the GET statement
	// matching params and returns the job id.
	Subscribe(resource string, params map[string]string, session push.Session) (string, error)

	// Unsubscribe detaches session from a job. Returns false if the session
	// was not subscribed to it.
	Unsubscribe(jobID, sessionID string) bool

	// Leave detaches session from every job. Called when a session closes.
	Leave(sessionID string)

	// Jobs returns a snapshot of every active poll job.
	Jobs() []push.JobSnapshot

	// Rejected returns the resources that failed admission and why.
	Rejected() map[string]error

	// StopAll stops every poll job.
	StopAll()
}

// Resource is an admitted resource: its statements parsed and checked for
// colliding signatures.
type Resource struct {
	Name       string
	Path       string
	statements map[string][]*sql.Statement
	live       map[*sql.Statement]*push.LiveStatement
}

// Statements returns the statements declared for method, in declaration order.
func (r *Resource) Statements(method string) []*sql.Statement {
	return r.statements[strings.ToUpper(method)]
}

// Methods returns the HTTP methods the resource answers.
func (r *Resource) Methods() []string {
	var out []string
	for _, m := range Methods {
		if len(r.statements[m]) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// PushEnabled reports whether GET statements accept subscriptions.
func (r *Resource) PushEnabled() bool { return len(r.live) > 0 }

// ResourceServiceConfig holds the runtime collaborators for live push.
type ResourceServiceConfig struct {
	// Service identifies the deployment in poll job identities.
	Service string

	// DefaultPollInterval applies to push resources without their own.
	DefaultPollInterval sql.PollInterval

	// RejectInjection screens text bind values with libinjection.
	RejectInjection bool

	// Coordinator enables leader election across replicas. Nil polls locally.
	Coordinator coordination.Coordinator
	LockTTL     time.Duration
}

type resourceService struct {
	exec      datasource.StatementExecutor
	cfg       ResourceServiceConfig
	logger    *zap.Logger
	resources map[string]*Resource
	rejected  map[string]error
	sequence  *push.Sequence
}

// NewResourceService admits each configured resource. A resource whose
// statements fail to parse, collide, or carry an invalid poll interval is
// logged and left out; the others still load.
func NewResourceService(
	resources []config.ResourceConfig,
	exec datasource.StatementExecutor,
	cfg ResourceServiceConfig,
	logger *zap.Logger,
) ResourceService {
	s := &resourceService{
		exec:      exec,
		cfg:       cfg,
		logger:    logger.Named("resources"),
		resources: make(map[string]*Resource, len(resources)),
		rejected:  make(map[string]error),
		sequence:  &push.Sequence{},
	}

	for i := range resources {
		rc := &resources[i]
		r, err := s.admit(rc)
		if err != nil {
			s.rejected[rc.Name] = err
			s.logger.Error("Resource rejected",
				zap.String("resource", rc.Name),
				zap.String("path", rc.Path),
				zap.Error(err))
			continue
		}
		s.resources[r.Name] = r
		s.logger.Info("Resource loaded",
			zap.String("resource", r.Name),
			zap.String("path", r.Path),
			zap.Strings("methods", r.Methods()),
			zap.Bool("push", r.PushEnabled()))
	}

	return s
}

func (s *resourceService) admit(rc *config.ResourceConfig) (*Resource, error) {
	var opts []sql.Option
	if rc.PrimaryKey != "" {
		opts = append(opts, sql.WithPrimaryKey(rc.PrimaryKey))
	}

	interval := s.cfg.DefaultPollInterval
	if rc.PollInterval != "" {
		p, err := sql.ParsePollInterval(rc.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("poll_interval: %w", err)
		}
		interval = p
	}
	if rc.Push {
		opts = append(opts, sql.WithPollInterval(interval))
	}

	r := &Resource{
		Name:       rc.Name,
		Path:       rc.Path,
		statements: make(map[string][]*sql.Statement),
	}

	total := 0
	for _, method := range Methods {
		texts := rc.Statements(method)
		stmts := make([]*sql.Statement, 0, len(texts))
		for n, text := range texts {
			stmt, err := sql.Parse(text, opts...)
			if err != nil {
				return nil, fmt.Errorf("%s statement #%d: %w", method, n+1, err)
			}
			stmts = append(stmts, stmt)
		}
		if err := sql.CheckSignatures(stmts); err != nil {
			return nil, fmt.Errorf("%s statements: %w", method, err)
		}
		if len(stmts) > 0 {
			r.statements[method] = stmts
			total += len(stmts)
		}
	}
	if total == 0 {
		return nil, apperrors.ErrResourceInvalid
	}

	if rc.Push {
		if len(r.statements[http.MethodGet]) == 0 {
			return nil, fmt.Errorf("push requires at least one get statement: %w", apperrors.ErrResourceInvalid)
		}
		r.live = make(map[*sql.Statement]*push.LiveStatement)
		for _, stmt := range r.statements[http.MethodGet] {
			every := interval
			if p, ok := stmt.PollInterval(); ok {
				every = p
			}
			live, err := push.NewLiveStatement(r.Name, stmt, every, push.Options{
				Service:     s.cfg.Service,
				Executor:    s.exec,
				Coordinator: s.cfg.Coordinator,
				LockTTL:     s.cfg.LockTTL,
				Sequence:    s.sequence,
				Logger:      s.logger,
			})
			if err != nil {
				return nil, err
			}
			r.live[stmt] = live
		}
	}

	return r, nil
}

func (s *resourceService) Resources() []*Resource {
	out := make([]*Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *resourceService) Resource(name string) (*Resource, bool) {
	r, ok := s.resources[name]
	return r, ok
}

func (s *resourceService) Rejected() map[string]error {
	out := make(map[string]error, len(s.rejected))
	for k, v := range s.rejected {
		out[k] = v
	}
	return out
}

// resolve returns the statement for method serving params.
func (s *resourceService) resolve(resource, method string, params map[string]string) (*Resource, *sql.Statement, error) {
	r, ok := s.resources[resource]
	if !ok {
		return nil, nil, fmt.Errorf("resource %q: %w", resource, apperrors.ErrNotFound)
	}
	stmts := r.Statements(method)
	if len(stmts) == 0 {
		return nil, nil, fmt.Errorf("%s %s: %w", method, r.Path, apperrors.ErrMethodNotAllowed)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	stmt := sql.Resolve(stmts, keys)
	if stmt == nil {
		sort.Strings(keys)
		return nil, nil, fmt.Errorf("%s %s with keys %v: %w", method, r.Path, keys, apperrors.ErrNoMatchingStatement)
	}
	return r, stmt, nil
}

// bind binds params and, when enabled, screens the text values.
func (s *resourceService) bind(stmt *sql.Statement, params map[string]string) (*sql.BoundStatement, error) {
	b, err := sql.Bind(stmt, params)
	if err != nil {
		return nil, err
	}
	if s.cfg.RejectInjection {
		if findings := sql.ScreenInjection(b); len(findings) > 0 {
			for _, f := range findings {
				s.logger.Warn("Injection pattern in bind value",
					zap.String("key", f.Key),
					zap.String("value", logging.SanitizeValue(f.Value)),
					zap.String("fingerprint", f.Fingerprint))
			}
			return nil, fmt.Errorf("parameter %q: %w", findings[0].Key, apperrors.ErrInjectionDetected)
		}
	}
	return b, nil
}

func (s *resourceService) Execute(ctx context.Context, resource, method string, params map[string]string) (*datasource.Result, error) {
	_, stmt, err := s.resolve(resource, method, params)
	if err != nil {
		return nil, err
	}

	b, err := s.bind(stmt, params)
	if err != nil {
		return nil, err
	}

	res, err := s.exec.Execute(ctx, b)
	if err != nil {
		s.logger.Error("Statement execution failed",
			zap.String("resource", resource),
			zap.String("method", method),
			zap.String("sql", logging.SanitizeQuery(stmt.OriginalText())),
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("execute %s %s: %w", method, resource, err)
	}
	return res, nil
}

func (s *resourceService) Subscribe(resource string, params map[string]string, session push.Session) (string, error) {
	r, stmt, err := s.resolve(resource, http.MethodGet, params)
	if err != nil {
		return "", err
	}
	if !r.PushEnabled() {
		return "", fmt.Errorf("resource %q: %w", resource, apperrors.ErrPushNotEnabled)
	}

	// Screening runs here too; CreateOrJoin binds again on its own.
	if _, err := s.bind(stmt, params); err != nil {
		return "", err
	}
	return r.live[stmt].CreateOrJoin(params, session)
}

func (s *resourceService) Unsubscribe(jobID, sessionID string) bool {
	for _, live := range s.liveStatements() {
		if live.Unsubscribe(jobID, sessionID) {
			return true
		}
	}
	return false
}

func (s *resourceService) Leave(sessionID string) {
	for _, live := range s.liveStatements() {
		live.Leave(sessionID)
	}
}

func (s *resourceService) Jobs() []push.JobSnapshot {
	var out []push.JobSnapshot
	for _, live := range s.liveStatements() {
		out = append(out, live.Snapshot()...)
	}
	sort.Slice(out, func(i, j int) bool { return lessJobID(out[i].ID, out[j].ID) })
	return out
}

func (s *resourceService) StopAll() {
	for _, live := range s.liveStatements() {
		live.StopAll()
	}
}

func (s *resourceService) liveStatements() []*push.LiveStatement {
	var out []*push.LiveStatement
	for _, r := range s.Resources() {
		for _, stmt := range r.statements[http.MethodGet] {
			if live, ok := r.live[stmt]; ok {
				out = append(out, live)
			}
		}
	}
	return out
}

// lessJobID orders sequence ids numerically.
func lessJobID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// IsClientError reports whether err was caused by the request rather than
// the database.
func IsClientError(err error) bool {
	var bindErr *sql.BindError
	return errors.As(err, &bindErr) ||
		errors.Is(err, apperrors.ErrInjectionDetected) ||
		errors.Is(err, apperrors.ErrNoMatchingStatement) ||
		errors.Is(err, apperrors.ErrPushNotEnabled)
}
