package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meridianhq/accountintel/internal/db"
)

// RedisChecker probes the session store. Critical: without it the
// orchestrator loses conversation state.
type RedisChecker struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client, timeout: 3 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return true }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "session store reachable"}
}

// PostgresChecker probes the turn audit store. Non-critical: turns still
// complete without audit persistence.
type PostgresChecker struct {
	recorder *db.Recorder
	timeout  time.Duration
}

func NewPostgresChecker(recorder *db.Recorder) *PostgresChecker {
	return &PostgresChecker{recorder: recorder, timeout: 3 * time.Second}
}

func (p *PostgresChecker) Name() string           { return "postgres" }
func (p *PostgresChecker) IsCritical() bool       { return false }
func (p *PostgresChecker) Timeout() time.Duration { return p.timeout }

func (p *PostgresChecker) Check(ctx context.Context) CheckResult {
	if err := p.recorder.Ping(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "audit store reachable"}
}

// SearchChecker probes the search backend all source adapters depend on.
type SearchChecker struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

func NewSearchChecker(endpoint string) *SearchChecker {
	return &SearchChecker{
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  5 * time.Second,
	}
}

func (s *SearchChecker) Name() string           { return "search" }
func (s *SearchChecker) IsCritical() bool       { return true }
func (s *SearchChecker) Timeout() time.Duration { return s.timeout }

func (s *SearchChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return CheckResult{Status: StatusUnhealthy, Message: resp.Status}
	}
	return CheckResult{Status: StatusHealthy, Message: "search backend reachable"}
}

// CustomChecker wraps an ad-hoc probe function.
type CustomChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

func NewCustomChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) *CustomChecker {
	return &CustomChecker{name: name, critical: critical, timeout: timeout, fn: fn}
}

func (c *CustomChecker) Name() string           { return c.name }
func (c *CustomChecker) IsCritical() bool       { return c.critical }
func (c *CustomChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomChecker) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}
