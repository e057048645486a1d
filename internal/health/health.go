// Package health aggregates liveness checks over the orchestrator's
// dependencies: Redis sessions, Postgres audit storage, and the search
// backend.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus is the outcome of one health check.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult contains the result of a health check.
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Critical  bool          `json:"critical"`
}

// Checker is one dependency's health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical marks checks whose failure makes the service unready.
	IsCritical() bool
	Timeout() time.Duration
}

// OverallHealth is the aggregate across all registered checkers.
type OverallHealth struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Manager runs registered checkers and aggregates their results.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

// NewManager creates an empty health manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make(map[string]Checker),
		logger:   logger,
	}
}

// RegisterChecker adds a checker, replacing any with the same name.
func (m *Manager) RegisterChecker(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[c.Name()] = c
}

// GetOverallHealth runs every checker and aggregates. A critical failure
// makes the whole service unhealthy; non-critical failures degrade it.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	overall := OverallHealth{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checkers)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()

			start := time.Now()
			result := c.Check(checkCtx)
			result.Component = c.Name()
			result.Critical = c.IsCritical()
			result.Duration = time.Since(start)
			result.Timestamp = time.Now()

			mu.Lock()
			overall.Checks[c.Name()] = result
			if result.Status != StatusHealthy {
				if result.Critical {
					overall.Status = StatusUnhealthy
				} else if overall.Status == StatusHealthy {
					overall.Status = StatusDegraded
				}
			}
			mu.Unlock()

			if result.Status != StatusHealthy {
				m.logger.Warn("Health check failed",
					zap.String("component", c.Name()),
					zap.String("status", result.Status.String()),
					zap.String("error", result.Error),
				)
			}
		}(c)
	}
	wg.Wait()
	return overall
}
