// Package activities implements the worker-side operations the turn
// workflow schedules: query classification, source adapter calls, fallback
// approval bookkeeping, answer synthesis, and conversation persistence.
package activities

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridianhq/accountintel/internal/adapters"
	"github.com/meridianhq/accountintel/internal/db"
	"github.com/meridianhq/accountintel/internal/intents"
	"github.com/meridianhq/accountintel/internal/retrieval"
	"github.com/meridianhq/accountintel/internal/session"
	"github.com/meridianhq/accountintel/internal/synthesis"
)

// Deps carries the dependencies activities need. Recorder and Documents are
// optional; the corresponding activities degrade to no-ops when absent.
type Deps struct {
	Classifier  *intents.Classifier
	Registry    *adapters.Registry
	Sessions    *session.Manager
	Synthesizer synthesis.Synthesizer
	Recorder    *db.Recorder
	Documents   adapters.DocumentFetcher

	// AdapterTimeout bounds each individual source call.
	AdapterTimeout time.Duration
	// AdapterRateLimit is the per-source request rate toward downstream
	// services, in requests per second.
	AdapterRateLimit float64
	// MaxResults caps results requested from each source.
	MaxResults int

	Logger *zap.Logger
}

// Activities holds dependencies for all turn activities.
type Activities struct {
	classifier  *intents.Classifier
	registry    *adapters.Registry
	sessions    *session.Manager
	synthesizer synthesis.Synthesizer
	recorder    *db.Recorder
	documents   adapters.DocumentFetcher

	adapterTimeout time.Duration
	maxResults     int
	limiters       map[retrieval.SourceID]*rate.Limiter

	pendingMu sync.RWMutex
	pending   map[string]PendingApproval

	logger *zap.Logger
}

// NewActivities creates an activities instance with the given dependencies.
func NewActivities(deps Deps) *Activities {
	if deps.AdapterTimeout <= 0 {
		deps.AdapterTimeout = 15 * time.Second
	}
	if deps.AdapterRateLimit <= 0 {
		deps.AdapterRateLimit = 5
	}
	if deps.MaxResults <= 0 {
		deps.MaxResults = 10
	}
	limiters := make(map[retrieval.SourceID]*rate.Limiter)
	for _, src := range retrieval.ConcreteSources() {
		limiters[src] = rate.NewLimiter(rate.Limit(deps.AdapterRateLimit), int(deps.AdapterRateLimit)+1)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		classifier:     deps.Classifier,
		registry:       deps.Registry,
		sessions:       deps.Sessions,
		synthesizer:    deps.Synthesizer,
		recorder:       deps.Recorder,
		documents:      deps.Documents,
		adapterTimeout: deps.AdapterTimeout,
		maxResults:     deps.MaxResults,
		limiters:       limiters,
		pending:        make(map[string]PendingApproval),
		logger:         logger,
	}
}
