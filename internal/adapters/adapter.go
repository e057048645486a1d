package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

// Filters scope a single adapter call.
type Filters struct {
	Scope      retrieval.SourceID   `json:"scope"`
	TimeRange  *retrieval.TimeRange `json:"time_range,omitempty"`
	MaxResults int                  `json:"max_results,omitempty"`
}

// Adapter is the uniform query interface every knowledge source exposes.
// Zero results is an empty slice, never an error. Adapters must honor the
// caller's context deadline.
type Adapter interface {
	Query(ctx context.Context, text string, f Filters) ([]retrieval.Result, error)
}

// Sentinel errors for the per-source failure taxonomy. Each is isolated at
// the executor boundary and treated as an empty result for that source.
var (
	ErrTimeout          = errors.New("source adapter timed out")
	ErrPermissionDenied = errors.New("source adapter denied access")
)

// AdapterError wraps a source-specific failure with its origin.
type AdapterError struct {
	Source retrieval.SourceID
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Source, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Registry maps source IDs to their adapters. The unrestricted sentinel is
// never registered; broadened searches iterate All.
type Registry struct {
	adapters map[retrieval.SourceID]Adapter
	order    []retrieval.SourceID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[retrieval.SourceID]Adapter)}
}

// Register binds an adapter to a source. Registering the unrestricted
// sentinel is a programming error.
func (r *Registry) Register(src retrieval.SourceID, a Adapter) error {
	if src == retrieval.SourceUnrestricted {
		return fmt.Errorf("cannot register adapter for the %s sentinel", retrieval.SourceUnrestricted)
	}
	if _, dup := r.adapters[src]; dup {
		return fmt.Errorf("adapter for %s already registered", src)
	}
	r.adapters[src] = a
	r.order = append(r.order, src)
	return nil
}

// Get returns the adapter for a source.
func (r *Registry) Get(src retrieval.SourceID) (Adapter, bool) {
	a, ok := r.adapters[src]
	return a, ok
}

// All returns every registered source in registration order.
func (r *Registry) All() []retrieval.SourceID {
	out := make([]retrieval.SourceID, len(r.order))
	copy(out, r.order)
	return out
}
