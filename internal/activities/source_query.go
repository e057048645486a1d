package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/adapters"
	"github.com/meridianhq/accountintel/internal/metrics"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// SourceQueryInput is one adapter call on behalf of one intent. Source may
// be the unrestricted sentinel, in which case every registered adapter is
// queried and the results are marked as broadened.
type SourceQueryInput struct {
	Intent     retrieval.FactIntent `json:"intent"`
	Source     retrieval.SourceID   `json:"source"`
	Text       string               `json:"text"`
	Entity     string               `json:"entity,omitempty"`
	TimeRange  *retrieval.TimeRange `json:"time_range,omitempty"`
	MaxResults int                  `json:"max_results,omitempty"`
}

// searchText scopes the backend query to the resolved account. Pronoun
// turns carry no account name in their raw text, so the canonical entity is
// quoted in front of it; queries that already name the account pass through.
func searchText(input SourceQueryInput) string {
	if input.Entity == "" || input.Entity == retrieval.EntityUnknown {
		return input.Text
	}
	if strings.Contains(strings.ToLower(input.Text), strings.ToLower(input.Entity)) {
		return input.Text
	}
	return `"` + input.Entity + `" ` + input.Text
}

// SourceQueryOutput carries the results of one source call. Failures are
// absorbed here rather than failing the activity: one slow or broken source
// must never take down the rest of the fan-out.
type SourceQueryOutput struct {
	Intent      retrieval.FactIntent `json:"intent"`
	Source      retrieval.SourceID   `json:"source"`
	Results     []retrieval.Result   `json:"results"`
	Failed      bool                 `json:"failed,omitempty"`
	FailureKind string               `json:"failure_kind,omitempty"`
}

const (
	failureTimeout    = "timeout"
	failurePermission = "permission_denied"
	failureInternal   = "error"
)

// ExecuteSourceQuery runs one scoped search against a knowledge source.
func (a *Activities) ExecuteSourceQuery(ctx context.Context, input SourceQueryInput) (SourceQueryOutput, error) {
	logger := activity.GetLogger(ctx)

	if input.Source == retrieval.SourceUnrestricted {
		return a.executeBroadened(ctx, input)
	}

	adapter, ok := a.registry.Get(input.Source)
	if !ok {
		return SourceQueryOutput{}, fmt.Errorf("no adapter registered for source %s", input.Source)
	}

	results, failKind := a.querySource(ctx, adapter, input.Source, input)
	if failKind != "" {
		logger.Warn("ExecuteSourceQuery: source failed",
			"source", input.Source,
			"intent", input.Intent,
			"failure", failKind,
		)
		return SourceQueryOutput{
			Intent:      input.Intent,
			Source:      input.Source,
			Results:     []retrieval.Result{},
			Failed:      true,
			FailureKind: failKind,
		}, nil
	}

	return SourceQueryOutput{
		Intent:  input.Intent,
		Source:  input.Source,
		Results: results,
	}, nil
}

// executeBroadened queries every registered adapter concurrently and marks
// each surviving citation as broadened. Per-source failures are dropped.
func (a *Activities) executeBroadened(ctx context.Context, input SourceQueryInput) (SourceQueryOutput, error) {
	logger := activity.GetLogger(ctx)
	sources := a.registry.All()

	var (
		mu       sync.Mutex
		combined []retrieval.Result
		wg       sync.WaitGroup
	)
	for _, src := range sources {
		adapter, ok := a.registry.Get(src)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(src retrieval.SourceID, adapter adapters.Adapter) {
			defer wg.Done()
			scoped := input
			scoped.Source = src
			results, failKind := a.querySource(ctx, adapter, src, scoped)
			if failKind != "" {
				logger.Warn("ExecuteSourceQuery: broadened source failed",
					"source", src, "failure", failKind)
				return
			}
			for i := range results {
				results[i].Citation.Broadened = true
			}
			mu.Lock()
			combined = append(combined, results...)
			mu.Unlock()
		}(src, adapter)
	}
	wg.Wait()

	if combined == nil {
		combined = []retrieval.Result{}
	}
	return SourceQueryOutput{
		Intent:  input.Intent,
		Source:  retrieval.SourceUnrestricted,
		Results: combined,
	}, nil
}

func (a *Activities) querySource(ctx context.Context, adapter adapters.Adapter, src retrieval.SourceID, input SourceQueryInput) ([]retrieval.Result, string) {
	if limiter, ok := a.limiters[src]; ok {
		if err := limiter.Wait(ctx); err != nil {
			metrics.SourceQueries.WithLabelValues(string(src), failureTimeout).Inc()
			return nil, failureTimeout
		}
	}

	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = a.maxResults
	}

	callCtx, cancel := context.WithTimeout(ctx, a.adapterTimeout)
	defer cancel()

	start := time.Now()
	results, err := adapter.Query(callCtx, searchText(input), adapters.Filters{
		Scope:      src,
		TimeRange:  input.TimeRange,
		MaxResults: maxResults,
	})
	elapsed := time.Since(start)
	metrics.SourceQueryDuration.WithLabelValues(string(src)).Observe(elapsed.Seconds())

	if err != nil {
		kind := failureInternal
		switch {
		case errors.Is(err, adapters.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
			kind = failureTimeout
		case errors.Is(err, adapters.ErrPermissionDenied):
			kind = failurePermission
		}
		metrics.SourceQueries.WithLabelValues(string(src), kind).Inc()
		return nil, kind
	}

	metrics.SourceQueries.WithLabelValues(string(src), "ok").Inc()
	metrics.SourceResults.WithLabelValues(string(src)).Observe(float64(len(results)))
	if results == nil {
		results = []retrieval.Result{}
	}
	return results, ""
}
