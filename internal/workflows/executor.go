package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/policy"
	"github.com/meridianhq/accountintel/internal/retrieval"
)

// sourceCall is one (intent, source) pair to execute.
type sourceCall struct {
	Intent retrieval.FactIntent
	Source retrieval.SourceID
}

// buildSourceCalls derives the fan-out plan from the routing decision.
// Exclusive routes query only their single authoritative source; shared
// routes query every listed source. Order follows the query's intent order
// so the plan is deterministic across replays.
func buildSourceCalls(query retrieval.Query, routes map[retrieval.FactIntent]policy.Route) []sourceCall {
	var calls []sourceCall
	for _, intent := range query.Intents {
		route, ok := routes[intent]
		if !ok {
			continue
		}
		if route.Exclusive {
			calls = append(calls, sourceCall{Intent: intent, Source: route.Sources[0]})
			continue
		}
		for _, src := range route.Sources {
			calls = append(calls, sourceCall{Intent: intent, Source: src})
		}
	}
	return calls
}

// fanOutQueries executes the source calls concurrently, bounded by
// maxConcurrency, and gathers results per intent. A failed or timed-out
// source contributes nothing; it never aborts the other calls.
func fanOutQueries(ctx workflow.Context, query retrieval.Query, calls []sourceCall, maxConcurrency int) map[retrieval.FactIntent][]retrieval.Result {
	logger := workflow.GetLogger(ctx)
	results := make(map[retrieval.FactIntent][]retrieval.Result)
	if len(calls) == 0 {
		return results
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	sem := workflow.NewSemaphore(ctx, int64(maxConcurrency))
	futuresChan := workflow.NewChannel(ctx)

	type futureWithIndex struct {
		Index   int
		Future  workflow.Future
		Release workflow.Channel
	}

	activityOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	actCtx := workflow.WithActivityOptions(ctx, activityOpts)

	for i, call := range calls {
		i := i
		call := call
		workflow.Go(actCtx, func(ctx workflow.Context) {
			if err := sem.Acquire(ctx, 1); err != nil {
				futuresChan.Send(ctx, futureWithIndex{Index: i})
				return
			}
			rel := workflow.NewChannel(ctx)

			future := workflow.ExecuteActivity(ctx, "ExecuteSourceQuery", activities.SourceQueryInput{
				Intent:    call.Intent,
				Source:    call.Source,
				Text:      query.RawText,
				Entity:    query.AccountEntity,
				TimeRange: query.TimeHint,
			})
			futuresChan.Send(ctx, futureWithIndex{Index: i, Future: future, Release: rel})

			// Hold the permit until the collector has consumed the result.
			var sig struct{}
			rel.Receive(ctx, &sig)
			sem.Release(1)
		})
	}

	sel := workflow.NewSelector(ctx)
	received := 0
	skipped := 0
	processed := 0

	var registerReceive func()
	registerReceive = func() {
		sel.AddReceive(futuresChan, func(c workflow.ReceiveChannel, more bool) {
			var fwi futureWithIndex
			c.Receive(ctx, &fwi)
			received++
			if fwi.Future == nil {
				skipped++
			} else {
				fwi := fwi
				sel.AddFuture(fwi.Future, func(f workflow.Future) {
					var out activities.SourceQueryOutput
					if err := f.Get(ctx, &out); err != nil {
						logger.Warn("Source query activity failed, isolating",
							"intent", calls[fwi.Index].Intent,
							"source", calls[fwi.Index].Source,
							"error", err,
						)
					} else if !out.Failed && len(out.Results) > 0 {
						results[out.Intent] = append(results[out.Intent], out.Results...)
					}
					if fwi.Release != nil {
						var sig struct{}
						fwi.Release.Send(ctx, sig)
					}
					processed++
				})
			}
			if received < len(calls) {
				registerReceive()
			}
		})
	}
	registerReceive()

	for processed < len(calls)-skipped {
		sel.Select(ctx)
	}

	logger.Info("Fan-out completed",
		"calls", len(calls),
		"intents_with_results", len(results),
	)
	return results
}
