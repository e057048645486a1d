package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

// datasourceFor maps each source to its enterprise search datasource name.
var datasourceFor = map[retrieval.SourceID][]string{
	retrieval.SourceCRM:        {"salescloud"},
	retrieval.SourceDocuments:  {"gdrive"},
	retrieval.SourceCalls:      {"gong"},
	retrieval.SourceEmail:      {"gmail"},
	retrieval.SourceChat:       {"slack"},
	retrieval.SourceDashboards: {"looker"},
}

// GleanConfig configures the enterprise search backend shared by all scoped
// adapters.
type GleanConfig struct {
	// Endpoint is the REST API base, without a trailing path segment.
	Endpoint   string
	APIToken   string
	MaxResults int
}

// GleanAdapter queries one source scope against the Glean search REST API.
// One instance per source; instances share an http.Client.
type GleanAdapter struct {
	scope  retrieval.SourceID
	cfg    GleanConfig
	client *http.Client
	logger *zap.Logger
}

// NewGleanAdapters builds one adapter per concrete source, sharing a client.
func NewGleanAdapters(cfg GleanConfig, logger *zap.Logger) map[retrieval.SourceID]Adapter {
	client := &http.Client{} // per-call deadline comes from the context
	out := make(map[retrieval.SourceID]Adapter, len(datasourceFor))
	for src := range datasourceFor {
		out[src] = &GleanAdapter{scope: src, cfg: cfg, client: client, logger: logger}
	}
	return out
}

type gleanRequest struct {
	Query          string              `json:"query"`
	PageSize       int                 `json:"pageSize"`
	MaxSnippetSize int                 `json:"maxSnippetSize"`
	RequestOptions gleanRequestOptions `json:"requestOptions"`
}

type gleanRequestOptions struct {
	FacetBucketSize              int      `json:"facetBucketSize"`
	ReturnLlmContentOverSnippets bool     `json:"returnLlmContentOverSnippets"`
	DatasourcesFilter            []string `json:"datasourcesFilter,omitempty"`
}

type gleanResponse struct {
	Results []struct {
		LlmContent string `json:"llmContent"`
		Snippets   []struct {
			Snippet string `json:"snippet"`
		} `json:"snippets"`
		Document struct {
			Title      string `json:"title"`
			URL        string `json:"url"`
			Datasource string `json:"datasource"`
			UpdateTime string `json:"updateTime"`
			Author     struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"document"`
	} `json:"results"`
}

// Query implements Adapter. Zero hits return an empty slice; HTTP and
// transport failures are classified into the adapter error taxonomy.
func (g *GleanAdapter) Query(ctx context.Context, text string, f Filters) ([]retrieval.Result, error) {
	pageSize := f.MaxResults
	if pageSize <= 0 {
		pageSize = g.cfg.MaxResults
	}
	if pageSize <= 0 {
		pageSize = 5
	}

	req := gleanRequest{
		Query:          withTimeOperators(text, f.TimeRange),
		PageSize:       pageSize,
		MaxSnippetSize: 4000,
		RequestOptions: gleanRequestOptions{
			FacetBucketSize:              100,
			ReturnLlmContentOverSnippets: true,
			DatasourcesFilter:            datasourceFor[g.scope],
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &AdapterError{Source: g.scope, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, &AdapterError{Source: g.scope, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &AdapterError{Source: g.scope, Err: ErrTimeout}
		}
		return nil, &AdapterError{Source: g.scope, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AdapterError{Source: g.scope, Err: ErrPermissionDenied}
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &AdapterError{Source: g.scope, Err: fmt.Errorf("status %d: %s", resp.StatusCode, snippet)}
	}

	var parsed gleanResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &AdapterError{Source: g.scope, Err: fmt.Errorf("decode response: %w", err)}
	}

	results := make([]retrieval.Result, 0, len(parsed.Results))
	for rank, r := range parsed.Results {
		snippet := r.LlmContent
		if snippet == "" && len(r.Snippets) > 0 {
			snippet = r.Snippets[0].Snippet
		}
		if r.Document.URL == "" {
			// Uncitable hits never enter the pipeline.
			g.logger.Warn("dropping result without URL",
				zap.String("source", string(g.scope)),
				zap.String("title", r.Document.Title),
			)
			continue
		}
		results = append(results, retrieval.Result{
			Source:     g.scope,
			Snippet:    snippet,
			Confidence: confidenceForRank(rank),
			Citation: retrieval.Citation{
				URL:          r.Document.URL,
				Title:        r.Document.Title,
				Author:       r.Document.Author.Name,
				LastModified: parseUpdateTime(r.Document.UpdateTime),
			},
		})
	}
	return results, nil
}

// withTimeOperators constrains the search by last-updated date using the
// backend's after:/before: query operators.
func withTimeOperators(text string, tr *retrieval.TimeRange) string {
	if tr == nil {
		return text
	}
	if !tr.From.IsZero() {
		text += " after:" + tr.From.Format("2006-01-02")
	}
	if !tr.To.IsZero() {
		text += " before:" + tr.To.Format("2006-01-02")
	}
	return text
}

// confidenceForRank approximates a score the search product does not expose:
// results arrive relevance-ordered, so ranks map onto a descending tier.
func confidenceForRank(rank int) float64 {
	c := 0.9 - 0.1*float64(rank)
	if c < 0.2 {
		c = 0.2
	}
	return c
}

func parseUpdateTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	return time.Time{}
}
