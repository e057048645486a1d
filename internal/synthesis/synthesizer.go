// Package synthesis is the boundary to the external language-model
// collaborator. The orchestration core guarantees every fact it hands over
// carries a citation; prose generation itself lives outside this repo.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/retrieval"
	"github.com/meridianhq/accountintel/internal/session"
)

// Synthesizer produces a source-attributed prose answer from a merged
// context bundle and the conversation so far.
type Synthesizer interface {
	Synthesize(ctx context.Context, bundle retrieval.ContextBundle, history []session.TurnRecord) (string, error)
}

// HTTPSynthesizer posts the bundle to the LLM service.
type HTTPSynthesizer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSynthesizer creates a synthesizer client for the given endpoint.
func NewHTTPSynthesizer(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSynthesizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type synthesizeRequest struct {
	Bundle  retrieval.ContextBundle `json:"bundle"`
	History []session.TurnRecord    `json:"history,omitempty"`
}

type synthesizeResponse struct {
	Answer string `json:"answer"`
}

// Synthesize implements Synthesizer. Bundles carrying uncited facts are
// rejected before anything is sent.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, bundle retrieval.ContextBundle, history []session.TurnRecord) (string, error) {
	if err := bundle.Validate(); err != nil {
		return "", fmt.Errorf("refusing to synthesize uncited context: %w", err)
	}

	body, err := json.Marshal(synthesizeRequest{Bundle: bundle, History: history})
	if err != nil {
		return "", fmt.Errorf("marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("synthesis service status %d: %s", resp.StatusCode, snippet)
	}

	var parsed synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode synthesis response: %w", err)
	}
	if parsed.Answer == "" {
		return "", fmt.Errorf("synthesis service returned an empty answer")
	}

	s.logger.Debug("synthesis complete",
		zap.Int("entries", len(bundle.Entries)),
		zap.Int("missing", len(bundle.Missing)),
	)
	return parsed.Answer, nil
}
