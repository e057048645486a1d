package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/retrieval"
)

// DocumentFetcher retrieves the full text of a cited document when its
// search snippet is not enough to answer from.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Document is the full content of one retrievable document.
type Document struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// GleanDocumentClient fetches full document bodies from the same search
// backend the adapters query against.
type GleanDocumentClient struct {
	endpoint string
	apiToken string
	client   *http.Client
	logger   *zap.Logger
}

// NewGleanDocumentClient builds a document fetcher for the given backend.
func NewGleanDocumentClient(cfg GleanConfig, logger *zap.Logger) *GleanDocumentClient {
	return &GleanDocumentClient{
		endpoint: cfg.Endpoint,
		apiToken: cfg.APIToken,
		client:   &http.Client{},
		logger:   logger,
	}
}

type documentRequest struct {
	URL            string `json:"url"`
	IncludeContent bool   `json:"includeContent"`
}

// Fetch retrieves one document by its citation URL.
func (c *GleanDocumentClient) Fetch(ctx context.Context, url string) (Document, error) {
	body, err := json.Marshal(documentRequest{URL: url, IncludeContent: true})
	if err != nil {
		return Document{}, fmt.Errorf("marshal document request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/getdocuments", bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Document{}, &AdapterError{Source: retrieval.SourceDocuments, Err: ErrPermissionDenied}
	}
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("fetch document: unexpected status %d", resp.StatusCode)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	if doc.URL == "" {
		doc.URL = url
	}
	return doc, nil
}
