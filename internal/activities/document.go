package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/meridianhq/accountintel/internal/adapters"
)

// ReadDocumentInput identifies one cited document to fetch in full.
type ReadDocumentInput struct {
	URL string `json:"url"`
}

// ReadDocument fetches the full content behind a citation, for turns where
// a search snippet is not enough. Requires a configured document fetcher.
func (a *Activities) ReadDocument(ctx context.Context, input ReadDocumentInput) (adapters.Document, error) {
	if a.documents == nil {
		return adapters.Document{}, fmt.Errorf("document fetching is not configured")
	}
	doc, err := a.documents.Fetch(ctx, input.URL)
	if err != nil {
		return adapters.Document{}, fmt.Errorf("read document %s: %w", input.URL, err)
	}
	activity.GetLogger(ctx).Info("ReadDocument: fetched", "url", input.URL, "bytes", len(doc.Content))
	return doc, nil
}
