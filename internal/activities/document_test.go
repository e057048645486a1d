package activities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/meridianhq/accountintel/internal/adapters"
)

type stubFetcher struct {
	docs map[string]adapters.Document
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) (adapters.Document, error) {
	doc, ok := s.docs[url]
	if !ok {
		return adapters.Document{}, assert.AnError
	}
	return doc, nil
}

func TestReadDocumentReturnsFullContent(t *testing.T) {
	a := NewActivities(Deps{
		Registry: adapters.NewRegistry(),
		Documents: &stubFetcher{docs: map[string]adapters.Document{
			"https://drive.example.com/doc/9": {
				URL:     "https://drive.example.com/doc/9",
				Title:   "QBR Notes",
				Content: "Full QBR narrative.",
			},
		}},
		Logger: zaptest.NewLogger(t),
	})

	env := (&testsuite.WorkflowTestSuite{}).NewTestActivityEnvironment()
	env.RegisterActivity(a.ReadDocument)

	val, err := env.ExecuteActivity(a.ReadDocument, ReadDocumentInput{URL: "https://drive.example.com/doc/9"})
	require.NoError(t, err)

	var doc adapters.Document
	require.NoError(t, val.Get(&doc))
	assert.Equal(t, "Full QBR narrative.", doc.Content)
	assert.Equal(t, "QBR Notes", doc.Title)
}

func TestReadDocumentRequiresConfiguredFetcher(t *testing.T) {
	a := NewActivities(Deps{
		Registry: adapters.NewRegistry(),
		Logger:   zaptest.NewLogger(t),
	})

	env := (&testsuite.WorkflowTestSuite{}).NewTestActivityEnvironment()
	env.RegisterActivity(a.ReadDocument)

	_, err := env.ExecuteActivity(a.ReadDocument, ReadDocumentInput{URL: "https://drive.example.com/doc/9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
