package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap/zaptest"

	"github.com/meridianhq/accountintel/internal/workflows"
)

func TestStartTurnExecutesWorkflow(t *testing.T) {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("turn-xyz")
	run.On("GetRunID").Return("run-1")

	temporal := &mocks.Client{}
	temporal.On("ExecuteWorkflow",
		mock.Anything, mock.Anything, mock.Anything,
		mock.MatchedBy(func(in workflows.TurnInput) bool {
			return in.RawQuery == "When does the Wellstar contract renew?" &&
				in.SessionID == "s-1" && in.UserID == "u-1" && in.TurnID != ""
		}),
	).Return(run, nil)

	h := NewTurnHandler(temporal, "accountintel-turns", zaptest.NewLogger(t), "")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body := `{"session_id":"s-1","user_id":"u-1","query":"When does the Wellstar contract renew?"}`
	req := httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	temporal.AssertExpectations(t)

	var resp startTurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s-1", resp.SessionID)
	assert.Equal(t, "turn-xyz", resp.WorkflowID)
	assert.NotEmpty(t, resp.TurnID)
}

func TestStartTurnGeneratesSessionID(t *testing.T) {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("turn-xyz")
	run.On("GetRunID").Return("run-1")

	temporal := &mocks.Client{}
	temporal.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(run, nil)

	h := NewTurnHandler(temporal, "accountintel-turns", zaptest.NewLogger(t), "")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/turns",
		strings.NewReader(`{"user_id":"u-1","query":"how is AH doing?"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp startTurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID, "a missing session id starts a fresh conversation")
}

func TestStartTurnValidatesInput(t *testing.T) {
	h := NewTurnHandler(&mocks.Client{}, "accountintel-turns", zaptest.NewLogger(t), "")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/turns", strings.NewReader(`{"user_id":"u-1"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
