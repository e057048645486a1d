// Package httpapi exposes the orchestrator over HTTP: starting turns,
// polling turn state, and relaying fallback approval decisions to the
// workflows waiting on them.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/metrics"
	"github.com/meridianhq/accountintel/internal/workflows"
)

// TurnHandler starts turn workflows and reports their state.
type TurnHandler struct {
	temporal  client.Client
	taskQueue string
	logger    *zap.Logger
	authToken string
}

// NewTurnHandler creates a handler bound to the worker's task queue.
func NewTurnHandler(t client.Client, taskQueue string, logger *zap.Logger, authToken string) *TurnHandler {
	return &TurnHandler{temporal: t, taskQueue: taskQueue, logger: logger, authToken: authToken}
}

// RegisterRoutes registers turn routes on the provided mux.
func (h *TurnHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/turns", h.handleStart)
	mux.HandleFunc("/turns/", h.handleGet)
}

type startTurnRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
}

type startTurnResponse struct {
	TurnID     string `json:"turn_id"`
	SessionID  string `json:"session_id"`
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

func (h *TurnHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !authorize(r, h.authToken) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req startTurnRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("start turn decode error", zap.Error(err))
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" || req.UserID == "" {
		http.Error(w, `{"error":"query and user_id are required"}`, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	turnID := uuid.New().String()
	workflowID := "turn-" + turnID

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	run, err := h.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.TurnWorkflow, workflows.TurnInput{
		TurnID:    turnID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		RawQuery:  req.Query,
	})
	if err != nil {
		h.logger.Error("failed to start turn workflow",
			zap.String("workflow_id", workflowID), zap.Error(err))
		http.Error(w, `{"error":"failed to start turn"}`, http.StatusBadGateway)
		return
	}

	metrics.TurnsStarted.Inc()
	h.logger.Info("turn started",
		zap.String("turn_id", turnID),
		zap.String("session_id", req.SessionID),
		zap.String("workflow_id", run.GetID()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(startTurnResponse{
		TurnID:     turnID,
		SessionID:  req.SessionID,
		WorkflowID: run.GetID(),
		RunID:      run.GetRunID(),
	})
}

type turnStateResponse struct {
	WorkflowID string                `json:"workflow_id"`
	Running    bool                  `json:"running"`
	Status     *workflows.TurnStatus `json:"status,omitempty"`
	Result     *workflows.TurnResult `json:"result,omitempty"`
}

// handleGet reports a turn's live phase while it runs (including pending
// fallback approvals) and its final result once complete.
func (h *TurnHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !authorize(r, h.authToken) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	turnID := strings.TrimPrefix(r.URL.Path, "/turns/")
	if turnID == "" || strings.Contains(turnID, "/") {
		http.Error(w, `{"error":"turn id required"}`, http.StatusBadRequest)
		return
	}
	workflowID := "turn-" + turnID

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	desc, err := h.temporal.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		http.Error(w, `{"error":"turn not found"}`, http.StatusNotFound)
		return
	}

	resp := turnStateResponse{WorkflowID: workflowID}
	if desc.WorkflowExecutionInfo.GetStatus().String() == "Running" {
		resp.Running = true
		var status workflows.TurnStatus
		if val, qerr := h.temporal.QueryWorkflow(ctx, workflowID, "", workflows.QueryTurnStatus); qerr == nil {
			if gerr := val.Get(&status); gerr == nil {
				resp.Status = &status
			}
		}
	} else {
		var result workflows.TurnResult
		if gerr := h.temporal.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); gerr != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, gerr.Error()), http.StatusBadGateway)
			return
		}
		resp.Result = &result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// authorize checks the bearer token when one is configured.
func authorize(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == token
}
