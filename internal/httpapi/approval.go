package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/metrics"
	"github.com/meridianhq/accountintel/internal/workflows"
)

// ApprovalHandler relays fallback approval decisions to the suspended turn
// workflows as Temporal signals, and lists negotiations still waiting.
type ApprovalHandler struct {
	temporal  client.Client
	acts      *activities.Activities
	logger    *zap.Logger
	authToken string
}

// NewApprovalHandler creates a new handler.
func NewApprovalHandler(t client.Client, acts *activities.Activities, logger *zap.Logger, authToken string) *ApprovalHandler {
	return &ApprovalHandler{temporal: t, acts: acts, logger: logger, authToken: authToken}
}

// RegisterRoutes registers approval routes on the provided mux.
func (h *ApprovalHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/approvals", h.handleList)
	mux.HandleFunc("/approvals/decision", h.handleDecision)
}

func (h *ApprovalHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !authorize(r, h.authToken) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"pending": h.acts.PendingApprovals(),
	})
}

// approvalDecisionRequest is the expected payload for fallback decisions.
type approvalDecisionRequest struct {
	ApprovalID string `json:"approval_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	Approved   bool   `json:"approved"`
	DecidedBy  string `json:"decided_by,omitempty"`
	Feedback   string `json:"feedback,omitempty"`
}

func (h *ApprovalHandler) handleDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !authorize(r, h.authToken) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req approvalDecisionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("approval decode error", zap.Error(err))
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ApprovalID == "" {
		http.Error(w, `{"error":"approval_id is required"}`, http.StatusBadRequest)
		return
	}

	// The workflow ID may come from the request or from the pending table.
	workflowID, runID := req.WorkflowID, req.RunID
	pending, known := h.acts.LookupApproval(req.ApprovalID)
	if workflowID == "" {
		if !known {
			http.Error(w, `{"error":"unknown approval_id; supply workflow_id"}`, http.StatusNotFound)
			return
		}
		workflowID, runID = pending.WorkflowID, pending.RunID
	}

	payload := workflows.FallbackApprovalSignal{
		ApprovalID: req.ApprovalID,
		Approved:   req.Approved,
		DecidedBy:  req.DecidedBy,
		Feedback:   req.Feedback,
	}
	signalName := workflows.FallbackApprovalSignalName(req.ApprovalID)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.temporal.SignalWorkflow(ctx, workflowID, runID, signalName, payload); err != nil {
		h.logger.Error("failed to signal workflow",
			zap.String("workflow_id", workflowID),
			zap.String("signal", signalName),
			zap.Error(err))
		http.Error(w, `{"error":"failed to signal workflow"}`, http.StatusBadGateway)
		return
	}

	if known {
		metrics.FallbackApprovalWait.Observe(time.Since(pending.RequestedAt).Seconds())
	}
	outcome := "declined"
	if req.Approved {
		outcome = "approved"
	}
	metrics.FallbackNegotiations.WithLabelValues(outcome).Inc()

	h.logger.Info("fallback decision relayed",
		zap.String("approval_id", req.ApprovalID),
		zap.String("workflow_id", workflowID),
		zap.Bool("approved", req.Approved),
	)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "sent",
		"approval_id": req.ApprovalID,
		"workflow_id": workflowID,
		"approved":    req.Approved,
	})
}
