// Package registry wires workflows and activities onto a Temporal worker.
package registry

import (
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/meridianhq/accountintel/internal/activities"
	"github.com/meridianhq/accountintel/internal/workflows"
)

// Registrar registers everything a turn worker runs.
type Registrar interface {
	RegisterWorkflows(w worker.Worker)
	RegisterActivities(w worker.Worker)
}

// TurnRegistry is the production registrar.
type TurnRegistry struct {
	acts   *activities.Activities
	logger *zap.Logger
}

// NewTurnRegistry creates a registry around a built activities instance.
func NewTurnRegistry(acts *activities.Activities, logger *zap.Logger) *TurnRegistry {
	return &TurnRegistry{acts: acts, logger: logger}
}

// RegisterWorkflows registers the turn workflow.
func (r *TurnRegistry) RegisterWorkflows(w worker.Worker) {
	w.RegisterWorkflow(workflows.TurnWorkflow)
	r.logger.Info("Registered workflows")
}

// RegisterActivities registers all activities on the worker. Struct methods
// register under their method names, matching the names the workflow uses.
func (r *TurnRegistry) RegisterActivities(w worker.Worker) {
	w.RegisterActivity(r.acts.ClassifyQuery)
	w.RegisterActivity(r.acts.ExecuteSourceQuery)
	w.RegisterActivity(r.acts.RequestFallbackApproval)
	w.RegisterActivity(r.acts.ResolveFallbackApproval)
	w.RegisterActivity(r.acts.SynthesizeAnswer)
	w.RegisterActivity(r.acts.GetConversation)
	w.RegisterActivity(r.acts.UpdateConversation)
	w.RegisterActivity(r.acts.RecordTurn)
	w.RegisterActivity(r.acts.ReadDocument)
	r.logger.Info("Registered activities")
}
