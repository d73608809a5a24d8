package store

import (
	"context"
	"time"

	"github.com/sells-group/leadtrace/internal/model"
)

// LeadFilter specifies criteria for listing leads. OwnerID is required:
// leads are never visible across owners.
type LeadFilter struct {
	OwnerID string       `json:"owner_id"`
	Status  model.Status `json:"status,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Offset  int          `json:"offset,omitempty"`
}

// Mutation reports the outcome of a conditional status transition.
// Claimed is false when the precondition no longer held (the transition
// was already taken by an earlier delivery) or the lead does not exist;
// in that case nothing was written. The snapshots feed update events.
type Mutation struct {
	Claimed bool
	Before  *model.Lead
	After   *model.Lead
}

// StatusCounts is a per-status tally used by monitoring.
type StatusCounts map[model.Status]int

// Store defines the persistence interface for the lead pipeline.
//
// The conditional mutators are the pipeline's only concurrency-control
// mechanism: each re-checks the current status inside a transaction and
// writes nothing when the expected precondition no longer holds. There is
// no separate lock; a claimed write IS the claim.
type Store interface {
	// Leads
	CreateLeads(ctx context.Context, leads []model.Lead) ([]model.Lead, error)
	GetLead(ctx context.Context, ownerID, leadID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Skiptrace stage transitions (precondition: status = Processing).
	CompleteSkiptrace(ctx context.Context, ownerID, leadID, phone string) (*Mutation, error)
	FailSkiptrace(ctx context.Context, ownerID, leadID string, status model.Status, errMsg string) (*Mutation, error)

	// Analysis stage transitions.
	MarkAnalyzed(ctx context.Context, ownerID, leadID, analysis string) (*Mutation, error)
	SetAnalysisError(ctx context.Context, ownerID, leadID, msg string) (*Mutation, error)

	// Explicit re-enrichment entry point (precondition: terminal skiptrace
	// failure). Clears enrichment output and returns the lead to Processing.
	ResetForEnrichment(ctx context.Context, ownerID, leadID string) (*Mutation, error)

	// Monitoring
	CountByStatus(ctx context.Context, since time.Time) (StatusCounts, error)
	CountStuckProcessing(ctx context.Context, olderThan time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
