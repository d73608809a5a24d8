package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/events"
	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/resilience"
	"github.com/sells-group/leadtrace/internal/store"
	"github.com/sells-group/leadtrace/pkg/analysis"
)

const msgAnalysisCredsMissing = "AI analysis credentials missing."

// Analyzer generates the AI assessment for leads whose skiptrace just
// completed. Analysis failures are recorded on the lead without touching
// its status; the enrichment itself already succeeded.
type Analyzer struct {
	store     store.Store
	client    analysis.Client
	publisher events.Publisher
	retry     resilience.RetryConfig
}

func NewAnalyzer(st store.Store, client analysis.Client, pub events.Publisher) *Analyzer {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "analyze_lead")
	return &Analyzer{store: st, client: client, publisher: pub, retry: retry}
}

// HandleUpdated processes one lead-updated delivery. The snapshot guard
// decides whether this change should trigger analysis; persisted state is
// then re-read so redeliveries and stale snapshots cannot double-analyze.
func (a *Analyzer) HandleUpdated(ctx context.Context, ev model.LeadEvent) error {
	if ev.After == nil {
		return nil
	}
	if !shouldAnalyze(ev.Before, ev.After) {
		return nil
	}

	log := zap.L().With(
		zap.String("ownerId", ev.OwnerID),
		zap.String("leadId", ev.LeadID),
	)

	lead, err := a.store.GetLead(ctx, ev.OwnerID, ev.LeadID)
	if err != nil {
		return eris.Wrap(err, "analyze: load lead")
	}
	if lead == nil {
		log.Warn("lead not found, dropping delivery")
		return nil
	}
	if lead.Status != model.StatusCompleted || lead.Phone() == "" {
		log.Debug("lead no longer eligible for analysis", zap.String("status", string(lead.Status)))
		return nil
	}

	if a.client == nil {
		return a.recordError(ctx, log, lead, msgAnalysisCredsMissing)
	}

	text, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (string, error) {
		return a.client.AnalyzeLead(ctx, analysis.LeadContext{
			FullName:      lead.FullName(),
			PhoneNumber:   lead.Phone(),
			StreetAddress: lead.StreetAddress,
			City:          lead.City,
			State:         lead.State,
			PostalCode:    lead.PostalCode,
		})
	})
	if err != nil {
		return a.recordError(ctx, log, lead, fmt.Sprintf("AI analysis failed: %s", err.Error()))
	}

	mut, err := a.store.MarkAnalyzed(ctx, lead.OwnerID, lead.ID, text)
	if err != nil {
		return eris.Wrap(err, "analyze: mark analyzed")
	}
	if !mut.Claimed {
		log.Debug("analysis already claimed by another delivery")
		return nil
	}

	log.Info("lead analyzed")

	ev2 := model.LeadEvent{
		OwnerID:    mut.After.OwnerID,
		LeadID:     mut.After.ID,
		Before:     mut.Before,
		After:      mut.After,
		OccurredAt: time.Now().UTC(),
	}
	return eris.Wrap(a.publisher.LeadUpdated(ctx, ev2), "analyze: publish update")
}

// recordError persists the analysis failure. No update event is published
// here: the write does not change any field the trigger guard reads, and
// publishing would loop the handler on its own error writes.
func (a *Analyzer) recordError(ctx context.Context, log *zap.Logger, lead *model.Lead, msg string) error {
	log.Warn("analysis failed", zap.String("reason", msg))
	_, err := a.store.SetAnalysisError(ctx, lead.OwnerID, lead.ID, msg)
	return eris.Wrap(err, "analyze: record failure")
}

// shouldAnalyze applies the trigger guard to the event's before/after
// snapshots: the lead must have a phone and a Completed status now, and
// the change must be one that (re)establishes eligibility — analysis
// absent on both sides, a changed phone, or a fresh transition into
// Completed. Everything else is an unrelated update.
func shouldAnalyze(before, after *model.Lead) bool {
	if after.Phone() == "" || after.Status != model.StatusCompleted {
		return false
	}

	var prev model.Lead
	if before != nil {
		prev = *before
	}

	switch {
	case prev.AIAnalysis == "" && after.AIAnalysis == "":
		return true
	case prev.Phone() != after.Phone():
		return true
	case prev.Status != model.StatusCompleted:
		return true
	}
	return false
}
