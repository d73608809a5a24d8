// Package enrich implements the pipeline's stage handlers: skiptrace on
// lead creation, AI analysis on lead updates. Handlers are idempotent
// under redelivery — each re-reads persisted state and relies on the
// store's conditional transitions to claim work exactly once.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/events"
	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
	"github.com/sells-group/leadtrace/pkg/batchdata"
)

const (
	msgMissingFields   = "Missing required lead fields for skiptrace."
	msgMissingCreds    = "Skiptrace API credentials missing."
	msgOnDNC           = "Person is on DNC list. Skipping phone number extraction."
	msgNoMobile        = "No suitable mobile phone number found for this lead (not on DNC)."
	msgNoMatch         = "No match found for address by BatchData."
	msgNoPersonResults = "API response missing person results or other issue."
)

// Skiptracer resolves a phone number for newly created leads. A nil
// client means the provider is unconfigured; affected leads fail with a
// recorded error instead of blocking the queue.
type Skiptracer struct {
	store     store.Store
	client    batchdata.Client
	publisher events.Publisher
}

func NewSkiptracer(st store.Store, client batchdata.Client, pub events.Publisher) *Skiptracer {
	return &Skiptracer{store: st, client: client, publisher: pub}
}

// HandleCreated processes one lead-created delivery. A returned error
// requeues the delivery; terminal business outcomes (DNC, no match,
// provider errors) are written to the lead and return nil.
func (s *Skiptracer) HandleCreated(ctx context.Context, ev model.LeadEvent) error {
	log := zap.L().With(
		zap.String("ownerId", ev.OwnerID),
		zap.String("leadId", ev.LeadID),
	)

	lead, err := s.store.GetLead(ctx, ev.OwnerID, ev.LeadID)
	if err != nil {
		return eris.Wrap(err, "skiptrace: load lead")
	}
	if lead == nil {
		log.Warn("lead not found, dropping delivery")
		return nil
	}
	if lead.Status != model.StatusProcessing {
		log.Debug("lead already processed", zap.String("status", string(lead.Status)))
		return nil
	}

	if !lead.HasRequiredFields() {
		return s.fail(ctx, log, lead, model.StatusMalformedData, msgMissingFields)
	}
	if s.client == nil {
		return s.fail(ctx, log, lead, model.StatusSkiptraceFailed, msgMissingCreds)
	}

	// Exactly one paid lookup per delivery. Transient provider failures are
	// recorded as Skiptrace Failed; re-enrichment is an explicit operator
	// action, not an automatic retry.
	resp, err := s.client.Lookup(ctx, batchdata.LookupRequest{
		FirstName:     lead.FirstName,
		LastName:      lead.LastName,
		StreetAddress: lead.StreetAddress,
		City:          lead.City,
		State:         lead.State,
		PostalCode:    lead.PostalCode,
	})
	if err != nil {
		return s.fail(ctx, log, lead, model.StatusSkiptraceFailed, classifyLookupError(err))
	}

	phone, failMsg := selectPhone(resp)
	if failMsg != "" {
		return s.fail(ctx, log, lead, model.StatusSkiptraceFailed, failMsg)
	}

	mut, err := s.store.CompleteSkiptrace(ctx, lead.OwnerID, lead.ID, phone.Number)
	if err != nil {
		return eris.Wrap(err, "skiptrace: complete")
	}
	if !mut.Claimed {
		log.Debug("skiptrace already claimed by another delivery")
		return nil
	}

	log.Info("skiptrace completed",
		zap.String("phoneType", phone.Type),
		zap.Float64("score", phone.Score),
		zap.Bool("tested", phone.Tested),
		zap.Bool("reachable", phone.Reachable))

	return s.publishUpdate(ctx, mut)
}

// fail records a terminal skiptrace failure. The claimed write drives an
// update event like any other transition; the delivery itself succeeds.
func (s *Skiptracer) fail(ctx context.Context, log *zap.Logger, lead *model.Lead, status model.Status, msg string) error {
	mut, err := s.store.FailSkiptrace(ctx, lead.OwnerID, lead.ID, status, msg)
	if err != nil {
		return eris.Wrap(err, "skiptrace: record failure")
	}
	if !mut.Claimed {
		return nil
	}
	log.Warn("skiptrace failed", zap.String("status", string(status)), zap.String("reason", msg))
	return s.publishUpdate(ctx, mut)
}

func (s *Skiptracer) publishUpdate(ctx context.Context, mut *store.Mutation) error {
	ev := model.LeadEvent{
		OwnerID:    mut.After.OwnerID,
		LeadID:     mut.After.ID,
		Before:     mut.Before,
		After:      mut.After,
		OccurredAt: time.Now().UTC(),
	}
	return eris.Wrap(s.publisher.LeadUpdated(ctx, ev), "skiptrace: publish update")
}

// classifyLookupError maps a provider failure to the recorded lead error.
// Responses with a status are distinguished from no-response transport
// failures and from request construction problems.
func classifyLookupError(err error) string {
	var apiErr *batchdata.APIError
	if eris.As(err, &apiErr) {
		return fmt.Sprintf("API Error %d: %s", apiErr.StatusCode, apiErr.Message())
	}
	var reqErr *batchdata.RequestError
	if eris.As(err, &reqErr) {
		return fmt.Sprintf("API Request Error: No response received. %s", reqErr.Err.Error())
	}
	return fmt.Sprintf("API Config Error: %s", err.Error())
}

// selectPhone picks the phone candidate from a successful lookup, or
// returns the failure message when none is usable. Only the first matched
// person is considered; any DNC flag on that person suppresses every
// number. Mobile candidates are preferred tested-and-reachable first,
// falling back to the first mobile with a number at all.
func selectPhone(resp *batchdata.LookupResponse) (batchdata.PhoneNumber, string) {
	var none batchdata.PhoneNumber

	persons := resp.Results.Persons
	if len(persons) == 0 {
		if meta := resp.Results.Meta; meta != nil && meta.Results != nil && meta.Results.NoMatchCount > 0 {
			return none, msgNoMatch
		}
		return none, msgNoPersonResults
	}

	person := persons[0]
	if len(person.DNC) > 0 {
		return none, msgOnDNC
	}

	var mobiles []batchdata.PhoneNumber
	for _, pn := range person.PhoneNumbers {
		if pn.Type == "Mobile" {
			mobiles = append(mobiles, pn)
		}
	}

	for _, pn := range mobiles {
		if pn.Tested && pn.Reachable && strings.TrimSpace(pn.Number) != "" {
			return pn, ""
		}
	}
	for _, pn := range mobiles {
		if strings.TrimSpace(pn.Number) != "" {
			return pn, ""
		}
	}

	return none, msgNoMobile
}
