package enrich

import (
	"context"
	"time"

	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
	"github.com/sells-group/leadtrace/pkg/analysis"
	"github.com/sells-group/leadtrace/pkg/batchdata"
)

// memStore is an in-memory Store with the same conditional-transition
// semantics as the real backends, scoped to a single lead.
type memStore struct {
	store.Store

	lead   *model.Lead
	getErr error

	completeCalls int
	failCalls     int
	markCalls     int
	errCalls      int
}

func (m *memStore) GetLead(_ context.Context, _, _ string) (*model.Lead, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.lead == nil {
		return nil, nil
	}
	cp := *m.lead
	return &cp, nil
}

func (m *memStore) CompleteSkiptrace(_ context.Context, _, _ string, phone string) (*store.Mutation, error) {
	m.completeCalls++
	return m.transition(
		func(l *model.Lead) bool { return l.Status == model.StatusProcessing },
		func(l *model.Lead) {
			l.PhoneNumber = &phone
			l.Status = model.StatusCompleted
			l.Error = ""
		})
}

func (m *memStore) FailSkiptrace(_ context.Context, _, _ string, status model.Status, errMsg string) (*store.Mutation, error) {
	m.failCalls++
	return m.transition(
		func(l *model.Lead) bool { return l.Status == model.StatusProcessing },
		func(l *model.Lead) {
			l.PhoneNumber = nil
			l.Status = status
			l.Error = errMsg
		})
}

func (m *memStore) MarkAnalyzed(_ context.Context, _, _ string, analysisText string) (*store.Mutation, error) {
	m.markCalls++
	return m.transition(
		func(l *model.Lead) bool { return l.Status == model.StatusCompleted },
		func(l *model.Lead) {
			now := time.Now().UTC()
			l.AIAnalysis = analysisText
			l.AIAnalysisError = ""
			l.AnalyzedAt = &now
			l.Status = model.StatusAnalyzed
		})
}

func (m *memStore) SetAnalysisError(_ context.Context, _, _ string, msg string) (*store.Mutation, error) {
	m.errCalls++
	return m.transition(
		func(l *model.Lead) bool { return true },
		func(l *model.Lead) { l.AIAnalysisError = msg })
}

func (m *memStore) transition(pre func(*model.Lead) bool, apply func(*model.Lead)) (*store.Mutation, error) {
	if m.lead == nil {
		return &store.Mutation{Claimed: false}, nil
	}
	before := *m.lead
	if !pre(m.lead) {
		return &store.Mutation{Claimed: false, Before: &before, After: &before}, nil
	}
	apply(m.lead)
	m.lead.UpdatedAt = time.Now().UTC()
	after := *m.lead
	return &store.Mutation{Claimed: true, Before: &before, After: &after}, nil
}

type fakePublisher struct {
	createdEvents []model.LeadEvent
	updatedEvents []model.LeadEvent
	publishErr    error
}

func (f *fakePublisher) LeadCreated(_ context.Context, ev model.LeadEvent) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.createdEvents = append(f.createdEvents, ev)
	return nil
}

func (f *fakePublisher) LeadUpdated(_ context.Context, ev model.LeadEvent) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.updatedEvents = append(f.updatedEvents, ev)
	return nil
}

type fakeLookup struct {
	resp  *batchdata.LookupResponse
	err   error
	calls int
}

func (f *fakeLookup) Lookup(_ context.Context, _ batchdata.LookupRequest) (*batchdata.LookupResponse, error) {
	f.calls++
	return f.resp, f.err
}

type fakeAnalysis struct {
	text  string
	err   error
	calls int
}

func (f *fakeAnalysis) AnalyzeLead(_ context.Context, _ analysis.LeadContext) (string, error) {
	f.calls++
	return f.text, f.err
}

func newProcessingLead() *model.Lead {
	now := time.Now().UTC()
	return &model.Lead{
		ID:            "lead-1",
		OwnerID:       "owner-1",
		FirstName:     "Jane",
		LastName:      "Doe",
		StreetAddress: "12 Oak St",
		City:          "Springfield",
		State:         "IL",
		PostalCode:    "62704",
		Status:        model.StatusProcessing,
		UploadedAt:    now,
		UpdatedAt:     now,
	}
}

func createdEvent(l *model.Lead) model.LeadEvent {
	cp := *l
	return model.LeadEvent{
		Kind:       model.EventLeadCreated,
		OwnerID:    l.OwnerID,
		LeadID:     l.ID,
		After:      &cp,
		OccurredAt: time.Now().UTC(),
	}
}

func personWith(numbers ...batchdata.PhoneNumber) *batchdata.LookupResponse {
	return &batchdata.LookupResponse{
		Results: batchdata.Results{
			Persons: []batchdata.Person{{
				Name:         batchdata.PersonName{First: "Jane", Last: "Doe"},
				PhoneNumbers: numbers,
			}},
		},
	}
}
