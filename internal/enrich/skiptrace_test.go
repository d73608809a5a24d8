package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/pkg/batchdata"
)

func TestHandleCreated_PrefersTestedReachableMobile(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	pub := &fakePublisher{}
	client := &fakeLookup{resp: personWith(
		batchdata.PhoneNumber{Number: "555-9999", Type: "Land Line", Tested: true, Reachable: true},
		batchdata.PhoneNumber{Number: "555-2222", Type: "Mobile"},
		batchdata.PhoneNumber{Number: "555-1111", Type: "Mobile", Tested: true, Reachable: true, Score: 98},
	)}

	s := NewSkiptracer(st, client, pub)
	err := s.HandleCreated(context.Background(), createdEvent(st.lead))
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, st.lead.Status)
	assert.Equal(t, "555-1111", st.lead.Phone())
	assert.Empty(t, st.lead.Error)

	require.Len(t, pub.updatedEvents, 1)
	ev := pub.updatedEvents[0]
	assert.Equal(t, model.StatusProcessing, ev.Before.Status)
	assert.Equal(t, model.StatusCompleted, ev.After.Status)
	assert.Equal(t, "555-1111", ev.After.Phone())
}

func TestHandleCreated_FallsBackToFirstMobileWithNumber(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{resp: personWith(
		batchdata.PhoneNumber{Number: "", Type: "Mobile", Tested: true, Reachable: true},
		batchdata.PhoneNumber{Number: "555-2222", Type: "Mobile"},
		batchdata.PhoneNumber{Number: "555-3333", Type: "Mobile"},
	)}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusCompleted, st.lead.Status)
	assert.Equal(t, "555-2222", st.lead.Phone())
}

func TestHandleCreated_LandlinesOnlyFails(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{resp: personWith(
		batchdata.PhoneNumber{Number: "555-9999", Type: "Land Line", Tested: true, Reachable: true},
	)}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, msgNoMobile, st.lead.Error)
	assert.Nil(t, st.lead.PhoneNumber)
}

func TestHandleCreated_DNCSuppressesAllNumbers(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	resp := personWith(
		batchdata.PhoneNumber{Number: "555-1111", Type: "Mobile", Tested: true, Reachable: true},
	)
	resp.Results.Persons[0].DNC = map[string]any{"federal": true}
	client := &fakeLookup{resp: resp}
	pub := &fakePublisher{}

	s := NewSkiptracer(st, client, pub)
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, msgOnDNC, st.lead.Error)
	// Failure transitions publish update events too.
	require.Len(t, pub.updatedEvents, 1)
}

func TestHandleCreated_OnlyFirstPersonConsidered(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	resp := personWith(
		batchdata.PhoneNumber{Number: "555-9999", Type: "Land Line"},
	)
	resp.Results.Persons = append(resp.Results.Persons, batchdata.Person{
		PhoneNumbers: []batchdata.PhoneNumber{
			{Number: "555-1111", Type: "Mobile", Tested: true, Reachable: true},
		},
	})
	client := &fakeLookup{resp: resp}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, msgNoMobile, st.lead.Error)
}

func TestHandleCreated_NoMatch(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{resp: &batchdata.LookupResponse{
		Results: batchdata.Results{
			Meta: &batchdata.Meta{Results: &batchdata.MetaResults{RequestCount: 1, NoMatchCount: 1}},
		},
	}}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, msgNoMatch, st.lead.Error)
}

func TestHandleCreated_EmptyPersonsWithoutMeta(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{resp: &batchdata.LookupResponse{}}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, msgNoPersonResults, st.lead.Error)
}

func TestHandleCreated_MissingFieldsMalformed(t *testing.T) {
	lead := newProcessingLead()
	lead.PostalCode = ""
	st := &memStore{lead: lead}
	client := &fakeLookup{}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusMalformedData, st.lead.Status)
	assert.Equal(t, msgMissingFields, st.lead.Error)
	assert.Zero(t, client.calls)
}

func TestHandleCreated_UnconfiguredProvider(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}

	s := NewSkiptracer(st, nil, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, msgMissingCreds, st.lead.Error)
}

func TestHandleCreated_APIErrorRecorded(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{err: &batchdata.APIError{StatusCode: 402, Body: `{"status":{"code":402,"text":"insufficient credits"}}`}}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, "API Error 402: insufficient credits", st.lead.Error)
}

func TestHandleCreated_RequestErrorRecorded(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{err: &batchdata.RequestError{Err: errors.New("context deadline exceeded")}}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, "API Request Error: No response received. context deadline exceeded", st.lead.Error)
}

func TestHandleCreated_TransientErrorCallsProviderOnce(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{err: &batchdata.RequestError{Err: errors.New("read tcp: i/o timeout")}}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, "API Request Error: No response received. read tcp: i/o timeout", st.lead.Error)
}

func TestHandleCreated_UnexpectedErrorRecorded(t *testing.T) {
	st := &memStore{lead: newProcessingLead()}
	client := &fakeLookup{err: errors.New("marshal blew up")}

	s := NewSkiptracer(st, client, &fakePublisher{})
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Equal(t, model.StatusSkiptraceFailed, st.lead.Status)
	assert.Equal(t, "API Config Error: marshal blew up", st.lead.Error)
}

func TestHandleCreated_RedeliveryIsNoOp(t *testing.T) {
	lead := newProcessingLead()
	phone := "555-1111"
	lead.PhoneNumber = &phone
	lead.Status = model.StatusCompleted
	st := &memStore{lead: lead}
	client := &fakeLookup{}
	pub := &fakePublisher{}

	s := NewSkiptracer(st, client, pub)
	require.NoError(t, s.HandleCreated(context.Background(), createdEvent(st.lead)))

	assert.Zero(t, client.calls)
	assert.Empty(t, pub.updatedEvents)
	assert.Equal(t, "555-1111", st.lead.Phone())
}

func TestHandleCreated_MissingLeadDropped(t *testing.T) {
	st := &memStore{}
	s := NewSkiptracer(st, &fakeLookup{}, &fakePublisher{})

	ev := createdEvent(newProcessingLead())
	require.NoError(t, s.HandleCreated(context.Background(), ev))
	assert.Zero(t, st.completeCalls)
	assert.Zero(t, st.failCalls)
}

func TestHandleCreated_StoreErrorRequeues(t *testing.T) {
	st := &memStore{getErr: assert.AnError}
	s := NewSkiptracer(st, &fakeLookup{}, &fakePublisher{})

	err := s.HandleCreated(context.Background(), createdEvent(newProcessingLead()))
	require.Error(t, err)
}
