package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
)

type fakeStore struct {
	store.Store

	created   []model.Lead
	createErr error
}

func (f *fakeStore) CreateLeads(_ context.Context, leads []model.Lead) ([]model.Lead, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, leads...)
	return leads, nil
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
	f.updatedEvents = append(f.updatedEvents, ev)
	return nil
}

const validCSV = `First Name,Last Name,Street Address,City,State,Postal Code
Jane,Doe,12 Oak St,Springfield,IL,62704
John,Smith,99 Elm Ave,Decatur,IL,62521
`

func TestIngest_StoresAndPublishes(t *testing.T) {
	st := &fakeStore{}
	pub := &fakePublisher{}
	ing := New(st, pub, 500)

	result, err := ing.Ingest(context.Background(), "owner-1", strings.NewReader(validCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Dropped)

	require.Len(t, st.created, 2)
	for _, l := range st.created {
		assert.NotEmpty(t, l.ID)
		assert.Equal(t, "owner-1", l.OwnerID)
		assert.Equal(t, model.StatusProcessing, l.Status)
		assert.WithinDuration(t, time.Now().UTC(), l.UploadedAt, time.Minute)
	}

	require.Len(t, pub.createdEvents, 2)
	ev := pub.createdEvents[0]
	assert.Equal(t, "owner-1", ev.OwnerID)
	assert.Equal(t, st.created[0].ID, ev.LeadID)
	require.NotNil(t, ev.After)
	assert.Equal(t, "Jane", ev.After.FirstName)
}

func TestIngest_ChunksBatches(t *testing.T) {
	var rows []string
	rows = append(rows, "First Name,Last Name,Street Address,City,State,Postal Code")
	for i := 0; i < 5; i++ {
		rows = append(rows, "Jane,Doe,12 Oak St,Springfield,IL,62704")
	}

	st := &fakeStore{}
	pub := &fakePublisher{}
	ing := New(st, pub, 2)

	result, err := ing.Ingest(context.Background(), "owner-1", strings.NewReader(strings.Join(rows, "\n")))
	require.NoError(t, err)
	assert.Equal(t, 5, result.Created)
	assert.Len(t, pub.createdEvents, 5)
}

func TestIngest_NoValidLeads(t *testing.T) {
	csv := `First Name,Last Name,Street Address,City,State,Postal Code
,,99 Elm Ave,Decatur,IL,62521
`
	ing := New(&fakeStore{}, &fakePublisher{}, 500)

	_, err := ing.Ingest(context.Background(), "owner-1", strings.NewReader(csv))
	require.ErrorIs(t, err, ErrNoValidLeads)
}

func TestIngest_RequiresOwner(t *testing.T) {
	ing := New(&fakeStore{}, &fakePublisher{}, 500)

	_, err := ing.Ingest(context.Background(), "", strings.NewReader(validCSV))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner id is required")
}

func TestIngest_StoreFailureSurfaces(t *testing.T) {
	st := &fakeStore{createErr: assert.AnError}
	ing := New(st, &fakePublisher{}, 500)

	result, err := ing.Ingest(context.Background(), "owner-1", strings.NewReader(validCSV))
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Created)
}
