package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
)

type fakeStore struct {
	store.Store

	counts    store.StatusCounts
	countsErr error
	stuck     int
	stuckErr  error

	gotSince     time.Time
	gotOlderThan time.Time
}

func (f *fakeStore) CountByStatus(_ context.Context, since time.Time) (store.StatusCounts, error) {
	f.gotSince = since
	return f.counts, f.countsErr
}

func (f *fakeStore) CountStuckProcessing(_ context.Context, olderThan time.Time) (int, error) {
	f.gotOlderThan = olderThan
	return f.stuck, f.stuckErr
}

func TestCollector_Collect(t *testing.T) {
	st := &fakeStore{
		counts: store.StatusCounts{
			model.StatusProcessing:      2,
			model.StatusCompleted:       5,
			model.StatusAnalyzed:        10,
			model.StatusSkiptraceFailed: 4,
			model.StatusMalformedData:   1,
		},
		stuck: 3,
	}

	c := NewCollector(st, 30*time.Minute)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 22, snap.Total)
	assert.Equal(t, 2, snap.Processing)
	assert.Equal(t, 5, snap.Completed)
	assert.Equal(t, 10, snap.Analyzed)
	assert.Equal(t, 4, snap.Failed)
	assert.Equal(t, 1, snap.MalformedData)
	assert.Equal(t, 3, snap.StuckProcessing)
	assert.Equal(t, 24, snap.LookbackHours)

	// 20 finished, 5 of them failed.
	assert.InDelta(t, 0.25, snap.FailRate, 0.0001)

	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), st.gotSince, time.Minute)
	assert.WithinDuration(t, time.Now().UTC().Add(-30*time.Minute), st.gotOlderThan, time.Minute)
}

func TestCollector_Collect_EmptyWindow(t *testing.T) {
	c := NewCollector(&fakeStore{counts: store.StatusCounts{}}, time.Hour)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.Total)
	assert.Zero(t, snap.FailRate)
}

func TestCollector_Collect_StoreError(t *testing.T) {
	c := NewCollector(&fakeStore{countsErr: assert.AnError}, time.Hour)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
}
