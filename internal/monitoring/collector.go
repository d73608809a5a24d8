// Package monitoring watches pipeline health: per-status lead counts over
// a lookback window, the skiptrace failure rate, and leads stuck in
// Processing past a threshold.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Lead counts within the lookback window, by status.
	Total         int `json:"total"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Analyzed      int `json:"analyzed"`
	Failed        int `json:"failed"`
	MalformedData int `json:"malformed_data"`

	// FailRate is terminal failures over finished leads.
	FailRate float64 `json:"fail_rate"`

	// StuckProcessing counts leads left in Processing past the stuck
	// threshold, regardless of the lookback window. A non-zero value
	// usually means lost deliveries or a dead worker.
	StuckProcessing int `json:"stuck_processing"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the lead store.
type Collector struct {
	store         store.Store
	stuckDuration time.Duration
}

// NewCollector creates a metrics collector. stuckDuration is how long a
// lead may sit in Processing before it counts as stuck.
func NewCollector(st store.Store, stuckDuration time.Duration) *Collector {
	return &Collector{store: st, stuckDuration: stuckDuration}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.store.CountByStatus(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by status")
	}

	for status, n := range counts {
		snap.Total += n
		switch status {
		case model.StatusProcessing:
			snap.Processing += n
		case model.StatusCompleted:
			snap.Completed += n
		case model.StatusAnalyzed:
			snap.Analyzed += n
		case model.StatusSkiptraceFailed:
			snap.Failed += n
		case model.StatusMalformedData:
			snap.MalformedData += n
		}
	}

	finished := snap.Completed + snap.Analyzed + snap.Failed + snap.MalformedData
	if finished > 0 {
		snap.FailRate = float64(snap.Failed+snap.MalformedData) / float64(finished)
	}

	stuck, err := c.store.CountStuckProcessing(ctx, time.Now().UTC().Add(-c.stuckDuration))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count stuck leads")
	}
	snap.StuckProcessing = stuck

	return snap, nil
}
