// Package ingest turns uploaded CSV files into stored leads and kicks
// off enrichment by publishing a created event per stored record.
package ingest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/events"
	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
)

const defaultBatchSize = 500

// Ingestor parses, persists and announces new leads for a single upload.
type Ingestor struct {
	store     store.Store
	publisher events.Publisher
	batchSize int
}

// Result summarizes one upload.
type Result struct {
	Created int
	Dropped int
}

func New(st store.Store, pub events.Publisher, batchSize int) *Ingestor {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Ingestor{store: st, publisher: pub, batchSize: batchSize}
}

// Ingest parses the CSV, assigns identities, stores accepted rows in
// chunks and publishes a created event for every stored lead. Rows the
// store rejects are skipped without aborting the rest of the upload; the
// first storage or publish failure is reported after all chunks have
// been attempted.
func (ing *Ingestor) Ingest(ctx context.Context, ownerID string, r io.Reader) (*Result, error) {
	if ownerID == "" {
		return nil, eris.New("ingest: owner id is required")
	}

	leads, dropped, err := ParseLeads(r)
	if err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, ErrNoValidLeads
	}

	now := time.Now().UTC()
	for i := range leads {
		leads[i].ID = uuid.NewString()
		leads[i].OwnerID = ownerID
		leads[i].Status = model.StatusProcessing
		leads[i].UploadedAt = now
		leads[i].UpdatedAt = now
	}

	result := &Result{Dropped: dropped}
	var firstErr error

	for start := 0; start < len(leads); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(leads) {
			end = len(leads)
		}

		created, err := ing.store.CreateLeads(ctx, leads[start:end])
		if err != nil && firstErr == nil {
			firstErr = eris.Wrap(err, "ingest: store leads")
		}
		result.Created += len(created)

		for i := range created {
			lead := created[i]
			ev := model.LeadEvent{
				OwnerID:    lead.OwnerID,
				LeadID:     lead.ID,
				After:      &lead,
				OccurredAt: time.Now().UTC(),
			}
			if err := ing.publisher.LeadCreated(ctx, ev); err != nil {
				zap.L().Error("publish created event",
					zap.String("leadId", lead.ID),
					zap.Error(err))
				if firstErr == nil {
					firstErr = eris.Wrap(err, "ingest: publish created event")
				}
			}
		}
	}

	zap.L().Info("csv ingested",
		zap.String("ownerId", ownerID),
		zap.Int("created", result.Created),
		zap.Int("dropped", result.Dropped))

	return result, firstErr
}
