package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/model"
)

// Handler processes a single delivered event. A returned error signals an
// infrastructure failure (store or broker); the delivery is requeued and
// the idempotency guards in the handler absorb the repeat. Business
// outcomes, including failed enrichment, are not errors.
type Handler func(ctx context.Context, ev model.LeadEvent) error

// Consume reads from the named queue and dispatches each delivery to the
// handler, blocking until ctx is cancelled or the channel closes.
//
// Acknowledgement policy: malformed payloads are rejected without requeue
// and dead-letter into the DLQ; handler errors are requeued for another
// attempt; everything else is acked.
func (b *Bus) Consume(ctx context.Context, queue string, handler Handler) error {
	deliveries, err := b.ch.ConsumeWithContext(ctx,
		queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		zap.L().Error("events: register consumer failed",
			zap.String("queue", queue),
			zap.Error(err),
		)
		return err
	}

	log := zap.L().With(zap.String("queue", queue))
	log.Info("events: consumer started")

	for {
		select {
		case <-ctx.Done():
			log.Info("events: consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				log.Warn("events: delivery channel closed")
				return nil
			}

			var ev model.LeadEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Error("events: malformed event payload", zap.Error(err))
				_ = d.Nack(false, false) // dead-letter, do not block the queue
				continue
			}

			if err := handler(ctx, ev); err != nil {
				log.Error("events: handler failed, requeueing",
					zap.String("lead_id", ev.LeadID),
					zap.String("kind", string(ev.Kind)),
					zap.Error(err),
				)
				_ = d.Nack(false, true)
				continue
			}

			_ = d.Ack(false)
		}
	}
}
