package events

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadtrace/internal/model"
)

const (
	createdKey = string(model.EventLeadCreated)
	updatedKey = string(model.EventLeadUpdated)
)

// Publisher emits lead change events. Stages depend on this interface so
// tests can capture published events without a broker.
type Publisher interface {
	LeadCreated(ctx context.Context, ev model.LeadEvent) error
	LeadUpdated(ctx context.Context, ev model.LeadEvent) error
}

// LeadCreated publishes a creation event for a newly stored lead.
func (b *Bus) LeadCreated(ctx context.Context, ev model.LeadEvent) error {
	ev.Kind = model.EventLeadCreated
	return b.publish(ctx, createdKey, ev)
}

// LeadUpdated publishes an update event carrying before/after snapshots.
func (b *Bus) LeadUpdated(ctx context.Context, ev model.LeadEvent) error {
	ev.Kind = model.EventLeadUpdated
	return b.publish(ctx, updatedKey, ev)
}

func (b *Bus) publish(ctx context.Context, key string, ev model.LeadEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}

	err = b.ch.PublishWithContext(ctx,
		Exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	return eris.Wrapf(err, "events: publish %s", key)
}
