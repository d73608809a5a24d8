// Package events carries lead change notifications over RabbitMQ.
//
// Delivery is at-least-once: the broker may redeliver and may reorder
// relative invocations for the same lead. Stage handlers are written to
// tolerate both; the bus makes no stronger promise.
package events

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
)

const (
	Exchange     = "ex.leads"
	DLX          = "ex.leads.dlx"
	CreatedQueue = "q.leads.created"
	UpdatedQueue = "q.leads.updated"
	DLQ          = "q.leads.dlq"
	DLQKey       = "lead.dead"
)

// Bus wraps an AMQP connection and channel with the lead topology declared.
type Bus struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to RabbitMQ, declares the lead exchange/queue topology and
// applies the consumer prefetch window.
func Dial(url string, prefetch int) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "events: dial amqp")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "events: open channel")
	}

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			conn.Close()
			return nil, eris.Wrap(err, "events: set qos")
		}
	}

	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}

	return &Bus{conn: conn, ch: ch}, nil
}

// declareTopology declares the durable exchanges and queues. Messages
// rejected without requeue dead-letter into the DLQ for inspection.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLX, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "events: declare dlx")
	}
	if _, err := ch.QueueDeclare(DLQ, true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "events: declare dlq")
	}
	if err := ch.QueueBind(DLQ, DLQKey, DLX, false, nil); err != nil {
		return eris.Wrap(err, "events: bind dlq")
	}

	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return eris.Wrap(err, "events: declare exchange")
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    DLX,
		"x-dead-letter-routing-key": DLQKey,
	}
	for queue, key := range map[string]string{
		CreatedQueue: createdKey,
		UpdatedQueue: updatedKey,
	} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return eris.Wrapf(err, "events: declare %s", queue)
		}
		if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
			return eris.Wrapf(err, "events: bind %s", queue)
		}
	}

	return nil
}

// Close releases the channel and connection.
func (b *Bus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
