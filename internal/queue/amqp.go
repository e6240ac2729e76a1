package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"
)

const campaignQueue = "campaign_jobs"

// maxDeliveries caps redeliveries of a failing job before it is dropped.
// Per-contact failures never reach here; only wholesale job failures do.
const maxDeliveries = 3

// AMQP is the RabbitMQ-backed queue. The queue is declared durable and
// messages are published persistent, so enqueued campaigns survive broker
// and process restarts.
type AMQP struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger
}

func DialAMQP(url string, log *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(campaignQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", campaignQueue, err)
	}
	return &AMQP{conn: conn, ch: ch, log: log}, nil
}

func (q *AMQP) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}

func (q *AMQP) PublishCampaignJob(_ context.Context, job CampaignJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.ch.Publish("", campaignQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume drains campaign jobs until ctx is done. Handler errors requeue
// the job with an incremented attempt count until the delivery cap, then
// the job is dropped so a poison job cannot wedge the queue.
func (q *AMQP) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := q.ch.Consume(campaignQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", campaignQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp deliveries channel closed")
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *AMQP) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	var job CampaignJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Error("dropping malformed campaign job", "error", err)
		_ = d.Ack(false)
		return
	}

	if err := handler(ctx, job); err != nil {
		attempt := deliveryAttempt(d) + 1
		if attempt >= maxDeliveries {
			q.log.Error("campaign job permanently failed",
				"campaign_id", job.CampaignID, "deliveries", attempt, "error", err)
			_ = d.Ack(false)
			return
		}
		q.log.Warn("campaign job failed, requeueing",
			"campaign_id", job.CampaignID, "deliveries", attempt, "error", err)
		if pubErr := q.republish(d, attempt); pubErr != nil {
			q.log.Error("republish campaign job", "campaign_id", job.CampaignID, "error", pubErr)
			_ = d.Nack(false, true)
			return
		}
		_ = d.Ack(false)
		return
	}
	_ = d.Ack(false)
}

// republish acks are paired with a fresh publish carrying the attempt count
// in the x-retry-count header. A plain broker nack would redeliver the
// message unchanged and the count could never advance.
func (q *AMQP) republish(d amqp.Delivery, attempt int) error {
	return q.ch.Publish("", campaignQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-retry-count": int32(attempt)},
		Body:         d.Body,
	})
}

// deliveryAttempt returns how many times this job has already been handed
// to a handler. The header is authoritative; the redelivered flag only
// covers a crash between consume and ack, where no header was written.
func deliveryAttempt(d amqp.Delivery) int {
	switch n := d.Headers["x-retry-count"].(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	}
	if d.Redelivered {
		return 1
	}
	return 0
}
