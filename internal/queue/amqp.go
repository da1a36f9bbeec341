package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPQueue is the RabbitMQ-backed send queue used in deployments. Jobs are
// published persistent on a durable queue and acked manually; failed jobs are
// republished with an incremented x-retry-count header until the budget runs
// out.
type AMQPQueue struct {
	Log *logrus.Logger

	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

func NewAMQPQueue(url, queueName string, log *logrus.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return &AMQPQueue{Log: log, conn: conn, channel: ch, queueName: queueName}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, job SendJob) error {
	return q.publish(job, 0)
}

func (q *AMQPQueue) publish(job SendJob, retryCount int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal send job: %w", err)
	}

	err = q.channel.Publish("", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-retry-count": int32(retryCount)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish send job: %w", err)
	}
	return nil
}

func (q *AMQPQueue) Consume(ctx context.Context, handler Handler) error {
	msgs, err := q.channel.Consume(
		q.queueName,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("send queue delivery channel closed")
			}
			q.handleDelivery(ctx, handler, d)
		}
	}
}

func (q *AMQPQueue) handleDelivery(ctx context.Context, handler Handler, d amqp.Delivery) {
	var job SendJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.Log.WithField("error", err.Error()).Warn("dropping malformed send job")
		d.Ack(false)
		return
	}

	if err := handler(ctx, job); err != nil {
		retries := retryCount(d.Headers)
		if retries >= maxRetries {
			q.Log.WithFields(logrus.Fields{
				"emailId": job.EmailID,
				"error":   err.Error(),
			}).Error("send job permanently failed")
			d.Ack(false)
			return
		}

		q.Log.WithFields(logrus.Fields{
			"emailId": job.EmailID,
			"attempt": retries + 1,
			"error":   err.Error(),
		}).Warn("send job failed, requeueing")

		if pubErr := q.publish(job, retries+1); pubErr != nil {
			// Could not republish with the bumped counter; fall back to a
			// plain requeue so the job is not lost.
			d.Nack(false, true)
			return
		}
		d.Ack(false)
		return
	}

	d.Ack(false)
}

// retryCount reads x-retry-count, tolerating the integer widths the broker
// may hand back.
func retryCount(headers amqp.Table) int {
	v, ok := headers["x-retry-count"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

var _ Queue = (*AMQPQueue)(nil)
