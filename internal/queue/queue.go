package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SendJob is the message placed on the send queue, one per email. The
// consumer loads the row by id, so the job stays tiny and replayable.
type SendJob struct {
	EmailID string `json:"emailId"`
}

// Handler processes one send job. A non-nil error requeues the job until the
// retry budget runs out.
type Handler func(ctx context.Context, job SendJob) error

// Queue moves send jobs between the API/dispatcher and the delivery worker.
type Queue interface {
	Publish(ctx context.Context, job SendJob) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

const maxRetries = 3

// InMemoryQueue runs jobs in-process with the same retry behavior as the
// AMQP queue. Used in development and tests.
type InMemoryQueue struct {
	Log *logrus.Logger

	mu      sync.Mutex
	handler Handler
	wg      sync.WaitGroup
}

func NewInMemoryQueue(log *logrus.Logger) *InMemoryQueue {
	return &InMemoryQueue{Log: log}
}

// Publish hands the job to the registered consumer on a fresh goroutine.
func (q *InMemoryQueue) Publish(ctx context.Context, job SendJob) error {
	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()

	if handler == nil {
		return fmt.Errorf("no consumer registered for send queue")
	}

	q.wg.Add(1)
	go q.processJob(handler, job)
	return nil
}

// processJob retries with linear backoff before giving up.
func (q *InMemoryQueue) processJob(handler Handler, job SendJob) {
	defer q.wg.Done()

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := handler(context.Background(), job)
		if err == nil {
			return
		}

		if q.Log != nil {
			q.Log.WithFields(logrus.Fields{
				"emailId": job.EmailID,
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("send job failed")
		}

		if attempt == maxRetries {
			if q.Log != nil {
				q.Log.WithField("emailId", job.EmailID).Error("send job permanently failed")
			}
			return
		}

		time.Sleep(time.Duration(attempt*500) * time.Millisecond)
	}
}

// Consume registers the handler and blocks until the context ends.
func (q *InMemoryQueue) Consume(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()

	<-ctx.Done()
	return nil
}

// Close waits for in-flight jobs to finish.
func (q *InMemoryQueue) Close() error {
	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)
