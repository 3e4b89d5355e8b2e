package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DeliveriesTopic carries one DeliveryJob per campaign that is due.
const DeliveriesTopic = "campaign_deliveries"

// DeliveryJob asks a worker to deliver one campaign.
type DeliveryJob struct {
	CampaignID int `json:"campaign_id"`
}

// Handler processes one message. A returned error asks for a retry.
type Handler func(ctx context.Context, payload []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler Handler) error
}

// PublishDelivery encodes job and publishes it on DeliveriesTopic.
func PublishDelivery(ctx context.Context, q Queue, job DeliveryJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.Publish(ctx, DeliveriesTopic, payload)
}

// DecodeDelivery is the inverse of PublishDelivery.
func DecodeDelivery(payload []byte) (DeliveryJob, error) {
	var job DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("decode delivery job: %w", err)
	}
	if job.CampaignID <= 0 {
		return job, fmt.Errorf("delivery job without campaign id: %s", payload)
	}
	return job, nil
}

// InMemoryQueue is an in-process queue with retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	wg       sync.WaitGroup

	MaxRetries int
	// Backoff is the base delay; attempt n waits n*Backoff.
	Backoff time.Duration
	Log     *slog.Logger
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *slog.Logger) *InMemoryQueue {
	if log == nil {
		log = slog.Default()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Log:        log,
	}
}

// job wraps a message payload with retry info
type job struct {
	topic      string
	payload    []byte
	retryCount int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(context.WithoutCancel(ctx), handler, job{topic: topic, payload: payload})
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, handler Handler, j job) {
	defer q.wg.Done()
	for j.retryCount <= q.MaxRetries {
		err := handler(ctx, j.payload)
		if err == nil {
			q.Log.Debug("Job processed", "topic", j.topic, "payload", string(j.payload))
			return // ACK
		}

		j.retryCount++
		q.Log.Warn("Job failed", "topic", j.topic, "attempt", j.retryCount,
			"max_retries", q.MaxRetries, "payload", string(j.payload), "err", err)

		if j.retryCount > q.MaxRetries {
			q.Log.Error("Job permanently failed", "topic", j.topic, "attempts", j.retryCount,
				"payload", string(j.payload))
			return // No requeue
		}

		time.Sleep(time.Duration(j.retryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished or given up.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
