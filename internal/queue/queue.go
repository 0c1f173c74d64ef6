package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SalesLeadTopic carries high value carts to the sales team.
const SalesLeadTopic = "sales_followups"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// SalesLead is published for every HIGH tier cart that received outreach.
type SalesLead struct {
	CartID        int64     `json:"cart_id"`
	CheckoutID    string    `json:"checkout_id"`
	CustomerName  string    `json:"customer_name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Location      string    `json:"location"`
	Total         float64   `json:"total"`
	Currency      string    `json:"currency"`
	Tier          string    `json:"tier"`
	AbandonedAt   time.Time `json:"abandoned_at"`
	OutreachAt    time.Time `json:"outreach_at"`
	OutreachState string    `json:"outreach_status"`
}

// DecodeSalesLead accepts the in-memory struct or a JSON body from a broker.
func DecodeSalesLead(payload any) (SalesLead, error) {
	switch p := payload.(type) {
	case SalesLead:
		return p, nil
	case *SalesLead:
		if p == nil {
			return SalesLead{}, fmt.Errorf("nil sales lead")
		}
		return *p, nil
	case []byte:
		return unmarshalLead(p)
	case json.RawMessage:
		return unmarshalLead(p)
	default:
		return SalesLead{}, fmt.Errorf("unexpected sales lead payload %T", payload)
	}
}

func unmarshalLead(body []byte) (SalesLead, error) {
	var lead SalesLead
	if err := json.Unmarshal(body, &lead); err != nil {
		return SalesLead{}, fmt.Errorf("decode sales lead: %w", err)
	}
	return lead, nil
}

// InMemoryQueue delivers to local subscribers with retry
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	log        *zap.Logger
	maxRetries int
	backoff    time.Duration
	closed     bool
	inflight   sync.WaitGroup
}

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = errors.New("queue closed")

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		log:        log,
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{
			Topic:      topic,
			Payload:    payload,
			MaxRetries: q.maxRetries,
		}
		q.inflight.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// Close stops accepting jobs and waits for in-flight ones, retries included,
// until ctx is done.
func (q *InMemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue: %w", ctx.Err())
	}
}

func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.inflight.Done()
	for {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.log.Error("job permanently failed",
				zap.String("topic", job.Topic),
				zap.Int("attempts", job.RetryCount),
				zap.Error(err))
			return
		}
		q.log.Warn("job failed, retrying",
			zap.String("topic", job.Topic),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err))

		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// SalesLeadHandler acts on a decoded sales lead.
type SalesLeadHandler interface {
	HandleSalesLead(ctx context.Context, lead SalesLead) error
}

// StartSalesLeadSubscriber routes sales lead messages on topic to h. An empty
// topic means SalesLeadTopic. Undecodable payloads are logged and acknowledged.
func StartSalesLeadSubscriber(ctx context.Context, q Queue, topic string, h SalesLeadHandler, log *zap.Logger) error {
	if topic == "" {
		topic = SalesLeadTopic
	}
	return q.Subscribe(topic, func(payload any) error {
		lead, err := DecodeSalesLead(payload)
		if err != nil {
			log.Warn("dropping invalid sales lead", zap.Error(err))
			return nil
		}
		return h.HandleSalesLead(ctx, lead)
	})
}
