package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope wraps a queued payload with delivery metadata. The consumer side
// decodes the same structure, so ID survives the round trip and can be used
// for tracing a message across process boundaries.
type Envelope struct {
	ID       string          `json:"id"`
	Queue    string          `json:"queue"`
	Attempt  int             `json:"attempt"`
	Enqueued time.Time       `json:"enqueued"`
	Payload  json.RawMessage `json:"payload"`
}

// Publisher pushes JSON envelopes onto a named Redis list. Delivery is
// at-least-once: a consumer crash after BLPOP loses nothing the caller has
// not already re-scanned for.
type Publisher struct {
	client *redis.Client
	queue  string
	logger *zap.Logger
}

// NewPublisher builds a publisher bound to one queue name.
func NewPublisher(client *redis.Client, queue string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, queue: queue, logger: logger}
}

// Publish marshals the payload and pushes it, returning the message ID.
func (p *Publisher) Publish(ctx context.Context, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		ID:       uuid.NewString(),
		Queue:    p.queue,
		Enqueued: time.Now().UTC(),
		Payload:  raw,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.client.LPush(ctx, p.queue, body).Err(); err != nil {
		return "", fmt.Errorf("lpush %s: %w", p.queue, err)
	}
	return env.ID, nil
}
