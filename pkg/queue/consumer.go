package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultPollTimeout = 1 * time.Second

// Handler processes one decoded envelope.
type Handler func(context.Context, Envelope) error

// ConsumerConfig tunes the worker pool.
type ConsumerConfig struct {
	Workers     int
	PollTimeout time.Duration
	Logger      *zap.Logger
}

// Consumer runs a BLPOP loop against a named Redis list and fans messages
// out to a fixed pool of workers.
type Consumer struct {
	client  *redis.Client
	queue   string
	handler Handler

	workers     int
	pollTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewConsumer builds a consumer for the named queue.
func NewConsumer(client *redis.Client, queue string, handler Handler, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Consumer{
		client:      client,
		queue:       queue,
		handler:     handler,
		workers:     cfg.Workers,
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
	}
}

// Start launches the worker pool. Safe to call once.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.started = true
	c.logger.Sugar().Infow("consumer started", "queue", c.queue, "workers", c.workers)
}

// Stop cancels workers and waits for in-flight handlers to finish.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Sugar().Infow("consumer stopped", "queue", c.queue)
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := c.client.BLPop(ctx, c.pollTimeout, c.queue).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				c.logger.Sugar().Errorw("blpop failed", "queue", c.queue, "error", err)
			}
			continue
		}
		if len(item) < 2 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(item[1]), &env); err != nil {
			c.logger.Sugar().Errorw("invalid envelope, dropping", "queue", c.queue, "error", err)
			continue
		}

		if err := c.handler(ctx, env); err != nil {
			c.logger.Sugar().Warnw("handler failed", "queue", c.queue, "message_id", env.ID, "attempt", env.Attempt, "error", err)
		}
	}
}
