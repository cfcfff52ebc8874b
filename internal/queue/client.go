package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

// Client enqueues analysis work. It implements analysis.Dispatcher.
type Client struct {
	client *asynq.Client
	cfg    config.QueueConfig
}

// RedisOpt converts a redis:// URL into asynq connection options.
func RedisOpt(url string) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opt, nil
}

func NewClient(redisURL string, cfg config.QueueConfig) (*Client, error) {
	opt, err := RedisOpt(redisURL)
	if err != nil {
		return nil, err
	}
	return &Client{client: asynq.NewClient(opt), cfg: cfg}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Dispatch(ctx context.Context, t analysis.Task) error {
	return c.EnqueueAnalysis(ctx, payloadFor(t))
}

// EnqueueAnalysis queues one analysis. The job id doubles as the task id, so
// a second enqueue of the same job is rejected by the broker.
func (c *Client) EnqueueAnalysis(ctx context.Context, payload AnalysisRunPayload) error {
	opts := []asynq.Option{
		asynq.TaskID(payload.JobID),
		asynq.Queue(c.cfg.Name),
		asynq.MaxRetry(c.cfg.MaxRetry),
	}
	if c.cfg.TaskTimeout > 0 {
		opts = append(opts, asynq.Timeout(c.cfg.TaskTimeout))
	}
	if c.cfg.Retention > 0 {
		opts = append(opts, asynq.Retention(c.cfg.Retention))
	}
	return c.enqueue(ctx, TypeAnalysisRun, payload, opts...)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
