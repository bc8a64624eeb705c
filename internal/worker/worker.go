// Package worker runs pipeline stages as queue consumers.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgen/internal/queue"
)

// Stage is one pipeline step driven by a queue topic. Process must be
// idempotent: delivery is at-least-once and reclaimed messages replay.
type Stage interface {
	Topic() string
	Process(ctx context.Context, companyID string) error
}

// Config tunes the runner.
type Config struct {
	// Concurrency is the number of consumer goroutines per stage.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// ReceiveTimeout bounds each blocking receive so consumers notice
	// cancellation promptly.
	ReceiveTimeout time.Duration `yaml:"receive_timeout" mapstructure:"receive_timeout"`
	// MaxAttempts caps redelivery of a failing message before it is
	// dropped; the company's status row records the failure.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 4, ReceiveTimeout: 5 * time.Second, MaxAttempts: 3}
}

// Runner consumes topics and dispatches to stages until the context is
// canceled. In-flight work finishes before Run returns.
type Runner struct {
	queue  queue.Queue
	stages []Stage
	cfg    Config
}

// NewRunner creates a runner for the given stages.
func NewRunner(q queue.Queue, cfg Config, stages ...Stage) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Runner{queue: q, stages: stages, cfg: cfg}
}

// Run blocks until ctx is canceled or an unrecoverable queue error
// occurs. Handled processing failures never stop the runner.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, stage := range r.stages {
		for i := 0; i < r.cfg.Concurrency; i++ {
			g.Go(func() error {
				return r.consume(ctx, stage)
			})
		}
	}
	return g.Wait()
}

func (r *Runner) consume(ctx context.Context, stage Stage) error {
	topic := stage.Topic()
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, ok, err := r.queue.Receive(ctx, topic, r.cfg.ReceiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Error("worker: receive failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		r.handle(ctx, stage, d)
	}
}

func (r *Runner) handle(ctx context.Context, stage Stage, d queue.Delivery) {
	topic := stage.Topic()
	companyID := d.Message.CompanyID.String()

	err := stage.Process(ctx, companyID)
	if err == nil {
		if aErr := r.queue.Ack(ctx, topic, d); aErr != nil {
			zap.L().Error("worker: ack failed", zap.String("topic", topic), zap.Error(aErr))
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-process: leave the message on the processing
		// list for reclaim instead of acking a half-done delivery.
		return
	}

	if d.Message.Attempt+1 >= r.cfg.MaxAttempts {
		zap.L().Error("worker: dropping message after max attempts",
			zap.String("topic", topic),
			zap.String("company_id", companyID),
			zap.Int("attempt", d.Message.Attempt),
			zap.Error(err),
		)
		if aErr := r.queue.Ack(ctx, topic, d); aErr != nil {
			zap.L().Error("worker: ack failed", zap.String("topic", topic), zap.Error(aErr))
		}
		return
	}

	zap.L().Warn("worker: requeueing after failure",
		zap.String("topic", topic),
		zap.String("company_id", companyID),
		zap.Int("attempt", d.Message.Attempt),
		zap.Error(err),
	)
	if nErr := r.queue.Nack(ctx, topic, d); nErr != nil {
		zap.L().Error("worker: nack failed", zap.String("topic", topic), zap.Error(nErr))
	}
}
