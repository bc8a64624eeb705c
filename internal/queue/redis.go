package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	topicPrefix      = "leadgen:queue:"
	processingSuffix = ":processing"
)

// Redis implements Queue on Redis lists. Publish is LPUSH; Receive is
// BRPOPLPUSH onto the processing list so a crashed worker leaves its
// message recoverable.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing Redis client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func topicKey(topic string) string      { return topicPrefix + topic }
func processingKey(topic string) string { return topicPrefix + topic + processingSuffix }

func (q *Redis) Publish(ctx context.Context, topic string, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, topicKey(topic), raw).Err(); err != nil {
		return eris.Wrapf(err, "queue: publish to %s", topic)
	}
	return nil
}

func (q *Redis) Receive(ctx context.Context, topic string, timeout time.Duration) (Delivery, bool, error) {
	raw, err := q.client.BRPopLPush(ctx, topicKey(topic), processingKey(topic), timeout).Result()
	if err == redis.Nil {
		return Delivery{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return Delivery{}, false, ctx.Err()
		}
		return Delivery{}, false, eris.Wrapf(err, "queue: receive from %s", topic)
	}

	msg, err := DecodeMessage(raw)
	if err != nil {
		// Poison payload: drop it from processing and report.
		if remErr := q.client.LRem(ctx, processingKey(topic), 1, raw).Err(); remErr != nil {
			zap.L().Error("queue: drop poison message", zap.String("topic", topic), zap.Error(remErr))
		}
		return Delivery{}, false, err
	}
	return Delivery{Message: msg, raw: raw}, true, nil
}

func (q *Redis) Ack(ctx context.Context, topic string, d Delivery) error {
	if err := q.client.LRem(ctx, processingKey(topic), 1, d.raw).Err(); err != nil {
		return eris.Wrapf(err, "queue: ack on %s", topic)
	}
	return nil
}

func (q *Redis) Nack(ctx context.Context, topic string, d Delivery) error {
	msg := d.Message
	msg.Attempt++
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey(topic), 1, d.raw)
	pipe.LPush(ctx, topicKey(topic), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "queue: nack on %s", topic)
	}
	return nil
}

func (q *Redis) ReclaimStale(ctx context.Context, topic string) (int, error) {
	moved := 0
	for {
		raw, err := q.client.RPopLPush(ctx, processingKey(topic), topicKey(topic)).Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, eris.Wrapf(err, "queue: reclaim %s", topic)
		}
		_ = raw
		moved++
	}
}

func (q *Redis) Depth(ctx context.Context, topic string) (int64, int64, error) {
	pending, err := q.client.LLen(ctx, topicKey(topic)).Result()
	if err != nil {
		return 0, 0, eris.Wrapf(err, "queue: depth of %s", topic)
	}
	processing, err := q.client.LLen(ctx, processingKey(topic)).Result()
	if err != nil {
		return 0, 0, eris.Wrapf(err, "queue: depth of %s processing", topic)
	}
	return pending, processing, nil
}
