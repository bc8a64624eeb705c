package queue

import (
	"context"
	"sync"
	"time"
)

// Memory implements Queue in-process, for tests and single-node dev
// runs without Redis.
type Memory struct {
	mu         sync.Mutex
	pending    map[string][]string
	processing map[string][]string
	wake       map[string]chan struct{}
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		pending:    make(map[string][]string),
		processing: make(map[string][]string),
		wake:       make(map[string]chan struct{}),
	}
}

func (q *Memory) wakeChan(topic string) chan struct{} {
	ch, ok := q.wake[topic]
	if !ok {
		ch = make(chan struct{}, 1)
		q.wake[topic] = ch
	}
	return ch
}

func (q *Memory) Publish(_ context.Context, topic string, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.pending[topic] = append(q.pending[topic], raw)
	ch := q.wakeChan(topic)
	q.mu.Unlock()

	select {
	case ch <- struct{}{}:
	default:
	}
	return nil
}

func (q *Memory) Receive(ctx context.Context, topic string, timeout time.Duration) (Delivery, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if items := q.pending[topic]; len(items) > 0 {
			raw := items[0]
			q.pending[topic] = items[1:]
			q.processing[topic] = append(q.processing[topic], raw)
			q.mu.Unlock()

			msg, err := DecodeMessage(raw)
			if err != nil {
				return Delivery{}, false, err
			}
			return Delivery{Message: msg, raw: raw}, true, nil
		}
		ch := q.wakeChan(topic)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, false, ctx.Err()
		case <-deadline.C:
			return Delivery{}, false, nil
		case <-ch:
		}
	}
}

func (q *Memory) Ack(_ context.Context, topic string, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing[topic] = removeFirst(q.processing[topic], d.raw)
	return nil
}

func (q *Memory) Nack(ctx context.Context, topic string, d Delivery) error {
	q.mu.Lock()
	q.processing[topic] = removeFirst(q.processing[topic], d.raw)
	q.mu.Unlock()

	msg := d.Message
	msg.Attempt++
	return q.Publish(ctx, topic, msg)
}

func (q *Memory) ReclaimStale(_ context.Context, topic string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	stale := q.processing[topic]
	q.processing[topic] = nil
	q.pending[topic] = append(q.pending[topic], stale...)
	return len(stale), nil
}

func (q *Memory) Depth(_ context.Context, topic string) (int64, int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending[topic])), int64(len(q.processing[topic])), nil
}

func removeFirst(items []string, target string) []string {
	for i, item := range items {
		if item == target {
			return append(items[:i:i], items[i+1:]...)
		}
	}
	return items
}
