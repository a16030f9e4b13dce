// Package queue carries raw inbound emails from the transports to the router.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one raw email together with the envelope recipient it was delivered to.
type Job struct {
	Message string `json:"message"`
	RcptTo  string `json:"rcpt_to"`
}

// Queue is a FIFO work queue stored in a Redis list.
type Queue struct {
	client *redis.Client
	name   string
}

// NewQueue creates a Queue on the Redis list name.
func NewQueue(client *redis.Client, name string) *Queue {
	return &Queue{
		client: client,
		name:   name,
	}
}

// Publish appends job to the queue.
func (q *Queue) Publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to add email to queue %s: %w", q.name, err)
	}
	return nil
}

// Pop waits up to timeout for the next job. It returns nil without error when the queue stayed empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email from queue %s: %w", q.name, err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to parse queued job: %w", err)
	}
	return &job, nil
}

// Len returns the number of waiting jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// MemoryQueue is an in-process queue for single instance deployments.
type MemoryQueue struct {
	jobs chan Job
}

// NewMemoryQueue creates a MemoryQueue holding up to size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan Job, size)}
}

// Publish adds job, waiting while the queue is full until ctx is done.
func (q *MemoryQueue) Publish(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits up to timeout for a job. It returns nil, nil on timeout.
func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case job := <-q.jobs:
		return &job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
