package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"email-mirror-gateway/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rawEmail = "From: alice@example.com\r\nSubject: Hello\r\n\r\nHi there\r\n"

func newRedisQueue(t *testing.T) *Queue {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewQueue(client, "email_mirror")
}

func TestRedisQueue(t *testing.T) {
	ctx := context.Background()
	q := newRedisQueue(t)

	require.NoError(t, q.Publish(ctx, Job{Message: rawEmail, RcptTo: "a@mirror.example.com"}))
	require.NoError(t, q.Publish(ctx, Job{Message: "second"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, Job{Message: rawEmail, RcptTo: "a@mirror.example.com"}, *job)

	job, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "second", job.Message)
	assert.Empty(t, job.RcptTo)
}

func TestRedisQueueEmpty(t *testing.T) {
	job, err := newRedisQueue(t).Pop(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)

	require.NoError(t, q.Publish(ctx, Job{Message: "x", RcptTo: "y"}))

	job, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, &Job{Message: "x", RcptTo: "y"}, job)

	job, err = q.Pop(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, q.Publish(ctx, Job{}))
	assert.ErrorIs(t, q.Publish(canceled, Job{}), context.Canceled)
}

type recordingHandler struct {
	mu     sync.Mutex
	emails []*models.Email
	rcpts  []string
	err    error
	done   chan struct{}
}

func (h *recordingHandler) Process(ctx context.Context, email *models.Email, rcptTo string) error {
	h.mu.Lock()
	h.emails = append(h.emails, email)
	h.rcpts = append(h.rcpts, rcptTo)
	h.mu.Unlock()
	if h.done != nil {
		h.done <- struct{}{}
	}
	return h.err
}

type countingRedactor struct {
	calls int
}

func (r *countingRedactor) Redact(ctx context.Context, text string) string {
	r.calls++
	return text
}

func TestWorkerHandle(t *testing.T) {
	h := &recordingHandler{err: errors.New("boom")}
	r := &countingRedactor{}
	w := NewWorker(NewMemoryQueue(1), h, r, time.Second)

	w.Handle(context.Background(), Job{Message: rawEmail, RcptTo: "a@mirror.example.com"})

	require.Len(t, h.emails, 1)
	assert.Equal(t, "Hello", h.emails[0].Subject)
	assert.Equal(t, "a@mirror.example.com", h.rcpts[0])
	assert.Equal(t, 1, r.calls, "errors are redacted before logging")
}

func TestWorkerRun(t *testing.T) {
	q := NewMemoryQueue(4)
	h := &recordingHandler{done: make(chan struct{}, 4)}
	w := NewWorker(q, h, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	require.NoError(t, q.Publish(ctx, Job{Message: rawEmail}))
	require.NoError(t, q.Publish(ctx, Job{Message: rawEmail, RcptTo: "b@mirror.example.com"}))

	for i := 0; i < 2; i++ {
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Fatal("job was not processed")
		}
	}
	cancel()
	require.NoError(t, <-errc)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"", "b@mirror.example.com"}, h.rcpts)
}
