package queue

import (
	"context"
	"errors"
	"time"

	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/mailparse"
	"email-mirror-gateway/internal/models"
)

// Consumer hands out queued jobs.
type Consumer interface {
	Pop(ctx context.Context, timeout time.Duration) (*Job, error)
}

// Handler routes one parsed email.
type Handler interface {
	Process(ctx context.Context, email *models.Email, rcptTo string) error
}

// Redactor scrubs gateway addresses from log text.
type Redactor interface {
	Redact(ctx context.Context, text string) string
}

// Worker pops jobs and hands them to a Handler until its context is canceled.
type Worker struct {
	consumer    Consumer
	handler     Handler
	redactor    Redactor
	pollTimeout time.Duration
}

// NewWorker creates a Worker. redactor may be nil.
func NewWorker(consumer Consumer, handler Handler, redactor Redactor, pollTimeout time.Duration) *Worker {
	return &Worker{
		consumer:    consumer,
		handler:     handler,
		redactor:    redactor,
		pollTimeout: pollTimeout,
	}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	logging.Log.Info("Queue worker started")
	for {
		job, err := w.consumer.Pop(ctx, w.pollTimeout)
		if ctx.Err() != nil {
			logging.Log.Info("Queue worker stopped")
			return nil
		}
		if err != nil {
			logging.Log.Errorf("Error reading queue: %v", err)
			// Avoid spinning on a broken connection.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if job == nil {
			continue
		}

		w.Handle(ctx, *job)
	}
}

// Handle parses and processes a single job. Failures are logged, never retried.
func (w *Worker) Handle(ctx context.Context, job Job) {
	email, err := mailparse.ParseBytes([]byte(job.Message))
	if err != nil {
		logging.Log.WithField("trace_id", "unknown").Errorf("Error parsing queued email: %v", err)
		return
	}

	if err := w.handler.Process(ctx, email, job.RcptTo); err != nil {
		text := err.Error()
		if w.redactor != nil {
			text = w.redactor.Redact(ctx, text)
		}
		if errors.Is(err, context.Canceled) {
			logging.Log.WithField("trace_id", email.TraceID).Warnf("Processing interrupted: %s", text)
			return
		}
		logging.Log.WithField("trace_id", email.TraceID).Errorf("Error processing email: %s", text)
	}
}
