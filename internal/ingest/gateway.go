// Package ingest accepts inbound email from the HTTP and SMTP transports,
// validates the recipient, applies the per-realm rate limit and queues the
// message for processing.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/metrics"
	"email-mirror-gateway/internal/models"
	"email-mirror-gateway/internal/queue"
	"email-mirror-gateway/internal/ratelimit"
)

const badDestination = "5.1.1 Bad destination mailbox address: "

// RecipientValidator checks that an address routes somewhere and returns its realm.
type RecipientValidator interface {
	ValidateRecipient(ctx context.Context, rcptTo string) (string, error)
}

// Publisher hands a job to the processing queue.
type Publisher interface {
	Publish(ctx context.Context, job queue.Job) error
}

// Response is the result of a mirror request.
type Response struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

// Gateway accepts inbound mail for processing.
type Gateway struct {
	validator RecipientValidator
	limiter   ratelimit.Limiter
	publisher Publisher
}

// NewGateway creates a Gateway.
func NewGateway(validator RecipientValidator, limiter ratelimit.Limiter, publisher Publisher) *Gateway {
	return &Gateway{
		validator: validator,
		limiter:   limiter,
		publisher: publisher,
	}
}

// Accept validates rcptTo and counts it against its realm's rate limit.
// It returns models.ErrThrottled when the realm is over its limit.
func (g *Gateway) Accept(ctx context.Context, rcptTo string) error {
	realm, err := g.validator.ValidateRecipient(ctx, rcptTo)
	if err != nil {
		return err
	}

	allowed, err := g.limiter.Allow(ctx, ratelimit.RealmKey(realm))
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		logging.Log.Warnf("Email mirror rate limit exceeded for realm %s", realm)
		return models.Errorf(models.ErrThrottled, "realm %s", realm)
	}
	return nil
}

// Enqueue queues an accepted message for processing.
func (g *Gateway) Enqueue(ctx context.Context, rcptTo, msgText string) error {
	return g.publisher.Publish(ctx, queue.Job{Message: msgText, RcptTo: rcptTo})
}

// Mirror accepts and queues one message. An unroutable recipient yields an
// error Response rather than an error; throttling and infrastructure failures
// are returned as errors.
func (g *Gateway) Mirror(ctx context.Context, transport, rcptTo, msgText string) (Response, error) {
	if err := g.Accept(ctx, rcptTo); err != nil {
		switch {
		case errors.Is(err, models.ErrThrottled):
			metrics.IngestInc(transport, "throttled")
			return Response{}, err
		case models.IsDomainError(err):
			metrics.IngestInc(transport, "rejected")
			return Response{Status: "error", Msg: badDestination + err.Error()}, nil
		}
		metrics.IngestInc(transport, "error")
		return Response{}, err
	}

	if err := g.Enqueue(ctx, rcptTo, msgText); err != nil {
		metrics.IngestInc(transport, "error")
		return Response{}, err
	}
	metrics.IngestInc(transport, "ok")
	return Response{Status: "success"}, nil
}
