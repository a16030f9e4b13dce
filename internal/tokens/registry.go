// Package tokens manages reply-by-email tokens: short-lived, limited-use
// permissions for a user to answer a chat message by email.
package tokens

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"email-mirror-gateway/internal/address"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"

	"github.com/google/uuid"
)

const (
	// Prefix marks reply tokens and keeps them disjoint from channel tokens.
	Prefix = "mm"
	// Length is the total length of a reply token including Prefix.
	Length = len(Prefix) + 32
)

// Store persists reply tokens. Consume must decrement the remaining uses
// atomically and never below zero.
type Store interface {
	Create(ctx context.Context, token *models.ReplyToken) error
	// Get returns ErrTokenNotFound if no record matches.
	Get(ctx context.Context, token string) (*models.ReplyToken, error)
	// Consume uses the token once. It returns ErrTokenNotFound,
	// ErrTokenExpired or ErrTokenExhausted without changing the record
	// when the token cannot be used at now.
	Consume(ctx context.Context, token string, now time.Time, expiry time.Duration) error
}

// Registry mints and validates reply tokens.
type Registry struct {
	store       Store
	codec       *address.Codec
	expiry      time.Duration
	allowedUses int
	noReply     string
	now         func() time.Time
}

// NewRegistry creates a Registry. noReply is returned by Create when the
// gateway has no address pattern.
func NewRegistry(store Store, codec *address.Codec, cfg models.ReplyTokenConfig, noReply string) *Registry {
	return &Registry{
		store:       store,
		codec:       codec,
		expiry:      cfg.Expiry,
		allowedUses: cfg.AllowedUses,
		noReply:     noReply,
		now:         time.Now,
	}
}

// Expiry returns how long a token stays usable after creation.
func (r *Registry) Expiry() time.Duration {
	return r.expiry
}

// Create mints a reply token for user to answer message and returns the
// address that carries it.
func (r *Registry) Create(ctx context.Context, user *models.User, message *models.Message) (string, error) {
	if !r.codec.Configured() {
		logging.Log.Warn("Email gateway pattern is not configured; using the no-reply address")
		return r.noReply, nil
	}

	token := &models.ReplyToken{
		Token:         GenerateToken(),
		UserID:        user.ID,
		MessageID:     message.ID,
		Realm:         user.Realm,
		CreatedAt:     r.now(),
		UsesRemaining: r.allowedUses,
	}
	if err := r.store.Create(ctx, token); err != nil {
		return "", fmt.Errorf("store reply token: %w", err)
	}

	return r.codec.Encode(token.Token, models.DefaultOptions())
}

// Resolve looks up a usable token. Every failure matches models.ErrTokenUnusable.
func (r *Registry) Resolve(ctx context.Context, token string) (*models.ReplyToken, error) {
	rt, err := r.store.Get(ctx, token)
	if errors.Is(err, models.ErrTokenNotFound) {
		return nil, models.NewTokenError(models.ErrTokenNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load reply token: %w", err)
	}

	now := r.now()
	if rt.Expired(now, r.expiry) {
		return nil, models.NewTokenError(models.ErrTokenExpired)
	}
	if rt.UsesRemaining <= 0 {
		return nil, models.NewTokenError(models.ErrTokenExhausted)
	}
	return rt, nil
}

// MarkUsed consumes one use of token. Concurrent callers never use a token
// more often than it was granted.
func (r *Registry) MarkUsed(ctx context.Context, token string) error {
	err := r.store.Consume(ctx, token, r.now(), r.expiry)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrTokenNotFound), errors.Is(err, models.ErrTokenExpired), errors.Is(err, models.ErrTokenExhausted):
		return models.NewTokenError(err)
	}
	return fmt.Errorf("consume reply token: %w", err)
}

// LooksLikeReplyToken reports whether s has the shape of a reply token. It does not perform a lookup.
func LooksLikeReplyToken(s string) bool {
	return len(s) == Length && s[:len(Prefix)] == Prefix
}

// GenerateToken returns a fresh random reply token.
func GenerateToken() string {
	id := uuid.New()
	return Prefix + hex.EncodeToString(id[:])
}
