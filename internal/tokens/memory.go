package tokens

import (
	"context"
	"sync"
	"time"

	"email-mirror-gateway/internal/models"
)

// MemoryStore keeps reply tokens in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]models.ReplyToken
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]models.ReplyToken)}
}

// Create stores a copy of token.
func (s *MemoryStore) Create(ctx context.Context, token *models.ReplyToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = *token
	return nil
}

// Get returns a copy of the stored token.
func (s *MemoryStore) Get(ctx context.Context, token string) (*models.ReplyToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokens[token]
	if !ok {
		return nil, models.ErrTokenNotFound
	}
	return &rt, nil
}

// Consume uses up one use of token if it is still usable at now.
func (s *MemoryStore) Consume(ctx context.Context, token string, now time.Time, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokens[token]
	switch {
	case !ok:
		return models.ErrTokenNotFound
	case rt.Expired(now, expiry):
		return models.ErrTokenExpired
	case rt.UsesRemaining <= 0:
		return models.ErrTokenExhausted
	}
	rt.UsesRemaining--
	s.tokens[token] = rt
	return nil
}
