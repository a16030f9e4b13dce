package tokens

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"email-mirror-gateway/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "emailmirror:replytoken:"

// Return codes of consumeScript below zero are failures.
const (
	consumeNotFound  = -1
	consumeExpired   = -2
	consumeExhausted = -3
)

// consumeScript checks and decrements a token in one step.
// KEYS[1] token hash, ARGV[1] now in ms, ARGV[2] expiry in ms.
var consumeScript = redis.NewScript(`
local h = redis.call('HMGET', KEYS[1], 'created_at', 'uses_remaining')
if not h[1] then
	return -1
end
if tonumber(ARGV[1]) - tonumber(h[1]) > tonumber(ARGV[2]) then
	return -2
end
if tonumber(h[2]) <= 0 then
	return -3
end
return redis.call('HINCRBY', KEYS[1], 'uses_remaining', -1)
`)

// RedisStore keeps reply tokens in Redis hashes, one per token.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func tokenKey(token string) string {
	return keyPrefix + token
}

// Create stores token as a hash that expires with it.
func (s *RedisStore) Create(ctx context.Context, token *models.ReplyToken) error {
	return s.client.HSet(ctx, tokenKey(token.Token), map[string]interface{}{
		"user_id":        token.UserID,
		"message_id":     token.MessageID,
		"realm":          token.Realm,
		"created_at":     token.CreatedAt.UnixMilli(),
		"uses_remaining": token.UsesRemaining,
	}).Err()
}

// Get loads a token hash.
func (s *RedisStore) Get(ctx context.Context, token string) (*models.ReplyToken, error) {
	fields, err := s.client.HGetAll(ctx, tokenKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, models.ErrTokenNotFound
	}

	rt := &models.ReplyToken{Token: token, Realm: fields["realm"]}
	if rt.UserID, err = strconv.ParseInt(fields["user_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("reply token %s: bad user_id: %w", token, err)
	}
	if rt.MessageID, err = strconv.ParseInt(fields["message_id"], 10, 64); err != nil {
		return nil, fmt.Errorf("reply token %s: bad message_id: %w", token, err)
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("reply token %s: bad created_at: %w", token, err)
	}
	rt.CreatedAt = time.UnixMilli(created)
	if rt.UsesRemaining, err = strconv.Atoi(fields["uses_remaining"]); err != nil {
		return nil, fmt.Errorf("reply token %s: bad uses_remaining: %w", token, err)
	}
	return rt, nil
}

// Consume atomically uses up one use of token if it is still usable at now.
func (s *RedisStore) Consume(ctx context.Context, token string, now time.Time, expiry time.Duration) error {
	res, err := consumeScript.Run(ctx, s.client, []string{tokenKey(token)}, now.UnixMilli(), expiry.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	switch res {
	case consumeNotFound:
		return models.ErrTokenNotFound
	case consumeExpired:
		return models.ErrTokenExpired
	case consumeExhausted:
		return models.ErrTokenExhausted
	}
	return nil
}
