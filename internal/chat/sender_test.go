package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"email-mirror-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookRecorder struct {
	mu       sync.Mutex
	messages []OutgoingMessage
	status   int
}

func (rec *webhookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg OutgoingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.mu.Lock()
	rec.messages = append(rec.messages, msg)
	rec.mu.Unlock()
	if rec.status != 0 {
		w.WriteHeader(rec.status)
	}
}

func TestWebhookSender(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	s := NewWebhookSender(models.DeliveryConfig{WebhookURL: srv.URL, Timeout: 5 * time.Second})
	ctx := context.Background()
	bot := &models.User{Email: "emailgateway@example.com", Realm: "zulip"}
	hamlet := &models.User{Email: "hamlet@example.com", Realm: "zulip"}
	othello := &models.User{Email: "othello@example.com", Realm: "zulip"}

	require.NoError(t, s.SendChannelMessage(ctx, bot, &models.Channel{ID: 3, Name: "Denmark", Realm: "zulip"}, "Party", "Hello"))
	require.NoError(t, s.SendDirectMessage(ctx, hamlet, othello, "Hi"))
	require.NoError(t, s.SendGroupMessage(ctx, hamlet, []*models.User{hamlet, othello}, "All"))

	require.Len(t, rec.messages, 3)
	assert.Equal(t, OutgoingMessage{
		Type: "channel", Realm: "zulip", Sender: "emailgateway@example.com",
		To: []string{"Denmark"}, ChannelID: 3, Topic: "Party", Content: "Hello",
	}, rec.messages[0])
	assert.Equal(t, "direct", rec.messages[1].Type)
	assert.Equal(t, []string{"othello@example.com"}, rec.messages[1].To)
	assert.Equal(t, "group", rec.messages[2].Type)
	assert.Equal(t, []string{"hamlet@example.com", "othello@example.com"}, rec.messages[2].To)
}

func TestWebhookSenderFailures(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusBadGateway}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	hamlet := &models.User{Email: "hamlet@example.com", Realm: "zulip"}

	err := NewWebhookSender(models.DeliveryConfig{WebhookURL: srv.URL}).SendDirectMessage(context.Background(), hamlet, hamlet, "x")
	assert.True(t, errors.Is(err, models.ErrDelivery))

	err = NewWebhookSender(models.DeliveryConfig{}).SendDirectMessage(context.Background(), hamlet, hamlet, "x")
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}
