package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"email-mirror-gateway/internal/chat"
	"email-mirror-gateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `gateway:
  pattern: "%s@mirror.example.com"
  botEmail: "emailgateway@example.com"
delivery:
  webhookUrl: "WEBHOOK_URL"
directory:
  channels:
    - id: 7
      name: Denmark
      realm: zulip
      emailToken: abcdef0123
  users:
    - id: 10
      email: hamlet@example.com
      realm: zulip
      active: true
    - id: 90
      email: emailgateway@example.com
      realm: zulip
      active: true
      bot: true
  messages:
    - id: 100
      senderId: 10
      realm: zulip
      topic: Party
      recipient:
        type: channel
        channelId: 7
`

type webhookRecorder struct {
	mu       sync.Mutex
	messages []chat.OutgoingMessage
}

func (rec *webhookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var msg chat.OutgoingMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.mu.Lock()
	rec.messages = append(rec.messages, msg)
	rec.mu.Unlock()
}

func newTestApp(t *testing.T) (*app, *webhookRecorder) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	cfg, err := config.Parse([]byte(strings.Replace(testConfig, "WEBHOOK_URL", srv.URL, 1)))
	require.NoError(t, err)
	cfg.Uploads.Dir = t.TempDir()

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, rec
}

func TestAppMirrorsChannelEmail(t *testing.T) {
	a, rec := newTestApp(t)
	ctx := context.Background()

	raw := "From: hamlet@example.com\r\n" +
		"To: abcdef0123@mirror.example.com\r\n" +
		"Subject: Greetings\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hello from email\r\n"

	resp, err := a.gateway.Mirror(ctx, "http", "abcdef0123@mirror.example.com", raw)
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)

	job, err := a.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	a.worker().Handle(ctx, *job)

	require.Len(t, rec.messages, 1)
	msg := rec.messages[0]
	assert.Equal(t, "channel", msg.Type)
	assert.Equal(t, "emailgateway@example.com", msg.Sender)
	assert.Equal(t, int64(7), msg.ChannelID)
	assert.Equal(t, "Greetings", msg.Topic)
	assert.Equal(t, "Hello from email", msg.Content)
}

func TestAppRejectsUnknownChannel(t *testing.T) {
	a, _ := newTestApp(t)

	resp, err := a.gateway.Mirror(context.Background(), "http", "0000000000@mirror.example.com", "Subject: x\r\n\r\nbody")
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.True(t, strings.HasPrefix(resp.Msg, "5.1.1 Bad destination mailbox address: "))
}

func TestReplyAddress(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	addr, err := replyAddress(ctx, a, 10, 100)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "mm"))
	assert.True(t, strings.HasSuffix(addr, "@mirror.example.com"))

	realm, err := a.processor.ValidateRecipient(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "zulip", realm)

	_, err = replyAddress(ctx, a, 10, 999)
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestReplyAddressCmd(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(testConfig, "WEBHOOK_URL", srv.URL, 1)), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "reply-address", "--user", "10", "--message", "100"})
	require.NoError(t, cmd.Execute())

	assert.Regexp(t, `^mm[0-9a-f]{32}@mirror\.example\.com\n$`, out.String())
}
