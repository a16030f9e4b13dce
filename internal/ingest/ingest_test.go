package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"email-mirror-gateway/internal/chat"
	"email-mirror-gateway/internal/models"
	"email-mirror-gateway/internal/queue"
	"email-mirror-gateway/internal/ratelimit"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goodAddr = "b0e1a9c2@mirror.example.com"
	apiKey   = "s3cret"
	rawEmail = "From: alice@example.com\r\nSubject: Hello\r\n\r\nHi there\r\n"
)

// MockValidator routes goodAddr to the "zulip" realm and rejects everything else
type MockValidator struct {
	err error
}

func (m *MockValidator) ValidateRecipient(ctx context.Context, rcptTo string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if rcptTo != goodAddr {
		return "", models.Errorf(models.ErrUnknownChannel, "%s", rcptTo)
	}
	return "zulip", nil
}

func newGateway(t *testing.T, max int) (*Gateway, *queue.MemoryQueue, *MockValidator) {
	t.Helper()
	q := queue.NewMemoryQueue(16)
	v := &MockValidator{}
	limiter := ratelimit.NewMemoryLimiter([]models.RateLimitRule{{Window: time.Minute, Max: max}})
	return NewGateway(v, limiter, q), q, v
}

func popJob(t *testing.T, q *queue.MemoryQueue) *queue.Job {
	t.Helper()
	job, err := q.Pop(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	return job
}

func TestMirror(t *testing.T) {
	g, q, _ := newGateway(t, 10)
	ctx := context.Background()

	resp, err := g.Mirror(ctx, "http", goodAddr, rawEmail)
	require.NoError(t, err)
	assert.Equal(t, Response{Status: "success"}, resp)
	assert.Equal(t, &queue.Job{Message: rawEmail, RcptTo: goodAddr}, popJob(t, q))

	resp, err = g.Mirror(ctx, "http", "nope@mirror.example.com", rawEmail)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.True(t, strings.HasPrefix(resp.Msg, "5.1.1 Bad destination mailbox address: bad channel token from email recipient"), resp.Msg)
	assert.Nil(t, popJob(t, q))
}

func TestMirrorThrottled(t *testing.T) {
	g, q, _ := newGateway(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Mirror(ctx, "http", goodAddr, rawEmail)
		require.NoError(t, err)
	}
	_, err := g.Mirror(ctx, "http", goodAddr, rawEmail)
	assert.True(t, errors.Is(err, models.ErrThrottled))

	assert.NotNil(t, popJob(t, q))
	assert.NotNil(t, popJob(t, q))
	assert.Nil(t, popJob(t, q))
}

func TestMirrorUnexpectedError(t *testing.T) {
	g, _, v := newGateway(t, 10)
	v.err = errors.New("redis: connection refused")

	_, err := g.Mirror(context.Background(), "http", goodAddr, rawEmail)
	assert.Error(t, err)
}

type MockReplies struct {
	users    []int64
	messages []int64
}

func (m *MockReplies) Create(ctx context.Context, user *models.User, message *models.Message) (string, error) {
	m.users = append(m.users, user.ID)
	m.messages = append(m.messages, message.ID)
	return "mm0123@mirror.example.com", nil
}

func newHTTPServer(t *testing.T, max int) (*HTTPServer, *queue.MemoryQueue, *MockReplies, *chat.MemoryDirectory) {
	t.Helper()
	g, q, _ := newGateway(t, max)
	replies := &MockReplies{}
	directory := chat.NewMemoryDirectoryFromConfig(models.DirectoryConfig{
		Users: []models.User{{ID: 10, Email: "hamlet@example.com", Realm: "zulip", Active: true}},
	})
	return NewHTTPServer(models.HTTPConfig{Addr: ":0", APIKey: apiKey}, g, replies, directory), q, replies, directory
}

func postJSON(t *testing.T, s *HTTPServer, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	return postJSONWithKey(t, s, path, "", body)
}

func postJSONWithKey(t *testing.T, s *HTTPServer, path, key string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHTTPMirrorMessage(t *testing.T) {
	s, q, _, _ := newHTTPServer(t, 1)

	resp, body := postJSON(t, s, "/api/v1/email_mirror_message", MirrorRequest{Recipient: goodAddr, MsgText: rawEmail})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"success"}`, string(body))
	assert.Equal(t, goodAddr, popJob(t, q).RcptTo)

	resp, body = postJSON(t, s, "/api/v1/email_mirror_message", MirrorRequest{Recipient: goodAddr, MsgText: rawEmail})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"status":"error","msg":"rate limit exceeded"}`, string(body))

	resp, body = postJSON(t, s, "/api/v1/email_mirror_message", MirrorRequest{Recipient: "x@mirror.example.com", MsgText: rawEmail})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var out Response
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "error", out.Status)
	assert.Contains(t, out.Msg, "5.1.1 Bad destination mailbox address")

	resp, _ = postJSON(t, s, "/api/v1/email_mirror_message", MirrorRequest{MsgText: rawEmail})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPReplyAddress(t *testing.T) {
	s, _, replies, directory := newHTTPServer(t, 1)
	msg := models.Message{ID: 100, SenderID: 11, Realm: "zulip", Topic: "castle",
		Recipient: models.Recipient{Type: models.RecipientChannel, ChannelID: 1}}

	resp, body := postJSONWithKey(t, s, "/api/v1/reply-addresses", apiKey, ReplyAddressRequest{UserID: 10, Message: msg})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"address":"mm0123@mirror.example.com"}`, string(body))
	assert.Equal(t, []int64{10}, replies.users)
	assert.Equal(t, []int64{100}, replies.messages)

	stored, err := directory.MessageByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, msg, *stored)

	resp, _ = postJSONWithKey(t, s, "/api/v1/reply-addresses", apiKey, ReplyAddressRequest{UserID: 99, Message: msg})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPReplyAddressRequiresAPIKey(t *testing.T) {
	s, _, replies, directory := newHTTPServer(t, 1)
	msg := models.Message{ID: 100, SenderID: 10, Realm: "zulip", Topic: "castle",
		Recipient: models.Recipient{Type: models.RecipientChannel, ChannelID: 7}}

	tests := []struct {
		name string
		key  string
	}{
		{name: "No key", key: ""},
		{name: "Wrong key", key: "guess"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := postJSONWithKey(t, s, "/api/v1/reply-addresses", tt.key, ReplyAddressRequest{UserID: 10, Message: msg})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	assert.Empty(t, replies.users)
	_, err := directory.MessageByID(context.Background(), 100)
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestHTTPReplyAddressDisabledWithoutAPIKey(t *testing.T) {
	g, _, _ := newGateway(t, 1)
	directory := chat.NewMemoryDirectoryFromConfig(models.DirectoryConfig{
		Users: []models.User{{ID: 10, Email: "hamlet@example.com", Realm: "zulip", Active: true}},
	})
	s := NewHTTPServer(models.HTTPConfig{Addr: ":0"}, g, &MockReplies{}, directory)

	msg := models.Message{ID: 100, SenderID: 10, Realm: "zulip", Recipient: models.Recipient{Type: models.RecipientChannel, ChannelID: 7}}
	resp, _ := postJSONWithKey(t, s, "/api/v1/reply-addresses", "", ReplyAddressRequest{UserID: 10, Message: msg})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPReplyAddressKeepsKnownMessage(t *testing.T) {
	s, _, replies, directory := newHTTPServer(t, 1)
	directory.PutUser(models.User{ID: 12, Email: "ophelia@example.com", Realm: "zulip", Active: true})
	directory.PutUser(models.User{ID: 13, Email: "iago@other.example.com", Realm: "other", Active: true})
	directory.PutMessage(models.Message{ID: 100, SenderID: 11, Realm: "zulip", Topic: "castle",
		Recipient: models.Recipient{Type: models.RecipientChannel, ChannelID: 1}})

	hijack := models.Message{ID: 100, SenderID: 10, Realm: "zulip", Topic: "pwned",
		Recipient: models.Recipient{Type: models.RecipientChannel, ChannelID: 7}}
	resp, _ := postJSONWithKey(t, s, "/api/v1/reply-addresses", apiKey, ReplyAddressRequest{UserID: 10, Message: hijack})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	stored, err := directory.MessageByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "castle", stored.Topic)

	private := models.Message{ID: 101, SenderID: 10, Realm: "zulip",
		Recipient: models.Recipient{Type: models.RecipientPersonal, UserIDs: []int64{10, 11}}}
	resp, _ = postJSONWithKey(t, s, "/api/v1/reply-addresses", apiKey, ReplyAddressRequest{UserID: 12, Message: private})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "not a participant")

	resp, _ = postJSONWithKey(t, s, "/api/v1/reply-addresses", apiKey, ReplyAddressRequest{UserID: 13, Message: hijack})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "other realm")

	assert.Empty(t, replies.users)
}

func TestHTTPMetrics(t *testing.T) {
	s, _, _, _ := newHTTPServer(t, 1)

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSMTPSession(t *testing.T) {
	g, q, _ := newGateway(t, 2)
	s := &session{gateway: g}

	require.NoError(t, s.Mail("alice@example.com", nil))
	require.NoError(t, s.Rcpt(goodAddr, nil))

	err := s.Rcpt("nope@mirror.example.com", nil)
	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr))
	assert.Equal(t, 550, smtpErr.Code)
	assert.Equal(t, smtp.EnhancedCode{5, 1, 1}, smtpErr.EnhancedCode)

	require.NoError(t, s.Rcpt(goodAddr, nil))
	err = s.Rcpt(goodAddr, nil)
	require.True(t, errors.As(err, &smtpErr))
	assert.Equal(t, 451, smtpErr.Code)
	assert.Equal(t, smtp.EnhancedCode{4, 7, 1}, smtpErr.EnhancedCode)

	require.NoError(t, s.Data(strings.NewReader(rawEmail)))
	assert.Equal(t, &queue.Job{Message: rawEmail, RcptTo: goodAddr}, popJob(t, q))
	assert.Equal(t, &queue.Job{Message: rawEmail, RcptTo: goodAddr}, popJob(t, q))
	assert.Nil(t, popJob(t, q))

	s.Reset()
	assert.Empty(t, s.to)
}

func TestSMTPSessionQueueFull(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	require.NoError(t, q.Publish(context.Background(), queue.Job{Message: "earlier"}))
	limiter := ratelimit.NewMemoryLimiter([]models.RateLimitRule{{Window: time.Minute, Max: 10}})
	s := &session{gateway: NewGateway(&MockValidator{}, limiter, q), timeout: 20 * time.Millisecond}

	require.NoError(t, s.Rcpt(goodAddr, nil))

	done := make(chan error, 1)
	go func() { done <- s.Data(strings.NewReader(rawEmail)) }()

	select {
	case err := <-done:
		var smtpErr *smtp.SMTPError
		require.True(t, errors.As(err, &smtpErr))
		assert.Equal(t, 451, smtpErr.Code)
		assert.Equal(t, smtp.EnhancedCode{4, 3, 0}, smtpErr.EnhancedCode)
	case <-time.After(5 * time.Second):
		t.Fatal("Data blocked on a full queue")
	}
}

func TestSMTPServer(t *testing.T) {
	g, q, _ := newGateway(t, 10)
	srv := NewSMTPServer(models.SMTPConfig{Domain: "mirror.example.com", MaxMessageBytes: 1 << 20, MaxRecipients: 10}, g)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	defer srv.Stop()

	c, err := smtp.Dial(l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("localhost"))
	require.NoError(t, c.Mail("alice@example.com", nil))
	assert.Error(t, c.Rcpt("nope@mirror.example.com", nil))
	require.NoError(t, c.Rcpt(goodAddr, nil))

	w, err := c.Data()
	require.NoError(t, err)
	_, err = io.WriteString(w, rawEmail)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	job, err := q.Pop(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, goodAddr, job.RcptTo)
	assert.Contains(t, job.Message, "Subject: Hello")
}
