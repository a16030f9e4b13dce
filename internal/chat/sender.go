package chat

import (
	"context"
	"fmt"
	"time"

	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/metrics"
	"email-mirror-gateway/internal/models"

	"github.com/gofiber/fiber/v2"
)

// Sender delivers messages into the chat system. Content and topic are
// expected to be within the chat system's length limits already.
type Sender interface {
	SendChannelMessage(ctx context.Context, sender *models.User, channel *models.Channel, topic, content string) error
	SendDirectMessage(ctx context.Context, sender *models.User, to *models.User, content string) error
	SendGroupMessage(ctx context.Context, sender *models.User, to []*models.User, content string) error
}

// OutgoingMessage is the JSON document posted to the chat webhook.
type OutgoingMessage struct {
	Type      string   `json:"type"` // channel, direct, group
	Realm     string   `json:"realm"`
	Sender    string   `json:"sender"`
	To        []string `json:"to"`
	ChannelID int64    `json:"channel_id,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Content   string   `json:"content"`
}

// WebhookSender posts messages as JSON to the chat system's HTTP API.
type WebhookSender struct {
	url     string
	timeout time.Duration
}

// NewWebhookSender creates a WebhookSender posting to cfg.WebhookURL.
func NewWebhookSender(cfg models.DeliveryConfig) *WebhookSender {
	return &WebhookSender{
		url:     cfg.WebhookURL,
		timeout: cfg.Timeout,
	}
}

// SendChannelMessage posts content to topic in channel.
func (s *WebhookSender) SendChannelMessage(ctx context.Context, sender *models.User, channel *models.Channel, topic, content string) error {
	return s.post(ctx, OutgoingMessage{
		Type:      "channel",
		Realm:     channel.Realm,
		Sender:    sender.Email,
		To:        []string{channel.Name},
		ChannelID: channel.ID,
		Topic:     topic,
		Content:   content,
	})
}

// SendDirectMessage sends content from sender to a single user.
func (s *WebhookSender) SendDirectMessage(ctx context.Context, sender *models.User, to *models.User, content string) error {
	return s.post(ctx, OutgoingMessage{
		Type:    "direct",
		Realm:   sender.Realm,
		Sender:  sender.Email,
		To:      []string{to.Email},
		Content: content,
	})
}

// SendGroupMessage sends content from sender to every user in to.
func (s *WebhookSender) SendGroupMessage(ctx context.Context, sender *models.User, to []*models.User, content string) error {
	emails := make([]string, 0, len(to))
	for _, u := range to {
		emails = append(emails, u.Email)
	}
	return s.post(ctx, OutgoingMessage{
		Type:    "group",
		Realm:   sender.Realm,
		Sender:  sender.Email,
		To:      emails,
		Content: content,
	})
}

func (s *WebhookSender) post(ctx context.Context, msg OutgoingMessage) (err error) {
	start := time.Now()
	defer func() { metrics.DeliveryObserve(msg.Type, err, start) }()

	if s.url == "" {
		return fmt.Errorf("%w: no webhook url configured", models.ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	agent := fiber.Post(s.url)
	if s.timeout > 0 {
		agent.Timeout(s.timeout)
	}
	agent.JSON(msg)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", models.ErrDelivery, errs[0])
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("%w: webhook returned %d: %s", models.ErrDelivery, code, body)
	}

	logging.Log.Debugf("Delivered %s message to %v", msg.Type, msg.To)
	return nil
}
