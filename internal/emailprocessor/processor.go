package emailprocessor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"email-mirror-gateway/internal/address"
	"email-mirror-gateway/internal/chat"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/mailparse"
	"email-mirror-gateway/internal/metrics"
	"email-mirror-gateway/internal/models"
	"email-mirror-gateway/internal/tokens"

	"github.com/sirupsen/logrus"
)

// Recipient headers in descending order of accuracy. Delivered-To alone is
// unreliable when X-Gm-Original-To is present.
var recipientHeaders = []string{"X-Gm-Original-To", "Delivered-To", "Resent-To", "Resent-Cc", "To", "Cc"}

// ReplyTokens resolves and consumes reply-by-email tokens.
type ReplyTokens interface {
	Resolve(ctx context.Context, token string) (*models.ReplyToken, error)
	MarkUsed(ctx context.Context, token string) error
}

// BodyBuilder turns an email into chat message content.
type BodyBuilder interface {
	Construct(ctx context.Context, email *models.Email, realm string, opts models.Options) (string, error)
}

// Diagnostics scrubs and reports processing failures.
type Diagnostics interface {
	Redact(ctx context.Context, text string) string
	Report(ctx context.Context, errText string, email *models.Email, recipient string)
}

// Dependencies are the collaborators of a Processor.
type Dependencies struct {
	Codec       *address.Codec
	Tokens      ReplyTokens
	Directory   chat.Directory
	Sender      chat.Sender
	Body        BodyBuilder
	Diagnostics Diagnostics
}

// Processor routes inbound email to channels or reply conversations.
type Processor struct {
	codec       *address.Codec
	tokens      ReplyTokens
	directory   chat.Directory
	sender      chat.Sender
	body        BodyBuilder
	diagnostics Diagnostics
	botEmail    string
	limits      models.LimitsConfig
}

// NewProcessor creates a Processor that posts channel messages as botEmail.
func NewProcessor(deps Dependencies, botEmail string, limits models.LimitsConfig) *Processor {
	return &Processor{
		codec:       deps.Codec,
		tokens:      deps.Tokens,
		directory:   deps.Directory,
		sender:      deps.Sender,
		body:        deps.Body,
		diagnostics: deps.Diagnostics,
		botEmail:    botEmail,
		limits:      limits,
	}
}

// Process routes email into the chat system. rcptTo is the envelope
// recipient when the transport knows it; otherwise the recipient is found in
// the headers. Failures caused by the email itself are logged, other domain
// failures are reported; both return nil. Any other error is returned.
func (p *Processor) Process(ctx context.Context, email *models.Email, rcptTo string) error {
	locallog := logging.Log.WithField("trace_id", email.TraceID)

	to := rcptTo
	flow := "unknown"
	err := func() error {
		if to == "" {
			var err error
			if to, err = p.FindRecipient(email); err != nil {
				return err
			}
		}

		if token, ok := p.replyToken(to); ok {
			flow = "missed_message"
			return p.processMissedMessage(ctx, locallog, token, email)
		}
		flow = "channel"
		return p.processChannelMessage(ctx, locallog, to, email)
	}()

	return p.handleError(ctx, locallog, email, to, flow, err)
}

func (p *Processor) handleError(ctx context.Context, locallog *logrus.Entry, email *models.Email, to, flow string, err error) error {
	switch {
	case err == nil:
		metrics.MessageInc(flow, "ok")
		return nil

	case errors.Is(err, models.ErrInactiveUser):
		locallog.Warn("Sending user is not active. Ignoring this missed message email.")
		metrics.MessageInc(flow, "dropped")
		return nil

	case models.IsUserError(err):
		if errors.Is(err, models.ErrTokenUnusable) {
			metrics.TokenFailureInc(models.TokenFailureReason(err))
		}
		locallog.Warn(p.diagnostics.Redact(ctx, err.Error()))
		metrics.MessageInc(flow, "usererror")
		return nil

	case models.IsDomainError(err):
		p.diagnostics.Report(ctx, err.Error(), email, to)
		metrics.MessageInc(flow, "reported")
		return nil
	}

	metrics.MessageInc(flow, "error")
	return fmt.Errorf("process email %s: %w", email.TraceID, err)
}

// replyToken returns the reply token carried by address, if it has one.
func (p *Processor) replyToken(addr string) (string, bool) {
	msg, err := p.codec.MessageString(addr)
	if err != nil || !tokens.LooksLikeReplyToken(msg) {
		return "", false
	}
	return msg, true
}

// FindRecipient returns the first gateway address found in the recipient headers of email.
func (p *Processor) FindRecipient(email *models.Email) (string, error) {
	if !p.codec.Configured() {
		return "", fmt.Errorf("%w: empty gateway pattern", models.ErrConfiguration)
	}

	for _, header := range recipientHeaders {
		for _, addr := range mailparse.Addresses(email.HeaderValues(header)) {
			if p.codec.Matches(addr) {
				return addr, nil
			}
		}
	}
	return "", models.ErrNoRecipientFound
}

// ValidateRecipient checks that rcptTo routes somewhere and returns the realm it belongs to.
func (p *Processor) ValidateRecipient(ctx context.Context, rcptTo string) (string, error) {
	if token, ok := p.replyToken(rcptTo); ok {
		rt, err := p.tokens.Resolve(ctx, token)
		if err != nil {
			return "", err
		}
		return rt.Realm, nil
	}

	channel, _, err := p.decodeChannelAddress(ctx, rcptTo)
	if err != nil {
		return "", err
	}
	return channel.Realm, nil
}

func (p *Processor) decodeChannelAddress(ctx context.Context, to string) (*models.Channel, models.Options, error) {
	token, opts, err := p.codec.Decode(to)
	if err != nil {
		return nil, opts, err
	}

	channel, err := p.directory.ChannelByToken(ctx, token)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, opts, models.Errorf(models.ErrUnknownChannel, "%s", to)
	}
	if err != nil {
		return nil, opts, fmt.Errorf("look up channel: %w", err)
	}
	return channel, opts, nil
}

func (p *Processor) processChannelMessage(ctx context.Context, locallog *logrus.Entry, to string, email *models.Email) error {
	topic := StripFromSubject(email.Subject)
	if topic == "" {
		topic = NoTopic
	}

	channel, opts, err := p.decodeChannelAddress(ctx, to)
	if err != nil {
		return err
	}
	// Forwarded mail keeps its quoted content unless the address says otherwise.
	if !opts.IncludeQuotes {
		opts.IncludeQuotes = IsForwarded(email.Subject)
	}

	content, err := p.body.Construct(ctx, email, channel.Realm, opts)
	if err != nil {
		return err
	}

	bot, err := p.directory.SystemBot(ctx, p.botEmail)
	if err != nil {
		return models.Errorf(models.ErrConfiguration, "gateway bot %q: %v", p.botEmail, err)
	}

	err = p.sender.SendChannelMessage(ctx, bot, channel,
		TruncateTopic(topic, p.limits.MaxTopicLength), TruncateBody(content, p.limits.MaxMessageLength))
	if err != nil {
		return deliveryError(err)
	}

	locallog.Infof("Successfully processed email to %s (%s)", channel.Name, channel.Realm)
	return nil
}

func (p *Processor) processMissedMessage(ctx context.Context, locallog *logrus.Entry, token string, email *models.Email) error {
	rt, err := p.tokens.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := p.tokens.MarkUsed(ctx, token); err != nil {
		return err
	}

	user, err := p.directory.UserByID(ctx, rt.UserID)
	if err != nil {
		return fmt.Errorf("reply token owner %d: %w", rt.UserID, err)
	}
	original, err := p.directory.MessageByID(ctx, rt.MessageID)
	if err != nil {
		return fmt.Errorf("reply token message %d: %w", rt.MessageID, err)
	}

	if !user.Active {
		return models.Errorf(models.ErrInactiveUser, "user %d", user.ID)
	}

	content, err := p.body.Construct(ctx, email, user.Realm, models.DefaultOptions())
	if err != nil {
		return err
	}
	content = TruncateBody(content, p.limits.MaxMessageLength)

	var recipient string
	switch original.Recipient.Type {
	case models.RecipientChannel:
		channel, err := p.directory.ChannelByID(ctx, original.Recipient.ChannelID)
		if err != nil {
			return fmt.Errorf("channel %d: %w", original.Recipient.ChannelID, err)
		}
		err = p.sender.SendChannelMessage(ctx, user, channel, TruncateTopic(original.Topic, p.limits.MaxTopicLength), content)
		if err != nil {
			return deliveryError(err)
		}
		recipient = channel.Name

	case models.RecipientPersonal:
		// Reply to whoever sent the original message.
		to, err := p.directory.UserByID(ctx, original.SenderID)
		if err != nil {
			return fmt.Errorf("message sender %d: %w", original.SenderID, err)
		}
		if err := p.sender.SendDirectMessage(ctx, user, to, content); err != nil {
			return deliveryError(err)
		}
		recipient = to.Email

	case models.RecipientGroup:
		to := make([]*models.User, 0, len(original.Recipient.UserIDs))
		emails := make([]string, 0, len(original.Recipient.UserIDs))
		for _, id := range original.Recipient.UserIDs {
			u, err := p.directory.UserByID(ctx, id)
			if err != nil {
				return fmt.Errorf("group member %d: %w", id, err)
			}
			to = append(to, u)
			emails = append(emails, u.Email)
		}
		if err := p.sender.SendGroupMessage(ctx, user, to, content); err != nil {
			return deliveryError(err)
		}
		recipient = strings.Join(emails, ", ")

	default:
		return fmt.Errorf("invalid recipient type %d", original.Recipient.Type)
	}

	locallog.Infof("Successfully processed email from user %d to %s", user.ID, recipient)
	return nil
}

func deliveryError(err error) error {
	if models.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrDelivery, err)
}
