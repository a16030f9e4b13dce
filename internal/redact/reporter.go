package redact

import (
	"context"
	"fmt"

	"email-mirror-gateway/internal/chat"
)

const reportTopic = "email mirror error"

// ChatReporter posts error reports to an operator channel as the error bot.
type ChatReporter struct {
	directory chat.Directory
	sender    chat.Sender
	botEmail  string
	channel   string
}

// NewChatReporter creates a ChatReporter. With an empty botEmail reports are dropped.
func NewChatReporter(directory chat.Directory, sender chat.Sender, botEmail, channel string) *ChatReporter {
	return &ChatReporter{
		directory: directory,
		sender:    sender,
		botEmail:  botEmail,
		channel:   channel,
	}
}

// ReportError posts text to the error channel as the error bot.
func (c *ChatReporter) ReportError(ctx context.Context, text string) error {
	if c.botEmail == "" {
		return nil
	}

	bot, err := c.directory.SystemBot(ctx, c.botEmail)
	if err != nil {
		return fmt.Errorf("error bot %s: %w", c.botEmail, err)
	}
	channel, err := c.directory.ChannelByName(ctx, bot.Realm, c.channel)
	if err != nil {
		return fmt.Errorf("error channel %s: %w", c.channel, err)
	}

	return c.sender.SendChannelMessage(ctx, bot, channel, reportTopic, fmt.Sprintf("~~~\n%s\n~~~", text))
}
