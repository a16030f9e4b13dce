// Package redact scrubs gateway addresses from diagnostics before they are
// logged or reported.
package redact

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"email-mirror-gateway/internal/address"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"
	"email-mirror-gateway/internal/tokens"
)

const noRecipient = "No recipient found"

// ChannelLookup resolves a channel email token.
type ChannelLookup interface {
	ChannelByToken(ctx context.Context, token string) (*models.Channel, error)
}

// Reporter delivers a redacted error report to operators.
type Reporter interface {
	ReportError(ctx context.Context, text string) error
}

// Redactor masks gateway addresses and reports processing failures.
type Redactor struct {
	codec    *address.Codec
	channels ChannelLookup
	reporter Reporter
	addrRe   *regexp.Regexp
}

// NewRedactor creates a Redactor. reporter may be nil, in which case reports are only logged.
func NewRedactor(codec *address.Codec, channels ChannelLookup, reporter Reporter) *Redactor {
	r := &Redactor{
		codec:    codec,
		channels: channels,
		reporter: reporter,
	}
	if domains := codec.Domains(); len(domains) > 0 {
		quoted := make([]string, len(domains))
		for i, d := range domains {
			quoted[i] = regexp.QuoteMeta(d)
		}
		r.addrRe = regexp.MustCompile(`(?i)\b(\S*?)@(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return r
}

// Redact annotates every gateway address in text with what it routes to and
// replaces its local part with X characters of the same length.
func (r *Redactor) Redact(ctx context.Context, text string) string {
	if r.addrRe == nil {
		return text
	}

	var sb strings.Builder
	last := 0
	for _, m := range r.addrRe.FindAllStringSubmatchIndex(text, -1) {
		addr := text[m[0]:m[1]]
		local := text[m[2]:m[3]]

		sb.WriteString(text[last:m[0]])
		sb.WriteString(strings.Repeat("X", len(local)))
		sb.WriteString(addr[len(local):])
		sb.WriteString(" <")
		sb.WriteString(r.annotate(ctx, addr))
		sb.WriteString(">")
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func (r *Redactor) annotate(ctx context.Context, addr string) string {
	if msg, err := r.codec.MessageString(addr); err == nil && tokens.LooksLikeReplyToken(msg) {
		return "Missed message address"
	}

	token, _, err := r.codec.Decode(addr)
	if err == nil && r.channels != nil {
		if channel, err := r.channels.ChannelByToken(ctx, token); err == nil {
			return fmt.Sprintf("Address to channel id: %d", channel.ID)
		}
	}
	return "Invalid address"
}

// Report logs a redacted description of a failure to process email and
// forwards it to the configured Reporter.
func (r *Redactor) Report(ctx context.Context, errText string, email *models.Email, recipient string) {
	if recipient == "" {
		recipient = noRecipient
	}
	text := r.Redact(ctx, fmt.Sprintf("Sender: %s\nTo: %s\n%s", email.From, recipient, errText))

	log := logging.Log.WithField("trace_id", email.TraceID)
	log.Error(text)

	if r.reporter == nil {
		return
	}
	if err := r.reporter.ReportError(ctx, text); err != nil {
		log.Warnf("Failed to report email mirror error: %v", err)
	}
}
