// Package body builds the chat message text of an inbound email: it picks the
// plain text or HTML part, strips quoted replies and signature footers, and
// appends links to uploaded attachments.
package body

import (
	"context"
	"fmt"
	"strings"

	"email-mirror-gateway/internal/htmltext"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/mailparse"
	"email-mirror-gateway/internal/models"
)

// Placeholder replaces a body that is empty after processing.
const Placeholder = "(No email body)"

// QuoteStripper removes quoted reply content.
type QuoteStripper interface {
	ExtractFromPlain(text string) string
	ExtractFromHTML(html string) string
}

// Attachment is a file part of an inbound email ready for upload.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	Owner       *models.User
	Realm       string
}

// Uploader stores an attachment and returns a URL it can be retrieved from.
type Uploader interface {
	Upload(ctx context.Context, file Attachment) (string, error)
}

// Extractor builds chat message content from an email.
type Extractor struct {
	quotes   QuoteStripper
	uploader Uploader
	uploadAs *models.User
}

// NewExtractor creates an Extractor. Attachments are uploaded on behalf of uploadAs, usually the gateway bot.
func NewExtractor(quotes QuoteStripper, uploader Uploader, uploadAs *models.User) *Extractor {
	return &Extractor{
		quotes:   quotes,
		uploader: uploader,
		uploadAs: uploadAs,
	}
}

// Construct produces the final message text for email with the given options.
func (x *Extractor) Construct(ctx context.Context, email *models.Email, realm string, opts models.Options) (string, error) {
	text, err := x.ExtractBody(email, opts.IncludeQuotes, opts.PreferText)
	if err != nil {
		return "", err
	}

	// The chat store rejects null characters.
	text = strings.ReplaceAll(text, "\x00", "")
	if !opts.IncludeFooter {
		text = FilterFooter(text)
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	links, err := x.uploadAttachments(ctx, email, realm)
	if err != nil {
		return "", err
	}
	text += links

	text = strings.TrimSpace(text)
	if text == "" {
		text = Placeholder
	}

	if opts.ShowSender {
		text = fmt.Sprintf("From: %s\n%s", email.From, text)
	}
	return text, nil
}

// ExtractBody returns the plain text or HTML derived body of email, ordered by preferText.
func (x *Extractor) ExtractBody(email *models.Email, includeQuotes, preferText bool) (string, error) {
	plain, hasPlain := x.plainBody(email, includeQuotes)
	html, hasHTML := x.htmlBody(email, includeQuotes)

	if !hasPlain && !hasHTML {
		var types []string
		email.Walk(func(p *models.Part) { types = append(types, p.ContentType) })
		logging.Log.WithField("trace_id", email.TraceID).Warnf("Content types: %v", types)
		return "", models.ErrNoBodyFound
	}
	if plain == "" && html == "" {
		return "", models.ErrEmptyBody
	}

	if preferText {
		if plain != "" {
			return plain, nil
		}
		return html, nil
	}
	if html != "" {
		return html, nil
	}
	return plain, nil
}

func (x *Extractor) plainBody(email *models.Email, includeQuotes bool) (string, bool) {
	part := FirstPart(email, "text/plain")
	if part == nil {
		return "", false
	}
	text := mailparse.DecodeText(part)
	if !includeQuotes {
		text = x.quotes.ExtractFromPlain(text)
	}
	return text, true
}

func (x *Extractor) htmlBody(email *models.Email, includeQuotes bool) (string, bool) {
	part := FirstPart(email, "text/html")
	if part == nil {
		return "", false
	}
	html := mailparse.DecodeText(part)
	if !includeQuotes {
		html = x.quotes.ExtractFromHTML(html)
	}
	return htmltext.Convert(html), true
}

// FirstPart returns the first part whose content type is exactly contentType, in depth-first order.
func FirstPart(email *models.Email, contentType string) *models.Part {
	var found *models.Part
	email.Walk(func(p *models.Part) {
		if found == nil && p.ContentType == contentType {
			found = p
		}
	})
	return found
}

// FilterFooter truncates text at a trailing signature marker. Only a text with
// exactly one line equal to "--" is changed; zero or several such lines are
// left alone, since they may be legitimate content.
func FilterFooter(text string) string {
	lines := strings.Split(text, "\n")
	marker := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "--" {
			continue
		}
		if marker >= 0 {
			return text
		}
		marker = i
	}
	if marker < 0 {
		return text
	}
	return strings.TrimRight(strings.Join(lines[:marker], "\n"), " \t\r\n")
}

func (x *Extractor) uploadAttachments(ctx context.Context, email *models.Email, realm string) (string, error) {
	var attachments []*models.Part
	email.Walk(func(p *models.Part) {
		if p.Filename != "" && !p.IsMultipart() {
			attachments = append(attachments, p)
		}
	})

	var links []string
	for _, p := range attachments {
		if p.DecodeErr != nil {
			logging.Log.WithField("trace_id", email.TraceID).Warnf("Payload is not bytes (invalid attachment %s in message from %s): %v",
				p.Filename, email.From, p.DecodeErr)
			continue
		}

		filename := strings.ReplaceAll(p.Filename, "\x00", "")
		url, err := x.uploader.Upload(ctx, Attachment{
			Filename:    filename,
			ContentType: p.ContentType,
			Data:        p.Payload,
			Owner:       x.uploadAs,
			Realm:       realm,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", models.ErrUpload, filename, err)
		}
		links = append(links, fmt.Sprintf("[%s](%s)", filename, url))
	}
	return strings.Join(links, "\n"), nil
}
