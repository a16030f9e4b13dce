// Package mailparse turns raw RFC 5322 messages into the models.Email part tree.
//
// Text payloads are kept in their declared charset and decoded by DecodeText,
// so this package must not import github.com/emersion/go-message/charset:
// without a registered CharsetReader go-message leaves part bodies unconverted.
package mailparse

import (
	"bytes"
	"io"
	"mime"
	"net/textproto"
	"regexp"
	"strings"
	"unicode/utf8"

	"email-mirror-gateway/internal/models"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	emailAddressRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	wordDecoder    = &mime.WordDecoder{CharsetReader: charsetReader}
)

// Parse reads a raw message and builds its header map and MIME tree.
func Parse(r io.Reader) (*models.Email, error) {
	entity, err := message.Read(r)
	if err != nil && !isRecoverable(err) {
		return nil, err
	}

	email := &models.Email{
		Header:  make(map[string][]string),
		TraceID: uuid.New().String(),
	}

	fields := entity.Header.Fields()
	for fields.Next() {
		key := textproto.CanonicalMIMEHeaderKey(fields.Key())
		email.Header[key] = append(email.Header[key], fields.Value())
	}

	email.From = decodeOrRaw(entity.Header.Get("From"))
	email.Subject = decodeOrRaw(entity.Header.Get("Subject"))

	if date, err := (&mail.Header{Header: entity.Header}).Date(); err == nil {
		email.InternalDate = date
	}

	email.Root = buildPart(entity)
	return email, nil
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(raw []byte) (*models.Email, error) {
	return Parse(bytes.NewReader(raw))
}

func buildPart(e *message.Entity) *models.Part {
	mediaType, params, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}

	part := &models.Part{
		ContentType: mediaType,
		Charset:     strings.ToLower(strings.TrimSpace(params["charset"])),
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil && (child == nil || !isRecoverable(err)) {
				part.DecodeErr = err
				break
			}
			part.Children = append(part.Children, buildPart(child))
		}
		return part
	}

	attachment := mail.AttachmentHeader{Header: e.Header}
	if filename, _ := attachment.Filename(); filename != "" {
		part.Filename = filename
	}

	part.Payload, part.DecodeErr = io.ReadAll(e.Body)
	return part
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// DecodeText decodes a text part using its declared charset. Parts without a
// charset are read as US-ASCII. Bytes that are invalid in the charset become U+FFFD.
func DecodeText(p *models.Part) string {
	switch p.Charset {
	case "", "us-ascii", "ascii":
		return decodeASCII(p.Payload)
	case "utf-8", "utf8":
		return strings.ToValidUTF8(string(p.Payload), string(utf8.RuneError))
	}

	enc, err := htmlindex.Get(p.Charset)
	if err != nil {
		return decodeASCII(p.Payload)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), p.Payload)
	if err != nil {
		return decodeASCII(p.Payload)
	}
	return strings.ToValidUTF8(string(out), string(utf8.RuneError))
}

func decodeASCII(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
		} else {
			sb.WriteRune(utf8.RuneError)
		}
	}
	return sb.String()
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text.
func DecodeHeader(encoded string) (string, error) {
	decoded, err := wordDecoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

func decodeOrRaw(value string) string {
	decoded, err := DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// Addresses extracts the bare addresses from a list of raw address header values.
func Addresses(values []string) []string {
	var out []string
	for _, value := range values {
		list, err := mail.ParseAddressList(value)
		if err != nil {
			out = append(out, extractEmailAddresses(value)...)
			continue
		}
		for _, addr := range list {
			out = append(out, addr.Address)
		}
	}
	return out
}

// Simple regex fallback for header values the address parser rejects.
func extractEmailAddresses(header string) []string {
	return emailAddressRe.FindAllString(header, -1)
}
