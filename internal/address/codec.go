// Package address encodes and decodes the synthetic recipient addresses of the
// email gateway. A local part carries a routing token, optionally preceded by a
// channel name slug and followed by processing flags, joined by ".":
//
//	denmark.abcdef0123.show-sender@mirror.example.com
//
// The legacy "+" separator is accepted when decoding.
package address

import (
	"fmt"
	"regexp"
	"strings"

	"email-mirror-gateway/internal/models"
)

const (
	flagShowSender    = "show-sender"
	flagIncludeFooter = "include-footer"
	flagIncludeQuotes = "include-quotes"
	flagPreferHTML    = "prefer-html"
)

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// Codec translates between tokens and gateway addresses for one configured pattern.
type Codec struct {
	pattern string
	domains []string
	matches []*regexp.Regexp
}

// NewCodec builds a codec for pattern, a string with a single "%s" placeholder.
// A non-empty extraPattern ("@example.com") is accepted as an alternative domain when decoding.
func NewCodec(pattern, extraPattern string) *Codec {
	c := &Codec{pattern: pattern}
	if pattern == "" {
		return c
	}

	c.domains = append(c.domains, pattern[strings.LastIndex(pattern, "@")+1:])
	c.matches = append(c.matches, compilePattern(strings.Split(pattern, "%s")))

	if extraPattern != "" {
		c.domains = append(c.domains, strings.TrimPrefix(extraPattern, "@"))
		parts := strings.Split(pattern, "%s")
		parts[len(parts)-1] = extraPattern
		c.matches = append(c.matches, compilePattern(parts))
	}
	return c
}

func compilePattern(parts []string) *regexp.Regexp {
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile(`(?i)^` + strings.Join(quoted, `([^@\s]+)`) + `$`)
}

// Configured reports whether a gateway pattern is set.
func (c *Codec) Configured() bool {
	return c.pattern != ""
}

// Domains returns every domain gateway addresses are accepted on, the
// pattern's own domain first.
func (c *Codec) Domains() []string {
	return append([]string(nil), c.domains...)
}

// Matches reports whether address has the shape of a gateway address.
func (c *Codec) Matches(address string) bool {
	_, err := c.MessageString(address)
	return err == nil
}

// Encode builds the gateway address for token with the given options.
func (c *Codec) Encode(token string, opts models.Options) (string, error) {
	return c.EncodeChannel("", token, opts)
}

// EncodeChannel builds a channel address whose local part starts with a slug of name.
func (c *Codec) EncodeChannel(name, token string, opts models.Options) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: empty gateway pattern", models.ErrConfiguration)
	}
	if token == "" || strings.ContainsAny(token, ".+@ \t") || isFlag(token) {
		return "", fmt.Errorf("%w: invalid token %q", models.ErrMalformedAddress, token)
	}

	var parts []string
	if slug := Slug(name); slug != "" && !isFlag(slug) {
		parts = append(parts, slug)
	}
	parts = append(parts, token)
	if opts.ShowSender {
		parts = append(parts, flagShowSender)
	}
	if opts.IncludeFooter {
		parts = append(parts, flagIncludeFooter)
	}
	if opts.IncludeQuotes {
		parts = append(parts, flagIncludeQuotes)
	}
	if !opts.PreferText {
		parts = append(parts, flagPreferHTML)
	}

	return strings.Replace(c.pattern, "%s", strings.Join(parts, "."), 1), nil
}

// MessageString returns the local part token string of a gateway address.
func (c *Codec) MessageString(address string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%w: empty gateway pattern", models.ErrConfiguration)
	}
	address = strings.TrimSpace(address)
	for _, re := range c.matches {
		if m := re.FindStringSubmatch(address); m != nil {
			return m[1], nil
		}
	}
	return "", models.ErrMalformedAddress
}

// Decode splits a gateway address into its routing token and processing options.
func (c *Codec) Decode(address string) (string, models.Options, error) {
	opts := models.DefaultOptions()

	msg, err := c.MessageString(address)
	if err != nil {
		return "", opts, err
	}

	var remaining []string
	for _, part := range strings.Split(strings.ReplaceAll(msg, ".", "+"), "+") {
		switch part {
		case flagShowSender:
			opts.ShowSender = true
		case flagIncludeFooter:
			opts.IncludeFooter = true
		case flagIncludeQuotes:
			opts.IncludeQuotes = true
		case flagPreferHTML:
			opts.PreferText = false
		default:
			remaining = append(remaining, part)
		}
	}

	// Either [name, token] or just [token].
	var token string
	switch len(remaining) {
	case 1:
		token = remaining[0]
	case 2:
		token = remaining[1]
	}
	if token == "" {
		return "", opts, fmt.Errorf("%w: no token in local part", models.ErrMalformedAddress)
	}
	return token, opts, nil
}

// Slug lowercases name and collapses every run of non-word characters into "-".
func Slug(name string) string {
	return strings.ToLower(nonWordRe.ReplaceAllString(name, "-"))
}

func isFlag(s string) bool {
	switch s {
	case flagShowSender, flagIncludeFooter, flagIncludeQuotes, flagPreferHTML:
		return true
	}
	return false
}
