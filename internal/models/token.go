package models

import "time"

// ReplyToken is a time- and use-bounded permission for a user to answer a message by email.
type ReplyToken struct {
	Token         string    `json:"token"`
	UserID        int64     `json:"user_id"`
	MessageID     int64     `json:"message_id"`
	Realm         string    `json:"realm"`
	CreatedAt     time.Time `json:"created_at"`
	UsesRemaining int       `json:"uses_remaining"`
}

// Expired reports whether the token is older than the expiry horizon at now.
func (t *ReplyToken) Expired(now time.Time, expiry time.Duration) bool {
	return now.Sub(t.CreatedAt) > expiry
}

// Usable reports whether the token can still be used at now.
func (t *ReplyToken) Usable(now time.Time, expiry time.Duration) bool {
	return !t.Expired(now, expiry) && t.UsesRemaining > 0
}

// Options controls how an email body is turned into a chat message.
// The zero value differs from the defaults: use DefaultOptions.
type Options struct {
	// ShowSender prefixes the body with the decoded From header.
	ShowSender bool
	// IncludeQuotes keeps quoted reply content.
	IncludeQuotes bool
	// IncludeFooter keeps a trailing "--" signature block.
	IncludeFooter bool
	// PreferText picks the text/plain part over text/html when both exist.
	PreferText bool
}

// DefaultOptions returns the options used when an address carries no flags.
func DefaultOptions() Options {
	return Options{PreferText: true}
}
