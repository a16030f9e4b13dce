package models

import "fmt"

// RecipientType is the category of conversation a chat message belongs to.
type RecipientType int

const (
	RecipientChannel RecipientType = iota + 1
	RecipientPersonal
	RecipientGroup
)

// String returns the type name.
func (t RecipientType) String() string {
	switch t {
	case RecipientChannel:
		return "channel"
	case RecipientPersonal:
		return "personal"
	case RecipientGroup:
		return "group"
	}
	return "unknown"
}

// MarshalText encodes the type by name in config files and JSON.
func (t RecipientType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the type names and their legacy aliases.
func (t *RecipientType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "channel", "stream":
		*t = RecipientChannel
	case "personal", "private":
		*t = RecipientPersonal
	case "group", "huddle":
		*t = RecipientGroup
	default:
		return fmt.Errorf("unknown recipient type %q", text)
	}
	return nil
}

// Channel is a chat channel reachable through its durable email token.
type Channel struct {
	ID         int64  `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Realm      string `yaml:"realm" json:"realm"`
	EmailToken string `yaml:"emailToken" json:"email_token"`
}

// User is a chat account.
type User struct {
	ID       int64  `yaml:"id" json:"id"`
	Email    string `yaml:"email" json:"email"`
	FullName string `yaml:"fullName" json:"full_name"`
	Realm    string `yaml:"realm" json:"realm"`
	Active   bool   `yaml:"active" json:"active"`
	Bot      bool   `yaml:"bot" json:"bot"`
}

// Recipient describes where a chat message was delivered.
// ChannelID is set for channel messages, UserIDs lists every participant otherwise.
type Recipient struct {
	Type      RecipientType `yaml:"type" json:"type"`
	ChannelID int64         `yaml:"channelId" json:"channel_id,omitempty"`
	UserIDs   []int64       `yaml:"userIds" json:"user_ids,omitempty"`
}

// Message is the chat message a reply address was minted for.
type Message struct {
	ID        int64     `yaml:"id" json:"id"`
	SenderID  int64     `yaml:"senderId" json:"sender_id"`
	Realm     string    `yaml:"realm" json:"realm"`
	Topic     string    `yaml:"topic" json:"topic"`
	Recipient Recipient `yaml:"recipient" json:"recipient"`
}
