package models

import "time"

// Config represents the application configuration.
type Config struct {
	Gateway     GatewayConfig    `yaml:"gateway"`
	ReplyTokens ReplyTokenConfig `yaml:"replyTokens"`
	Limits      LimitsConfig     `yaml:"limits"`
	RateLimit   RateLimitConfig  `yaml:"rateLimit"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
	SMTP        SMTPConfig       `yaml:"smtp"`
	HTTP        HTTPConfig       `yaml:"http"`
	Email       EmailConfig      `yaml:"email"`
	Delivery    DeliveryConfig   `yaml:"delivery"`
	Uploads     UploadConfig     `yaml:"uploads"`
	Directory   DirectoryConfig  `yaml:"directory"`
	Log         LogConfig        `yaml:"log"`
}

// GatewayConfig describes the synthetic recipient addresses handled by the gateway.
type GatewayConfig struct {
	// Pattern is an address with a single "%s" placeholder for the local part token, e.g. "%s@mirror.example.com".
	Pattern string `yaml:"pattern"`
	// ExtraPattern of the form "@example.com" replaces the domain of Pattern when matching.
	ExtraPattern   string `yaml:"extraPattern"`
	NoReplyAddress string `yaml:"noReplyAddress"`
	BotEmail       string `yaml:"botEmail"`
	ErrorBotEmail  string `yaml:"errorBotEmail"`
	ErrorChannel   string `yaml:"errorChannel"`
}

// ReplyTokenConfig configures missed-message reply addresses.
type ReplyTokenConfig struct {
	Expiry      time.Duration `yaml:"expiry"`
	AllowedUses int           `yaml:"allowedUses"`
	Store       string        `yaml:"store"`
}

// LimitsConfig holds the maximum lengths accepted by the chat system.
type LimitsConfig struct {
	MaxTopicLength   int `yaml:"maxTopicLength"`
	MaxMessageLength int `yaml:"maxMessageLength"`
}

// RateLimitConfig configures the per-realm inbound mail limiter.
type RateLimitConfig struct {
	Backend string          `yaml:"backend"`
	Rules   []RateLimitRule `yaml:"rules"`
}

// RateLimitRule allows at most Max messages within Window.
type RateLimitRule struct {
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig names the work queue between ingestion and processing.
type QueueConfig struct {
	Backend     string        `yaml:"backend"`
	Name        string        `yaml:"name"`
	PollTimeout time.Duration `yaml:"pollTimeout"`
}

// SMTPConfig configures the inbound SMTP listener.
type SMTPConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	Domain          string        `yaml:"domain"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	MaxMessageBytes int64         `yaml:"maxMessageBytes"`
	MaxRecipients   int           `yaml:"maxRecipients"`
}

// HTTPConfig configures the HTTP ingestion API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// APIKey guards the reply address endpoint, which is disabled while it is empty.
	APIKey string `yaml:"apiKey"`
}

// EmailConfig represents IMAP email configuration.
type EmailConfig struct {
	Imap        string        `yaml:"imap"`
	Login       string        `yaml:"login"`
	Password    string        `yaml:"password"`
	RefreshTime time.Duration `yaml:"refreshTime"`
	MailBox     string        `yaml:"mailbox"`
}

// DeliveryConfig points at the chat system's message API.
type DeliveryConfig struct {
	WebhookURL string        `yaml:"webhookUrl"`
	Timeout    time.Duration `yaml:"timeout"`
}

// UploadConfig configures where attachments are stored and how they are linked.
type UploadConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	// BaseURL prefixes the object key in returned links. For s3 it defaults to the bucket's virtual-hosted URL.
	BaseURL         string `yaml:"baseUrl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// DirectoryConfig seeds the in-memory chat directory.
type DirectoryConfig struct {
	Channels []Channel `yaml:"channels"`
	Users    []User    `yaml:"users"`
	Messages []Message `yaml:"messages"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
