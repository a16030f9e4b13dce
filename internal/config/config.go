package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"email-mirror-gateway/internal/models"

	"gopkg.in/yaml.v2"
)

const (
	DefaultReplyTokenExpiry  = 5 * 24 * time.Hour
	DefaultAllowedUses       = 1
	DefaultMaxTopicLength    = 60
	DefaultMaxMessageLength  = 10000
	DefaultQueueName         = "email_mirror"
	DefaultNoReplyAddress    = "noreply@localhost"
	DefaultErrorChannel      = "errors"
	DefaultQueuePollTimeout  = 5 * time.Second
	DefaultDeliveryTimeout   = 10 * time.Second
	DefaultIMAPRefreshTime   = time.Minute
	DefaultSMTPMaxMessageLen = 25 * 1024 * 1024
)

// DefaultRateLimitRules mirrors the per-realm limits applied to inbound mail
var DefaultRateLimitRules = []models.RateLimitRule{
	{Window: time.Minute, Max: 50},
	{Window: 5 * time.Minute, Max: 120},
	{Window: time.Hour, Max: 600},
}

// Load reads the configuration from the specified YAML file and returns a Config struct.
func Load(filepath string) (*models.Config, error) {
	configFile, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	return Parse(configFile)
}

// Parse decodes YAML configuration, applies defaults and validates the result.
func Parse(data []byte) (*models.Config, error) {
	var config models.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	ApplyDefaults(&config)
	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ApplyDefaults fills every omitted setting with its default value.
func ApplyDefaults(cfg *models.Config) {
	if cfg.Gateway.NoReplyAddress == "" {
		cfg.Gateway.NoReplyAddress = DefaultNoReplyAddress
	}
	if cfg.Gateway.ErrorChannel == "" {
		cfg.Gateway.ErrorChannel = DefaultErrorChannel
	}
	if cfg.ReplyTokens.Expiry == 0 {
		cfg.ReplyTokens.Expiry = DefaultReplyTokenExpiry
	}
	if cfg.ReplyTokens.AllowedUses == 0 {
		cfg.ReplyTokens.AllowedUses = DefaultAllowedUses
	}
	if cfg.ReplyTokens.Store == "" {
		cfg.ReplyTokens.Store = "memory"
	}
	if cfg.Limits.MaxTopicLength == 0 {
		cfg.Limits.MaxTopicLength = DefaultMaxTopicLength
	}
	if cfg.Limits.MaxMessageLength == 0 {
		cfg.Limits.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if len(cfg.RateLimit.Rules) == 0 {
		cfg.RateLimit.Rules = append([]models.RateLimitRule(nil), DefaultRateLimitRules...)
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = DefaultQueueName
	}
	if cfg.Queue.PollTimeout == 0 {
		cfg.Queue.PollTimeout = DefaultQueuePollTimeout
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SMTP.Addr == "" {
		cfg.SMTP.Addr = "0.0.0.0:2525"
	}
	if cfg.SMTP.Domain == "" {
		cfg.SMTP.Domain = "localhost"
	}
	if cfg.SMTP.ReadTimeout == 0 {
		cfg.SMTP.ReadTimeout = 10 * time.Second
	}
	if cfg.SMTP.WriteTimeout == 0 {
		cfg.SMTP.WriteTimeout = 10 * time.Second
	}
	if cfg.SMTP.MaxMessageBytes == 0 {
		cfg.SMTP.MaxMessageBytes = DefaultSMTPMaxMessageLen
	}
	if cfg.SMTP.MaxRecipients == 0 {
		cfg.SMTP.MaxRecipients = 50
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":9991"
	}
	if cfg.Email.RefreshTime == 0 {
		cfg.Email.RefreshTime = DefaultIMAPRefreshTime
	}
	if cfg.Email.MailBox == "" {
		cfg.Email.MailBox = "INBOX"
	}
	if cfg.Uploads.Backend == "" {
		cfg.Uploads.Backend = "local"
	}
	if cfg.Delivery.Timeout == 0 {
		cfg.Delivery.Timeout = DefaultDeliveryTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate rejects settings the gateway cannot run with. An empty gateway
// pattern is accepted: reply addresses then fall back to the no-reply address.
func Validate(cfg *models.Config) error {
	if p := cfg.Gateway.Pattern; p != "" && strings.Count(p, "%s") != 1 {
		return fmt.Errorf("%w: gateway pattern %q must contain exactly one %%s", models.ErrConfiguration, p)
	}
	if p := cfg.Gateway.ExtraPattern; p != "" && !strings.HasPrefix(p, "@") {
		return fmt.Errorf("%w: gateway extraPattern %q must start with @", models.ErrConfiguration, p)
	}
	if cfg.ReplyTokens.AllowedUses < 0 {
		return fmt.Errorf("%w: replyTokens.allowedUses must be positive", models.ErrConfiguration)
	}
	switch cfg.ReplyTokens.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown reply token store %q", models.ErrConfiguration, cfg.ReplyTokens.Store)
	}
	switch cfg.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown rate limit backend %q", models.ErrConfiguration, cfg.RateLimit.Backend)
	}
	switch cfg.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unknown queue backend %q", models.ErrConfiguration, cfg.Queue.Backend)
	}
	switch cfg.Uploads.Backend {
	case "local":
	case "s3":
		if cfg.Uploads.Bucket == "" {
			return fmt.Errorf("%w: uploads.bucket is required for the s3 backend", models.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown uploads backend %q", models.ErrConfiguration, cfg.Uploads.Backend)
	}
	for _, rule := range cfg.RateLimit.Rules {
		if rule.Window <= 0 || rule.Max <= 0 {
			return fmt.Errorf("%w: invalid rate limit rule %v/%d", models.ErrConfiguration, rule.Window, rule.Max)
		}
	}
	if cfg.Limits.MaxTopicLength < 4 || cfg.Limits.MaxMessageLength < 32 {
		return fmt.Errorf("%w: message limits too small", models.ErrConfiguration)
	}
	return nil
}
