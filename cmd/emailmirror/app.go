package main

import (
	"context"
	"time"

	"email-mirror-gateway/internal/address"
	"email-mirror-gateway/internal/body"
	"email-mirror-gateway/internal/chat"
	"email-mirror-gateway/internal/emailprocessor"
	"email-mirror-gateway/internal/ingest"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"
	"email-mirror-gateway/internal/queue"
	"email-mirror-gateway/internal/quotes"
	"email-mirror-gateway/internal/ratelimit"
	"email-mirror-gateway/internal/redact"
	"email-mirror-gateway/internal/tokens"
	"email-mirror-gateway/internal/upload"

	"github.com/redis/go-redis/v9"
)

type jobQueue interface {
	Publish(ctx context.Context, job queue.Job) error
	Pop(ctx context.Context, timeout time.Duration) (*queue.Job, error)
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       *models.Config
	redis     *redis.Client
	directory *chat.MemoryDirectory
	registry  *tokens.Registry
	queue     jobQueue
	redactor  *redact.Redactor
	processor *emailprocessor.Processor
	gateway   *ingest.Gateway
}

func newApp(ctx context.Context, cfg *models.Config) (*app, error) {
	a := &app{cfg: cfg}

	uploader, err := newUploader(ctx, cfg.Uploads)
	if err != nil {
		return nil, err
	}

	if usesRedis(cfg) {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	codec := address.NewCodec(cfg.Gateway.Pattern, cfg.Gateway.ExtraPattern)
	a.directory = chat.NewMemoryDirectoryFromConfig(cfg.Directory)
	sender := chat.NewWebhookSender(cfg.Delivery)

	var store tokens.Store = tokens.NewMemoryStore()
	if cfg.ReplyTokens.Store == "redis" {
		store = tokens.NewRedisStore(a.redis)
	}
	a.registry = tokens.NewRegistry(store, codec, cfg.ReplyTokens, cfg.Gateway.NoReplyAddress)

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Rules)
	if cfg.RateLimit.Backend == "redis" {
		limiter = ratelimit.NewRedisLimiter(a.redis, cfg.RateLimit.Rules)
	}

	a.queue = queue.NewMemoryQueue(256)
	if cfg.Queue.Backend == "redis" {
		a.queue = queue.NewQueue(a.redis, cfg.Queue.Name)
	}

	bot, err := a.directory.SystemBot(ctx, cfg.Gateway.BotEmail)
	if err != nil {
		logging.Log.Warnf("Gateway bot %q not found, attachments are uploaded without an owner: %v", cfg.Gateway.BotEmail, err)
	}
	extractor := body.NewExtractor(quotes.Init(), uploader, bot)

	reporter := redact.NewChatReporter(a.directory, sender, cfg.Gateway.ErrorBotEmail, cfg.Gateway.ErrorChannel)
	a.redactor = redact.NewRedactor(codec, a.directory, reporter)

	a.processor = emailprocessor.NewProcessor(emailprocessor.Dependencies{
		Codec:       codec,
		Tokens:      a.registry,
		Directory:   a.directory,
		Sender:      sender,
		Body:        extractor,
		Diagnostics: a.redactor,
	}, cfg.Gateway.BotEmail, cfg.Limits)

	a.gateway = ingest.NewGateway(a.processor, limiter, a.queue)
	return a, nil
}

func newUploader(ctx context.Context, cfg models.UploadConfig) (body.Uploader, error) {
	if cfg.Backend != "s3" {
		return upload.NewLocalStore(cfg), nil
	}
	client, err := upload.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return upload.NewS3Store(client, cfg), nil
}

func usesRedis(cfg *models.Config) bool {
	return cfg.ReplyTokens.Store == "redis" || cfg.RateLimit.Backend == "redis" || cfg.Queue.Backend == "redis"
}

func (a *app) worker() *queue.Worker {
	return queue.NewWorker(a.queue, a.processor, a.redactor, a.cfg.Queue.PollTimeout)
}

// Close releases the Redis client when one is open.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logging.Log.Errorf("Error closing Redis client: %v", err)
		}
	}
}
