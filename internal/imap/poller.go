package imap

import (
	"context"
	"sync/atomic"
	"time"

	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/metrics"
	"email-mirror-gateway/internal/models"
	"email-mirror-gateway/internal/queue"
)

const (
	failureSleepDuration = 30 * time.Minute
	backoffAfter         = 5
	backoffBase          = 5 * time.Minute
	backoffMaxSteps      = 10
)

// Publisher hands fetched mail to the processing queue.
type Publisher interface {
	Publish(ctx context.Context, job queue.Job) error
}

// Poller periodically moves unseen mail from a mailbox to the queue.
type Poller struct {
	cfg       models.EmailConfig
	newClient func() Client
	publisher Publisher
	failures  atomic.Int32
	sleep     func(ctx context.Context, d time.Duration)
}

// NewPoller creates a Poller for the mailbox in cfg that publishes to publisher.
func NewPoller(cfg models.EmailConfig, publisher Publisher) *Poller {
	return &Poller{
		cfg:       cfg,
		newClient: func() Client { return NewStandardClient() },
		publisher: publisher,
		sleep:     sleepContext,
	}
}

// Run polls every RefreshTime until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	logging.Log.Infof("Starting IMAP polling of %s, refresh every %s", p.cfg.MailBox, p.cfg.RefreshTime)
	for {
		p.PollOnce(ctx)

		p.sleep(ctx, p.cfg.RefreshTime)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// PollOnce fetches every unseen message once and returns how many were queued.
// Messages are marked seen only after they were queued.
func (p *Poller) PollOnce(ctx context.Context) int {
	client := p.newClient()

	if err := client.Connect(p.cfg.Imap); err != nil {
		p.handleFailure(ctx, err)
		return 0
	}
	defer func() {
		_ = client.Close()
	}()

	// Reset failure count on successful connection
	p.failures.Store(0)

	if err := client.Login(p.cfg.Login, p.cfg.Password); err != nil {
		logging.Log.Errorf("Login error: %v", err)
		return 0
	}
	if err := client.SelectMailbox(p.cfg.MailBox); err != nil {
		logging.Log.Errorf("Folder selection error: %v", err)
		return 0
	}

	uids, err := client.ListUnseenUIDs()
	if err != nil {
		logging.Log.Errorf("Error searching for unseen emails: %v", err)
		return 0
	}

	queued := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			break
		}

		raw, err := client.FetchRaw(uid)
		if err != nil {
			logging.Log.Errorf("Error fetching email UID %d: %v", uid, err)
			continue
		}
		// No envelope recipient is known; the router reads it from the headers.
		if err := p.publisher.Publish(ctx, queue.Job{Message: string(raw)}); err != nil {
			logging.Log.Errorf("Error queueing email UID %d: %v", uid, err)
			metrics.IngestInc("imap", "error")
			continue
		}
		metrics.IngestInc("imap", "ok")
		queued++

		if err := client.MarkSeen(uid); err != nil {
			logging.Log.Errorf("Error marking message UID %d as seen: %v", uid, err)
		}
	}
	return queued
}

// handleFailure counts connection failures and backs off exponentially after the fifth.
func (p *Poller) handleFailure(ctx context.Context, err error) {
	failures := p.failures.Add(1)
	logging.Log.Errorf("IMAP connection error: %v", err)

	if backoff := backoffFor(failures); backoff > 0 {
		logging.Log.Warnf("IMAP failed %d times, waiting %s before next attempt", failures, backoff)
		p.sleep(ctx, backoff)
	}
}

func backoffFor(failures int32) time.Duration {
	if failures < backoffAfter {
		return 0
	}

	n := failures - backoffAfter
	if n > backoffMaxSteps {
		n = backoffMaxSteps
	}

	backoff := backoffBase * time.Duration(1<<n)
	if backoff > failureSleepDuration {
		backoff = failureSleepDuration
	}
	return backoff
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
