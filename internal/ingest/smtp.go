package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/metrics"
	"email-mirror-gateway/internal/models"

	"github.com/emersion/go-smtp"
)

// enqueueTimeout bounds DATA when the server has no write timeout.
const enqueueTimeout = 30 * time.Second

var (
	errTemporary = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, try again later",
	}
	errThrottled = &smtp.SMTPError{
		Code:         451,
		EnhancedCode: smtp.EnhancedCode{4, 7, 1},
		Message:      "Rate limit exceeded, try again later",
	}
)

// SMTPServer receives mail for gateway addresses.
type SMTPServer struct {
	server *smtp.Server
}

// NewSMTPServer creates an SMTPServer from cfg.
func NewSMTPServer(cfg models.SMTPConfig, gateway *Gateway) *SMTPServer {
	s := smtp.NewServer(&backend{gateway: gateway, timeout: cfg.WriteTimeout})
	s.Addr = cfg.Addr
	s.Domain = cfg.Domain
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients

	return &SMTPServer{server: s}
}

// Start listens on the configured address until Stop is called.
func (s *SMTPServer) Start() error {
	logging.Log.Infof("Starting SMTP server at %s with domain %s", s.server.Addr, s.server.Domain)
	return s.server.ListenAndServe()
}

// Serve accepts connections on l.
func (s *SMTPServer) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Stop closes the listener and every open session.
func (s *SMTPServer) Stop() error {
	logging.Log.Infof("Stopping SMTP server at %s", s.server.Addr)
	return s.server.Close()
}

type backend struct {
	gateway *Gateway
	timeout time.Duration
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	logging.Log.Debugf("New SMTP session from %s", c.Conn().RemoteAddr())
	return &session{gateway: b.gateway, timeout: b.timeout}, nil
}

type session struct {
	gateway *Gateway
	timeout time.Duration
	from    string
	to      []string
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt rejects recipients that do not route anywhere before the message is transferred.
func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	err := s.gateway.Accept(context.Background(), to)
	switch {
	case err == nil:
		s.to = append(s.to, to)
		return nil
	case errors.Is(err, models.ErrThrottled):
		metrics.IngestInc("smtp", "throttled")
		return errThrottled
	case models.IsDomainError(err):
		metrics.IngestInc("smtp", "rejected")
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      fmt.Sprintf("Bad destination mailbox address: %v", err),
		}
	}
	logging.Log.Errorf("Error validating SMTP recipient: %v", err)
	metrics.IngestInc("smtp", "error")
	return errTemporary
}

// Data queues one job per accepted recipient. A queue that stays full past the
// timeout gives the client a temporary failure.
func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	timeout := s.timeout
	if timeout <= 0 {
		timeout = enqueueTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, to := range s.to {
		if err := s.gateway.Enqueue(ctx, to, string(data)); err != nil {
			logging.Log.Errorf("Error queueing email from %s: %v", s.from, err)
			metrics.IngestInc("smtp", "error")
			return errTemporary
		}
		metrics.IngestInc("smtp", "ok")
	}
	logging.Log.Infof("Queued %d bytes for %d recipient(s)", len(data), len(s.to))
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
