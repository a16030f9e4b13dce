package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"email-mirror-gateway/internal/config"
	"email-mirror-gateway/internal/imap"
	"email-mirror-gateway/internal/ingest"
	"email-mirror-gateway/internal/logging"
	"email-mirror-gateway/internal/models"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.Log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "emailmirror",
		Short:         "Mirror inbound email into chat channels and conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newPollCmd(&configPath))
	cmd.AddCommand(newReplyAddressCmd(&configPath))
	return cmd
}

func loadConfig(path string) (*models.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration file: %w", err)
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	return cfg, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP and HTTP listeners and the queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.worker().Run(ctx)
	}()

	var httpServer *ingest.HTTPServer
	if a.cfg.HTTP.Enabled {
		httpServer = ingest.NewHTTPServer(a.cfg.HTTP, a.gateway, a.registry, a.directory)
		go func() {
			if err := httpServer.Start(); err != nil {
				errs <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	var smtpServer *ingest.SMTPServer
	if a.cfg.SMTP.Enabled {
		smtpServer = ingest.NewSMTPServer(a.cfg.SMTP, a.gateway)
		go func() {
			if err := smtpServer.Start(); err != nil {
				errs <- fmt.Errorf("SMTP server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		logging.Log.Errorf("Listener stopped: %v", runErr)
	}

	if httpServer != nil {
		if err := httpServer.Stop(); err != nil {
			logging.Log.Errorf("Error stopping HTTP server: %v", err)
		}
	}
	if smtpServer != nil {
		if err := smtpServer.Stop(); err != nil {
			logging.Log.Errorf("Error stopping SMTP server: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	wg.Wait()
	return nil
}

func newPollCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Fetch unseen mail from the configured IMAP mailbox and process it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Email.Imap == "" {
				return fmt.Errorf("%w: email.imap is not set", models.ErrConfiguration)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = a.worker().Run(ctx)
			}()

			err = imap.NewPoller(cfg.Email, a.queue).Run(ctx)
			wg.Wait()
			return err
		},
	}
}

func newReplyAddressCmd(configPath *string) *cobra.Command {
	var userID, messageID int64

	cmd := &cobra.Command{
		Use:   "reply-address",
		Short: "Print the reply address for a user and a known message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			addr, err := replyAddress(ctx, a, userID, messageID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), addr)
			return err
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "Recipient user id (required)")
	cmd.Flags().Int64Var(&messageID, "message", 0, "Message id (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func replyAddress(ctx context.Context, a *app, userID, messageID int64) (string, error) {
	user, err := a.directory.UserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("user %d: %w", userID, err)
	}
	message, err := a.directory.MessageByID(ctx, messageID)
	if err != nil {
		return "", fmt.Errorf("message %d: %w", messageID, err)
	}
	return a.registry.Create(ctx, user, message)
}
