// Package main sends a single mail through the configured transport. It is a
// thin harness around the mailer package for checking relay settings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/shineum/smtp-mail-lite/internal/config"
	"github.com/shineum/smtp-mail-lite/internal/email"
	"github.com/shineum/smtp-mail-lite/internal/mailer"
	"github.com/shineum/smtp-mail-lite/internal/metrics"
	"github.com/shineum/smtp-mail-lite/internal/transport"
	"github.com/shineum/smtp-mail-lite/internal/transport/ses"
	smtptransport "github.com/shineum/smtp-mail-lite/internal/transport/smtp"
	"github.com/shineum/smtp-mail-lite/internal/transport/stdout"
)

// shutdownTimeout bounds the wait for the transport to release resources.
const shutdownTimeout = 30 * time.Second

type attachFlags []string

func (a *attachFlags) String() string { return strings.Join(*a, ",") }

func (a *attachFlags) Set(v string) error {
	*a = append(*a, v)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	subject := flag.String("subject", "smtp-mail-lite test", "message subject")
	body := flag.String("body", "This is a test message.", "message body")
	html := flag.Bool("html", false, "send the body as HTML")
	var attachments attachFlags
	flag.Var(&attachments, "attach", "file to attach (repeatable)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	m, err := buildMail(cfg, *subject, *body, *html, attachments)
	if err != nil {
		logger.Error("failed to build mail", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, m); err != nil {
		logger.Error("send failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *email.Mail) (err error) {
	provider, shutdownMetrics, err := metrics.NewProvider(ctx, metrics.Config{
		Enabled:  cfg.Metrics.Enabled,
		Endpoint: cfg.Metrics.Endpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := shutdownMetrics(sctx); serr != nil {
			logger.Warn("failed to flush metrics", "error", serr)
		}
	}()

	instruments, err := metrics.New(provider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	tr, err := selectTransport(ctx, cfg)
	if err != nil {
		return err
	}

	client := mailer.NewWithTransport(tr, mailer.Config{
		Logger:  logger,
		Metrics: instruments,
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, client.Shutdown(sctx))
	}()

	logger.Info("sending mail",
		"transport", tr.Name(),
		"from", m.From.Email,
		"recipients", len(m.Recipients()),
		"attachments", len(m.Attachments),
	)

	if err := client.Send(ctx, m); err != nil {
		var mailErr *mailer.MailError
		if errors.As(err, &mailErr) {
			logger.Error("mail rejected", "kind", mailErr.Kind.String())
		}
		return err
	}

	logger.Info("mail sent", "transport", tr.Name())
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger installs a JSON slog handler as the default logger.
func setupLogger(level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func selectTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSES:
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		t, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return t, nil

	case config.TransportStdout:
		slog.Info("using stdout transport")
		return stdout.New(), nil

	default:
		smtpCfg, err := cfg.SMTPTransportConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to build smtp config: %w", err)
		}
		slog.Info("using SMTP transport",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"security", smtpCfg.Security.String(),
			"sign_in", smtpCfg.SignIn.String(),
		)
		t, err := smtptransport.New(smtpCfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func buildMail(cfg *config.Config, subject, body string, html bool, attachments []string) (*email.Mail, error) {
	m := &email.Mail{
		From:    email.NewAddress(cfg.Mail.From),
		Subject: subject,
		Body:    email.PlainText(body),
	}
	if html {
		m.Body = email.HTML(body)
	}
	for _, to := range cfg.Mail.To {
		m.To = append(m.To, email.NewAddress(to))
	}

	for _, path := range attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		m.Attachments = append(m.Attachments, email.Attachment{
			Name:        filepath.Base(path),
			ContentType: contentType,
			Data:        data,
		})
	}
	return m, nil
}
