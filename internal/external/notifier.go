package external

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/domodwyer/mailyak/v3"

	"ticketing/internal/logger"
)

type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// MailNotifier sends plain text email over SMTP.
type MailNotifier struct {
	cfg  MailConfig
	addr string
	auth smtp.Auth
}

func NewMailNotifier(cfg MailConfig) *MailNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &MailNotifier{
		cfg:  cfg,
		addr: cfg.Host + ":" + strconv.Itoa(cfg.Port),
		auth: auth,
	}
}

func (n *MailNotifier) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mail := mailyak.New(n.addr, n.auth)
	mail.To(to)
	mail.From(n.cfg.From)
	mail.FromName(n.cfg.FromName)
	mail.Subject(subject)
	mail.Plain().Set(body)

	if err := mail.Send(); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	logger.WithContext(ctx).Info("Email sent", "to", to, "subject", subject)
	return nil
}

// LogNotifier only logs messages. It is used when no SMTP server is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, to, subject, body string) error {
	logger.WithContext(ctx).Info("Email notification (not sent)", "to", to, "subject", subject, "body", body)
	return nil
}
