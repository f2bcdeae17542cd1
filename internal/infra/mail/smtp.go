// Package mail delivers passcode emails over SMTP, or to the log in development mode.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/arklim/credential-gate/internal/core/port"
	"github.com/arklim/credential-gate/internal/infra/config"
	"github.com/arklim/credential-gate/internal/infra/logger"
)

// implicitTLSPort is the SMTPS port; every other port negotiates STARTTLS.
const implicitTLSPort = 465

// SMTPMailer sends through a single SMTP endpoint.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTPMailer targets cfg.Host on the given port.
func NewSMTPMailer(cfg config.MailSettings, port int) *SMTPMailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPMailer{
		host:     cfg.Host,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		timeout:  timeout,
	}
}

// Deliver sends one HTML message.
func (m *SMTPMailer) Deliver(ctx context.Context, to, subject, htmlBody string) error {
	msg, err := buildMessage(m.from, to, subject, htmlBody)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(m.host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send via %s:%d: %w", m.host, m.port, err)
	}
	return nil
}

func (m *SMTPMailer) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(m.port),
		gomail.WithTimeout(m.timeout),
	}
	if m.port == implicitTLSPort {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if m.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.username),
			gomail.WithPassword(m.password),
		)
	}
	return opts
}

func buildMessage(from, to, subject, htmlBody string) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlBody)
	return msg, nil
}

// FallbackMailer retries through a secondary transport when the primary fails.
type FallbackMailer struct {
	primary  port.Mailer
	fallback port.Mailer
	logger   *zap.Logger
}

// NewFallbackMailer wires primary with fallback.
func NewFallbackMailer(primary, fallback port.Mailer, log *zap.Logger) *FallbackMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackMailer{primary: primary, fallback: fallback, logger: log}
}

// Deliver returns nil when either transport accepts the message.
func (m *FallbackMailer) Deliver(ctx context.Context, to, subject, htmlBody string) error {
	primaryErr := m.primary.Deliver(ctx, to, subject, htmlBody)
	if primaryErr == nil {
		return nil
	}

	m.logger.Warn("primary mail transport failed, trying fallback",
		zap.String("to", logger.MaskEmail(to)),
		zap.Error(primaryErr),
	)

	if err := m.fallback.Deliver(ctx, to, subject, htmlBody); err != nil {
		return errors.Join(primaryErr, err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer is used in development mode.
func NewLogMailer(log *zap.Logger) *LogMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogMailer{logger: log}
}

// Deliver never fails. The body, which holds the passcode, is only logged at debug level.
func (m *LogMailer) Deliver(_ context.Context, to, subject, htmlBody string) error {
	m.logger.Info("email delivery skipped in development mode",
		zap.String("to", logger.MaskEmail(to)),
		zap.String("subject", subject),
	)
	m.logger.Debug("email body", zap.String("to", to), zap.String("body", htmlBody))
	return nil
}

// New picks the transport for cfg.
func New(cfg config.MailSettings, log *zap.Logger) port.Mailer {
	if cfg.DevelopmentMode {
		return NewLogMailer(log)
	}

	primary := NewSMTPMailer(cfg, cfg.Port)
	if cfg.FallbackPort <= 0 || cfg.FallbackPort == cfg.Port {
		return primary
	}
	return NewFallbackMailer(primary, NewSMTPMailer(cfg, cfg.FallbackPort), log)
}

var (
	_ port.Mailer = (*SMTPMailer)(nil)
	_ port.Mailer = (*FallbackMailer)(nil)
	_ port.Mailer = (*LogMailer)(nil)
)
