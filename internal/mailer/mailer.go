// Package mailer отправляет письма уведомлений.
package mailer

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"github.com/vladislavdragonenkov/returns/internal/domain"
)

const defaultPort = 587

// ErrNoRecipient — у письма нет адреса получателя.
var ErrNoRecipient = errors.New("email recipient is required")

// Config — параметры SMTP.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPSender отправляет письма через SMTP с обязательным TLS.
type SMTPSender struct {
	client dialer
	from   string
	logger *log.Entry
}

// NewSMTPSender создаёт отправителя. Без логина SMTP-аутентификация не включается.
func NewSMTPSender(cfg Config, logger *log.Entry) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	if logger == nil {
		logger = log.New().WithField("component", "mailer")
	}
	return &SMTPSender{client: client, from: cfg.From, logger: logger}, nil
}

// Send собирает письмо с HTML- и текстовой частями и отправляет его.
func (s *SMTPSender) Send(ctx context.Context, msg domain.EmailMessage) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	s.logger.WithFields(log.Fields{"to": msg.To, "subject": msg.Subject}).Debug("email sent")
	return nil
}

func (s *SMTPSender) build(msg domain.EmailMessage) (*mail.Msg, error) {
	if msg.To == "" {
		return nil, ErrNoRecipient
	}
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	}
	return m, nil
}

// LogSender пишет письма в лог вместо отправки; используется без SMTP.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.New().WithField("component", "mailer")
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg domain.EmailMessage) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	s.logger.WithFields(log.Fields{"to": msg.To, "subject": msg.Subject}).Info("email delivery skipped: smtp is not configured")
	return nil
}

var (
	_ domain.EmailSender = (*SMTPSender)(nil)
	_ domain.EmailSender = (*LogSender)(nil)
)
