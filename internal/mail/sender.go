// Package mail renders and delivers account emails.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// DefaultSMTPTimeout bounds one delivery, dial included.
const DefaultSMTPTimeout = 10 * time.Second

// Message is a rendered email with a plain text and an HTML body.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender delivers mail through an SMTP relay, upgrading to STARTTLS when
// the server offers it.
type SMTPSender struct {
	client  *gomail.Client
	from    string
	timeout time.Duration
	deliver func(ctx context.Context, msg *gomail.Msg) error
	now     func() time.Time
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("mail from address is required")
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTimeout(timeout),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	sender := &SMTPSender{
		client:  client,
		from:    from,
		timeout: timeout,
		now:     time.Now,
	}
	sender.deliver = func(ctx context.Context, msg *gomail.Msg) error {
		return client.DialAndSendWithContext(ctx, msg)
	}
	return sender, nil
}

// Send builds a multipart/alternative message and hands it to the relay
// within the configured timeout.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("mail recipient is required")
	}
	built, err := s.build(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.deliver(ctx, built); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("mail recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(s.now().UTC())
	m.SetMessageID()
	switch {
	case msg.Text != "":
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		if msg.HTML != "" {
			m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
		}
	case msg.HTML != "":
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		return nil, errors.New("mail body is required")
	}
	return m, nil
}

// LogSender writes messages to the log instead of delivering them. It is
// selected when no SMTP host is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("email not delivered, no smtp relay configured",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Text,
	)
	return nil
}

// MultiSender tries each sender in order until one succeeds.
type MultiSender struct {
	Senders []Sender
	Logger  *slog.Logger
}

func (m MultiSender) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var errs []error
	for i, sender := range m.Senders {
		err := sender.Send(ctx, msg)
		if err == nil {
			return nil
		}
		logger.Warn("mail sender failed", "sender", i, "to", msg.To, "error", err)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return errors.New("no mail senders configured")
	}
	return errors.Join(errs...)
}
