package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"videoflix/internal/models"
	"videoflix/internal/observability/metrics"
)

//go:embed templates/*
var templateFS embed.FS

const (
	KindActivation    = "activation"
	KindPasswordReset = "password_reset"

	activationSubject = "Activate your Videoflix account"
	resetSubject      = "Reset your Videoflix password"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Sender       Sender
	FrontendURL  string
	ActivatePath string
	ResetPath    string
	// TokenValidity is quoted in the reset email.
	TokenValidity time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Recorder
}

// Service renders the account emails and hands them to a Sender in the
// background, so a request never waits on the relay. Delivery failures are
// logged and counted but never returned.
type Service struct {
	sender        Sender
	frontend      string
	activatePath  string
	resetPath     string
	tokenValidity time.Duration
	logger        *slog.Logger
	metrics       *metrics.Recorder

	text *texttemplate.Template
	html *htmltemplate.Template

	inflight sync.WaitGroup
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("mail sender is required")
	}
	text, err := texttemplate.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	html, err := htmltemplate.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	svc := &Service{
		sender:        cfg.Sender,
		frontend:      strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		activatePath:  withLeadingSlash(cfg.ActivatePath, "/verify-email"),
		resetPath:     withLeadingSlash(cfg.ResetPath, "/reset-password"),
		tokenValidity: cfg.TokenValidity,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		text:          text,
		html:          html,
	}
	if svc.tokenValidity <= 0 {
		svc.tokenValidity = 72 * time.Hour
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.metrics == nil {
		svc.metrics = metrics.Default()
	}
	return svc, nil
}

type templateData struct {
	Email    string
	Link     string
	ValidFor string
}

// ActivationLink returns the frontend URL that confirms an account.
func (s *Service) ActivationLink(uidb64, token string) string {
	return s.link(s.activatePath, uidb64, token)
}

// ResetLink returns the frontend URL that opens the new password form.
func (s *Service) ResetLink(uidb64, token string) string {
	return s.link(s.resetPath, uidb64, token)
}

func (s *Service) link(path, uidb64, token string) string {
	return s.frontend + path + "?uid=" + url.QueryEscape(uidb64) + "&token=" + url.QueryEscape(token)
}

// SendActivation mails the activation link to a newly registered user.
func (s *Service) SendActivation(ctx context.Context, user models.User, uidb64, token string) {
	s.deliver(ctx, KindActivation, "account_activation", activationSubject, user, s.ActivationLink(uidb64, token))
}

// SendPasswordReset mails the reset link.
func (s *Service) SendPasswordReset(ctx context.Context, user models.User, uidb64, token string) {
	s.deliver(ctx, KindPasswordReset, "password_reset", resetSubject, user, s.ResetLink(uidb64, token))
}

func (s *Service) deliver(ctx context.Context, kind, template, subject string, user models.User, link string) {
	logger := s.logger.With("kind", kind, "user_id", user.ID)
	msg, err := s.render(template, subject, user, link)
	if err != nil {
		s.metrics.ObserveEmail(kind, err)
		logger.Error("failed to render email", "error", err)
		return
	}
	// The request context ends with the response; keep its values only.
	sendCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		err := s.sender.Send(sendCtx, msg)
		s.metrics.ObserveEmail(kind, err)
		if err != nil {
			logger.Error("failed to send email", "error", err)
			return
		}
		logger.Info("email sent")
	}()
}

// Close waits for queued deliveries to finish or for ctx to end.
func (s *Service) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for pending email: %w", ctx.Err())
	}
}

func (s *Service) render(name, subject string, user models.User, link string) (Message, error) {
	data := templateData{Email: user.Email, Link: link, ValidFor: humanDuration(s.tokenValidity)}
	var text, html bytes.Buffer
	if err := s.text.ExecuteTemplate(&text, name+".txt", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", name, err)
	}
	if err := s.html.ExecuteTemplate(&html, name+".html", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", name, err)
	}
	return Message{To: user.Email, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

func withLeadingSlash(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func humanDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	if d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}
