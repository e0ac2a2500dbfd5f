package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// EmailSender delivers one email. SendGrid and SES implement it.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage represents an email to be sent.
type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string // Plain text body
	HTML    string // Optional HTML body
	// TenantID tags the message so bounces can be traced to a clinic.
	TenantID string
	Category string
}

// SendGridSender sends emails via SendGrid API.
type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// NewSendGridSender returns nil when no API key is configured.
func NewSendGridSender(cfg SendGridConfig, logger *logging.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Dentalogic"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

func (s *SendGridSender) build(msg EmailMessage) *mail.SGMailV3 {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	html := msg.HTML
	if html == "" {
		html = msg.Body
	}
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, html)
	if msg.Category != "" {
		message.AddCategories(msg.Category)
	}
	if msg.TenantID != "" {
		message.SetCustomArg("tenant_id", msg.TenantID)
	}
	return message
}

// Send sends an email via SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	response, err := s.client.SendWithContext(ctx, s.build(msg))
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "to", msg.To, "tenant_id", msg.TenantID)
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "to", msg.To)
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info("email sent via sendgrid", "to", msg.To, "subject", msg.Subject, "status", response.StatusCode)
	return nil
}

// FailoverSender tries each sender in order until one accepts the message.
type FailoverSender struct {
	senders []EmailSender
	logger  *logging.Logger
}

// NewFailoverSender skips nil senders. With a single usable sender it
// returns that sender unchanged.
func NewFailoverSender(logger *logging.Logger, senders ...EmailSender) EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	var usable []EmailSender
	for _, s := range senders {
		if isNilSender(s) {
			continue
		}
		usable = append(usable, s)
	}
	switch len(usable) {
	case 0:
		return NewStubEmailSender(logger)
	case 1:
		return usable[0]
	}
	return &FailoverSender{senders: usable, logger: logger}
}

func isNilSender(s EmailSender) bool {
	switch v := s.(type) {
	case nil:
		return true
	case *SendGridSender:
		return v == nil
	case *SESSender:
		return v == nil
	}
	return false
}

func (f *FailoverSender) Send(ctx context.Context, msg EmailMessage) error {
	var errs []error
	for i, s := range f.senders {
		err := s.Send(ctx, msg)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("email sender failed, trying next", "sender", i, "error", err)
	}
	return errors.Join(errs...)
}

// StubEmailSender is a no-op sender for testing or when email is disabled.
type StubEmailSender struct {
	logger *logging.Logger
}

// NewStubEmailSender creates a stub email sender that logs but doesn't send.
func NewStubEmailSender(logger *logging.Logger) *StubEmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubEmailSender{logger: logger}
}

// Send logs the email but doesn't actually send it.
func (s *StubEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	s.logger.Info("stub email sender: would send email", "to", msg.To, "subject", msg.Subject, "tenant_id", msg.TenantID)
	return nil
}
