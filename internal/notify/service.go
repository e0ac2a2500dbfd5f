package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/adriangmrraa/dentalogic-sub000/internal/clinic"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// ClinicConfigStore retrieves clinic configuration.
type ClinicConfigStore interface {
	Get(ctx context.Context, tenantID string) (*clinic.Config, error)
}

// HandoffAlert is a conversation that asked for a human while no console
// was watching.
type HandoffAlert struct {
	PhoneNumber string
	Reason      string
	ReceivedAt  time.Time
}

// Service handles sending notifications to clinic staff.
type Service struct {
	email       EmailSender
	clinicStore ClinicConfigStore
	logger      *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, clinicStore ClinicConfigStore, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:       email,
		clinicStore: clinicStore,
		logger:      logger,
	}
}

// NotifyHandoff emails the clinic's recipients about alert. It reports
// whether any email went out; clinics with email or handoff notices turned
// off get nothing and no error.
func (s *Service) NotifyHandoff(ctx context.Context, tenantID string, alert HandoffAlert) (bool, error) {
	if s.clinicStore == nil || s.email == nil {
		s.logger.Debug("notify: handoff email not configured, skipping", "tenant_id", tenantID)
		return false, nil
	}

	cfg, err := s.clinicStore.Get(ctx, tenantID)
	if err != nil {
		s.logger.Error("notify: failed to get clinic config", "error", err, "tenant_id", tenantID)
		return false, fmt.Errorf("notify: get clinic config: %w", err)
	}
	prefs := cfg.Notifications
	recipients := prefs.Recipients()
	if !prefs.EmailEnabled || !prefs.NotifyOnHandoff || len(recipients) == 0 {
		s.logger.Debug("notify: handoff notifications disabled for clinic", "tenant_id", tenantID)
		return false, nil
	}

	if alert.ReceivedAt.IsZero() {
		alert.ReceivedAt = time.Now()
	}
	subject, body, htmlBody := handoffEmail(cfg, alert)

	var errs []error
	sent := 0
	for _, recipient := range recipients {
		msg := EmailMessage{
			To:       recipient,
			Subject:  subject,
			Body:     body,
			HTML:     htmlBody,
			TenantID: tenantID,
			Category: "handoff",
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send handoff email", "error", err, "to", recipient, "tenant_id", tenantID)
			errs = append(errs, fmt.Errorf("email to %s: %w", recipient, err))
			continue
		}
		sent++
	}

	s.logger.Info("notify: handoff notification processed",
		"tenant_id", tenantID,
		"emails_sent", sent,
		"errors", len(errs),
	)
	return sent > 0, errors.Join(errs...)
}

func handoffEmail(cfg *clinic.Config, alert HandoffAlert) (subject, body, htmlBody string) {
	reason := strings.TrimSpace(alert.Reason)
	if reason == "" {
		reason = "Not given"
	}
	when := alert.ReceivedAt.In(cfg.Location()).Format("Monday, January 2 at 15:04")
	hoursNote := ""
	if !cfg.IsOpenAt(alert.ReceivedAt) {
		hoursNote = "\nReceived outside clinic hours."
	}

	subject = fmt.Sprintf("Human handoff requested - %s", alert.PhoneNumber)
	body = fmt.Sprintf(`A patient conversation needs a person.

Phone: %s
Reason: %s
Received: %s%s

Nobody had the console open when it arrived. Reply to the patient from the chat inbox.

- %s`, alert.PhoneNumber, reason, when, hoursNote, cfg.Name)

	htmlHours := ""
	if hoursNote != "" {
		htmlHours = `<p style="color: #b45309;">Received outside clinic hours.</p>`
	}
	htmlBody = fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #dc2626;">Human handoff requested</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
<tr><td style="padding: 6px 12px 6px 0; color: #6b7280;">Phone</td><td><strong>%s</strong></td></tr>
<tr><td style="padding: 6px 12px 6px 0; color: #6b7280;">Reason</td><td>%s</td></tr>
<tr><td style="padding: 6px 12px 6px 0; color: #6b7280;">Received</td><td>%s</td></tr>
</table>
%s
<p>Nobody had the console open when it arrived. Reply to the patient from the chat inbox.</p>
<p style="color: #6b7280;">%s</p>
</div>`, html.EscapeString(alert.PhoneNumber), html.EscapeString(reason), html.EscapeString(when), htmlHours, html.EscapeString(cfg.Name))
	return subject, body, htmlBody
}
