package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/notify"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// BuildEmailSender wires the fallback email channel. "auto" tries SES first
// and SendGrid second; "none" or a missing configuration logs instead of
// sending. awsCfg may be nil when AWS is not configured.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger), "stub"
	}

	var ses notify.EmailSender
	if awsCfg != nil && strings.TrimSpace(cfg.SESFromEmail) != "" {
		ses = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.SendGridFromName,
			ConfigurationSet: cfg.SESConfigurationSet,
		}, logger)
	}
	var sendgrid notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sendgrid = sg
	}

	switch cfg.EmailProvider {
	case "none":
		return notify.NewStubEmailSender(logger), "stub"
	case "ses":
		if ses != nil {
			return ses, "ses"
		}
	case "sendgrid":
		if sendgrid != nil {
			return sendgrid, "sendgrid"
		}
	default:
		var chain []notify.EmailSender
		var names []string
		if ses != nil {
			chain, names = append(chain, ses), append(names, "ses")
		}
		if sendgrid != nil {
			chain, names = append(chain, sendgrid), append(names, "sendgrid")
		}
		if len(chain) > 0 {
			return notify.NewFailoverSender(logger, chain...), strings.Join(names, "+")
		}
	}
	logger.Warn("no email provider configured; handoff emails will only be logged", "provider", cfg.EmailProvider)
	return notify.NewStubEmailSender(logger), "stub"
}
