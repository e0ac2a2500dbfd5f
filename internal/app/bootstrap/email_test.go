package bootstrap

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/notify"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func TestBuildEmailSender(t *testing.T) {
	logger := logging.New("error")
	awsCfg := &aws.Config{Region: "us-east-1"}

	cases := []struct {
		name     string
		cfg      *appconfig.Config
		aws      *aws.Config
		provider string
	}{
		{name: "nil config", cfg: nil, provider: "stub"},
		{name: "nothing configured", cfg: &appconfig.Config{EmailProvider: "auto"}, provider: "stub"},
		{name: "disabled", cfg: &appconfig.Config{EmailProvider: "none", SendGridAPIKey: "key"}, provider: "stub"},
		{name: "sendgrid only", cfg: &appconfig.Config{EmailProvider: "auto", SendGridAPIKey: "key"}, provider: "sendgrid"},
		{name: "ses only", cfg: &appconfig.Config{EmailProvider: "auto", SESFromEmail: "no-reply@clinic.test"}, aws: awsCfg, provider: "ses"},
		{name: "both", cfg: &appconfig.Config{EmailProvider: "auto", SESFromEmail: "no-reply@clinic.test", SendGridAPIKey: "key"}, aws: awsCfg, provider: "ses+sendgrid"},
		{name: "ses without aws", cfg: &appconfig.Config{EmailProvider: "ses", SESFromEmail: "no-reply@clinic.test"}, provider: "stub"},
		{name: "explicit sendgrid", cfg: &appconfig.Config{EmailProvider: "sendgrid", SendGridAPIKey: "key", SESFromEmail: "x@y.z"}, aws: awsCfg, provider: "sendgrid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sender, provider := BuildEmailSender(tc.cfg, tc.aws, logger)
			if sender == nil {
				t.Fatalf("expected a sender")
			}
			if provider != tc.provider {
				t.Fatalf("expected provider %q, got %q", tc.provider, provider)
			}
			switch provider {
			case "stub":
				if _, ok := sender.(*notify.StubEmailSender); !ok {
					t.Fatalf("expected stub sender, got %T", sender)
				}
			case "ses+sendgrid":
				if _, ok := sender.(*notify.FailoverSender); !ok {
					t.Fatalf("expected failover sender, got %T", sender)
				}
			}
		})
	}
}
