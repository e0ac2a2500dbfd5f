// Command handoff-relay moves human handoff requests from the AI agent's SQS
// queue to the consoles of the clinic, falling back to email when nobody is
// watching. It long-polls the queue, or runs as an SQS-triggered Lambda when
// started by the Lambda runtime.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/adriangmrraa/dentalogic-sub000/cmd/mainconfig"
	"github.com/adriangmrraa/dentalogic-sub000/internal/app/bootstrap"
	appconfig "github.com/adriangmrraa/dentalogic-sub000/internal/config"
	"github.com/adriangmrraa/dentalogic-sub000/internal/events"
	"github.com/adriangmrraa/dentalogic-sub000/internal/handoff"
	"github.com/adriangmrraa/dentalogic-sub000/internal/notify"
	"github.com/adriangmrraa/dentalogic-sub000/internal/realtime"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		logging.Default().Warn("failed to load .env", "error", err)
	}
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("handoff-relay")

	inLambda := runningInLambda()
	if err := cfg.ValidateRelay(inLambda); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if rdb == nil {
		logger.Error("redis unavailable; handoffs cannot reach consoles")
		os.Exit(1)
	}
	defer rdb.Close()

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("AWS config unavailable", "error", err)
	} else {
		awsCfg = &loaded
	}
	emailSender, provider := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("handoff fallback email configured", "provider", provider)

	var clinicConfigs notify.ClinicConfigStore
	if store := bootstrap.BuildClinicStore(rdb); store != nil {
		clinicConfigs = store
	}
	fallback := handoff.NewFallback(
		realtime.NewRelay(rdb, cfg.RealtimeChannel, nil, logger.Component("relay")),
		realtime.NewPresence(rdb, cfg.PresenceTTL, logger.Component("presence")),
		notify.NewService(emailSender, clinicConfigs, logger),
		logger,
	)
	consumer := handoff.NewConsumer(fallback, logger)

	var processed *events.ProcessedStore
	if pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger); pool != nil {
		defer pool.Close()
		processed = events.NewProcessedStore(pool)
		consumer.WithDeduper(processed)
	} else {
		logger.Warn("no database; redelivered handoffs may reach consoles twice")
	}

	if inLambda {
		lambda.StartWithOptions(lambdaHandler(consumer, logger), lambda.WithContext(ctx))
		return
	}

	if awsCfg == nil {
		logger.Error("SQS polling needs AWS configuration")
		os.Exit(1)
	}
	queue := handoff.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.HandoffQueueURL)
	consumer.WithQueue(queue, cfg.SQSMaxMessages, cfg.SQSWaitSeconds)

	if processed != nil {
		go pruneProcessed(ctx, processed, cfg.ProcessedRetention, time.Hour, logger)
	}

	logger.Info("polling handoff queue", "queue_url", cfg.HandoffQueueURL)
	if err := consumer.Run(ctx); err != nil {
		logger.Error("handoff relay stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("handoff relay stopped")
}

type pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// pruneProcessed trims the dedup table on every tick until ctx ends.
func pruneProcessed(ctx context.Context, store pruner, retention, every time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, retention)
			if err != nil {
				logger.Warn("failed to prune processed handoffs", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned processed handoffs", "count", n)
			}
		}
	}
}

func runningInLambda() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// lambdaHandler reports failed records back to SQS so only they are retried.
// Malformed records are logged and acknowledged.
func lambdaHandler(consumer *handoff.Consumer, logger *logging.Logger) func(context.Context, lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	return func(ctx context.Context, evt lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
		var resp lambdaevents.SQSEventResponse
		for _, record := range evt.Records {
			err := consumer.Handle(ctx, record.MessageId, record.Body)
			switch {
			case err == nil:
			case errors.Is(err, handoff.ErrMalformedMessage):
				logger.Error("dropping malformed handoff message", "error", err, "message_id", record.MessageId)
			default:
				logger.Warn("handoff delivery failed", "error", err, "message_id", record.MessageId)
				resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{
					ItemIdentifier: record.MessageId,
				})
			}
		}
		return resp, nil
	}
}
