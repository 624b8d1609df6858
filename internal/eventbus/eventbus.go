// Package eventbus implements the abstract publish(channel, payload) sink
// referenced throughout the ingestion engine, backed by an SQS FIFO queue.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
)

// Channel names. The batch writer publishes on ChannelCandleUpdate; no
// component in this module publishes on ChannelMarketMetricsUpdate (the
// hourly refresher saves metrics without publishing an event).
const (
	ChannelCandleUpdate        = "candle_update"
	ChannelMarketMetricsUpdate = "market_metrics_update"
)

// Publisher is the sink every downstream component sends events through.
// It never blocks the caller on delivery failure; publish is best-effort and
// errors are logged, matching the source's fire-and-forget publish(channel,
// payload) contract.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any)
}

// SQSPublisher backs Publisher with an AWS SQS FIFO queue, one message per
// publish call. MessageGroupId is the channel name so ordering is preserved
// per channel; MessageDeduplicationId is a fresh UUID per call.
type SQSPublisher struct {
	client   *sqs.Client
	queueURL string
	logger   *slog.Logger
}

func NewSQSPublisher(ctx context.Context, region, queueURL string, logger *slog.Logger) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		logger:   logger,
	}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, channel string, payload any) {
	body, err := json.Marshal(struct {
		Channel string `json:"channel"`
		Payload any    `json:"payload"`
	}{Channel: channel, Payload: payload})
	if err != nil {
		p.logger.Error("eventbus: marshal payload failed", "channel", channel, "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = p.client.SendMessage(sendCtx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(p.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(channel),
		MessageDeduplicationId: aws.String(uuid.NewString()),
	})
	if err != nil {
		p.logger.Error("eventbus: publish failed", "channel", channel, "error", err)
	}
}

// NoopPublisher discards every event; useful for tests and for running the
// ingestion engine without an event-bus transport configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) {}
