package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/redis/go-redis/v9"
)

var ErrPublisherNotConfigured = errors.New("revocation publisher not configured")

// Publisher delivers one revocation event to the shared channel.
type Publisher interface {
	Publish(ctx context.Context, event RevocationEvent) error
}

type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "token_revocation_events"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event RevocationEvent) error {
	if p == nil || p.client == nil {
		return ErrPublisherNotConfigured
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal revocation event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// SNSAPI is the subset of the SNS client used for publishing.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

func (p *SNSPublisher) Publish(ctx context.Context, event RevocationEvent) error {
	if p == nil || p.client == nil || p.topicARN == "" {
		return ErrPublisherNotConfigured
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal revocation event: %w", err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String(event.EventType)},
			"dataType":  {DataType: aws.String("String"), StringValue: aws.String(event.DataType)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// LogPublisher writes events to the log only. Used when no broker is wired.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event RevocationEvent) error {
	p.logger.InfoContext(ctx, "revocation event",
		"event_type", event.EventType,
		"token_uid", event.ResourceUID,
		"user_uid", event.ReceiverUID,
		"revocation_type", string(event.Body.RevocationType),
		"reason", event.Body.Reason,
	)
	return nil
}
