package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/corwenfield/deepresearch/common/logger"
)

// TriggerMessage requests that the workflow engine start (or resume) a
// research session. It is the only message shape this stream carries.
type TriggerMessage struct {
	SessionID string
	Topic     string
	UserID    string
	TraceID   string
	Attempt   int
}

type Producer interface {
	Enqueue(ctx context.Context, msg TriggerMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
}

func NewRedisProducer(client *redis.Client, stream string) Producer {
	return &redisProducer{
		client: client,
		stream: stream,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg TriggerMessage) error {
	sessionID := msg.SessionID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: sessionID,
		Component: "deepresearch.queue.producer",
	})

	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"session_id": msg.SessionID,
		"topic":      msg.Topic,
		"user_id":    msg.UserID,
		"attempt":    attempt,
	}

	if msg.TraceID != "" {
		fields["trace_id"] = msg.TraceID
	}

	// TODO: add MAXLEN to XAdd once a retention policy for completed sessions is agreed on.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue trigger (stream=%s): %w", p.stream, err)
	}

	slog.InfoContext(ctx, "enqueued research trigger",
		"topic", msg.Topic,
		"attempt", attempt,
		"trace_id", msg.TraceID,
		"stream", p.stream)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
