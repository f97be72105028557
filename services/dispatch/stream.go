package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamSender appends messages to a Redis stream for an external consumer
type StreamSender struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewStreamSender connects to url and verifies the connection
func NewStreamSender(ctx context.Context, url, stream string, logger *zap.Logger) (*StreamSender, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStreamSenderFromClient(client, stream, logger), nil
}

// NewStreamSenderFromClient wraps an existing client
func NewStreamSenderFromClient(client *redis.Client, stream string, logger *zap.Logger) *StreamSender {
	return &StreamSender{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Send adds the message as one stream entry
func (s *StreamSender) Send(ctx context.Context, msg Message) error {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"kind":           string(msg.Kind),
			"correlation_id": msg.CorrelationID,
			"payload":        string(msg.Body),
			"enqueued_at":    time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", s.stream, err)
	}

	s.logger.Debug("workflow message appended",
		zap.String("stream", s.stream),
		zap.String("entry_id", id),
		zap.String("correlation_id", msg.CorrelationID))
	return nil
}

// Close closes the Redis client
func (s *StreamSender) Close() error {
	return s.client.Close()
}
