package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// Sender delivers one message to the workflow engine
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs messages. It is used when no workflow engine is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a new LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the message payload
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("workflow dispatch simulated",
		zap.String("kind", string(msg.Kind)),
		zap.String("correlation_id", msg.CorrelationID),
		zap.ByteString("payload", msg.Body))
	return nil
}
