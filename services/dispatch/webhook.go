package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/upb/audit-quota/services"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the request body
	SignatureHeader = "X-N8N-Signature"

	// CorrelationHeader carries the message correlation id
	CorrelationHeader = "X-Correlation-ID"

	signaturePrefix = "sha256="

	singlePath = "/webhook/formulaire-offre-1"
	batchPath  = "/webhook/batch-upload"
)

// ErrUnexpectedStatus is returned for non-2xx webhook responses
var ErrUnexpectedStatus = errors.New("unexpected webhook status")

// WebhookConfig configures the HTTP transport to the workflow engine
type WebhookConfig struct {
	BaseURL      string
	Secret       string
	Timeout      time.Duration
	RateLimitRPS float64
	RateBurst    int
}

// WebhookSender posts signed JSON payloads to the workflow engine webhooks
type WebhookSender struct {
	baseURL string
	secret  []byte
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewWebhookSender creates a WebhookSender. Both the base URL and the secret are required.
func NewWebhookSender(cfg WebhookConfig, logger *zap.Logger) (*WebhookSender, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("N8N_BASE_URL is required")
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("N8N_WEBHOOK_SECRET is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := max(cfg.RateBurst, 1)

	return &WebhookSender{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		secret:  []byte(cfg.Secret),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Send posts the message to the webhook matching its kind
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	path, err := webhookPath(msg.Kind)
	if err != nil {
		return err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(s.secret, msg.Body))
	req.Header.Set(CorrelationHeader, msg.CorrelationID)

	resp, err := s.client.Do(req)
	if err != nil {
		return services.WrapExternal("workflow webhook request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, path, resp.StatusCode)
	}

	s.logger.Debug("workflow webhook delivered",
		zap.String("path", path),
		zap.String("correlation_id", msg.CorrelationID))
	return nil
}

func webhookPath(kind Kind) (string, error) {
	switch kind {
	case KindSingle:
		return singlePath, nil
	case KindBatch:
		return batchPath, nil
	default:
		return "", fmt.Errorf("unknown message kind %q", kind)
	}
}

// Sign returns the signature header value for body: "sha256=" + hex HMAC-SHA256
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body in constant time
func Verify(secret, body []byte, signature string) bool {
	if len(secret) == 0 || !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
