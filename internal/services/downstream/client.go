// -----------------------------------------------------------------------
// Downstream Client - token delivery to the consumer service
// -----------------------------------------------------------------------

package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/renovo/internal/models"
)

const (
	// UpdateTokenPath is the downstream endpoint receiving refreshed tokens
	UpdateTokenPath = "/api/plugin/update-token"

	// DefaultTimeout is the default HTTP timeout per push attempt
	DefaultTimeout = 30 * time.Second

	// maxAckBody caps how much of a response body is kept for messages
	maxAckBody = 2048
)

// Client pushes session tokens to the downstream consumer. Transient
// failures (connection errors, 5xx, 429) are retried inside Push with
// exponential backoff; an authentication rejection comes back immediately
// as downstream_rejected.
type Client struct {
	httpClient *http.Client
	logger     arbor.ILogger
	retries    int           // extra attempts after a transient failure
	backoff    time.Duration // first retry delay, doubled per retry
	backoffCap time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy sets the in-attempt retry budget and backoff bounds.
func WithRetryPolicy(retries int, backoff, backoffCap time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = retries
		c.backoff = backoff
		c.backoffCap = backoffCap
	}
}

// NewClient creates a new downstream client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		retries:    3,
		backoff:    2 * time.Second,
		backoffCap: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Push delivers a token to the downstream service. The returned error is
// classified: network for transport trouble after the retry budget is
// spent, downstream_rejected when the service refused the token.
func (c *Client) Push(ctx context.Context, token, downstreamURL, connectionToken string) (*models.PushResult, error) {
	if token == "" {
		return nil, models.NewValidationError("token is required")
	}
	if downstreamURL == "" {
		return nil, models.NewError(models.ErrorKindNetwork, "downstream URL not configured")
	}

	body, err := json.Marshal(map[string]string{"session_token": token})
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}

	endpoint := strings.TrimRight(downstreamURL, "/") + UpdateTokenPath
	maxAttempts := c.retries + 1
	delay := c.backoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if c.logger != nil {
				c.logger.Warn().
					Int("attempt", attempt).
					Dur("delay", delay).
					Err(lastErr).
					Msg("Retrying token push")
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, models.WrapError(models.ErrorKindNetwork, ctx.Err(), "token push cancelled")
			}
			delay *= 2
			if c.backoffCap > 0 && delay > c.backoffCap {
				delay = c.backoffCap
			}
		}

		result, err := c.pushOnce(ctx, endpoint, body, connectionToken)
		if err == nil {
			result.Attempts = attempt
			if c.logger != nil {
				c.logger.Debug().
					Int("attempts", attempt).
					Str("message", result.Message).
					Msg("Token push acknowledged")
			}
			return result, nil
		}
		if !models.KindOf(err).Retryable() {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// pushOnce performs a single POST. Failures come back classified so the
// retry loop can tell transient trouble from a rejection.
func (c *Client) pushOnce(ctx context.Context, endpoint string, body []byte, connectionToken string) (*models.PushResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, models.WrapError(models.ErrorKindInternal, err, "failed to create push request")
	}
	req.Header.Set("Content-Type", "application/json")
	if connectionToken != "" {
		req.Header.Set("Authorization", "Bearer "+connectionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrorKindNetwork, err, "token push failed")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxAckBody))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		message := ackMessage(raw)
		return &models.PushResult{
			Message: message,
			Email:   emailFromAck(message),
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, models.NewError(models.ErrorKindNetwork, "downstream throttled push (429)")

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, models.NewError(models.ErrorKindDownstreamRejected,
			"downstream rejected token (%d): %s", resp.StatusCode, ackMessage(raw))

	default:
		return nil, models.NewError(models.ErrorKindNetwork,
			"downstream error (%d): %s", resp.StatusCode, ackMessage(raw))
	}
}

// ackMessage extracts the human-readable message from a downstream
// response body, JSON first with a plain-text fallback.
func ackMessage(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}

	var envelope struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		switch {
		case envelope.Message != "":
			return envelope.Message
		case envelope.Detail != "":
			return envelope.Detail
		case envelope.Error != "":
			return envelope.Error
		}
	}
	return text
}

// emailFromAck pulls the account email out of acknowledgements shaped
// like "Token updated for user@example.com".
func emailFromAck(message string) string {
	idx := strings.LastIndex(message, " for ")
	if idx < 0 {
		return ""
	}
	email := strings.TrimSpace(message[idx+len(" for "):])
	email = strings.TrimRight(email, ".!")
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}
