package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"business-escalation/internal/domain"
)

// errServerStatus marks a 5xx response, which is worth retrying.
var errServerStatus = errors.New("webhook returned a server error")

// RetryPolicy controls how often a failed webhook call is retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

type webhookDeliverer struct {
	client *http.Client
	url    string
	retry  RetryPolicy
	logger *slog.Logger
}

// NewWebhookDeliverer posts volunteer requests as JSON to url.
func NewWebhookDeliverer(url string, retry RetryPolicy, logger *slog.Logger) domain.Deliverer {
	return &webhookDeliverer{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		url:    url,
		retry:  retry,
		logger: logger.With("deliverer", "webhook"),
	}
}

// Deliver posts the request and retries timeouts and 5xx responses.
func (d *webhookDeliverer) Deliver(ctx context.Context, req *domain.VolunteerRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal volunteer request: %w", err)
	}

	if d.retry.MaxRetries == 0 {
		return d.doDeliver(ctx, req.TaskInfo.ID, body)
	}

	var (
		lastErr error
		output  string
	)
	for i := 0; i <= d.retry.MaxRetries; i++ {
		output, lastErr = d.doDeliver(ctx, req.TaskInfo.ID, body)
		if lastErr == nil {
			return output, nil
		}

		var netErr net.Error
		retriable := errors.Is(lastErr, errServerStatus) || (errors.As(lastErr, &netErr) && netErr.Timeout())
		if !retriable {
			return output, fmt.Errorf("non-retriable error on attempt %d: %w", i+1, lastErr)
		}
		if i == d.retry.MaxRetries {
			break
		}

		d.logger.Warn("webhook attempt failed, retrying", "attempt", i+1, "task_id", req.TaskInfo.ID, "error", lastErr)
		select {
		case <-ctx.Done():
			return output, ctx.Err()
		case <-time.After(d.retry.Backoff):
		}
	}

	return output, fmt.Errorf("webhook failed after %d retries: %w", d.retry.MaxRetries, lastErr)
}

// doDeliver performs a single POST.
func (d *webhookDeliverer) doDeliver(ctx context.Context, taskID string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Task-ID", taskID)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read max 1KB for output logging.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 500 {
		return string(bodyBytes), fmt.Errorf("%w: %s", errServerStatus, resp.Status)
	}
	if resp.StatusCode >= 400 {
		return string(bodyBytes), fmt.Errorf("webhook returned a client error: %s", resp.Status)
	}

	return string(bodyBytes), nil
}
