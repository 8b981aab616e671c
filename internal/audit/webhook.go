package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/bulkmail-engine/internal/domain"
)

const (
	defaultWebhookTimeout    = 10 * time.Second
	defaultWebhookRetryCount = 2
)

type summaryRequest struct {
	RunID          string    `json:"runId"`
	EffectiveStart string    `json:"effectiveStart"`
	End            string    `json:"end"`
	Planned        uint64    `json:"planned"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Aborted        string    `json:"aborted,omitempty"`
}

// WebhookSink posts the run summary to an HTTP endpoint. Individual entries
// are not forwarded.
type WebhookSink struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookSink(endpoint string) (*WebhookSink, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryWaitTime(500 * time.Millisecond)

	return NewWebhookSinkWithClient(endpoint, client)
}

func NewWebhookSinkWithClient(endpoint string, client *resty.Client) (*WebhookSink, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(defaultWebhookRetryCount)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r != nil && isTransientHTTPStatus(r.StatusCode())
	})

	return &WebhookSink{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (s *WebhookSink) Record(context.Context, Entry) error { return nil }

func (s *WebhookSink) Summary(ctx context.Context, summary domain.RunSummary) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("webhook sink is not initialized")
	}

	reqBody := summaryRequest{
		RunID:          summary.RunID,
		EffectiveStart: summary.EffectiveStart.String(),
		End:            summary.End.String(),
		Planned:        summary.Planned,
		Attempted:      summary.Stats.Attempted,
		Succeeded:      summary.Stats.Succeeded,
		Failed:         summary.Stats.Failed,
		Skipped:        summary.Stats.Skipped,
		StartedAt:      summary.StartedAt.UTC(),
		FinishedAt:     summary.FinishedAt.UTC(),
		Aborted:        summary.Aborted,
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Request-ID", summary.RunID).
		SetBody(reqBody).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("summary webhook request failed: %w", err)
	}
	if response == nil {
		return fmt.Errorf("summary webhook returned empty response")
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return errors.New(webhookErrorMessage(statusCode, strings.TrimSpace(response.String())))
}

func (s *WebhookSink) Close() error { return nil }

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("summary webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
