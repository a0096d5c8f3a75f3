package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/scheduler"
)

const webhookAttempts = 3

// webhookPayload is the Apprise API notify body
type webhookPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Tag    string `json:"tag,omitempty"`
	Format string `json:"format"`
}

// WebhookNotifier posts notifications to Apprise-compatible endpoints
type WebhookNotifier struct {
	urls     []string
	logger   *zap.Logger
	client   *http.Client
	backoff  scheduler.RetryStrategy
	attempts int
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(urls []string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		urls:   urls,
		logger: logger.Named("webhook"),
		client: &http.Client{
			Timeout: timeout,
		},
		backoff: &scheduler.ExponentialBackoff{
			InitialDelay: 250 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		attempts: webhookAttempts,
	}
}

// Permission implements PermissionRequester.Permission
func (n *WebhookNotifier) Permission() Permission {
	if len(n.urls) == 0 {
		return PermissionUnsupported
	}
	return PermissionGranted
}

// RequestPermission implements PermissionRequester.RequestPermission.
// Configured webhooks need no consent.
func (n *WebhookNotifier) RequestPermission(ctx context.Context) (Permission, error) {
	return n.Permission(), nil
}

// Notify implements Notifier.Notify. Every URL is attempted; failures are
// joined.
func (n *WebhookNotifier) Notify(ctx context.Context, notification Notification) error {
	if len(n.urls) == 0 {
		return ErrNoWebhookURL
	}

	data, err := json.Marshal(webhookPayload{
		Title:  notification.Title,
		Body:   notification.Body,
		Type:   appriseType(notification.Class),
		Tag:    notification.Tag,
		Format: "text",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var errs []error
	for _, url := range n.urls {
		err := scheduler.Retry(ctx, n.backoff, n.attempts, func(ctx context.Context) error {
			return n.post(ctx, url, data)
		})
		if err != nil {
			n.logger.Warn("Webhook delivery failed", zap.String("url", url), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		n.logger.Debug("Webhook delivered",
			zap.String("url", url),
			zap.String("alert_id", notification.AlertID))
	}
	return errors.Join(errs...)
}

// PlayAlertTone implements Notifier.PlayAlertTone. Webhooks carry no audio.
func (n *WebhookNotifier) PlayAlertTone(ctx context.Context, tone Tone) error {
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, url string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%w: %d - %s", ErrWebhookStatus, resp.StatusCode, string(body))
		// Client errors will not go away on their own
		if resp.StatusCode < 500 {
			return scheduler.Permanent(err)
		}
		return err
	}
	return nil
}

func appriseType(class model.AlertClass) string {
	switch class {
	case model.AlertClassDanger:
		return "failure"
	case model.AlertClassWarning:
		return "warning"
	case model.AlertClassSuccess:
		return "success"
	default:
		return "info"
	}
}
