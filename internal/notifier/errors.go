package notifier

import "errors"

var (
	// ErrNoWebhookURL is returned by a webhook notifier with nothing to post to
	ErrNoWebhookURL = errors.New("no webhook url configured")

	// ErrWebhookStatus is returned when a webhook answers with an error status
	ErrWebhookStatus = errors.New("webhook returned error status")
)
