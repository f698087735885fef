package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/resilience"
)

// ErrNotDelivered is returned by senders that only record the message. The
// gate treats it as "not sent" and leaves the rate-limit timestamp alone.
var ErrNotDelivered = eris.New("notify: message not delivered")

// Sender delivers rendered content to one recipient.
type Sender interface {
	Send(ctx context.Context, s model.NotificationSettings, c Content) error
}

// DefaultEmailEndpoint is the Resend send-email API.
const DefaultEmailEndpoint = "https://api.resend.com/emails"

// EmailSender posts messages to a Resend-compatible email API.
type EmailSender struct {
	APIKey   string
	From     string
	Endpoint string

	client *http.Client
	retry  resilience.RetryConfig
}

// NewEmailSender creates an email sender.
func NewEmailSender(apiKey, from, endpoint string) *EmailSender {
	if endpoint == "" {
		endpoint = DefaultEmailEndpoint
	}
	if from == "" {
		from = "Portfolio Watchman <onboarding@resend.dev>"
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("email", "send")
	return &EmailSender{
		APIKey:   apiKey,
		From:     from,
		Endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		retry:    retry,
	}
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
}

// Send implements Sender.
func (e *EmailSender) Send(ctx context.Context, s model.NotificationSettings, c Content) error {
	if s.Email == "" {
		return eris.Errorf("notify: no email address for user %s", s.UserID)
	}
	payload, err := json.Marshal(emailRequest{
		From:    e.From,
		To:      []string{s.Email},
		Subject: c.Subject,
		Text:    c.Text,
		HTML:    c.HTML,
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal email")
	}
	return resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		return post(ctx, e.client, e.Endpoint, e.APIKey, payload)
	})
}

// WebhookSender delivers push notifications by posting JSON to a webhook.
type WebhookSender struct {
	URL string

	client *http.Client
	retry  resilience.RetryConfig
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(url string) *WebhookSender {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("webhook", "send")
	return &WebhookSender{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

type pushPayload struct {
	UserID    string    `json:"user_id"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Send implements Sender.
func (w *WebhookSender) Send(ctx context.Context, s model.NotificationSettings, c Content) error {
	payload, err := json.Marshal(pushPayload{
		UserID:    s.UserID,
		Subject:   c.Subject,
		Text:      c.Text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal push")
	}
	return resilience.Do(ctx, w.retry, func(ctx context.Context) error {
		return post(ctx, w.client, w.URL, "", payload)
	})
}

func post(ctx context.Context, client *http.Client, url, bearer string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("notify: %s returned status %d", req.URL.Host, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

// LogSender writes the message to the log instead of delivering it.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(_ context.Context, s model.NotificationSettings, c Content) error {
	zap.L().Info("notify: delivery not configured, logging message",
		zap.String("user_id", s.UserID),
		zap.String("channel", string(s.Channel)),
		zap.String("subject", c.Subject),
	)
	return ErrNotDelivered
}
