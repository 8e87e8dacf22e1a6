package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookChannel posts messages to a chat webhook.
type WebhookChannel struct {
	url      string
	channel  string
	username string
	client   *http.Client
}

// NewWebhookChannel creates a chat-webhook channel.
func NewWebhookChannel(url, channel, username string) *WebhookChannel {
	if username == "" {
		username = "pulsewatch"
	}
	return &WebhookChannel{
		url:      url,
		channel:  channel,
		username: username,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

type webhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type webhookAttachment struct {
	Color  string         `json:"color"`
	Title  string         `json:"title"`
	Text   string         `json:"text"`
	Fields []webhookField `json:"fields"`
}

type webhookPayload struct {
	Channel     string              `json:"channel,omitempty"`
	Username    string              `json:"username"`
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments"`
}

// Send posts the message. A non-2xx response is an error.
func (w *WebhookChannel) Send(ctx context.Context, m Message) error {
	fields := make([]webhookField, 0, len(m.Fields))
	for _, f := range m.Fields {
		fields = append(fields, webhookField{Title: f.Title, Value: f.Value, Short: f.Short})
	}
	payload := webhookPayload{
		Channel:  w.channel,
		Username: w.username,
		Text:     m.Title,
		Attachments: []webhookAttachment{{
			Color:  string(m.Severity),
			Title:  m.Title,
			Text:   m.Text,
			Fields: fields,
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
