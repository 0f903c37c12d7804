package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

// SlackChannel posts fired alerts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackChannel constructs a SlackChannel. webhookURL must be non-empty.
func NewSlackChannel(webhookURL string) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("alert: slack webhook URL is required")
	}
	return &SlackChannel{webhookURL: webhookURL, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(a Alert) error {
	payload := map[string]any{
		"username": "safeai",
		"attachments": []map[string]any{
			{
				"color": "#FF0000",
				"title": fmt.Sprintf(":rotating_light: %s", a.RuleName),
				"text":  fmt.Sprintf("%d matching events in %s (threshold %d)", a.Count, a.Window, a.Threshold),
				"ts":    a.Timestamp.Unix(),
			},
		},
	}
	return postJSON(s.client, s.webhookURL, payload)
}

// TelegramChannel posts fired alerts via the Telegram bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramChannel constructs a TelegramChannel.
func NewTelegramChannel(botToken, chatID string) (*TelegramChannel, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("alert: telegram bot token and chat id are required")
	}
	return &TelegramChannel{botToken: botToken, chatID: chatID, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(a Alert) error {
	text := fmt.Sprintf("*%s*\n%d matching events in %s (threshold %d)", a.RuleName, a.Count, a.Window, a.Threshold)
	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	return postJSON(t.client, url, payload)
}

func postJSON(client *http.Client, url string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("alert: webhook error: %s", string(body))
	}
	return nil
}

// NATSChannel publishes fired alerts onto a NATS subject.
type NATSChannel struct {
	conn    *nats.Conn
	subject string
}

// NewNATSChannel constructs a NATSChannel over an existing connection.
func NewNATSChannel(conn *nats.Conn, subject string) (*NATSChannel, error) {
	if conn == nil {
		return nil, fmt.Errorf("alert: nats connection is required")
	}
	if subject == "" {
		subject = "safeai.alerts"
	}
	return &NATSChannel{conn: conn, subject: subject}, nil
}

func (n *NATSChannel) Name() string { return "nats" }

func (n *NATSChannel) Send(a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return n.conn.Publish(n.subject, data)
}

// WebhookChannel posts the raw alert JSON to an arbitrary HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel constructs a WebhookChannel.
func NewWebhookChannel(url string) (*WebhookChannel, error) {
	if url == "" {
		return nil, fmt.Errorf("alert: webhook url is required")
	}
	return &WebhookChannel{url: url, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("alert: webhook error: %s", string(body))
	}
	return nil
}
