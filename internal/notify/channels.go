package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xela07ax/opsguard/internal/domain"
	"go.uber.org/zap"
)

func postJSON(ctx context.Context, client *http.Client, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", res.StatusCode, string(msg))
	}
	return nil
}

func defaultClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func formatText(a domain.Alert) string {
	return fmt.Sprintf("[%s] %s\n%s\nsource: %s, alert #%d",
		a.Severity, a.Title, a.Message, a.Source, a.ID)
}

// WebhookChannel отправляет алерт целиком как JSON.
type WebhookChannel struct {
	URL  string
	HTTP *http.Client
}

func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{URL: url, HTTP: defaultClient()}
}

func (c *WebhookChannel) Send(ctx context.Context, a domain.Alert) error {
	return postJSON(ctx, c.HTTP, c.URL, a)
}

// SlackChannel: incoming webhook Slack.
type SlackChannel struct {
	URL  string
	HTTP *http.Client
}

func NewSlackChannel(url string) *SlackChannel {
	return &SlackChannel{URL: url, HTTP: defaultClient()}
}

func (c *SlackChannel) Send(ctx context.Context, a domain.Alert) error {
	return postJSON(ctx, c.HTTP, c.URL, map[string]string{"text": formatText(a)})
}

// TelegramChannel: Bot API sendMessage.
type TelegramChannel struct {
	BaseURL string
	Token   string
	ChatID  string
	HTTP    *http.Client
}

func NewTelegramChannel(token, chatID string) *TelegramChannel {
	return &TelegramChannel{BaseURL: "https://api.telegram.org", Token: token, ChatID: chatID, HTTP: defaultClient()}
}

func (c *TelegramChannel) Send(ctx context.Context, a domain.Alert) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.BaseURL, c.Token)
	return postJSON(ctx, c.HTTP, url, map[string]string{"chat_id": c.ChatID, "text": formatText(a)})
}

// LogChannel пишет алерт в лог. Используется для каналов без транспорта.
type LogChannel struct {
	Kind   domain.ChannelKind
	Logger *zap.Logger
}

func (c *LogChannel) Send(_ context.Context, a domain.Alert) error {
	c.Logger.Info("alert notification",
		zap.String("channel", string(c.Kind)),
		zap.Uint64("alert_id", a.ID),
		zap.String("severity", string(a.Severity)),
		zap.String("title", a.Title))
	return nil
}
