package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind classifies the event behind a notification.
type Kind string

const (
	// KindNewMessage fires when a link-bearing earnings message lands.
	KindNewMessage Kind = "new_message"
	// KindFeedDown fires when a push channel exhausts its reconnect budget.
	KindFeedDown Kind = "feed_down"
)

// Notification 封装告警上下文。
type Notification struct {
	Kind        Kind
	Ticker      string
	Quarter     int
	Year        int
	Link        string
	EPSEstimate decimal.Decimal
	EPSActual   decimal.Decimal
	Channel     string
	Detail      string
	At          time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("ticker", note.Ticker).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindFeedDown:
		builder.WriteString("[Feed Down]\n")
		builder.WriteString(fmt.Sprintf("Channel: %s\n", note.Channel))
		builder.WriteString("Reconnect attempts exhausted; manual re-enable required.\n")
	default:
		builder.WriteString("[Earnings Message]\n")
		builder.WriteString(fmt.Sprintf("Ticker: %s Q%d %d\n", note.Ticker, note.Quarter, note.Year))
		if note.Link != "" {
			builder.WriteString(fmt.Sprintf("Link: %s\n", note.Link))
		}
		if !note.EPSEstimate.IsZero() {
			builder.WriteString(fmt.Sprintf("EPS est: %s\n", note.EPSEstimate.StringFixed(2)))
		}
		if !note.EPSActual.IsZero() {
			builder.WriteString(fmt.Sprintf("EPS actual: %s\n", note.EPSActual.StringFixed(2)))
		}
	}
	if !note.At.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	}
	if note.Detail != "" {
		builder.WriteString(note.Detail)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
