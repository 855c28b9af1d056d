package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nexora/backend/internal/domain"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram sends new-order alerts through the Telegram Bot API. The bot
// token and chat id come from configuration; when either is missing the
// caller wires a Noop instead.
type Telegram struct {
	apiBase    string
	token      string
	chatID     string
	httpClient *http.Client
}

func NewTelegram(token string, chatID string) *Telegram {
	return &Telegram{
		apiBase:    telegramAPIBase,
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) OrderCreated(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    buildOrderMessage(order),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api returned %d", res.StatusCode)
	}
	return nil
}

func buildOrderMessage(order domain.Order) string {
	lines := []string{
		"🟢 New Nexora Order",
		"",
		"Name: " + orDash(order.FullName),
		"City: " + orDash(order.City),
		"Phone: " + orDash(order.Phone),
		"Amount: " + order.AmountUsdt.String() + " USDT",
		"Payment: " + orDash(order.PaymentMethod),
		"Notes: " + orDash(order.Notes),
		"",
		"Order ID: " + orDash(order.ID),
		"Created: " + order.CreatedAt.Format(time.RFC3339),
	}
	return strings.Join(lines, "\n")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
