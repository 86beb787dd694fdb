package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts to a chat through the Telegram Bot API.
type TelegramSender struct {
	apiURL string
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender with a 10 second HTTP timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiURL: telegramAPI,
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAPIURL points the sender at a different Bot API host.
func (t *TelegramSender) WithAPIURL(apiURL string) *TelegramSender {
	t.apiURL = strings.TrimRight(apiURL, "/")
	return t
}

// Send calls sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	return postJSON(ctx, t.client, "telegram", url, body)
}

// Name returns "telegram".
func (t *TelegramSender) Name() string {
	return "telegram"
}

// postJSON posts body and treats any non-2xx status as an error carrying
// the start of the response body.
func postJSON(ctx context.Context, client *http.Client, name, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, string(respBody))
	}
	return nil
}
