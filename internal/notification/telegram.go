package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender delivers a plain text message to the configured chat.
type TelegramSender interface {
	SendMessage(ctx context.Context, text string) error
}

// telegramClient talks to the Telegram Bot API.
type telegramClient struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a Telegram channel, or nil when the token or
// chat id is unset so callers can pass the result straight through.
func NewTelegramSender(token, chatID string) TelegramSender {
	if token == "" || chatID == "" {
		return nil
	}
	return &telegramClient{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *telegramClient) SendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage returned %d", resp.StatusCode)
	}
	return nil
}
