/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/rs/zerolog"
)

// Client is a Messenger over the Telegram Bot API. Telegram has no email
// lookup, so people and channels are mapped to chat ids by the directory file.
type Client struct {
	token   string
	baseURL string
	chats   map[string]int64
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	chats := make(map[string]int64, len(cfg.Directory.Telegram))
	for k, id := range cfg.Directory.Telegram {
		chats[normalize(k)] = id
	}
	base := strings.TrimRight(cfg.TelegramAPIURL, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &Client{
		token:   cfg.TelegramToken,
		baseURL: base,
		chats:   chats,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		log:     log,
	}
}

func normalize(k string) string { return strings.ToLower(strings.TrimSpace(k)) }

// ResolveRecipient maps an email to its chat id.
func (c *Client) ResolveRecipient(_ context.Context, email string) (string, error) {
	id, ok := c.chats[normalize(email)]
	if !ok || id == 0 {
		return "", fmt.Errorf("telegram: %s: %w", email, notify.ErrRecipientNotFound)
	}
	return strconv.FormatInt(id, 10), nil
}

// chatID accepts a numeric id, an @channel username or a directory key.
func (c *Client) chatID(handle string) (any, error) {
	h := strings.TrimSpace(handle)
	if id, err := strconv.ParseInt(h, 10, 64); err == nil && id != 0 {
		return id, nil
	}
	if strings.HasPrefix(h, "@") && len(h) > 1 {
		return h, nil
	}
	if id, ok := c.chats[normalize(h)]; ok && id != 0 {
		return id, nil
	}
	return nil, fmt.Errorf("telegram: no chat for %q", handle)
}

// DeliverMessage sends plain text; report bodies are not valid Markdown.
func (c *Client) DeliverMessage(ctx context.Context, handle, text string) error {
	if c.token == "" {
		return fmt.Errorf("telegram: missing token")
	}
	chat, err := c.chatID(handle)
	if err != nil {
		return err
	}
	body := map[string]any{"chat_id": chat, "text": text, "disable_web_page_preview": true}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram sendMessage status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}
	var r struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("telegram: decode sendMessage: %w", err)
	}
	if !r.OK {
		return fmt.Errorf("telegram sendMessage: %s", r.Description)
	}
	return nil
}

var _ notify.Messenger = (*Client)(nil)
