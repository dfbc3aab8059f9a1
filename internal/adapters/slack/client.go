/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/lgomeza/jira-slack-pm/internal/notify"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Client delivers report messages through the Slack Web API.
type Client struct {
	api *slack.Client
	log zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	opts := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout})}
	if cfg.SlackAPIURL != "" {
		u := cfg.SlackAPIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		opts = append(opts, slack.OptionAPIURL(u))
	}
	return &Client{api: slack.New(cfg.SlackToken, opts...), log: log}
}

// ResolveRecipient looks up the Slack user id behind an email.
func (c *Client) ResolveRecipient(ctx context.Context, email string) (string, error) {
	u, err := c.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		var se slack.SlackErrorResponse
		if errors.As(err, &se) && se.Err == "users_not_found" {
			return "", fmt.Errorf("slack: %s: %w", email, notify.ErrRecipientNotFound)
		}
		return "", fmt.Errorf("slack: lookup %s: %w", email, err)
	}
	if u == nil || u.ID == "" {
		return "", fmt.Errorf("slack: %s: %w", email, notify.ErrRecipientNotFound)
	}
	return u.ID, nil
}

// DeliverMessage posts text to a user id (direct message) or channel id.
func (c *Client) DeliverMessage(ctx context.Context, handle, text string) error {
	ch, ts, err := c.api.PostMessageContext(ctx, handle, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", handle, err)
	}
	c.log.Debug().Str("channel", ch).Str("ts", ts).Msg("slack: message posted")
	return nil
}

var _ notify.Messenger = (*Client)(nil)
