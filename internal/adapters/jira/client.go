/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lgomeza/jira-slack-pm/internal/config"
	"github.com/rs/zerolog"
)

const maxAttempts = 3

// APIError is a non-2xx answer from Jira.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string { return fmt.Sprintf("jira api status=%d body=%s", e.Status, e.Body) }

func (e *APIError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type Client struct {
	baseURL  string
	token    string
	user     string
	pass     string
	pageSize int
	fields   FieldMap
	http     *http.Client
	log      zerolog.Logger
	backoff  func() backoff.BackOff
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
	size := cfg.JiraPageSize
	if size <= 0 {
		size = 50
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.JiraBaseURL, "/"),
		token:    cfg.JiraPAT,
		user:     cfg.JiraEmail,
		pass:     cfg.JiraAPIToken,
		pageSize: size,
		fields:   FieldsFromConfig(cfg),
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		log:      log,
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 300 * time.Millisecond
			bo.MaxElapsedTime = 30 * time.Second
			return backoff.WithMaxRetries(bo, maxAttempts-1)
		},
	}
}

func (c *Client) apiURL(path string, q url.Values) string {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.user != "" && c.pass != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
}

// getJSON decodes a GET response into out, retrying 429/5xx and transport errors.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	if c.baseURL == "" {
		return errors.New("jira: empty baseURL")
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authorize(req)
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			apiErr := &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if apiErr.retryable() {
				c.log.Warn().Int("status", resp.StatusCode).Str("url", u).Msg("jira: retryable response")
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("jira: decode %s: %w", u, err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

func (c *Client) pageQuery(startAt int) url.Values {
	q := url.Values{}
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(c.pageSize))
	return q
}

// UsersPage returns one page of tracker accounts; an empty page ends paging.
func (c *Client) UsersPage(ctx context.Context, startAt int) ([]User, error) {
	var out []User
	err := c.getJSON(ctx, c.apiURL("/rest/api/3/users/search", c.pageQuery(startAt)), &out)
	return out, err
}

// IssuesByUserPage returns one page of issues assigned to accountID.
func (c *Client) IssuesByUserPage(ctx context.Context, accountID string, startAt int) ([]RawIssue, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, errors.New("jira: empty account id")
	}
	q := c.pageQuery(startAt)
	q.Set("jql", "assignee = "+strconv.Quote(accountID))
	q.Set("fields", "*all")
	var out struct {
		Issues []RawIssue `json:"issues"`
	}
	err := c.getJSON(ctx, c.apiURL("/rest/api/3/search", q), &out)
	return out.Issues, err
}

func (c *Client) BoardsPage(ctx context.Context, startAt int) ([]Board, error) {
	var out struct {
		Values []Board `json:"values"`
	}
	err := c.getJSON(ctx, c.apiURL("/rest/agile/1.0/board", c.pageQuery(startAt)), &out)
	return out.Values, err
}

func (c *Client) SprintsByBoardPage(ctx context.Context, boardID int64, startAt int) ([]Sprint, error) {
	if boardID <= 0 {
		return nil, errors.New("jira: invalid board id")
	}
	var out struct {
		Values []Sprint `json:"values"`
	}
	path := "/rest/agile/1.0/board/" + strconv.FormatInt(boardID, 10) + "/sprint"
	err := c.getJSON(ctx, c.apiURL(path, c.pageQuery(startAt)), &out)
	return out.Values, err
}

// collect walks offset pages until an empty one.
func collect[T any](ctx context.Context, size int, page func(ctx context.Context, startAt int) ([]T, error)) ([]T, error) {
	var all []T
	for start := 0; ; start += size {
		items, err := page(ctx, start)
		if err != nil {
			return all, err
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	return collect(ctx, c.pageSize, c.UsersPage)
}

func (c *Client) IssuesByUser(ctx context.Context, accountID string) ([]RawIssue, error) {
	return collect(ctx, c.pageSize, func(ctx context.Context, start int) ([]RawIssue, error) {
		return c.IssuesByUserPage(ctx, accountID, start)
	})
}

func (c *Client) Boards(ctx context.Context) ([]Board, error) {
	return collect(ctx, c.pageSize, c.BoardsPage)
}

func (c *Client) SprintsByBoard(ctx context.Context, boardID int64) ([]Sprint, error) {
	return collect(ctx, c.pageSize, func(ctx context.Context, start int) ([]Sprint, error) {
		return c.SprintsByBoardPage(ctx, boardID, start)
	})
}

// Fields returns the field mapping used by Normalize.
func (c *Client) Fields() FieldMap { return c.fields }
