package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lgomeza/jira-slack-pm/internal/config"
	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/rs/zerolog"
)

var ErrDisabled = errors.New("openai: missing key")

const systemPrompt = "You are a senior agile coach. Given this week's organisation metrics as JSON, " +
	"write two or three short sentences for the team channel: what moved, what stands out, one suggested focus. " +
	"Plain text, no markdown, no greeting."

// Client writes the optional narrative paragraph of the org report.
type Client struct {
	key   string
	model string
	cli   openai.Client
	log   zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger, opts ...option.RequestOption) *Client {
	model := cfg.OpenAIModel
	if strings.TrimSpace(model) == "" {
		model = "gpt-4.1-mini"
	}
	base := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.OpenAITimeout}),
		option.WithMaxRetries(1),
	}
	return &Client{key: cfg.OpenAIKey, model: model, cli: openai.NewClient(append(base, opts...)...), log: log}
}

// Enabled is false without an API key; callers skip the summary then.
func (c *Client) Enabled() bool { return strings.TrimSpace(c.key) != "" }

// Summarize sends facts as JSON and returns the model's paragraph.
func (c *Client) Summarize(ctx context.Context, facts any) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	b, err := json.Marshal(facts)
	if err != nil {
		return "", fmt.Errorf("openai: encode facts: %w", err)
	}
	c.log.Info().Str("model", c.model).Msg("openai: summarize call")
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(b)),
		},
	}
	resp, err := c.cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
