// Package claude adapts the Anthropic SDK to the triage.Provider interface.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/caseflow/internal/triage"
)

// Client implements triage.Provider against the Claude Messages API.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a new Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends a single system+user exchange and returns the text reply
// with token usage.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (*triage.Completion, error) {
	msg, err := c.client.Messages.New(ctx, buildParams(c.model, system, user, maxTokens))
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return fromSDKMessage(msg), nil
}

// buildParams assembles the SDK request for a single-turn completion.
func buildParams(model, system, user string, maxTokens int) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

// fromSDKMessage flattens the SDK response into a Completion. Text blocks
// are concatenated; tool blocks never appear because we send no tools.
func fromSDKMessage(msg *anthropic.Message) *triage.Completion {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &triage.Completion{
		Text:         sb.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}
