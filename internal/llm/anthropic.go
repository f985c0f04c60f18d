package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when ANTHROPIC_MODEL is not configured.
	DefaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

// Config holds Anthropic client configuration.
type Config struct {
	Model     string
	MaxTokens int
}

// AnthropicClient implements Client using the Anthropic Claude API.
type AnthropicClient struct {
	client anthropic.Client
	config Config
}

// NewAnthropicClient creates a client with an explicit API key. When the key
// is empty the SDK falls back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicClient(apiKey string, cfg Config) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	var client anthropic.Client
	if apiKey != "" {
		client = anthropic.NewClient(option.WithAPIKey(apiKey))
	} else {
		client = anthropic.NewClient()
	}

	return &AnthropicClient{client: client, config: cfg}
}

// Complete implements Client.Complete.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	return convertResponse(resp), nil
}

// Model implements Client.Model.
func (c *AnthropicClient) Model() string {
	return c.config.Model
}

func convertMessage(msg Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		if part.Data != "" {
			blocks = append(blocks, anthropic.NewImageBlockBase64(part.MediaType, part.Data))
			continue
		}
		if part.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		}
	}

	if msg.Role == RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func convertResponse(resp *anthropic.Message) *Response {
	var textParts []string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			textParts = append(textParts, block.Text)
		}
	}

	out := &Response{
		Content: strings.Join(textParts, ""),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}

	switch resp.StopReason {
	case anthropic.StopReasonMaxTokens:
		out.StopReason = StopReasonMaxTokens
	default:
		out.StopReason = StopReasonEndTurn
	}

	return out
}
