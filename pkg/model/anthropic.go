package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"approver/pkg/logx"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
	logger *logx.Logger
}

// NewAnthropicClient creates a client for the given model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logx.NewLogger("anthropic"),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic/" + c.model }

// Complete sends one message exchange and returns the concatenated text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRole("user"),
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.User)},
			},
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System, Type: "text"}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, classifyHTTPError(fmt.Errorf("anthropic messages.new: %w", err))
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	content := sb.String()
	if strings.TrimSpace(content) == "" {
		return Response{}, NewError(ErrKindEmptyResponse, fmt.Errorf("anthropic returned no text content"))
	}

	c.logger.Debug("completed: model=%s stop=%s len=%d", c.model, msg.StopReason, len(content))
	return Response{Content: content}, nil
}
