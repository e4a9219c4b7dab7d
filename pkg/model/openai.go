package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"approver/pkg/logx"
)

// OpenAIClient talks to the OpenAI Responses API.
type OpenAIClient struct {
	client openai.Client
	model  string
	logger *logx.Logger
}

// NewOpenAIClient creates a client for the given model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		logger: logx.NewLogger("openai"),
	}
}

func (c *OpenAIClient) Name() string { return "openai/" + c.model }

// Complete issues one Responses API call. The system framing is folded into
// the input text because the Responses API takes a single input string here.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	input := req.User
	if req.System != "" {
		input = req.System + "\n\n" + req.User
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return Response{}, classifyHTTPError(fmt.Errorf("openai responses.new: %w", err))
	}

	content := resp.OutputText()
	if strings.TrimSpace(content) == "" {
		return Response{}, NewError(ErrKindEmptyResponse, fmt.Errorf("openai returned no output text"))
	}

	c.logger.Debug("completed: model=%s len=%d", c.model, len(content))
	return Response{Content: content}, nil
}
