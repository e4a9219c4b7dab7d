package model

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"approver/pkg/logx"
)

// OllamaClient talks to a local or remote Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
	logger *logx.Logger
}

// NewOllamaClient creates a client against the given server URL.
func NewOllamaClient(host, model string) (*OllamaClient, error) {
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return &OllamaClient{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
		logger: logx.NewLogger("ollama"),
	}, nil
}

func (c *OllamaClient) Name() string { return "ollama/" + c.model }

// Complete runs one non-streaming chat round trip.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]api.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.User})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var content string
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return Response{}, classifyHTTPError(fmt.Errorf("ollama chat: %w", err))
	}

	if strings.TrimSpace(content) == "" {
		return Response{}, NewError(ErrKindEmptyResponse, fmt.Errorf("ollama returned no content"))
	}

	c.logger.Debug("completed: model=%s len=%d", c.model, len(content))
	return Response{Content: content}, nil
}
