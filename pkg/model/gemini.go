package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"approver/pkg/logx"
)

// GeminiClient talks to the Gemini API. The underlying SDK client is created
// lazily on first use because genai.NewClient needs a context.
type GeminiClient struct {
	apiKey string
	model  string
	logger *logx.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient creates a client for the given model.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
		logger: logx.NewLogger("gemini"),
	}
}

func (c *GeminiClient) Name() string { return "gemini/" + c.model }

func (c *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	c.client = client
	return client, nil
}

// Complete performs one GenerateContent round trip.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return Response{}, classifyHTTPError(err)
	}

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}

	contents := []*genai.Content{{Parts: []*genai.Part{{Text: req.User}}, Role: "user"}}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return Response{}, classifyHTTPError(fmt.Errorf("gemini generate content: %w", err))
	}

	content := result.Text()
	if strings.TrimSpace(content) == "" {
		return Response{}, NewError(ErrKindEmptyResponse, fmt.Errorf("gemini returned no text"))
	}

	c.logger.Debug("completed: model=%s len=%d", c.model, len(content))
	return Response{Content: content}, nil
}
