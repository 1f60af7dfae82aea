package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAIClient talks to the Gemini API.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a Gemini-backed completion client.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIClient{client: client, model: model}, nil
}

// Complete returns a completion for a bare prompt.
func (c *GenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, "", prompt, false)
}

// CompleteWithSystem returns a completion with a system instruction.
func (c *GenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt, false)
}

// CompleteJSON returns a completion in Gemini's native JSON mode.
func (c *GenAIClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.generate(ctx, systemPrompt, userPrompt, true)
}

func (c *GenAIClient) generate(ctx context.Context, systemPrompt, userPrompt string, jsonMode bool) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.3)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPrompt), cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI completion failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned an empty completion")
	}
	return text, nil
}

// Name returns the backend identifier.
func (c *GenAIClient) Name() string {
	return fmt.Sprintf("genai:%s", c.model)
}
