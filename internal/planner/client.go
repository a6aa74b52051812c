package planner

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// ReasoningClient wraps the external strategic reasoning service. The service
// is an opaque collaborator: it receives a system role and a planning prompt
// and returns raw text the adapter must parse.
type ReasoningClient interface {
	// Reason sends the prompt to the reasoning service and returns its raw
	// response text.
	Reason(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMReasoningClient implements ReasoningClient over a langchaingo model.
type LLMReasoningClient struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

// LLMOption configures an LLMReasoningClient.
type LLMOption func(*LLMReasoningClient)

// WithTemperature sets the sampling temperature for planning calls.
// Planning uses a low temperature by default for more deterministic output.
func WithTemperature(t float64) LLMOption {
	return func(c *LLMReasoningClient) {
		c.temperature = t
	}
}

// WithMaxTokens caps the response length for planning calls.
func WithMaxTokens(n int) LLMOption {
	return func(c *LLMReasoningClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewLLMReasoningClient creates a reasoning client backed by the given model.
func NewLLMReasoningClient(model llms.Model, opts ...LLMOption) *LLMReasoningClient {
	c := &LLMReasoningClient{
		model:       model,
		temperature: 0.3,
		maxTokens:   4000,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reason sends the planning prompt to the model and returns the first choice.
func (c *LLMReasoningClient) Reason(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	resp, err := c.model.GenerateContent(ctx, messages,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("reasoning service call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("reasoning service returned no choices")
	}

	return resp.Choices[0].Content, nil
}
