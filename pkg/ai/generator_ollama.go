package ai

import (
	"context"
	"strings"
)

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "llama3.1"

// OllamaGenerator wraps OllamaClient with a default model for text generation
// using the Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-based Generator.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: firstNonEmpty(strings.TrimSpace(model), DefaultOllamaModel)}
}

func (g *OllamaGenerator) Provider() string     { return "ollama" }
func (g *OllamaGenerator) DefaultModel() string { return g.model }

// Generate implements Generator using Ollama /api/chat.
func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	model := firstNonEmpty(req.Model, g.model)
	if model == "" {
		return Result{}, upstream(g.Provider(), "ollama generation model required")
	}

	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.UserPrompt})

	body := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}

	var resp ollamaChatResponse
	if err := g.client.post(ctx, "/api/chat", body, &resp); err != nil {
		return Result{}, err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return Result{}, upstream(g.Provider(), "empty response from ollama")
	}
	return Result{
		Text:         text,
		Model:        firstNonEmpty(resp.Model, model),
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
}
