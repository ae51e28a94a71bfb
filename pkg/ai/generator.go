package ai

import "context"

// Request is a single generation call.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Result is the provider response for a Request.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Generator produces text from a prompt. Gemini, OpenAI-compatible and Ollama
// backends implement it. Errors returned from Generate are *Error values.
type Generator interface {
	Provider() string
	DefaultModel() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// ModelInfo is a model a provider advertises.
type ModelInfo struct {
	ID   string
	Name string
}

// ModelLister is implemented by generators that can enumerate the models
// available to their credentials.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
