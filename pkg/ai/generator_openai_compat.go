package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	OpenAIBaseURL          = "https://api.openai.com/v1"
	OpenRouterBaseURL      = "https://openrouter.ai/api/v1"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultOpenRouterModel = "amazon/nova-2-lite-v1:free"
)

// OpenAICompatGenerator calls any OpenAI-compatible /v1/chat/completions endpoint.
// Works with OpenAI, OpenRouter, vLLM, LiteLLM and other compatible servers.
type OpenAICompatGenerator struct {
	provider   string
	baseURL    string
	apiKey     string
	model      string
	headers    map[string]string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds an OpenAI-compatible Generator.
// baseURL should include the /v1 prefix, e.g. "http://localhost:8000/v1".
// apiKey can be empty for local models that do not require authentication.
func NewOpenAICompatGenerator(provider, baseURL, apiKey, model string) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &OpenAICompatGenerator{
		provider: firstNonEmpty(provider, "openai"),
		baseURL:  baseURL,
		apiKey:   strings.TrimSpace(apiKey),
		model:    strings.TrimSpace(model),
		headers:  map[string]string{},
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// NewOpenAIGenerator targets api.openai.com.
func NewOpenAIGenerator(apiKey, model string) *OpenAICompatGenerator {
	return NewOpenAICompatGenerator("openai", OpenAIBaseURL, apiKey, firstNonEmpty(model, DefaultOpenAIModel))
}

// OpenRouterGenerator is the OpenAI-compatible client for openrouter.ai. It
// also lists the models the API key can use.
type OpenRouterGenerator struct {
	*OpenAICompatGenerator
}

// NewOpenRouterGenerator targets openrouter.ai. appURL and appTitle are sent
// as the attribution headers OpenRouter expects and may be empty.
func NewOpenRouterGenerator(apiKey, model, appURL, appTitle string) *OpenRouterGenerator {
	g := NewOpenAICompatGenerator("openrouter", OpenRouterBaseURL, apiKey, firstNonEmpty(model, DefaultOpenRouterModel))
	g.headers["HTTP-Referer"] = appURL
	g.headers["X-Title"] = appTitle
	return &OpenRouterGenerator{OpenAICompatGenerator: g}
}

// ListModels fetches GET /models. Entries without an id are skipped and a
// missing name falls back to the id.
func (g *OpenRouterGenerator) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var list oaiModelList
	if err := getJSON(ctx, g.httpClient, g.provider, g.baseURL+"/models", g.requestHeaders(), &list, oaiErrorDetail); err != nil {
		return nil, err
	}
	models := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			continue
		}
		models = append(models, ModelInfo{ID: id, Name: firstNonEmpty(m.Name, id)})
	}
	return models, nil
}

func (g *OpenAICompatGenerator) Provider() string     { return g.provider }
func (g *OpenAICompatGenerator) DefaultModel() string { return g.model }

// Generate implements Generator using the chat completions API.
func (g *OpenAICompatGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	model := firstNonEmpty(req.Model, g.model)
	if model == "" {
		return Result{}, upstream(g.provider, fmt.Sprintf("%s generation model required", g.provider))
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: req.UserPrompt})

	body := oaiChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	var chatResp oaiChatResponse
	if err := postJSON(ctx, g.httpClient, g.provider, g.baseURL+"/chat/completions", g.requestHeaders(), body, &chatResp, oaiErrorDetail); err != nil {
		return Result{}, err
	}
	if len(chatResp.Choices) == 0 {
		return Result{}, upstream(g.provider, "empty response from chat completions api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return Result{}, upstream(g.provider, "empty response from chat completions api")
	}
	return Result{
		Text:         text,
		Model:        firstNonEmpty(chatResp.Model, model),
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

func (g *OpenAICompatGenerator) requestHeaders() map[string]string {
	headers := make(map[string]string, len(g.headers)+1)
	for k, v := range g.headers {
		headers[k] = v
	}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}
	return headers
}

func oaiErrorDetail(raw []byte) string {
	var errResp oaiErrorResponse
	if json.Unmarshal(raw, &errResp) != nil {
		return ""
	}
	return errResp.Error.Message
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type oaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type oaiModelList struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
