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
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel   = "gemini-2.5-flash"
)

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewGeminiClient constructs a client with the provided API key and default model.
func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		model:      firstNonEmpty(model, DefaultGeminiModel),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (c *GeminiClient) Provider() string     { return "gemini" }
func (c *GeminiClient) DefaultModel() string { return c.model }

// Generate calls models/{model}:generateContent. The key travels in the
// x-goog-api-key header so it never appears in URLs or transport errors.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Result, error) {
	model := normalizeModel(firstNonEmpty(req.Model, c.model))
	body := generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: req.UserPrompt}},
		}},
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	headers := map[string]string{"x-goog-api-key": c.apiKey}
	if err := postJSON(ctx, c.httpClient, c.Provider(), url, headers, body, &resp, geminiErrorDetail); err != nil {
		return Result{}, err
	}
	if resp.PromptFeedback.BlockReason != "" {
		return Result{}, upstream(c.Provider(), "prompt blocked: "+resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return Result{}, upstream(c.Provider(), "empty response from gemini")
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return Result{}, upstream(c.Provider(), "empty response from gemini, finish reason "+resp.Candidates[0].FinishReason)
	}
	return Result{
		Text:         text,
		Model:        model,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func geminiErrorDetail(raw []byte) string {
	var errResp errorResponse
	if json.Unmarshal(raw, &errResp) != nil {
		return ""
	}
	return errResp.Error.Message
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
