package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaClient calls the Ollama HTTP API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient constructs a client with the provided base URL.
func NewOllamaClient(baseURL string) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &OllamaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *OllamaClient) post(ctx context.Context, path string, payload, out any) error {
	return postJSON(ctx, c.httpClient, "ollama", c.baseURL+path, nil, payload, out, ollamaErrorDetail)
}

func ollamaErrorDetail(raw []byte) string {
	var errResp ollamaErrorResponse
	if json.Unmarshal(raw, &errResp) != nil {
		return ""
	}
	return errResp.Error
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
