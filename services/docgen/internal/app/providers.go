package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"docgen/pkg/ai"
)

const (
	modelListTTL     = 10 * time.Minute
	modelListRetry   = time.Minute
	modelListTimeout = 10 * time.Second
)

// Model is a selectable model of a provider.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderInfo describes a configured AI provider.
type ProviderInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Models    []Model `json:"models"`
	Default   string  `json:"default"`
	IsDefault bool    `json:"isDefault"`
}

var providerNames = map[string]string{
	"gemini":     "Google Gemini",
	"openai":     "OpenAI",
	"openrouter": "OpenRouter",
	"ollama":     "Ollama",
}

var modelCatalog = map[string][]Model{
	"gemini": {
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
	},
	"openai": {
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini"},
		{ID: "gpt-4o", Name: "GPT-4o"},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo"},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo"},
	},
	"openrouter": {
		{ID: "amazon/nova-2-lite-v1:free", Name: "Amazon Nova 2 Lite v1 (free)"},
		{ID: "openai/gpt-oss-20b:free", Name: "GPT-OSS 20B (free)"},
		{ID: "qwen/qwen3-coder:free", Name: "Qwen3 Coder (free)"},
		{ID: "nvidia/nemotron-nano-9b-v2:free", Name: "NemoTron Nano 9B v2 (free)"},
	},
}

// describeProvider merges the models g reported, then its catalog entries,
// dropping duplicate ids. The configured default is put first when neither
// list carries it.
func describeProvider(g ai.Generator, isDefault bool, listed []Model) ProviderInfo {
	name := providerNames[g.Provider()]
	if name == "" {
		name = g.Provider()
	}
	def := g.DefaultModel()
	seen := make(map[string]bool)
	var models []Model
	for _, group := range [][]Model{listed, modelCatalog[g.Provider()]} {
		for _, m := range group {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			models = append(models, m)
		}
	}
	if def != "" && !seen[def] {
		models = append([]Model{{ID: def, Name: def}}, models...)
	}
	return ProviderInfo{
		ID:        g.Provider(),
		Name:      name,
		Models:    models,
		Default:   def,
		IsDefault: isDefault,
	}
}

// modelCache remembers what each listing provider returned. A failed
// listing is cached as empty for modelListRetry so the catalog is served
// without calling the provider on every request.
type modelCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]modelEntry
}

type modelEntry struct {
	models  []Model
	expires time.Time
}

func newModelCache(now func() time.Time) *modelCache {
	if now == nil {
		now = time.Now
	}
	return &modelCache{now: now, entries: make(map[string]modelEntry)}
}

// models returns the listed models of lister, refreshing a stale entry.
// The lock is held across the fetch so concurrent callers share one call.
func (c *modelCache) models(ctx context.Context, provider string, lister ai.ModelLister, logger *slog.Logger) []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.entries[provider]; ok && now.Before(e.expires) {
		return e.models
	}

	ctx, cancel := context.WithTimeout(ctx, modelListTimeout)
	defer cancel()
	listed, err := lister.ListModels(ctx)
	if err != nil {
		logger.Warn("list models failed, serving catalog", "provider", provider, "err", err)
		c.entries[provider] = modelEntry{expires: now.Add(modelListRetry)}
		return nil
	}
	models := make([]Model, 0, len(listed))
	for _, m := range listed {
		models = append(models, Model{ID: m.ID, Name: m.Name})
	}
	c.entries[provider] = modelEntry{models: models, expires: now.Add(modelListTTL)}
	return models
}
