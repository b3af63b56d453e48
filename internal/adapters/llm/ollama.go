package llm

import (
	"net/http"
	"strings"
)

// OllamaProvider serves local OpenAI-compatible endpoints (Ollama,
// vLLM). It shares the OpenAI wire format and differs only in default
// URL and auth.
type OllamaProvider struct {
	OpenAIProvider
}

func init() {
	Register(&OllamaProvider{})
}

// Name returns the provider identifier.
func (o *OllamaProvider) Name() string {
	return "ollama"
}

// BuildURL constructs the local chat completions endpoint.
func (o *OllamaProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds bearer auth only when a key is configured; local
// endpoints usually run unauthenticated.
func (o *OllamaProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
