// Package openai implements llm.Provider for OpenAI-compatible chat
// completion APIs. Cerebras and Groq expose the same wire format, so the
// hosted backends of the fallback chain are all instances of this provider
// pointed at different base URLs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openai/openai-go"

	"github.com/entrhq/compass/pkg/types"
)

const (
	// DefaultBaseURL is the standard OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// CerebrasBaseURL is the Cerebras inference endpoint.
	CerebrasBaseURL = "https://api.cerebras.ai/v1"

	// GroqBaseURL is the Groq OpenAI-compatible endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	defaultModel        = "gpt-4o-mini"
	defaultTemperature  = 0.7
	defaultMaxTokens    = 1500
	cerebrasModel       = "llama3.1-8b"
	groqModel           = "llama-3.1-8b-instant"
	cerebrasProviderKey = "cerebras"
	groqProviderKey     = "groq"
)

// Provider calls an OpenAI-compatible chat completions endpoint.
type Provider struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	name        string
	temperature float64
	maxTokens   int
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model used for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL points the provider at a non-default OpenAI-compatible API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithName overrides the provider name used in logs and errors.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) { p.httpClient = client }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) { p.maxTokens = n }
}

// NewProvider creates a provider with the given API key. An empty key
// falls back to the OPENAI_API_KEY environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required (parameter or OPENAI_API_KEY)")
	}

	p := &Provider{
		httpClient:  &http.Client{},
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       defaultModel,
		name:        "openai",
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewCerebras creates a provider preset for the Cerebras endpoint.
func NewCerebras(apiKey string, opts ...ProviderOption) (*Provider, error) {
	base := []ProviderOption{
		WithBaseURL(CerebrasBaseURL),
		WithModel(cerebrasModel),
		WithName(cerebrasProviderKey),
	}
	return NewProvider(apiKey, append(base, opts...)...)
}

// NewGroq creates a provider preset for the Groq endpoint.
func NewGroq(apiKey string, opts ...ProviderOption) (*Provider, error) {
	base := []ProviderOption{
		WithBaseURL(GroqBaseURL),
		WithModel(groqModel),
		WithName(groqProviderKey),
	}
	return NewProvider(apiKey, append(base, opts...)...)
}

// Complete sends the conversation to the chat completions endpoint and
// returns the assistant's response.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	reqBody := map[string]any{
		"model":       p.model,
		"messages":    convertMessages(messages),
		"temperature": p.temperature,
		"max_tokens":  p.maxTokens,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai: %s returned status %d: %s", url, resp.StatusCode, string(body))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	role := out.Choices[0].Message.Role
	if role == "" {
		role = string(types.RoleAssistant)
	}
	return &types.Message{
		Role:    types.MessageRole(role),
		Content: out.Choices[0].Message.Content,
	}, nil
}

// Name identifies the backend in logs and errors.
func (p *Provider) Name() string { return p.name }

// Model returns the configured model.
func (p *Provider) Model() string { return p.model }

// BaseURL returns the endpoint the provider targets.
func (p *Provider) BaseURL() string { return p.baseURL }

// convertMessages maps our message type onto the OpenAI SDK's message
// union, which marshals to the wire format every compatible backend
// accepts.
func convertMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
