// Copyright 2025 Centerline
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai provides an inference provider implementation for
// OpenAI-compatible chat completion APIs, including function calling.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"centerline/core/llm"
)

const (
	// DefaultBaseURL is the default API endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultModel is used when no model is configured or requested.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default completion budget.
	DefaultMaxTokens = 2048
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config contains configuration for the provider.
type Config struct {
	APIKey  string        // Required: API key
	BaseURL string        // Optional: API base URL
	Model   string        // Optional: default model
	Timeout time.Duration // Optional: HTTP timeout
}

// Provider implements llm.Provider against an OpenAI-compatible API.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
	healthy bool
	mu      sync.RWMutex
}

// NewProvider creates a new provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
		healthy: true,
	}, nil
}

// NewProviderWithHTTP creates a provider with a custom HTTP client (tests).
func NewProviderWithHTTP(cfg Config, hc HTTPClient) (*Provider, error) {
	p, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	p.client = hc
	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string { return "openai" }

// Type returns the provider type
func (p *Provider) Type() llm.ProviderType { return llm.ProviderTypeOpenAI }

// API wire types (chat completions subset).

type apiTool struct {
	Type     string             `json:"type"`
	Function llm.FunctionSchema `json:"function"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiChoice struct {
	Message struct {
		Content   string        `json:"content"`
		ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type apiResponse struct {
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete generates a completion for the given request.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	messages := make([]apiMessage, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, apiMessage{Role: "system", Content: req.SystemPrompt})
	}
	if len(req.Messages) > 0 {
		for _, m := range req.Messages {
			messages = append(messages, apiMessage{Role: m.Role, Content: m.Content})
		}
	} else {
		messages = append(messages, apiMessage{Role: "user", Content: req.Prompt})
	}

	apiReq := apiRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	// Temperature 0.0 is valid (deterministic); only omit when negative.
	if req.Temperature >= 0 {
		temp := req.Temperature
		apiReq.Temperature = &temp
	}

	for _, fn := range req.Functions {
		apiReq.Tools = append(apiReq.Tools, apiTool{Type: "function", Function: fn})
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, llm.NewInferenceError(p.Name(), "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, llm.NewInferenceError(p.Name(), "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return nil, llm.NewInferenceError(p.Name(), "API request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewInferenceError(p.Name(), "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			p.setHealthy(false)
		}
		return nil, llm.NewInferenceError(p.Name(), fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 256)), nil)
	}

	p.setHealthy(true)

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, llm.NewInferenceError(p.Name(), "failed to parse response", err)
	}
	if apiResp.Error != nil {
		return nil, llm.NewInferenceError(p.Name(), apiResp.Error.Message, nil)
	}
	if len(apiResp.Choices) == 0 {
		return nil, llm.NewInferenceError(p.Name(), "response contains no choices", nil)
	}

	choice := apiResp.Choices[0]
	result := &llm.CompletionResponse{
		Content: choice.Message.Content,
		Model:   apiResp.Model,
		Latency: time.Since(start),
	}

	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			// Providers occasionally emit invalid JSON arguments; pass
			// an empty map rather than failing the whole completion.
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{}
			}
		}
		result.ToolCalls = append(result.ToolCalls, llm.ProposedCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return result, nil
}

// HealthCheck verifies the provider is reachable by listing models.
func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.setHealthy(false)
		return fmt.Errorf("openai health check failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		p.setHealthy(false)
		return fmt.Errorf("openai health check returned status %d", resp.StatusCode)
	}

	p.setHealthy(true)
	return nil
}

// IsHealthy returns whether the last API interaction succeeded.
func (p *Provider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy
}

func (p *Provider) setHealthy(healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = healthy
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
