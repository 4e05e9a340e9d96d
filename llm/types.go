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

// Package llm defines the unified interface and types for the language
// model inference service the core calls. The service itself is a black
// box: a prompt (or structured turn history) goes in, text and/or a list
// of proposed tool calls come out.
package llm

import (
	"fmt"
	"time"

	"centerline/core/shared/types"
)

// ProviderType identifies the type of inference provider.
type ProviderType string

const (
	// ProviderTypeOpenAI represents an OpenAI-compatible chat API.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeCustom represents a custom/third-party provider.
	ProviderTypeCustom ProviderType = "custom"
)

// DefaultTimeout bounds every inference call issued by the core. The
// observed lineage enforced none; a hung provider would otherwise stall
// a turn forever. A timeout failure counts against the turn's single
// synthesis retry like any other inference failure.
const DefaultTimeout = 60 * time.Second

// ChatMessage is one entry of the structured turn history sent to the
// provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FunctionSchema is a tool advertised to the provider in its
// function-calling format: an object-typed parameter schema restricted
// to properties/required.
type FunctionSchema struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Parameters  types.ParameterSchema `json:"parameters"`
}

// ProposedCall is a tool call the provider proposed in its response.
type ProposedCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// FunctionResult is a tool outcome handed back to the provider in a
// follow-up call. Failures are structured error objects, never raised.
type FunctionResult struct {
	CallID  string      `json:"call_id"`
	Content interface{} `json:"content"`
}

// CompletionRequest encapsulates all parameters for an inference call.
type CompletionRequest struct {
	// Prompt is the user's input text. Ignored when Messages is set.
	Prompt string `json:"prompt,omitempty"`

	// SystemPrompt sets context/behavior for the call.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the structured turn history. When non-empty it takes
	// precedence over Prompt.
	Messages []ChatMessage `json:"messages,omitempty"`

	// Functions advertises tools for this call. Empty disables
	// function calling.
	Functions []FunctionSchema `json:"functions,omitempty"`

	// MaxTokens limits the response length (0 = provider default).
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64 `json:"temperature,omitempty"`

	// Model overrides the provider's default model.
	Model string `json:"model,omitempty"`
}

// CompletionResponse contains the result of an inference call.
type CompletionResponse struct {
	// Content is the generated text, possibly empty when the provider
	// answered with tool calls only.
	Content string `json:"content"`

	// ToolCalls lists the calls the provider proposed, in order.
	ToolCalls []ProposedCall `json:"tool_calls,omitempty"`

	// Model is the model that produced the response.
	Model string `json:"model,omitempty"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`
}

// InferenceError represents a failed inference call. The orchestrator
// maps it to the single-retry-then-apology policy at the synthesis step.
type InferenceError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s inference failed: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s inference failed: %s", e.Provider, e.Message)
}

func (e *InferenceError) Unwrap() error { return e.Cause }

// NewInferenceError creates an InferenceError.
func NewInferenceError(provider, message string, cause error) *InferenceError {
	return &InferenceError{Provider: provider, Message: message, Cause: cause}
}
