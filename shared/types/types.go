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

// Package types defines the shared data model for the Centerline core:
// tenant profiles, tool descriptors, connection state, invocations,
// conversation records, and analysis results.
package types

import (
	"regexp"
	"time"
)

// TenantStatus is the lifecycle status of a tenant.
type TenantStatus string

const (
	// TenantActive means the tenant is serving traffic normally.
	TenantActive TenantStatus = "active"

	// TenantMaintenance means the tenant is reachable but undergoing
	// planned work; health checks may downgrade active tenants here.
	TenantMaintenance TenantStatus = "maintenance"

	// TenantOffline means the tenant is not serving traffic.
	TenantOffline TenantStatus = "offline"
)

// TenantProfile describes one tenant ("center"): an isolated customer
// context with its own storage backend and optional remote tool endpoint.
// Profiles are created from configuration at process start and are
// immutable at runtime except Status, which a health check may downgrade.
type TenantProfile struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"display_name" yaml:"display_name"`

	// StorageRef identifies the tenant's storage backend (a DSN or
	// database name, interpreted by the store layer).
	StorageRef string `json:"storage_ref" yaml:"storage_ref"`

	// ToolEndpoint is the base URL of the tenant's remote tool server.
	// Empty when the tenant exposes no remote tools.
	ToolEndpoint string `json:"tool_endpoint" yaml:"tool_endpoint"`

	// RemoteToolsEnabled gates discovery/invocation against ToolEndpoint.
	RemoteToolsEnabled bool `json:"remote_tools_enabled" yaml:"remote_tools_enabled"`

	// FallbackEnabled gates use of the static fallback catalog when the
	// remote endpoint is unhealthy.
	FallbackEnabled bool `json:"fallback_enabled" yaml:"fallback_enabled"`

	// DedupToolCalls enables ledger-based short-circuiting of remote
	// invocations that structurally match a prior successful call in the
	// same conversation. Off by default: operational data changes
	// continuously, so re-invocation is the safe policy.
	DedupToolCalls bool `json:"dedup_tool_calls" yaml:"dedup_tool_calls"`

	// Quota limits are enforced by the billing collaborator, not by the
	// core; they are carried here so the façade can surface them.
	MaxTurnsPerDay    int `json:"max_turns_per_day" yaml:"max_turns_per_day"`
	MaxTokensPerMonth int `json:"max_tokens_per_month" yaml:"max_tokens_per_month"`

	Status TenantStatus `json:"status" yaml:"status"`
}

// ToolOrigin distinguishes where a tool executes.
type ToolOrigin string

const (
	// OriginInternal marks tools compiled into this process.
	OriginInternal ToolOrigin = "internal"

	// OriginRemote marks tools hosted on a tenant's tool server.
	OriginRemote ToolOrigin = "remote"
)

// toolNamePattern is the identifier grammar every advertised tool name
// must satisfy.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidToolName reports whether name satisfies the identifier grammar.
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

// PropertySchema describes a single parameter of a tool. Only the subset
// the inference service accepts is modeled; richer keywords found in
// remote manifests are folded into Description by the adapter.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`

	// EnumDescriptions maps enum values to human-readable explanations.
	// The inference service does not accept this keyword; the adapter
	// folds it into Description so the information is not lost.
	EnumDescriptions map[string]string `json:"enumDescriptions,omitempty"`
}

// ParameterSchema is the object-typed parameter schema of a tool.
type ParameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// ToolDescriptor is a named, schema-described capability offered to the
// inference service. Internal descriptors are fixed at build time; remote
// descriptors are fetched per tenant and cached.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
	Origin      ToolOrigin      `json:"origin"`
}

// ConnectionStatus is the state of a tenant's remote tool connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ConnectionState tracks one tenant's remote tool connection. At most one
// instance exists per tenant per process; it is mutated only by the
// connection manager.
type ConnectionState struct {
	TenantID    string           `json:"tenant_id"`
	Status      ConnectionStatus `json:"status"`
	Endpoint    string           `json:"endpoint"`
	LastHealthy time.Time        `json:"last_healthy"`
}

// ToolInvocation is one tool-call attempt. CallID is caller-supplied or
// synthesized by the adapter.
type ToolInvocation struct {
	CallID         string                 `json:"call_id"`
	Tool           string                 `json:"tool"`
	Arguments      map[string]interface{} `json:"arguments"`
	TenantID       string                 `json:"tenant_id"`
	ConversationID string                 `json:"conversation_id"`
}

// ToolInvocationResult is the outcome of a ToolInvocation. It is always
// returned as data, never raised: transport and decode failures become
// Success=false with Error set. Exactly one result correlates to each
// invocation by CallID.
type ToolInvocationResult struct {
	CallID  string      `json:"call_id"`
	Success bool        `json:"success"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ToolCallRecord is the persisted, append-only audit record of one
// executed tool call.
type ToolCallRecord struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Timestamp time.Time              `json:"timestamp"`
	Success   bool                   `json:"success"`
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in a conversation.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`

	// ToolPayload carries structured tool output attached to an
	// assistant message, when a turn executed tools.
	ToolPayload interface{} `json:"tool_payload,omitempty"`
}

// ConversationContext is the per-turn working view of a conversation.
// Loaded fresh each turn, never cached across turns.
type ConversationContext struct {
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	TenantID       string    `json:"tenant_id"`
	History        []Message `json:"history"`
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	OwnerID      string    `json:"owner_id"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SelectedTool is one tool the decision pass chose, with arguments.
type SelectedTool struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolAnalysisResult is the outcome of the tool-use decision pass.
type ToolAnalysisResult struct {
	RequiresTools bool           `json:"requires_tools"`
	Tools         []SelectedTool `json:"tools,omitempty"`
	Rationale     string         `json:"rationale,omitempty"`
}

// IntentClass categorizes what the user is asking for.
type IntentClass string

const (
	IntentCasual        IntentClass = "casual"
	IntentInformational IntentClass = "informational"
	IntentProcedural    IntentClass = "procedural"
	IntentDataRequest   IntentClass = "data-request"
	IntentClarification IntentClass = "clarification"
)

// IntentAnalysisResult is the outcome of the intent/tone pass.
type IntentAnalysisResult struct {
	Intent     IntentClass `json:"intent"`
	Mood       string      `json:"mood,omitempty"`
	Style      string      `json:"style,omitempty"`
	References []string    `json:"references,omitempty"`
	Rationale  string      `json:"rationale,omitempty"`
}

// NeutralToolAnalysis is the degraded stand-in when the decision pass
// fails: no tools, empty rationale.
func NeutralToolAnalysis() ToolAnalysisResult {
	return ToolAnalysisResult{RequiresTools: false}
}

// NeutralIntentAnalysis is the degraded stand-in when the intent pass
// fails.
func NeutralIntentAnalysis() IntentAnalysisResult {
	return IntentAnalysisResult{Intent: IntentInformational}
}

// AssistantMessage is the turn result handed back to the façade.
type AssistantMessage struct {
	ConversationID string      `json:"conversation_id"`
	MessageID      string      `json:"message_id"`
	Text           string      `json:"text"`
	ToolPayload    interface{} `json:"tool_payload,omitempty"`
	Degraded       bool        `json:"degraded"`
	Timestamp      time.Time   `json:"timestamp"`
}
