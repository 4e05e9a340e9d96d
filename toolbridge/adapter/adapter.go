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

// Package adapter translates between the remote tool protocol's schema
// and call format and the inference service's function-calling format.
// It is stateless; every function is a pure transform apart from call-id
// synthesis.
package adapter

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"centerline/core/llm"
	"centerline/core/shared/types"
)

// Validate reports whether a descriptor may be advertised: the name must
// satisfy the identifier grammar and the description must be non-empty.
func Validate(d types.ToolDescriptor) bool {
	if !types.ValidToolName(d.Name) {
		return false
	}
	return strings.TrimSpace(d.Description) != ""
}

// ToFunctionSchemas maps descriptors into the inference service's
// accepted schema subset (object type with properties/required only).
// Invalid descriptors are dropped with a logged warning rather than
// failing the catalog. Enum-description maps are folded into the
// property description as a bulleted list so the information survives
// the keyword strip.
func ToFunctionSchemas(descriptors []types.ToolDescriptor) []llm.FunctionSchema {
	schemas := make([]llm.FunctionSchema, 0, len(descriptors))

	for _, d := range descriptors {
		if !Validate(d) {
			log.Printf("[ADAPTER] Dropping invalid tool descriptor %q (origin: %s)", d.Name, d.Origin)
			continue
		}

		schemas = append(schemas, llm.FunctionSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  sanitizeSchema(d.Parameters),
		})
	}

	return schemas
}

// sanitizeSchema restricts a parameter schema to the subset the
// inference service accepts.
func sanitizeSchema(s types.ParameterSchema) types.ParameterSchema {
	out := types.ParameterSchema{
		Type:     "object",
		Required: s.Required,
	}

	if len(s.Properties) > 0 {
		out.Properties = make(map[string]types.PropertySchema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = sanitizeProperty(prop)
		}
	}

	return out
}

// sanitizeProperty folds enum descriptions into the description text and
// strips the keyword itself.
func sanitizeProperty(p types.PropertySchema) types.PropertySchema {
	out := types.PropertySchema{
		Type:        p.Type,
		Description: p.Description,
		Enum:        p.Enum,
	}

	if len(p.EnumDescriptions) > 0 {
		values := make([]string, 0, len(p.EnumDescriptions))
		for v := range p.EnumDescriptions {
			values = append(values, v)
		}
		sort.Strings(values)

		var b strings.Builder
		b.WriteString(p.Description)
		if p.Description != "" {
			b.WriteString("\n")
		}
		b.WriteString("Values:")
		for _, v := range values {
			b.WriteString(fmt.Sprintf("\n- %s: %s", v, p.EnumDescriptions[v]))
		}
		out.Description = b.String()
	}

	return out
}

// FromProposedCall extracts a ToolInvocation from the inference
// service's proposed call. When the provider supplied no call id, one is
// synthesized from a monotonic clock reading plus a random suffix.
func FromProposedCall(call llm.ProposedCall, tenantID, conversationID string) types.ToolInvocation {
	callID := call.ID
	if callID == "" {
		callID = fmt.Sprintf("call-%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
	}

	args := call.Arguments
	if args == nil {
		args = make(map[string]interface{})
	}

	return types.ToolInvocation{
		CallID:         callID,
		Tool:           call.Name,
		Arguments:      args,
		TenantID:       tenantID,
		ConversationID: conversationID,
	}
}

// ToExternalResult maps an invocation outcome into the shape handed back
// to the inference service: a successful result carries its payload
// verbatim, a failed one becomes a structured error object. It never
// raises.
func ToExternalResult(result types.ToolInvocationResult) llm.FunctionResult {
	if result.Success {
		return llm.FunctionResult{CallID: result.CallID, Content: result.Payload}
	}
	return llm.FunctionResult{
		CallID:  result.CallID,
		Content: map[string]interface{}{"error": result.Error},
	}
}
