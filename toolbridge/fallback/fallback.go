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

// Package fallback provides the static, dependency-free tool catalog and
// canned responses used when a tenant's remote tool endpoint is
// unavailable. Degraded mode is disclosed, never hidden: the synthesis
// step includes the DegradedNotice text.
package fallback

import (
	"fmt"

	"centerline/core/shared/types"
)

// Tool names in the static catalog.
const (
	ToolGeneralInformation = "general_information"
	ToolCenterContact      = "center_contact"
)

// Provider serves the static catalog. It holds no connections and never
// fails at the transport level; unknown tool names yield an explicit
// failed result.
type Provider struct {
	// contacts maps tenant id to a human-readable contact line,
	// populated from tenant configuration at startup.
	contacts map[string]string
}

// New creates a fallback Provider. contacts may be nil.
func New(contacts map[string]string) *Provider {
	if contacts == nil {
		contacts = make(map[string]string)
	}
	return &Provider{contacts: contacts}
}

// StaticCatalog returns the fixed set of dependency-free tools that are
// always available regardless of remote-endpoint health.
func (p *Provider) StaticCatalog() []types.ToolDescriptor {
	return []types.ToolDescriptor{
		{
			Name:        ToolGeneralInformation,
			Description: "Answers general questions about the assistant and the services it can help with.",
			Parameters: types.ParameterSchema{
				Type: "object",
				Properties: map[string]types.PropertySchema{
					"topic": {Type: "string", Description: "The subject the user is asking about."},
				},
			},
			Origin: types.OriginInternal,
		},
		{
			Name:        ToolCenterContact,
			Description: "Looks up contact information for the user's center so they can reach a human.",
			Parameters: types.ParameterSchema{
				Type: "object",
				Properties: map[string]types.PropertySchema{
					"center_id": {Type: "string", Description: "Identifier of the center to look up."},
				},
			},
			Origin: types.OriginInternal,
		},
	}
}

// Invoke dispatches by tool name to a built-in responder. An
// unrecognized name yields a failed result with an explicit
// "no fallback available" error rather than a generic failure.
func (p *Provider) Invoke(invocation types.ToolInvocation) types.ToolInvocationResult {
	switch invocation.Tool {
	case ToolGeneralInformation:
		return types.ToolInvocationResult{
			CallID:  invocation.CallID,
			Success: true,
			Payload: map[string]interface{}{
				"message": "Live data is temporarily unavailable. I can answer general questions, and your center can provide exact figures.",
			},
		}

	case ToolCenterContact:
		centerID, _ := invocation.Arguments["center_id"].(string)
		if centerID == "" {
			centerID = invocation.TenantID
		}
		contact, ok := p.contacts[centerID]
		if !ok {
			contact = "Please reach out to your center's front desk for assistance."
		}
		return types.ToolInvocationResult{
			CallID:  invocation.CallID,
			Success: true,
			Payload: map[string]interface{}{
				"center_id": centerID,
				"contact":   contact,
			},
		}

	default:
		return types.ToolInvocationResult{
			CallID:  invocation.CallID,
			Success: false,
			Error:   fmt.Sprintf("no fallback available for tool %q", invocation.Tool),
		}
	}
}

// DegradedNotice returns a human-readable explanation of reduced
// capability for inclusion in the synthesis step.
func (p *Provider) DegradedNotice(tenantID string) string {
	return fmt.Sprintf(
		"Note: the live tool service for center %q is currently unreachable. "+
			"Responses are based on general knowledge and may not reflect the latest data.",
		tenantID)
}
