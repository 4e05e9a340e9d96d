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

package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centerline/core/llm"
	"centerline/core/shared/types"
)

func validDescriptor(name string) types.ToolDescriptor {
	return types.ToolDescriptor{
		Name:        name,
		Description: "does something useful",
		Parameters: types.ParameterSchema{
			Type: "object",
			Properties: map[string]types.PropertySchema{
				"id": {Type: "string", Description: "member id"},
			},
			Required: []string{"id"},
		},
		Origin: types.OriginRemote,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		descriptor types.ToolDescriptor
		want       bool
	}{
		{"valid", validDescriptor("get_rendimientos"), true},
		{"bad name", validDescriptor("get-rendimientos"), false},
		{"empty name", validDescriptor(""), false},
		{
			"empty description",
			types.ToolDescriptor{Name: "ok", Description: "   "},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.descriptor))
		})
	}
}

func TestToFunctionSchemasDropsInvalid(t *testing.T) {
	descriptors := []types.ToolDescriptor{
		validDescriptor("good_tool"),
		validDescriptor("bad-name"),
		{Name: "no_description"},
	}

	schemas := ToFunctionSchemas(descriptors)
	require.Len(t, schemas, 1)
	assert.Equal(t, "good_tool", schemas[0].Name)
}

func TestToFunctionSchemasFoldsEnumDescriptions(t *testing.T) {
	d := validDescriptor("pick_month")
	d.Parameters.Properties = map[string]types.PropertySchema{
		"month": {
			Type:        "string",
			Description: "Reporting month.",
			Enum:        []string{"jan", "feb"},
			EnumDescriptions: map[string]string{
				"jan": "January",
				"feb": "February",
			},
		},
	}

	schemas := ToFunctionSchemas([]types.ToolDescriptor{d})
	require.Len(t, schemas, 1)

	prop := schemas[0].Parameters.Properties["month"]
	assert.Nil(t, prop.EnumDescriptions, "enum descriptions must be stripped")
	assert.Equal(t, []string{"jan", "feb"}, prop.Enum, "enum values survive")

	// Folded into the description as a sorted bulleted list.
	assert.Contains(t, prop.Description, "Reporting month.")
	assert.Contains(t, prop.Description, "- feb: February")
	assert.Contains(t, prop.Description, "- jan: January")
	assert.Less(t,
		strings.Index(prop.Description, "- feb"),
		strings.Index(prop.Description, "- jan"),
		"values are listed in sorted order")
}

func TestFromProposedCallSynthesizesID(t *testing.T) {
	inv := FromProposedCall(llm.ProposedCall{
		Name:      "get_rendimientos",
		Arguments: map[string]interface{}{"id": "123"},
	}, "center-1", "conv-1")

	assert.Equal(t, "get_rendimientos", inv.Tool)
	assert.Equal(t, "center-1", inv.TenantID)
	assert.Equal(t, "conv-1", inv.ConversationID)
	assert.True(t, strings.HasPrefix(inv.CallID, "call-"), "synthesized id %q", inv.CallID)

	// Distinct calls get distinct ids.
	inv2 := FromProposedCall(llm.ProposedCall{Name: "get_rendimientos"}, "center-1", "conv-1")
	assert.NotEqual(t, inv.CallID, inv2.CallID)
	assert.NotNil(t, inv2.Arguments, "nil arguments normalize to an empty map")
}

func TestFromProposedCallKeepsSuppliedID(t *testing.T) {
	inv := FromProposedCall(llm.ProposedCall{ID: "call-abc", Name: "t"}, "center-1", "conv-1")
	assert.Equal(t, "call-abc", inv.CallID)
}

func TestToExternalResult(t *testing.T) {
	success := ToExternalResult(types.ToolInvocationResult{
		CallID:  "c1",
		Success: true,
		Payload: map[string]interface{}{"total": 42.0},
	})
	assert.Equal(t, "c1", success.CallID)
	assert.Equal(t, map[string]interface{}{"total": 42.0}, success.Content)

	failure := ToExternalResult(types.ToolInvocationResult{
		CallID:  "c2",
		Success: false,
		Error:   "boom",
	})
	assert.Equal(t, map[string]interface{}{"error": "boom"}, failure.Content)
}

// Round trip: a descriptor advertised through the adapter and invoked by
// the provider yields an invocation with the same tool name.
func TestSchemaRoundTrip(t *testing.T) {
	d := validDescriptor("get_rendimientos")

	schemas := ToFunctionSchemas([]types.ToolDescriptor{d})
	require.Len(t, schemas, 1)

	inv := FromProposedCall(llm.ProposedCall{
		Name:      schemas[0].Name,
		Arguments: map[string]interface{}{"id": "123"},
	}, "center-1", "conv-1")

	assert.Equal(t, d.Name, inv.Tool)
}
