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

package orchestrator

import (
	"context"
	"time"

	"centerline/core/shared/types"
	"centerline/core/toolbridge/fallback"
)

// Tool is one invocable capability, selected by a descriptor's origin.
// Internal tools execute in-process; remote tools go through the
// connection manager.
type Tool interface {
	Descriptor() types.ToolDescriptor
	Invoke(ctx context.Context, invocation types.ToolInvocation) types.ToolInvocationResult
}

// InternalTool executes a built-in handler in-process.
type InternalTool struct {
	descriptor types.ToolDescriptor
	handler    func(ctx context.Context, invocation types.ToolInvocation) types.ToolInvocationResult
}

func (t *InternalTool) Descriptor() types.ToolDescriptor { return t.descriptor }

func (t *InternalTool) Invoke(ctx context.Context, invocation types.ToolInvocation) types.ToolInvocationResult {
	return t.handler(ctx, invocation)
}

// RemoteTool delegates to the tenant's tool server through the
// connection manager. Invoke never raises; the manager converts every
// failure into a failed result.
type RemoteTool struct {
	descriptor types.ToolDescriptor
	bridge     ToolBridge
	tenantID   string
}

func (t *RemoteTool) Descriptor() types.ToolDescriptor { return t.descriptor }

func (t *RemoteTool) Invoke(ctx context.Context, invocation types.ToolInvocation) types.ToolInvocationResult {
	return t.bridge.Invoke(ctx, t.tenantID, invocation)
}

// buildInternalCatalog returns the fixed set of in-process tools. The
// fallback provider's static tools are always part of it; they serve
// double duty as degraded-mode substitutes for remote tools.
func buildInternalCatalog(fb *fallback.Provider) []Tool {
	tools := []Tool{
		&InternalTool{
			descriptor: types.ToolDescriptor{
				Name:        "current_time",
				Description: "Returns the current server date and time in UTC.",
				Parameters:  types.ParameterSchema{Type: "object"},
				Origin:      types.OriginInternal,
			},
			handler: func(ctx context.Context, invocation types.ToolInvocation) types.ToolInvocationResult {
				return types.ToolInvocationResult{
					CallID:  invocation.CallID,
					Success: true,
					Payload: map[string]interface{}{
						"time": time.Now().UTC().Format(time.RFC3339),
					},
				}
			},
		},
	}

	for _, d := range fb.StaticCatalog() {
		descriptor := d
		tools = append(tools, &InternalTool{
			descriptor: descriptor,
			handler: func(ctx context.Context, invocation types.ToolInvocation) types.ToolInvocationResult {
				return fb.Invoke(invocation)
			},
		})
	}

	return tools
}
