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
	"encoding/json"
	"fmt"
	"strings"

	"centerline/core/llm"
	"centerline/core/shared/types"
)

// ApologyMessage is the fixed reply returned after two consecutive
// synthesis failures. No third inference call is made.
const ApologyMessage = "I'm sorry, I wasn't able to generate a response just now. Please try again in a moment."

const decisionSystemPrompt = `You decide whether answering the user's message requires calling tools.
Use the advertised functions when live or structured data is needed. If no tool is needed,
respond with a JSON object: {"requires_tools": false, "rationale": "<short reason>"}.
Do not answer the user's question yourself.`

const intentSystemPrompt = `You classify the user's message. Respond with only a JSON object:
{"intent": "casual"|"informational"|"procedural"|"data-request"|"clarification",
 "mood": "<one word>", "style": "<brief|detailed|empathetic|neutral>",
 "references": ["<earlier things the message refers to>"], "rationale": "<short reason>"}`

const synthesisSystemPrompt = `You are a helpful assistant for %s.
Write one coherent reply to the user's message using the conversation history%s.
When tool data is present, summarize the relevant figures in plain language and mention
that details are included below; never reproduce raw JSON verbatim.
Match the requested tone: %s.`

// buildDecisionRequest assembles the tool-use decision pass: function
// calling enabled, low sampling temperature.
func buildDecisionRequest(prompt string, history []types.Message, schemas []llm.FunctionSchema) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: decisionSystemPrompt,
		Messages:     chatHistory(history, prompt),
		Functions:    schemas,
		Temperature:  0.1,
		MaxTokens:    512,
	}
}

// buildIntentRequest assembles the intent/tone pass: no function calling.
func buildIntentRequest(prompt string, history []types.Message) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: intentSystemPrompt,
		Messages:     chatHistory(history, prompt),
		Temperature:  0.2,
		MaxTokens:    512,
	}
}

// buildSynthesisRequest assembles the final reply call from the original
// prompt, recent history, tool outputs, and the intent analysis.
func buildSynthesisRequest(tenantName, prompt string, history []types.Message, intent types.IntentAnalysisResult, toolResults []llm.FunctionResult, degradedNotice string) llm.CompletionRequest {
	notice := ""
	if degradedNotice != "" {
		notice = "\n" + degradedNotice + " Disclose this limitation to the user."
	}

	style := string(intent.Intent)
	if intent.Style != "" {
		style = fmt.Sprintf("%s, %s", style, intent.Style)
	}

	messages := chatHistory(history, prompt)
	if len(toolResults) > 0 {
		data, err := json.Marshal(toolResults)
		if err == nil {
			messages = append(messages, llm.ChatMessage{
				Role:    "user",
				Content: "Tool results for the request above:\n" + string(data),
			})
		}
	}

	return llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(synthesisSystemPrompt, tenantName, notice, style),
		Messages:     messages,
		Temperature:  0.7,
		MaxTokens:    1024,
	}
}

// buildRetryRequest is the single degraded retry: tools disabled, plain
// text forced.
func buildRetryRequest(tenantName, prompt string, history []types.Message) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are a helpful assistant for %s. Answer the user's message in plain text.", tenantName),
		Messages:     chatHistory(history, prompt),
		Temperature:  0.7,
		MaxTokens:    1024,
	}
}

// chatHistory converts the stored message window plus the inbound prompt
// into the provider's message format.
func chatHistory(history []types.Message, prompt string) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == types.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, llm.ChatMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, llm.ChatMessage{Role: "user", Content: prompt})
	return messages
}

// parseToolAnalysis interprets a decision-pass response. Proposed
// function calls win; otherwise the content is parsed as a JSON
// ToolAnalysisResult. Anything unparseable degrades to the neutral
// result.
func parseToolAnalysis(resp *llm.CompletionResponse) types.ToolAnalysisResult {
	if len(resp.ToolCalls) > 0 {
		result := types.ToolAnalysisResult{RequiresTools: true}
		for _, call := range resp.ToolCalls {
			result.Tools = append(result.Tools, types.SelectedTool{
				Name:      call.Name,
				Arguments: call.Arguments,
			})
		}
		return result
	}

	var result types.ToolAnalysisResult
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &result); err != nil {
		return types.NeutralToolAnalysis()
	}
	if result.RequiresTools && len(result.Tools) == 0 {
		return types.NeutralToolAnalysis()
	}
	return result
}

// parseIntentAnalysis interprets an intent-pass response, degrading to
// the neutral result on unparseable content.
func parseIntentAnalysis(resp *llm.CompletionResponse) types.IntentAnalysisResult {
	var result types.IntentAnalysisResult
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &result); err != nil {
		return types.NeutralIntentAnalysis()
	}
	if result.Intent == "" {
		result.Intent = types.IntentInformational
	}
	return result
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
