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

// Package orchestrator runs the per-turn state machine: context load,
// tool preparation, concurrent analysis, tool execution, synthesis, and
// persistence, with a degraded branch that always yields a best-effort
// reply instead of aborting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"centerline/core/ledger"
	"centerline/core/llm"
	"centerline/core/shared/logger"
	"centerline/core/shared/types"
	"centerline/core/store"
	"centerline/core/tenants"
	"centerline/core/toolbridge/adapter"
	"centerline/core/toolbridge/fallback"
)

// State labels a turn's position in the pipeline.
type State string

const (
	StateReceived      State = "received"
	StateContextLoaded State = "context_loaded"
	StateToolsPrepared State = "tools_prepared"
	StateAnalyzed      State = "analyzed"
	StateToolsExecuted State = "tools_executed"
	StateSynthesized   State = "synthesized"
	StatePersisted     State = "persisted"
	StateDone          State = "done"
	StateDegraded      State = "degraded"
)

// DefaultHistoryWindow is how many recent messages a turn loads.
const DefaultHistoryWindow = 10

// ToolBridge is the connection-manager surface the orchestrator needs.
type ToolBridge interface {
	Connect(ctx context.Context, tenantID string) (types.ConnectionState, error)
	ListTools(ctx context.Context, tenantID string) ([]types.ToolDescriptor, error)
	Invoke(ctx context.Context, tenantID string, invocation types.ToolInvocation) types.ToolInvocationResult
	Status(tenantID string) types.ConnectionState
}

// Options configures an Orchestrator.
type Options struct {
	Router   *tenants.Router
	Bridge   ToolBridge
	Fallback *fallback.Provider
	Provider llm.Provider

	HistoryWindow    int
	InferenceTimeout time.Duration
}

// Orchestrator coordinates conversational turns. Turns for different
// conversations run fully concurrently; the only shared mutable state is
// owned by the collaborators (router, bridge, stores).
type Orchestrator struct {
	router   *tenants.Router
	bridge   ToolBridge
	fb       *fallback.Provider
	provider llm.Provider

	internal         []Tool
	historyWindow    int
	inferenceTimeout time.Duration
	log              *logger.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	historyWindow := opts.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}

	inferenceTimeout := opts.InferenceTimeout
	if inferenceTimeout <= 0 {
		inferenceTimeout = llm.DefaultTimeout
	}

	fb := opts.Fallback
	if fb == nil {
		fb = fallback.New(nil)
	}

	return &Orchestrator{
		router:           opts.Router,
		bridge:           opts.Bridge,
		fb:               fb,
		provider:         opts.Provider,
		internal:         buildInternalCatalog(fb),
		historyWindow:    historyWindow,
		inferenceTimeout: inferenceTimeout,
		log:              logger.New("orchestrator"),
	}
}

// PromptRequest is one inbound conversational turn.
type PromptRequest struct {
	// TenantID is the explicit routing signal; empty falls through the
	// router's precedence chain to the default tenant.
	TenantID string

	// ConversationID is empty for the first turn of a new conversation.
	ConversationID string

	OwnerID string
	Prompt  string
}

// turn carries the working state of one conversational turn.
type turn struct {
	state     State
	requestID string
	startedAt time.Time

	profile        types.TenantProfile
	store          store.Store
	ledger         *ledger.Ledger
	conversationID string
	ownerID        string
	prompt         string

	history         []types.Message
	remoteAvailable bool
	degraded        bool
	degradedReason  string

	tools   map[string]Tool
	schemas []llm.FunctionSchema

	decision types.ToolAnalysisResult
	intent   types.IntentAnalysisResult

	toolResults  []llm.FunctionResult
	toolPayloads []map[string]interface{}
}

// HandlePrompt runs one turn to completion. Every failure path resolves
// to a degraded-but-valid AssistantMessage; an error is returned only
// for malformed input.
func (o *Orchestrator) HandlePrompt(ctx context.Context, req PromptRequest) (types.AssistantMessage, error) {
	if req.Prompt == "" {
		return types.AssistantMessage{}, errors.New("empty prompt")
	}
	if req.OwnerID == "" {
		return types.AssistantMessage{}, errors.New("empty owner id")
	}

	t := &turn{
		state:     StateReceived,
		requestID: uuid.NewString(),
		startedAt: time.Now(),
		ownerID:   req.OwnerID,
		prompt:    req.Prompt,
	}

	t.profile = o.router.ResolveTenant(tenants.Signals{TenantID: req.TenantID})

	// Storage is best-effort: a turn without a working store still
	// produces a reply, it just loses history and persistence.
	st, err := o.router.GetStorageHandle(ctx, t.profile.ID)
	if err != nil {
		o.log.Error(t.profile.ID, t.requestID, "Storage handle unavailable, continuing without persistence", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		t.store = st
		t.ledger = ledger.New(st)
	}

	t.conversationID = req.ConversationID
	if t.conversationID == "" {
		t.conversationID = uuid.NewString()
		o.createConversation(ctx, t)
	}

	o.loadContext(ctx, t)
	o.prepareTools(ctx, t)
	o.analyze(ctx, t)

	if t.decision.RequiresTools && len(t.decision.Tools) > 0 {
		o.executeTools(ctx, t)
	}

	text := o.synthesize(ctx, t)
	msg := o.persist(ctx, t, text)

	outcome := "success"
	if t.degraded {
		outcome = "degraded"
		promDegradedTurns.WithLabelValues(t.profile.ID, t.degradedReason).Inc()
	}
	promTurnsTotal.WithLabelValues(t.profile.ID, outcome).Inc()
	promTurnDuration.WithLabelValues(t.profile.ID).Observe(float64(time.Since(t.startedAt).Milliseconds()))

	o.log.InfoWithDuration(t.profile.ID, t.requestID, "Turn complete", time.Since(t.startedAt), map[string]interface{}{
		"conversation_id": t.conversationID,
		"state":           string(t.state),
		"degraded":        t.degraded,
		"tools_executed":  len(t.toolResults),
	})

	t.state = StateDone
	return msg, nil
}

func (o *Orchestrator) createConversation(ctx context.Context, t *turn) {
	if t.store == nil {
		return
	}

	now := time.Now()
	conv := types.ConversationSummary{
		ID:           t.conversationID,
		Title:        conversationTitle(t.prompt),
		OwnerID:      t.ownerID,
		TenantID:     t.profile.ID,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := t.store.CreateConversation(ctx, conv); err != nil {
		o.log.Warn(t.profile.ID, t.requestID, "Failed to create conversation record", map[string]interface{}{
			"conversation_id": t.conversationID,
			"error":           err.Error(),
		})
	}
}

// loadContext runs the ContextLoaded stage: persist the inbound user
// message, load recent history, and resolve remote catalog availability,
// all concurrently. Each sibling tolerates the others failing.
func (o *Orchestrator) loadContext(ctx context.Context, t *turn) {
	var wg sync.WaitGroup

	if t.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := types.Message{
				ID:        uuid.NewString(),
				Role:      types.RoleUser,
				Text:      t.prompt,
				Timestamp: time.Now(),
			}
			if err := t.store.AppendMessage(ctx, t.conversationID, msg); err != nil {
				o.log.Warn(t.profile.ID, t.requestID, "Failed to persist user message", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			history, err := t.store.RecentMessages(ctx, t.conversationID, o.historyWindow)
			if err != nil {
				o.log.Warn(t.profile.ID, t.requestID, "History load failed, continuing with empty history", map[string]interface{}{
					"error": err.Error(),
				})
				return
			}
			t.history = history
		}()
	}

	if t.profile.RemoteToolsEnabled && o.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := o.bridge.Connect(ctx, t.profile.ID)
			if err != nil || state.Status != types.StatusConnected {
				o.markDegraded(t, "remote_tools_unavailable")
				return
			}
			t.remoteAvailable = true
		}()
	}

	wg.Wait()
	t.state = StateContextLoaded
}

// prepareTools builds the union of the internal catalog and the tenant's
// remote catalog and converts it to the inference schema once per turn.
func (o *Orchestrator) prepareTools(ctx context.Context, t *turn) {
	t.tools = make(map[string]Tool, len(o.internal))
	catalog := make([]types.ToolDescriptor, 0, len(o.internal))

	for _, tool := range o.internal {
		t.tools[tool.Descriptor().Name] = tool
		catalog = append(catalog, tool.Descriptor())
	}

	if t.remoteAvailable {
		remote, err := o.bridge.ListTools(ctx, t.profile.ID)
		if err != nil {
			o.log.Warn(t.profile.ID, t.requestID, "Remote tool discovery failed", map[string]interface{}{
				"error": err.Error(),
			})
			t.remoteAvailable = false
			o.markDegraded(t, "remote_tools_unavailable")
		}
		for _, d := range remote {
			// Internal names win on collision.
			if _, exists := t.tools[d.Name]; exists {
				continue
			}
			t.tools[d.Name] = &RemoteTool{descriptor: d, bridge: o.bridge, tenantID: t.profile.ID}
			catalog = append(catalog, d)
		}
	}

	t.schemas = adapter.ToFunctionSchemas(catalog)
	t.state = StateToolsPrepared
}

// analyze runs the two analysis passes concurrently and joins them
// tolerantly: either failing degrades to a neutral result for that path
// only.
func (o *Orchestrator) analyze(ctx context.Context, t *turn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		resp, err := o.complete(ctx, "decision", buildDecisionRequest(t.prompt, t.history, t.schemas))
		if err != nil {
			o.log.Warn(t.profile.ID, t.requestID, "Tool decision pass failed, assuming no tools", map[string]interface{}{
				"error": err.Error(),
			})
			t.decision = types.NeutralToolAnalysis()
			return
		}
		t.decision = parseToolAnalysis(resp)
	}()

	go func() {
		defer wg.Done()
		resp, err := o.complete(ctx, "intent", buildIntentRequest(t.prompt, t.history))
		if err != nil {
			o.log.Warn(t.profile.ID, t.requestID, "Intent pass failed, using neutral intent", map[string]interface{}{
				"error": err.Error(),
			})
			t.intent = types.NeutralIntentAnalysis()
			return
		}
		t.intent = parseIntentAnalysis(resp)
	}()

	wg.Wait()
	t.state = StateAnalyzed
}

// executeTools runs every selected tool, dispatching by origin. Remote
// failures fall back to the static provider when the tenant allows it.
// Every final outcome is appended to the ledger; dedup hits are not.
func (o *Orchestrator) executeTools(ctx context.Context, t *turn) {
	for _, sel := range t.decision.Tools {
		invocation := adapter.FromProposedCall(llm.ProposedCall{
			Name:      sel.Name,
			Arguments: sel.Arguments,
		}, t.profile.ID, t.conversationID)

		if t.profile.DedupToolCalls && t.ledger != nil {
			if prior := t.ledger.FindPriorSuccess(ctx, t.conversationID, sel.Name, invocation.Arguments); prior != nil {
				o.log.Info(t.profile.ID, t.requestID, "Skipping duplicate tool call", map[string]interface{}{
					"tool": sel.Name,
				})
				t.toolResults = append(t.toolResults, adapter.ToExternalResult(types.ToolInvocationResult{
					CallID:  invocation.CallID,
					Success: true,
					Payload: map[string]interface{}{
						"deduplicated": true,
						"message":      fmt.Sprintf("An identical %s call already succeeded earlier in this conversation.", sel.Name),
					},
				}))
				continue
			}
		}

		result := o.invokeTool(ctx, t, invocation)

		origin := types.OriginInternal
		if tool, ok := t.tools[sel.Name]; ok {
			origin = tool.Descriptor().Origin
		}
		status := "success"
		if !result.Success {
			status = "error"
		}
		promToolCalls.WithLabelValues(string(origin), status).Inc()

		if t.ledger != nil {
			t.ledger.Record(ctx, t.conversationID, types.ToolCallRecord{
				Tool:      sel.Name,
				Arguments: invocation.Arguments,
				Timestamp: time.Now(),
				Success:   result.Success,
			})
		}

		t.toolResults = append(t.toolResults, adapter.ToExternalResult(result))
		if result.Success {
			t.toolPayloads = append(t.toolPayloads, map[string]interface{}{
				"tool":    sel.Name,
				"payload": result.Payload,
			})
		}
	}

	t.state = StateToolsExecuted
}

// invokeTool resolves the tool by name and executes it. Unknown names
// and unhealthy remote connections resolve to failed results or fallback
// responses; nothing raises.
func (o *Orchestrator) invokeTool(ctx context.Context, t *turn, invocation types.ToolInvocation) types.ToolInvocationResult {
	tool, ok := t.tools[invocation.Tool]
	if !ok {
		return types.ToolInvocationResult{
			CallID:  invocation.CallID,
			Success: false,
			Error:   fmt.Sprintf("unknown tool %q", invocation.Tool),
		}
	}

	if remote, isRemote := tool.(*RemoteTool); isRemote {
		healthy := t.remoteAvailable && o.bridge.Status(t.profile.ID).Status == types.StatusConnected
		if !healthy {
			return o.fallbackInvoke(t, invocation, "remote connection unhealthy")
		}

		result := remote.Invoke(ctx, invocation)
		if !result.Success {
			return o.fallbackInvoke(t, invocation, result.Error)
		}
		return result
	}

	return tool.Invoke(ctx, invocation)
}

// fallbackInvoke substitutes the static provider for a failed remote
// call when the tenant allows degraded mode.
func (o *Orchestrator) fallbackInvoke(t *turn, invocation types.ToolInvocation, reason string) types.ToolInvocationResult {
	if !t.profile.FallbackEnabled {
		return types.ToolInvocationResult{
			CallID:  invocation.CallID,
			Success: false,
			Error:   reason,
		}
	}

	o.markDegraded(t, "remote_tools_unavailable")
	o.log.Warn(t.profile.ID, t.requestID, "Falling back to static tool provider", map[string]interface{}{
		"tool":   invocation.Tool,
		"reason": reason,
	})

	result := o.fb.Invoke(invocation)
	if !result.Success {
		// No static substitute for this tool; surface the original
		// failure to synthesis as error data.
		result.Error = reason
	}
	return result
}

// synthesize runs the final reply call. On failure it retries exactly
// once with tools disabled; a second failure yields the fixed apology.
func (o *Orchestrator) synthesize(ctx context.Context, t *turn) string {
	notice := ""
	if t.degraded && t.degradedReason == "remote_tools_unavailable" {
		notice = o.fb.DegradedNotice(t.profile.ID)
	}

	resp, err := o.complete(ctx, "synthesis", buildSynthesisRequest(
		t.profile.DisplayName, t.prompt, t.history, t.intent, t.toolResults, notice))
	if err == nil {
		t.state = StateSynthesized
		return resp.Content
	}

	o.log.Warn(t.profile.ID, t.requestID, "Synthesis failed, retrying with tools disabled", map[string]interface{}{
		"error": err.Error(),
	})

	resp, err = o.complete(ctx, "synthesis_retry", buildRetryRequest(t.profile.DisplayName, t.prompt, t.history))
	if err == nil {
		o.markDegraded(t, "synthesis_retry")
		t.state = StateSynthesized
		return resp.Content
	}

	o.log.ErrorWithCode(t.profile.ID, t.requestID, "SYNTHESIS_FAILED", "Both synthesis attempts failed, returning apology", map[string]interface{}{
		"error": err.Error(),
	})
	o.markDegraded(t, "synthesis_failed")
	t.state = StateSynthesized
	return ApologyMessage
}

// persist stores the assistant message and bumps the conversation's
// last-activity marker concurrently. Failures are logged, never block
// the reply.
func (o *Orchestrator) persist(ctx context.Context, t *turn, text string) types.AssistantMessage {
	now := time.Now()
	msg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Text:      text,
		Timestamp: now,
	}
	if len(t.toolPayloads) > 0 {
		msg.ToolPayload = t.toolPayloads
	}

	if t.store != nil {
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			if err := t.store.AppendMessage(ctx, t.conversationID, msg); err != nil {
				o.log.Warn(t.profile.ID, t.requestID, "Failed to persist assistant message", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()

		go func() {
			defer wg.Done()
			if err := t.store.TouchConversation(ctx, t.conversationID, now); err != nil {
				o.log.Warn(t.profile.ID, t.requestID, "Failed to touch conversation", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()

		wg.Wait()
	}

	t.state = StatePersisted
	return types.AssistantMessage{
		ConversationID: t.conversationID,
		MessageID:      msg.ID,
		Text:           text,
		ToolPayload:    msg.ToolPayload,
		Degraded:       t.degraded,
		Timestamp:      now,
	}
}

// complete wraps every inference call with the configured timeout.
func (o *Orchestrator) complete(ctx context.Context, kind string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.inferenceTimeout)
	defer cancel()

	resp, err := o.provider.Complete(callCtx, req)
	if err != nil {
		promInferenceCalls.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	promInferenceCalls.WithLabelValues(kind, "success").Inc()
	return resp, nil
}

func (o *Orchestrator) markDegraded(t *turn, reason string) {
	if !t.degraded {
		t.degraded = true
		t.degradedReason = reason
	}
	t.state = StateDegraded
}

// conversationTitle derives a title from the first prompt, truncating
// on a rune boundary so multi-byte text stays valid UTF-8.
func conversationTitle(prompt string) string {
	const maxLen = 60
	if len(prompt) <= maxLen {
		return prompt
	}

	cut := maxLen - 3
	for cut > 0 && !utf8.RuneStart(prompt[cut]) {
		cut--
	}
	return prompt[:cut] + "..."
}
