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

// Package ledger keeps the per-conversation append-only record of
// executed tool calls, used for audit and optional deduplication.
package ledger

import (
	"context"
	"reflect"
	"time"

	"centerline/core/shared/logger"
	"centerline/core/shared/types"
	"centerline/core/store"
)

// Ledger records tool calls against a conversation's persisted history.
type Ledger struct {
	store store.Store
	log   *logger.Logger
}

// New creates a Ledger over the given storage handle.
func New(s store.Store) *Ledger {
	return &Ledger{store: s, log: logger.New("tool-ledger")}
}

// Record appends one tool-call record to the conversation's history.
// Persistence failures are logged and swallowed: losing an audit entry
// must never fail the turn that produced it.
func (l *Ledger) Record(ctx context.Context, conversationID string, rec types.ToolCallRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	if err := l.store.AppendToolCall(ctx, conversationID, rec); err != nil {
		l.log.Warn("", "", "Failed to persist tool-call record", map[string]interface{}{
			"conversation_id": conversationID,
			"tool":            rec.Tool,
			"error":           err.Error(),
		})
	}
}

// FindPriorSuccess returns the first previously successful call in the
// conversation whose tool name and arguments structurally equal the
// given ones, or nil when none matches. Failed calls never match: a
// prior failure is no reason to skip a retry.
func (l *Ledger) FindPriorSuccess(ctx context.Context, conversationID, toolName string, arguments map[string]interface{}) *types.ToolCallRecord {
	records, err := l.store.ToolCalls(ctx, conversationID)
	if err != nil {
		l.log.Warn("", "", "Failed to load tool-call history", map[string]interface{}{
			"conversation_id": conversationID,
			"error":           err.Error(),
		})
		return nil
	}

	for i := range records {
		rec := &records[i]
		if !rec.Success || rec.Tool != toolName {
			continue
		}
		if argumentsEqual(rec.Arguments, arguments) {
			return rec
		}
	}
	return nil
}

// argumentsEqual is a structural deep-equality check that treats nil and
// empty maps as equivalent.
func argumentsEqual(a, b map[string]interface{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
