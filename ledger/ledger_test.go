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

package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centerline/core/shared/types"
	"centerline/core/store"
	"centerline/core/store/memory"
)

func newConversation(t *testing.T, s store.Store) string {
	t.Helper()
	conv := types.ConversationSummary{
		ID:           "conv-1",
		OwnerID:      "owner-1",
		TenantID:     "center-1",
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv.ID
}

func TestRecordAndFind(t *testing.T) {
	s := memory.New()
	convID := newConversation(t, s)
	l := New(s)
	ctx := context.Background()

	args := map[string]interface{}{"id": "123", "month": "July"}
	l.Record(ctx, convID, types.ToolCallRecord{Tool: "get_rendimientos", Arguments: args, Success: true})

	prior := l.FindPriorSuccess(ctx, convID, "get_rendimientos", map[string]interface{}{"id": "123", "month": "July"})
	require.NotNil(t, prior)
	assert.True(t, prior.Success)
	assert.False(t, prior.Timestamp.IsZero(), "Record fills a missing timestamp")
}

func TestFindPriorSuccessNoMatch(t *testing.T) {
	s := memory.New()
	convID := newConversation(t, s)
	l := New(s)
	ctx := context.Background()

	l.Record(ctx, convID, types.ToolCallRecord{
		Tool:      "get_rendimientos",
		Arguments: map[string]interface{}{"id": "123"},
		Success:   true,
	})

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
	}{
		{"different tool", "get_balance", map[string]interface{}{"id": "123"}},
		{"different arguments", "get_rendimientos", map[string]interface{}{"id": "456"}},
		{"extra argument", "get_rendimientos", map[string]interface{}{"id": "123", "month": "July"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, l.FindPriorSuccess(ctx, convID, tt.tool, tt.args))
		})
	}
}

func TestFindPriorSuccessIgnoresFailures(t *testing.T) {
	s := memory.New()
	convID := newConversation(t, s)
	l := New(s)
	ctx := context.Background()

	args := map[string]interface{}{"id": "123"}
	l.Record(ctx, convID, types.ToolCallRecord{Tool: "get_rendimientos", Arguments: args, Success: false})

	assert.Nil(t, l.FindPriorSuccess(ctx, convID, "get_rendimientos", args),
		"a prior failure is no reason to skip a retry")
}

func TestNilAndEmptyArgumentsMatch(t *testing.T) {
	s := memory.New()
	convID := newConversation(t, s)
	l := New(s)
	ctx := context.Background()

	l.Record(ctx, convID, types.ToolCallRecord{Tool: "current_time", Arguments: nil, Success: true})

	assert.NotNil(t, l.FindPriorSuccess(ctx, convID, "current_time", map[string]interface{}{}))
}

// failingStore wraps the memory store and fails every write.
type failingStore struct {
	store.Store
}

func (f *failingStore) AppendToolCall(ctx context.Context, conversationID string, rec types.ToolCallRecord) error {
	return errors.New("disk full")
}

func (f *failingStore) ToolCalls(ctx context.Context, conversationID string) ([]types.ToolCallRecord, error) {
	return nil, errors.New("disk full")
}

func TestPersistFailuresAreNonFatal(t *testing.T) {
	l := New(&failingStore{Store: memory.New()})
	ctx := context.Background()

	// Neither call may panic or surface the error.
	l.Record(ctx, "conv-1", types.ToolCallRecord{Tool: "get_rendimientos", Success: true})
	assert.Nil(t, l.FindPriorSuccess(ctx, "conv-1", "get_rendimientos", nil))
}
