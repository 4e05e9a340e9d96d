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

package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centerline/core/shared/types"
	"centerline/core/store"
)

func newConversation(id, owner string, lastActivity time.Time) types.ConversationSummary {
	return types.ConversationSummary{
		ID:           id,
		Title:        "test",
		OwnerID:      owner,
		TenantID:     "center-1",
		CreatedAt:    lastActivity,
		LastActivity: lastActivity,
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", "owner-1", now)))

	conv, err := s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", conv.OwnerID)

	later := now.Add(time.Hour)
	require.NoError(t, s.TouchConversation(ctx, "conv-1", later))
	conv, err = s.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, conv.LastActivity.Equal(later))

	require.NoError(t, s.DeleteConversation(ctx, "conv-1"))
	_, err = s.GetConversation(ctx, "conv-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestNotFoundOperations(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	assert.True(t, errors.Is(s.DeleteConversation(ctx, "missing"), store.ErrNotFound))
	assert.True(t, errors.Is(s.TouchConversation(ctx, "missing", time.Now()), store.ErrNotFound))
	assert.True(t, errors.Is(s.AppendMessage(ctx, "missing", types.Message{}), store.ErrNotFound))

	_, err = s.ListMessages(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestListConversationsNewestFirstWithCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		conv := newConversation(fmt.Sprintf("conv-%d", i), "owner-1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateConversation(ctx, conv))
	}
	// Another owner's conversation must not appear.
	require.NoError(t, s.CreateConversation(ctx, newConversation("other", "owner-2", base)))

	all, err := s.ListConversations(ctx, "owner-1", time.Time{}, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].LastActivity.After(all[i].LastActivity), "newest first")
	}

	page, err := s.ListConversations(ctx, "owner-1", time.Time{}, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "conv-4", page[0].ID)

	next, err := s.ListConversations(ctx, "owner-1", page[1].LastActivity, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "conv-2", next[0].ID)
}

func TestListConversationsSharedTimestamp(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Now()

	// Five conversations with the identical last-activity timestamp.
	for i := 0; i < 5; i++ {
		conv := newConversation(fmt.Sprintf("conv-%d", i), "owner-1", at)
		require.NoError(t, s.CreateConversation(ctx, conv))
	}

	first, err := s.ListConversations(ctx, "owner-1", time.Time{}, "", 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "conv-4", first[0].ID, "ties break by id descending")

	last := first[len(first)-1]
	second, err := s.ListConversations(ctx, "owner-1", last.LastActivity, last.ID, 3)
	require.NoError(t, err)
	require.Len(t, second, 2, "equal-timestamp conversations are not skipped")
	assert.Equal(t, "conv-1", second[0].ID)
	assert.Equal(t, "conv-0", second[1].ID)
}

func TestMessagesAscendingAndRecentWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", "owner-1", base)))

	// Append out of order; listing must sort by timestamp.
	for _, i := range []int{2, 0, 1, 3} {
		msg := types.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      types.RoleUser,
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendMessage(ctx, "conv-1", msg))
	}

	msgs, err := s.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.ID)
	}

	recent, err := s.RecentMessages(ctx, "conv-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "msg-2", recent[0].ID)
	assert.Equal(t, "msg-3", recent[1].ID)
}

func TestToolCallsAppendOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, newConversation("conv-1", "owner-1", time.Now())))

	rec1 := types.ToolCallRecord{Tool: "get_rendimientos", Success: true, Timestamp: time.Now()}
	rec2 := types.ToolCallRecord{Tool: "get_rendimientos", Success: false, Timestamp: time.Now()}
	require.NoError(t, s.AppendToolCall(ctx, "conv-1", rec1))
	require.NoError(t, s.AppendToolCall(ctx, "conv-1", rec2))

	calls, err := s.ToolCalls(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Success)
	assert.False(t, calls[1].Success)
}
