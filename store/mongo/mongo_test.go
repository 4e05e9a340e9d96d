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

package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"centerline/core/shared/types"
	"centerline/core/store"
)

// newIntegrationStore skips unless CENTERLINE_TEST_MONGODB_URI points at
// a reachable MongoDB instance. Each run uses a throwaway database.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("CENTERLINE_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("CENTERLINE_TEST_MONGODB_URI not set, skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dbName := "centerline_test_" + uuid.NewString()[:8]
	s, err := Connect(ctx, uri, dbName)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.database.Drop(cleanupCtx)
		_ = s.Close(cleanupCtx)
	})
	return s
}

func TestConversationLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	conv := types.ConversationSummary{
		ID:           uuid.NewString(),
		Title:        "Integration test",
		OwnerID:      "owner-1",
		TenantID:     "center-1",
		CreatedAt:    now,
		LastActivity: now,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.OwnerID, got.OwnerID)
	assert.Equal(t, conv.Title, got.Title)

	msg := types.Message{
		ID:        uuid.NewString(),
		Role:      types.RoleUser,
		Text:      "hello",
		Timestamp: now,
	}
	require.NoError(t, s.AppendMessage(ctx, conv.ID, msg))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	require.NoError(t, s.AppendToolCall(ctx, conv.ID, types.ToolCallRecord{
		Tool:      "get_rendimientos",
		Arguments: map[string]interface{}{"id": "123"},
		Timestamp: now,
		Success:   true,
	}))
	calls, err := s.ToolCalls(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Success)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))
	_, err = s.GetConversation(ctx, conv.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	msgs, err = s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "delete removes the messages too")
}

func TestListConversationsPaging(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateConversation(ctx, types.ConversationSummary{
			ID:           fmt.Sprintf("conv-%d", i),
			OwnerID:      "owner-1",
			TenantID:     "center-1",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			LastActivity: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := s.ListConversations(ctx, "owner-1", time.Time{}, "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "conv-4", page[0].ID, "newest first")

	rest, err := s.ListConversations(ctx, "owner-1", page[2].LastActivity, page[2].ID, 3)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "conv-1", rest[0].ID)
}

func TestRecentMessagesWindow(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	require.NoError(t, s.CreateConversation(ctx, types.ConversationSummary{
		ID: "conv-1", OwnerID: "owner-1", TenantID: "center-1",
		CreatedAt: base, LastActivity: base,
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, s.AppendMessage(ctx, "conv-1", types.Message{
			ID:        fmt.Sprintf("msg-%d", i),
			Role:      types.RoleUser,
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recent, err := s.RecentMessages(ctx, "conv-1", 4)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "message 2", recent[0].Text, "window keeps the newest, ordered ascending")
	assert.Equal(t, "message 5", recent[3].Text)
}
