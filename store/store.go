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

// Package store defines the conversation persistence contract: one
// record per conversation (title, owner, tenant, timestamps, append-only
// tool-call history) plus an ordered message collection per
// conversation. Implementations live in subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"centerline/core/shared/types"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is a per-tenant storage handle. Implementations must be safe
// for concurrent use by multiple in-flight turns.
type Store interface {
	// CreateConversation persists a new conversation record.
	CreateConversation(ctx context.Context, conv types.ConversationSummary) error

	// GetConversation loads one conversation record.
	GetConversation(ctx context.Context, conversationID string) (types.ConversationSummary, error)

	// ListConversations returns up to limit conversations owned by
	// ownerID, ordered by (last activity, id) descending, strictly
	// before the (before, beforeID) cursor position. The compound
	// cursor keeps conversations sharing a last-activity timestamp
	// from being skipped between pages. A zero before means "from the
	// latest".
	ListConversations(ctx context.Context, ownerID string, before time.Time, beforeID string, limit int) ([]types.ConversationSummary, error)

	// DeleteConversation removes all messages, then the conversation
	// record.
	DeleteConversation(ctx context.Context, conversationID string) error

	// TouchConversation updates the conversation's last-activity marker.
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error

	// AppendMessage appends one message to the conversation.
	AppendMessage(ctx context.Context, conversationID string, msg types.Message) error

	// ListMessages returns all messages in ascending timestamp order.
	ListMessages(ctx context.Context, conversationID string) ([]types.Message, error)

	// RecentMessages returns the last n messages in ascending timestamp
	// order.
	RecentMessages(ctx context.Context, conversationID string, n int) ([]types.Message, error)

	// AppendToolCall appends one record to the conversation's
	// append-only tool-call history.
	AppendToolCall(ctx context.Context, conversationID string, rec types.ToolCallRecord) error

	// ToolCalls returns the conversation's tool-call history in append
	// order.
	ToolCalls(ctx context.Context, conversationID string) ([]types.ToolCallRecord, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
