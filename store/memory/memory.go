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

// Package memory provides an in-memory Store used by tests and local
// development. Not suitable for production: nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"centerline/core/shared/types"
	"centerline/core/store"
)

// record bundles everything persisted for one conversation.
type record struct {
	conv      types.ConversationSummary
	messages  []types.Message
	toolCalls []types.ToolCallRecord
}

// Store is an in-memory store.Store implementation.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

func (s *Store) CreateConversation(ctx context.Context, conv types.ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[conv.ID] = &record{conv: conv}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (types.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[conversationID]
	if !ok {
		return types.ConversationSummary{}, store.ErrNotFound
	}
	return r.conv, nil
}

func (s *Store) ListConversations(ctx context.Context, ownerID string, before time.Time, beforeID string, limit int) ([]types.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]types.ConversationSummary, 0)
	for _, r := range s.records {
		if r.conv.OwnerID != ownerID {
			continue
		}
		if !before.IsZero() {
			// Strictly before the compound (timestamp, id) position.
			if r.conv.LastActivity.After(before) {
				continue
			}
			if r.conv.LastActivity.Equal(before) && r.conv.ID >= beforeID {
				continue
			}
		}
		matches = append(matches, r.conv)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].LastActivity.Equal(matches[j].LastActivity) {
			return matches[i].LastActivity.After(matches[j].LastActivity)
		}
		return matches[i].ID > matches[j].ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[conversationID]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, conversationID)
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	r.conv.LastActivity = at
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	r.messages = append(r.messages, msg)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}

	msgs := make([]types.Message, len(r.messages))
	copy(msgs, r.messages)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]types.Message, error) {
	msgs, err := s.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (s *Store) AppendToolCall(ctx context.Context, conversationID string, rec types.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[conversationID]
	if !ok {
		return store.ErrNotFound
	}
	r.toolCalls = append(r.toolCalls, rec)
	return nil
}

func (s *Store) ToolCalls(ctx context.Context, conversationID string) ([]types.ToolCallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}

	calls := make([]types.ToolCallRecord, len(r.toolCalls))
	copy(calls, r.toolCalls)
	return calls, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }
