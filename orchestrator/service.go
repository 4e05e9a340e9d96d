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
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"centerline/core/shared/types"
	"centerline/core/tenants"
)

// PageSize is the fixed page size for conversation listings.
const PageSize = 15

// ErrOwnerMismatch is returned when a caller tries to operate on a
// conversation they do not own.
var ErrOwnerMismatch = errors.New("owner does not match conversation")

// Page is one page of a conversation listing. NextCursor is empty on the
// last page.
type Page struct {
	Conversations []types.ConversationSummary `json:"conversations"`
	NextCursor    string                      `json:"next_cursor,omitempty"`
}

// HealthSnapshot reports per-tenant subsystem health.
type HealthSnapshot struct {
	Tenants      map[string]bool `json:"tenants"`
	ToolProtocol map[string]bool `json:"tool_protocol"`
}

// ListConversations returns one page of the owner's conversations,
// newest first. The cursor is an opaque encoding of the last-seen
// (activity timestamp, conversation id) position.
func (o *Orchestrator) ListConversations(ctx context.Context, tenantID, ownerID, cursor string) (Page, error) {
	profile := o.router.ResolveTenant(tenants.Signals{TenantID: tenantID})
	st, err := o.router.GetStorageHandle(ctx, profile.ID)
	if err != nil {
		return Page{}, err
	}

	before, beforeID, err := decodeCursor(cursor)
	if err != nil {
		return Page{}, fmt.Errorf("invalid cursor: %w", err)
	}

	conversations, err := st.ListConversations(ctx, ownerID, before, beforeID, PageSize)
	if err != nil {
		return Page{}, err
	}

	page := Page{Conversations: conversations}
	if len(conversations) == PageSize {
		last := conversations[len(conversations)-1]
		page.NextCursor = encodeCursor(last.LastActivity, last.ID)
	}
	return page, nil
}

// ListMessages returns a conversation's messages in ascending timestamp
// order, after verifying ownership.
func (o *Orchestrator) ListMessages(ctx context.Context, tenantID, conversationID, ownerID string) ([]types.Message, error) {
	profile := o.router.ResolveTenant(tenants.Signals{TenantID: tenantID})
	st, err := o.router.GetStorageHandle(ctx, profile.ID)
	if err != nil {
		return nil, err
	}

	conv, err := st.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.OwnerID != ownerID {
		return nil, ErrOwnerMismatch
	}

	return st.ListMessages(ctx, conversationID)
}

// DeleteConversation removes all messages then the conversation record.
// It rejects the request when ownerID does not match the stored owner.
func (o *Orchestrator) DeleteConversation(ctx context.Context, tenantID, conversationID, ownerID string) error {
	profile := o.router.ResolveTenant(tenants.Signals{TenantID: tenantID})
	st, err := o.router.GetStorageHandle(ctx, profile.ID)
	if err != nil {
		return err
	}

	conv, err := st.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.OwnerID != ownerID {
		return ErrOwnerMismatch
	}

	return st.DeleteConversation(ctx, conversationID)
}

// HealthSnapshot probes every active tenant's storage and, where
// enabled, its remote tool connection.
func (o *Orchestrator) HealthSnapshot(ctx context.Context) HealthSnapshot {
	snapshot := HealthSnapshot{
		Tenants:      o.router.HealthCheck(ctx),
		ToolProtocol: make(map[string]bool),
	}

	if o.bridge != nil {
		for tenantID := range snapshot.Tenants {
			state := o.bridge.Status(tenantID)
			snapshot.ToolProtocol[tenantID] = state.Status == types.StatusConnected
		}
	}
	return snapshot
}

// encodeCursor turns a (last activity, conversation id) position into
// an opaque cursor.
func encodeCursor(t time.Time, id string) string {
	payload := strconv.FormatInt(t.UnixNano(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// decodeCursor is the inverse of encodeCursor; an empty cursor means
// "from the latest".
func decodeCursor(cursor string) (time.Time, string, error) {
	if cursor == "" {
		return time.Time{}, "", nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	nanosPart, id, ok := strings.Cut(string(raw), ":")
	if !ok {
		return time.Time{}, "", errors.New("malformed cursor payload")
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos), id, nil
}
