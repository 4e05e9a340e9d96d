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

// Package mongo implements the conversation Store on MongoDB. Each
// tenant gets its own database (named by the tenant's storage
// reference) with a conversations collection and a messages collection;
// the append-only tool-call history is embedded in the conversation
// document.
package mongo

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"centerline/core/shared/types"
	"centerline/core/store"
)

const (
	// DefaultConnectTimeout bounds the initial connection.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultMaxPoolSize is the maximum connection pool size.
	DefaultMaxPoolSize = 100

	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// Store is a MongoDB-backed store.Store.
type Store struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *log.Logger
}

var _ store.Store = (*Store)(nil)

// conversationDoc is the persisted conversation record.
type conversationDoc struct {
	ID           string                 `bson:"_id"`
	Title        string                 `bson:"title"`
	OwnerID      string                 `bson:"owner_id"`
	TenantID     string                 `bson:"tenant_id"`
	CreatedAt    time.Time              `bson:"created_at"`
	LastActivity time.Time              `bson:"last_activity"`
	ToolCalls    []types.ToolCallRecord `bson:"tool_calls,omitempty"`
}

// messageDoc is one persisted message.
type messageDoc struct {
	ID             string      `bson:"_id"`
	ConversationID string      `bson:"conversation_id"`
	Role           string      `bson:"role"`
	Text           string      `bson:"text"`
	Timestamp      time.Time   `bson:"timestamp"`
	ToolPayload    interface{} `bson:"tool_payload,omitempty"`
}

// Connect opens a connection to MongoDB and returns a Store bound to the
// given database name.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(DefaultMaxPoolSize).
		SetConnectTimeout(DefaultConnectTimeout)

	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:   client,
		database: client.Database(dbName),
		logger:   log.New(os.Stdout, "[STORE_MONGO] ", log.LstdFlags),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		s.logger.Printf("Warning: failed to ensure indexes: %v", err)
	}

	return s, nil
}

// ensureIndexes creates the indexes the list queries depend on.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.database.Collection(conversationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "last_activity", Value: -1}},
	})
	if err != nil {
		return err
	}

	_, err = s.database.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

func (s *Store) CreateConversation(ctx context.Context, conv types.ConversationSummary) error {
	doc := conversationDoc{
		ID:           conv.ID,
		Title:        conv.Title,
		OwnerID:      conv.OwnerID,
		TenantID:     conv.TenantID,
		CreatedAt:    conv.CreatedAt,
		LastActivity: conv.LastActivity,
	}

	_, err := s.database.Collection(conversationsCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (types.ConversationSummary, error) {
	var doc conversationDoc
	err := s.database.Collection(conversationsCollection).
		FindOne(ctx, bson.M{"_id": conversationID}).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return types.ConversationSummary{}, store.ErrNotFound
	}
	if err != nil {
		return types.ConversationSummary{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	return summaryFromDoc(doc), nil
}

func (s *Store) ListConversations(ctx context.Context, ownerID string, before time.Time, beforeID string, limit int) ([]types.ConversationSummary, error) {
	filter := bson.M{"owner_id": ownerID}
	if !before.IsZero() {
		// Compound cursor: strictly before (last_activity, id) so
		// conversations sharing a timestamp are not skipped.
		filter["$or"] = []bson.M{
			{"last_activity": bson.M{"$lt": before}},
			{"last_activity": before, "_id": bson.M{"$lt": beforeID}},
		}
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "last_activity", Value: -1},
		{Key: "_id", Value: -1},
	})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.database.Collection(conversationsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			s.logger.Printf("Error closing cursor: %v", err)
		}
	}()

	summaries := make([]types.ConversationSummary, 0)
	for cursor.Next(ctx) {
		var doc conversationDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		summaries = append(summaries, summaryFromDoc(doc))
	}
	return summaries, cursor.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	// Messages first, then the record, so a partial failure leaves a
	// conversation that can be retried rather than orphaned messages.
	_, err := s.database.Collection(messagesCollection).
		DeleteMany(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := s.database.Collection(conversationsCollection).
		DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res, err := s.database.Collection(conversationsCollection).UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$set": bson.M{"last_activity": at}})
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg types.Message) error {
	doc := messageDoc{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           string(msg.Role),
		Text:           msg.Text,
		Timestamp:      msg.Timestamp,
		ToolPayload:    msg.ToolPayload,
	}

	_, err := s.database.Collection(messagesCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]types.Message, error) {
	return s.findMessages(ctx, conversationID, 0)
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]types.Message, error) {
	if n <= 0 {
		return s.findMessages(ctx, conversationID, 0)
	}

	// Fetch the newest n descending, then reverse to ascending.
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(n))

	cursor, err := s.database.Collection(messagesCollection).
		Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			s.logger.Printf("Error closing cursor: %v", err)
		}
	}()

	msgs, err := decodeMessages(ctx, cursor)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) findMessages(ctx context.Context, conversationID string, limit int64) ([]types.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.database.Collection(messagesCollection).
		Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			s.logger.Printf("Error closing cursor: %v", err)
		}
	}()

	return decodeMessages(ctx, cursor)
}

func decodeMessages(ctx context.Context, cursor *mongo.Cursor) ([]types.Message, error) {
	msgs := make([]types.Message, 0)
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, types.Message{
			ID:          doc.ID,
			Role:        types.MessageRole(doc.Role),
			Text:        doc.Text,
			Timestamp:   doc.Timestamp,
			ToolPayload: doc.ToolPayload,
		})
	}
	return msgs, cursor.Err()
}

func (s *Store) AppendToolCall(ctx context.Context, conversationID string, rec types.ToolCallRecord) error {
	res, err := s.database.Collection(conversationsCollection).UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$push": bson.M{"tool_calls": rec}})
	if err != nil {
		return fmt.Errorf("failed to append tool call: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ToolCalls(ctx context.Context, conversationID string) ([]types.ToolCallRecord, error) {
	var doc conversationDoc
	err := s.database.Collection(conversationsCollection).
		FindOne(ctx, bson.M{"_id": conversationID}).
		Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tool calls: %w", err)
	}
	return doc.ToolCalls, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func summaryFromDoc(doc conversationDoc) types.ConversationSummary {
	return types.ConversationSummary{
		ID:           doc.ID,
		Title:        doc.Title,
		OwnerID:      doc.OwnerID,
		TenantID:     doc.TenantID,
		CreatedAt:    doc.CreatedAt,
		LastActivity: doc.LastActivity,
	}
}
