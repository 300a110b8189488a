// Package mongodoc implements the worker's document-store layer on top of
// the MongoDB driver.
package mongodoc

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/trace"

	"github.com/teledash/teledash/internal/analytics"
	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/pkg/common/logger"
)

// Store provides typed access to the worker's collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
	tracer trace.Tracer
}

// Connect establishes a client connection and verifies it with a ping.
func Connect(ctx context.Context, cfg config.Mongo, log *logger.Logger, tracer trace.Tracer) (*Store, error) {
	opts := options.Client().
		ApplyURI(fmt.Sprintf("mongodb://%s", cfg.Host)).
		SetAuth(options.Credential{Username: cfg.User, Password: cfg.Password})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging document store: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log,
		tracer: tracer,
	}, nil
}

// Close releases the client connection.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// BulkWrite performs an unordered bulk write against the named collection.
// The returned error preserves per-operation failure detail for duplicate
// classification.
func (s *Store) BulkWrite(ctx context.Context, collection string, models []mongo.WriteModel) error {
	ctx, span := s.tracer.Start(ctx, "mongodoc.bulk_write")
	defer span.End()

	_, err := s.db.Collection(collection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ActiveSessions returns every session that is active and carries a
// session token.
func (s *Store) ActiveSessions(ctx context.Context) ([]scraping.ClientSession, error) {
	cursor, err := s.db.Collection(chat.CollectionSessions).Find(ctx, bson.M{
		"is_active":     true,
		"session_token": bson.M{"$exists": true, "$ne": ""},
	})
	if err != nil {
		return nil, fmt.Errorf("finding active sessions: %w", err)
	}

	var sessions []scraping.ClientSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("decoding sessions: %w", err)
	}
	return sessions, nil
}

// Session loads one session by id. Missing, inactive or credential-less
// sessions yield scraping.ErrNoSession.
func (s *Store) Session(ctx context.Context, id string) (scraping.ClientSession, error) {
	var session scraping.ClientSession
	err := s.db.Collection(chat.CollectionSessions).FindOne(ctx, bson.M{
		"_id":           id,
		"is_active":     true,
		"session_token": bson.M{"$exists": true, "$ne": ""},
	}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return scraping.ClientSession{}, fmt.Errorf("session %s: %w", id, scraping.ErrNoSession)
	}
	if err != nil {
		return scraping.ClientSession{}, fmt.Errorf("finding session %s: %w", id, err)
	}
	if !session.Usable() {
		return scraping.ClientSession{}, fmt.Errorf("session %s: %w", id, scraping.ErrNoSession)
	}
	return session, nil
}

// UpdateSessionChats replaces the chat refs stored on a session.
func (s *Store) UpdateSessionChats(ctx context.Context, id string, refs []chat.ChatRef) error {
	_, err := s.db.Collection(chat.CollectionSessions).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"chats": refs}},
	)
	if err != nil {
		return fmt.Errorf("updating session %s chats: %w", id, err)
	}
	return nil
}

// ChatLanguages returns the stored language fields for the given chat ids.
func (s *Store) ChatLanguages(ctx context.Context, ids []int64) (map[int64]chat.Chat, error) {
	cursor, err := s.db.Collection(chat.CollectionChats).Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"_id": 1, "language": 1, "language_other": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("finding chat languages: %w", err)
	}

	var chats []chat.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("decoding chats: %w", err)
	}

	byID := make(map[int64]chat.Chat, len(chats))
	for _, c := range chats {
		byID[c.ID] = c
	}
	return byID, nil
}

// RecentlyScraped returns the subset of ids whose chats were scraped after
// since.
func (s *Store) RecentlyScraped(ctx context.Context, ids []int64, since time.Time) ([]int64, error) {
	cursor, err := s.db.Collection(chat.CollectionChats).Find(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "scraped_at": bson.M{"$gt": since}},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("finding recently scraped chats: %w", err)
	}

	var chats []chat.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("decoding chats: %w", err)
	}

	recent := make([]int64, 0, len(chats))
	for _, c := range chats {
		recent = append(recent, c.ID)
	}
	return recent, nil
}

// GroupChatIDs returns the subset of ids whose chats expose member lists.
func (s *Store) GroupChatIDs(ctx context.Context, ids []int64) ([]int64, error) {
	cursor, err := s.db.Collection(chat.CollectionChats).Find(ctx,
		bson.M{
			"_id":  bson.M{"$in": ids},
			"type": bson.M{"$in": []chat.ChatType{chat.ChatTypeGroup, chat.ChatTypeSupergroup}},
		},
		options.Find().SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("finding group chats: %w", err)
	}

	var chats []chat.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, fmt.Errorf("decoding chats: %w", err)
	}

	groups := make([]int64, 0, len(chats))
	for _, c := range chats {
		groups = append(groups, c.ID)
	}
	return groups, nil
}

// UpdateChatMembers replaces the member refs stored on a chat.
func (s *Store) UpdateChatMembers(ctx context.Context, chatID int64, refs []chat.UserRef) error {
	_, err := s.db.Collection(chat.CollectionChats).UpdateOne(ctx,
		bson.M{"_id": chatID},
		bson.M{"$set": bson.M{"members": refs}},
	)
	if err != nil {
		return fmt.Errorf("updating chat %d members: %w", chatID, err)
	}
	return nil
}

// NewestMessage returns the most recent stored message for a chat, or nil
// when the chat has none.
func (s *Store) NewestMessage(ctx context.Context, chatID int64) (*chat.Message, error) {
	var msg chat.Message
	err := s.db.Collection(chat.CollectionMessages).FindOne(ctx,
		bson.M{"chat._id": chatID},
		options.FindOne().SetSort(bson.D{{Key: "date", Value: -1}}),
	).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding newest message for chat %d: %w", chatID, err)
	}
	return &msg, nil
}

// MessagesByKeys loads the stored messages for the given natural keys.
func (s *Store) MessagesByKeys(ctx context.Context, keys []string) ([]chat.Message, error) {
	cursor, err := s.db.Collection(chat.CollectionMessages).Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, fmt.Errorf("finding messages by key: %w", err)
	}

	var msgs []chat.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return msgs, nil
}

// SetAttachmentResult persists the pipeline output onto the owning message.
func (s *Store) SetAttachmentResult(ctx context.Context, messageKey string, refs []chat.StorageRef, ocr, transcription string) error {
	set := bson.M{"attachment.storage_refs": refs}
	if ocr != "" {
		set["attachment.ocr"] = ocr
	}
	if transcription != "" {
		set["attachment.transcription"] = transcription
	}

	_, err := s.db.Collection(chat.CollectionMessages).UpdateOne(ctx,
		bson.M{"_id": messageKey},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("updating attachment result for %s: %w", messageKey, err)
	}
	return nil
}

// ExpiredAttachments returns messages older than cutoff that still hold
// storage refs.
func (s *Store) ExpiredAttachments(ctx context.Context, cutoff time.Time) ([]chat.Message, error) {
	cursor, err := s.db.Collection(chat.CollectionMessages).Find(ctx,
		bson.M{
			"date":                    bson.M{"$lt": cutoff},
			"attachment.storage_refs": bson.M{"$exists": true},
		},
		options.Find().SetProjection(bson.M{"_id": 1, "attachment.storage_refs": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("finding expired attachments: %w", err)
	}

	var msgs []chat.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return msgs, nil
}

// UnsetStorageRefs removes the storage refs from a message after its
// objects were purged.
func (s *Store) UnsetStorageRefs(ctx context.Context, messageKey string) error {
	_, err := s.db.Collection(chat.CollectionMessages).UpdateOne(ctx,
		bson.M{"_id": messageKey},
		bson.M{"$unset": bson.M{"attachment.storage_refs": 1}},
	)
	if err != nil {
		return fmt.Errorf("unsetting storage refs for %s: %w", messageKey, err)
	}
	return nil
}

// MetricEvents returns the metric events matching the filter, ordered by
// timestamp ascending.
func (s *Store) MetricEvents(ctx context.Context, filter analytics.Filter) ([]analytics.Event, error) {
	query := bson.M{"metadata.type": filter.Type}
	if filter.ChatID != 0 {
		query["metadata.chat_id"] = filter.ChatID
	}
	if !filter.Since.IsZero() {
		query["ts"] = bson.M{"$gte": filter.Since}
	}

	cursor, err := s.db.Collection(chat.CollectionMetrics).Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "ts", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("finding metric events: %w", err)
	}

	var metrics []chat.Metric
	if err := cursor.All(ctx, &metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics: %w", err)
	}

	events := make([]analytics.Event, 0, len(metrics))
	for _, m := range metrics {
		events = append(events, analytics.Event{TS: m.TS, Value: m.Value})
	}
	return events, nil
}
