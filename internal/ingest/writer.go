// Package ingest buffers scraped records and flushes them to the document
// store in bulk, amortizing write round-trips during history scans.
package ingest

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/infra/storage/mongodoc"
	"github.com/teledash/teledash/pkg/common/logger"
)

// DefaultCapacity is the buffered record count that triggers a flush.
const DefaultCapacity = 1000

// Document is a record that can be buffered for bulk writing. DocumentKey
// returns the natural key for upserts and duplicate detection; records
// without one return nil.
type Document interface {
	DocumentKey() any
}

// BulkWriter performs an unordered bulk write against a named collection.
type BulkWriter interface {
	BulkWrite(ctx context.Context, collection string, models []mongo.WriteModel) error
}

// Writer accumulates records per collection and writes them in bulk
// according to each collection's write policy.
//
// Flush clears the buffer unconditionally, including records that failed
// for non-duplicate reasons. Callers needing stronger durability must
// persist before flushing.
type Writer struct {
	store    BulkWriter
	log      *logger.Logger
	capacity int
	buffers  map[string][]Document
}

// NewWriter creates a Writer flushing through store. A non-positive
// capacity selects the default.
func NewWriter(store BulkWriter, log *logger.Logger, capacity int) *Writer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Writer{
		store:    store,
		log:      log,
		capacity: capacity,
		buffers:  make(map[string][]Document),
	}
}

// Add appends a record to the named collection's buffer. Records are never
// mutated after append.
func (w *Writer) Add(collection string, doc Document) {
	w.buffers[collection] = append(w.buffers[collection], doc)
}

// Has reports whether the named collection already buffers a record with
// the given natural key.
func (w *Writer) Has(collection string, key any) bool {
	if key == nil {
		return false
	}
	for _, doc := range w.buffers[collection] {
		if doc.DocumentKey() == key {
			return true
		}
	}
	return false
}

// Buffered returns the records currently buffered for a collection.
func (w *Writer) Buffered(collection string) []Document {
	return w.buffers[collection]
}

// Count returns the total number of buffered records across collections.
func (w *Writer) Count() int {
	total := 0
	for _, docs := range w.buffers {
		total += len(docs)
	}
	return total
}

// IsFull reports whether the buffer reached capacity.
func (w *Writer) IsFull() bool {
	return w.Count() >= w.capacity
}

// Flush bulk-writes every non-empty collection buffer and clears the
// buffer. Duplicate-key failures on individual records are logged and
// tolerated; any other failure is returned after the clear.
func (w *Writer) Flush(ctx context.Context) error {
	defer w.clear()

	w.log.Info(ctx, "flushing buffered records", "count", w.Count())

	var flushErr error
	for collection, docs := range w.buffers {
		if len(docs) == 0 {
			continue
		}

		models, err := buildModels(collection, docs)
		if err != nil {
			return err
		}

		if err := w.store.BulkWrite(ctx, collection, models); err != nil {
			if mongodoc.OnlyDuplicateKeys(err) {
				w.log.Debug(ctx, "ignoring duplicate key errors", "collection", collection)
				continue
			}
			w.log.Error(ctx, "bulk write failed", "collection", collection, "error", err)
			if flushErr == nil {
				flushErr = fmt.Errorf("bulk writing %s: %w", collection, err)
			}
		}
	}

	return flushErr
}

func (w *Writer) clear() {
	w.buffers = make(map[string][]Document)
}

func buildModels(collection string, docs []Document) ([]mongo.WriteModel, error) {
	policy, ok := chat.WritePolicies[collection]
	if !ok {
		return nil, fmt.Errorf("no write policy for collection %q", collection)
	}

	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		switch policy {
		case chat.InsertOnly:
			models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
		case chat.UpsertByKey:
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.D{{Key: "_id", Value: doc.DocumentKey()}}).
				SetReplacement(doc).
				SetUpsert(true))
		}
	}
	return models, nil
}
