package attachments

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/pkg/common/logger"
)

// PurgeStore provides the message lookups the purge stage needs.
type PurgeStore interface {
	ExpiredAttachments(ctx context.Context, cutoff time.Time) ([]chat.Message, error)
	UnsetStorageRefs(ctx context.Context, messageKey string) error
}

// Purger removes attachment objects past the retention horizon.
type Purger struct {
	store         PurgeStore
	objects       ObjectStore
	retentionDays int
	log           *logger.Logger
	tracer        trace.Tracer
}

// NewPurger creates a Purger. retentionDays must be positive; zero keeps
// files indefinitely and the scheduler never submits purge units.
func NewPurger(store PurgeStore, objects ObjectStore, retentionDays int, log *logger.Logger, tracer trace.Tracer) *Purger {
	return &Purger{
		store:         store,
		objects:       objects,
		retentionDays: retentionDays,
		log:           log.With("component", "purger"),
		tracer:        tracer,
	}
}

// Run executes one purge unit of work. A message's storage refs are unset
// only when every one of its objects was removed; partial removals leave
// the refs in place for the next purge run.
func (p *Purger) Run(ctx context.Context) error {
	if p.retentionDays <= 0 {
		return fmt.Errorf("purge requested but retention is set to keep files indefinitely")
	}

	ctx, span := p.tracer.Start(ctx, "attachments.purge")
	defer span.End()

	cutoff := time.Now().UTC().AddDate(0, 0, -p.retentionDays)
	msgs, err := p.store.ExpiredAttachments(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		return err
	}

	purged := 0
	for _, msg := range msgs {
		if msg.Attachment == nil || len(msg.Attachment.StorageRefs) == 0 {
			continue
		}

		removedAll := true
		for _, ref := range msg.Attachment.StorageRefs {
			if err := p.objects.Remove(ctx, ref.Bucket, ref.Object); err != nil {
				p.log.Error(ctx, "could not remove object",
					"bucket", ref.Bucket, "object", ref.Object, "error", err)
				removedAll = false
				break
			}
		}
		if !removedAll {
			continue
		}

		if err := p.store.UnsetStorageRefs(ctx, msg.Key); err != nil {
			p.log.Error(ctx, "could not unset storage refs", "message_key", msg.Key, "error", err)
			continue
		}
		purged++
	}

	span.SetAttributes(attribute.Int("purged", purged))
	p.log.Info(ctx, "purge finished", "purged", purged, "expired", len(msgs))
	return nil
}
