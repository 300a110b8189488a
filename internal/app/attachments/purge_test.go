package attachments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/pkg/common/logger"
)

// fakePurgeStore serves expired messages and records unset calls.
type fakePurgeStore struct {
	expired []chat.Message
	unset   []string
}

func (s *fakePurgeStore) ExpiredAttachments(_ context.Context, _ time.Time) ([]chat.Message, error) {
	return s.expired, nil
}

func (s *fakePurgeStore) UnsetStorageRefs(_ context.Context, messageKey string) error {
	s.unset = append(s.unset, messageKey)
	return nil
}

func expiredMessage(key string, refs ...chat.StorageRef) chat.Message {
	return chat.Message{
		Key:        key,
		Attachment: &chat.Attachment{Type: chat.AttachmentPhoto, StorageRefs: refs},
	}
}

func newTestPurger(store *fakePurgeStore, objects *fakeObjectStore, retentionDays int) *Purger {
	return NewPurger(store, objects, retentionDays, logger.Noop(),
		noop.NewTracerProvider().Tracer("test"))
}

func TestPurgerRemovesObjectsAndUnsetsRefs(t *testing.T) {
	store := &fakePurgeStore{expired: []chat.Message{
		expiredMessage("7-1",
			chat.StorageRef{Bucket: "photos", Object: "u1.jpg"},
			chat.StorageRef{Bucket: chat.ThumbnailBucket, Object: "t1.jpg"},
		),
		expiredMessage("7-2", chat.StorageRef{Bucket: "videos", Object: "u2.mp4"}),
	}}
	objects := &fakeObjectStore{}

	require.NoError(t, newTestPurger(store, objects, 30).Run(context.Background()))

	assert.Len(t, objects.removed, 3)
	assert.Equal(t, []string{"7-1", "7-2"}, store.unset)
}

func TestPurgerKeepsRefsOnPartialRemoval(t *testing.T) {
	store := &fakePurgeStore{expired: []chat.Message{
		expiredMessage("7-1",
			chat.StorageRef{Bucket: "photos", Object: "u1.jpg"},
			chat.StorageRef{Bucket: chat.ThumbnailBucket, Object: "t1.jpg"},
		),
		expiredMessage("7-2", chat.StorageRef{Bucket: "videos", Object: "u2.mp4"}),
	}}
	objects := &fakeObjectStore{removeErr: map[string]error{
		"t1.jpg": fmt.Errorf("object store unavailable"),
	}}

	require.NoError(t, newTestPurger(store, objects, 30).Run(context.Background()))

	// 7-1 lost only one of two objects, so its refs stay for the next run.
	assert.Equal(t, []string{"7-2"}, store.unset)
}

func TestPurgerSkipsMessagesWithoutRefs(t *testing.T) {
	store := &fakePurgeStore{expired: []chat.Message{
		{Key: "7-1", Attachment: &chat.Attachment{Type: chat.AttachmentPhoto}},
		{Key: "7-2"},
	}}
	objects := &fakeObjectStore{}

	require.NoError(t, newTestPurger(store, objects, 30).Run(context.Background()))

	assert.Empty(t, objects.removed)
	assert.Empty(t, store.unset)
}

func TestPurgerRejectsUnboundedRetention(t *testing.T) {
	err := newTestPurger(&fakePurgeStore{}, &fakeObjectStore{}, 0).Run(context.Background())
	assert.Error(t, err)
}
