package scraping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

// fakeMemberStore serves sessions and records member-ref updates.
type fakeMemberStore struct {
	sessions []scraping.ClientSession
	groups   map[int64]bool
	updated  map[int64][]chat.UserRef
}

func (s *fakeMemberStore) ActiveSessions(context.Context) ([]scraping.ClientSession, error) {
	return s.sessions, nil
}

func (s *fakeMemberStore) GroupChatIDs(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if s.groups[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeMemberStore) UpdateChatMembers(_ context.Context, chatID int64, refs []chat.UserRef) error {
	if s.updated == nil {
		s.updated = make(map[int64][]chat.UserRef)
	}
	s.updated[chatID] = refs
	return nil
}

func TestMemberScraperUpsertsGroupMembers(t *testing.T) {
	store := &fakeMemberStore{
		sessions: []scraping.ClientSession{{
			ID: "s1", IsActive: true, SessionToken: "t1",
			Chats: []chat.ChatRef{{ID: 1}, {ID: 2}, {ID: 3}},
		}},
		// Chat 3 is a channel and exposes no member list.
		groups: map[int64]bool{1: true, 2: true},
	}
	sess := &fakeSession{
		members: map[int64][]platform.UserInfo{
			1: {{ID: 100, Username: "alice"}, {ID: 101, Username: "bob"}},
			2: {{ID: 101, Username: "bob"}},
		},
	}
	connector := &fakeConnector{sessions: map[string]*fakeSession{"t1": sess}}
	bulk := newFakeBulk()

	m := NewMemberScraper(store, bulk, connector, 0, logger.Noop(),
		noop.NewTracerProvider().Tracer("test"))

	require.NoError(t, m.Run(context.Background()))

	require.Len(t, store.updated[1], 2)
	require.Len(t, store.updated[2], 1)
	assert.NotContains(t, store.updated, int64(3))

	// User 101 appears in both chats but is buffered once.
	var userIDs []int64
	for _, model := range bulk.writes[chat.CollectionUsers] {
		replace, ok := model.(*mongo.ReplaceOneModel)
		require.True(t, ok)
		user, ok := replace.Replacement.(chat.User)
		require.True(t, ok)
		userIDs = append(userIDs, user.ID)
	}
	assert.ElementsMatch(t, []int64{100, 101}, userIDs)
	assert.True(t, sess.closed)
}

func TestMemberScraperSkipsSessionsWithoutChats(t *testing.T) {
	store := &fakeMemberStore{
		sessions: []scraping.ClientSession{
			{ID: "s1", IsActive: true, SessionToken: "t1"},
			{ID: "s2", IsActive: false, SessionToken: "t2", Chats: []chat.ChatRef{{ID: 1}}},
		},
	}
	connector := &fakeConnector{sessions: map[string]*fakeSession{}}
	bulk := newFakeBulk()

	m := NewMemberScraper(store, bulk, connector, 0, logger.Noop(),
		noop.NewTracerProvider().Tracer("test"))

	require.NoError(t, m.Run(context.Background()))
	assert.Empty(t, bulk.writes)
	assert.Empty(t, store.updated)
}
