package scraping

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/teledash/teledash/internal/analytics"
	"github.com/teledash/teledash/internal/app/attachments"
	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/infra/retry"
	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

// fakeSession is an in-memory platform.Session.
type fakeSession struct {
	dialogs  []platform.ChatInfo
	chats    map[int64]platform.ChatInfo
	history  map[int64][]platform.MessageInfo // newest first
	texts    map[int64][]string
	members  map[int64][]platform.UserInfo
	closed  bool
	fetched int
}

func (s *fakeSession) Dialogs(context.Context) ([]platform.ChatInfo, error) {
	return s.dialogs, nil
}

func (s *fakeSession) Chat(_ context.Context, chatID int64) (platform.ChatInfo, error) {
	info, ok := s.chats[chatID]
	if !ok {
		return platform.ChatInfo{}, fmt.Errorf("peer id invalid")
	}
	return info, nil
}

func (s *fakeSession) History(_ context.Context, chatID int64) platform.MessageIterator {
	return &sliceIterator{msgs: s.history[chatID], session: s}
}

func (s *fakeSession) RecentTexts(_ context.Context, chatID int64) ([]string, error) {
	return s.texts[chatID], nil
}

func (s *fakeSession) Members(_ context.Context, chatID int64) platform.MemberIterator {
	return &memberSliceIterator{users: s.members[chatID]}
}

func (s *fakeSession) Message(_ context.Context, chatID, ordinal int64) (platform.MessageInfo, error) {
	for _, msg := range s.history[chatID] {
		if msg.Ordinal == ordinal {
			return msg, nil
		}
	}
	return platform.MessageInfo{}, fmt.Errorf("message %d not found", ordinal)
}

func (s *fakeSession) Download(_ context.Context, fileID, dir string) (string, error) {
	return dir + "/" + fileID, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type sliceIterator struct {
	msgs    []platform.MessageInfo
	pos     int
	session *fakeSession
}

func (it *sliceIterator) Next(context.Context) (platform.MessageInfo, error) {
	if it.pos >= len(it.msgs) {
		return platform.MessageInfo{}, platform.Done
	}
	msg := it.msgs[it.pos]
	it.pos++
	it.session.fetched++
	return msg, nil
}

type memberSliceIterator struct {
	users []platform.UserInfo
	pos   int
}

func (it *memberSliceIterator) Next(context.Context) (platform.UserInfo, error) {
	if it.pos >= len(it.users) {
		return platform.UserInfo{}, platform.Done
	}
	user := it.users[it.pos]
	it.pos++
	return user, nil
}

// fakeBulk captures bulk writes per collection.
type fakeBulk struct {
	writes map[string][]mongo.WriteModel
}

func newFakeBulk() *fakeBulk {
	return &fakeBulk{writes: make(map[string][]mongo.WriteModel)}
}

func (f *fakeBulk) BulkWrite(_ context.Context, collection string, models []mongo.WriteModel) error {
	f.writes[collection] = append(f.writes[collection], models...)
	return nil
}

// fakeScrapeStore backs the scrape-unit store port.
type fakeScrapeStore struct {
	session scraping.ClientSession
	known   map[int64]chat.Chat
	newest  map[int64]*chat.Message
}

func (s *fakeScrapeStore) Session(_ context.Context, id string) (scraping.ClientSession, error) {
	if s.session.ID != id || !s.session.Usable() {
		return scraping.ClientSession{}, scraping.ErrNoSession
	}
	return s.session, nil
}

func (s *fakeScrapeStore) ChatLanguages(_ context.Context, ids []int64) (map[int64]chat.Chat, error) {
	return s.known, nil
}

func (s *fakeScrapeStore) NewestMessage(_ context.Context, chatID int64) (*chat.Message, error) {
	return s.newest[chatID], nil
}

type emptyMetricSource struct{}

func (emptyMetricSource) MetricEvents(context.Context, analytics.Filter) ([]analytics.Event, error) {
	return nil, nil
}

type staticDetector struct{ langs []string }

func (d staticDetector) Detect(string) []string { return d.langs }

func descendingHistory(chatID int64, from, to int64, date time.Time) []platform.MessageInfo {
	var msgs []platform.MessageInfo
	for ordinal := from; ordinal >= to; ordinal-- {
		msgs = append(msgs, platform.MessageInfo{
			Ordinal:  ordinal,
			Date:     date,
			Text:     fmt.Sprintf("message %d", ordinal),
			FromUser: &platform.UserInfo{ID: 100, Username: "poster"},
		})
	}
	return msgs
}

func newTestScraper(store *fakeScrapeStore, sess *fakeSession, queue *fakeQueue, policy config.Scrape, bulk *fakeBulk) *Scraper {
	connector := &fakeConnector{sessions: map[string]*fakeSession{"t1": sess}}
	return NewScraper(
		store,
		bulk,
		connector,
		retry.NewExecutor(logger.Noop()),
		queue,
		analytics.NewAggregator(emptyMetricSource{}),
		staticDetector{langs: []string{"en"}},
		policy,
		0,
		nil,
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
	)
}

func insertedMessages(t *testing.T, bulk *fakeBulk) []chat.Message {
	t.Helper()
	var out []chat.Message
	for _, model := range bulk.writes[chat.CollectionMessages] {
		insert, ok := model.(*mongo.InsertOneModel)
		require.True(t, ok)
		msg, ok := insert.Document.(chat.Message)
		require.True(t, ok)
		out = append(out, msg)
	}
	return out
}

func TestScrapeChatsResumesAfterStoredOrdinal(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeScrapeStore{
		session: scraping.ClientSession{ID: "s1", IsActive: true, SessionToken: "t1"},
		known:   map[int64]chat.Chat{7: {ID: 7, Language: "en"}},
		newest:  map[int64]*chat.Message{7: {Key: "7-150", Ordinal: 150}},
	}
	sess := &fakeSession{
		chats:   map[int64]platform.ChatInfo{7: {ID: 7, Type: "supergroup", Title: "ops"}},
		history: map[int64][]platform.MessageInfo{7: descendingHistory(7, 160, 148, now)},
	}
	bulk := newFakeBulk()
	queue := &fakeQueue{}

	s := newTestScraper(store, sess, queue, config.Scrape{IntervalMinutes: 60}, bulk)

	require.NoError(t, s.ScrapeChats(context.Background(), scraping.ScrapeChatsArgs{
		SessionID: "s1", ChatIDs: []int64{7},
	}))

	// Exactly 151..160 are ingested; the walk stops at the resume point
	// instead of skipping past it.
	msgs := insertedMessages(t, bulk)
	require.Len(t, msgs, 10)
	for i, msg := range msgs {
		assert.Equal(t, int64(160-i), msg.Ordinal)
		assert.Equal(t, chat.MessageKey(7, 160-int64(i)), msg.Key)
		assert.Equal(t, "en", msg.Language)
	}
	assert.Equal(t, 11, sess.fetched, "iteration should stop upon reaching 150")
	assert.True(t, sess.closed)
}

func TestScrapeChatsRerunIngestsNothing(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeScrapeStore{
		session: scraping.ClientSession{ID: "s1", IsActive: true, SessionToken: "t1"},
		known:   map[int64]chat.Chat{7: {ID: 7, Language: "en"}},
		newest:  map[int64]*chat.Message{7: {Key: "7-160", Ordinal: 160}},
	}
	sess := &fakeSession{
		chats:   map[int64]platform.ChatInfo{7: {ID: 7, Type: "supergroup"}},
		history: map[int64][]platform.MessageInfo{7: descendingHistory(7, 160, 148, now)},
	}
	bulk := newFakeBulk()

	s := newTestScraper(store, sess, &fakeQueue{}, config.Scrape{IntervalMinutes: 60}, bulk)

	require.NoError(t, s.ScrapeChats(context.Background(), scraping.ScrapeChatsArgs{
		SessionID: "s1", ChatIDs: []int64{7},
	}))

	assert.Empty(t, insertedMessages(t, bulk))
}

func TestScrapeChatsStopsAtCutoffDate(t *testing.T) {
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)
	store := &fakeScrapeStore{
		session: scraping.ClientSession{ID: "s1", IsActive: true, SessionToken: "t1"},
		known:   map[int64]chat.Chat{7: {ID: 7, Language: "en"}},
	}
	history := append(descendingHistory(7, 20, 16, now), descendingHistory(7, 15, 10, old)...)
	sess := &fakeSession{
		chats:   map[int64]platform.ChatInfo{7: {ID: 7, Type: "group"}},
		history: map[int64][]platform.MessageInfo{7: history},
	}
	bulk := newFakeBulk()

	s := newTestScraper(store, sess, &fakeQueue{}, config.Scrape{IntervalMinutes: 60, MaxDays: 30}, bulk)

	require.NoError(t, s.ScrapeChats(context.Background(), scraping.ScrapeChatsArgs{
		SessionID: "s1", ChatIDs: []int64{7},
	}))

	msgs := insertedMessages(t, bulk)
	require.Len(t, msgs, 5)
	assert.Equal(t, int64(16), msgs[len(msgs)-1].Ordinal)
}

func TestScrapeChatsSubmitsDownloadUnit(t *testing.T) {
	now := time.Now().UTC()
	history := []platform.MessageInfo{
		{Ordinal: 3, Date: now, Media: &platform.MediaInfo{Type: "photo", FileID: "f3", FileUniqueID: "u3"}},
		{Ordinal: 2, Date: now, Media: &platform.MediaInfo{Type: "video", FileID: "f2", FileUniqueID: "u2"}},
		{Ordinal: 1, Date: now, Text: "plain"},
	}
	store := &fakeScrapeStore{
		session: scraping.ClientSession{ID: "s1", IsActive: true, SessionToken: "t1"},
		known:   map[int64]chat.Chat{7: {ID: 7, Language: "en"}},
	}
	sess := &fakeSession{
		chats:   map[int64]platform.ChatInfo{7: {ID: 7, Type: "channel"}},
		history: map[int64][]platform.MessageInfo{7: history},
	}
	queue := &fakeQueue{}
	bulk := newFakeBulk()

	policy := config.Scrape{IntervalMinutes: 60, AttachmentTypes: []string{"photo"}}
	s := newTestScraper(store, sess, queue, policy, bulk)

	require.NoError(t, s.ScrapeChats(context.Background(), scraping.ScrapeChatsArgs{
		SessionID: "s1", ChatIDs: []int64{7},
	}))

	// Only the allow-listed photo message is handed to the download
	// stage.
	require.Len(t, queue.submitted, 1)
	var args attachments.DownloadArgs
	require.NoError(t, queue.submitted[0].UnmarshalArgs(&args))
	assert.Equal(t, "s1", args.SessionID)
	assert.Equal(t, []string{chat.MessageKey(7, 3)}, args.MessageKeys)
}

func TestScrapeChatsAbortsWithoutSession(t *testing.T) {
	store := &fakeScrapeStore{
		session: scraping.ClientSession{ID: "s1", IsActive: false},
	}
	s := newTestScraper(store, &fakeSession{}, &fakeQueue{}, config.Scrape{IntervalMinutes: 60}, newFakeBulk())

	err := s.ScrapeChats(context.Background(), scraping.ScrapeChatsArgs{
		SessionID: "s1", ChatIDs: []int64{7},
	})
	assert.ErrorIs(t, err, scraping.ErrNoSession)
}

func TestScrapeChatsSkipsUnfetchableChat(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeScrapeStore{
		session: scraping.ClientSession{ID: "s1", IsActive: true, SessionToken: "t1"},
		known:   map[int64]chat.Chat{8: {ID: 8, Language: "en"}},
	}
	sess := &fakeSession{
		chats:   map[int64]platform.ChatInfo{8: {ID: 8, Type: "group"}},
		history: map[int64][]platform.MessageInfo{8: descendingHistory(8, 2, 1, now)},
	}
	bulk := newFakeBulk()

	s := newTestScraper(store, sess, &fakeQueue{}, config.Scrape{IntervalMinutes: 60}, bulk)

	// Chat 7 is unknown to the platform; chat 8 is still scraped.
	require.NoError(t, s.ScrapeChats(context.Background(), scraping.ScrapeChatsArgs{
		SessionID: "s1", ChatIDs: []int64{7, 8},
	}))

	msgs := insertedMessages(t, bulk)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.MessageKey(8, 2), msgs[0].Key)
}
