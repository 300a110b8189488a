package scraping

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/ingest"
	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

// MemberStore provides the lookups the member scrape needs.
type MemberStore interface {
	ActiveSessions(ctx context.Context) ([]scraping.ClientSession, error)
	GroupChatIDs(ctx context.Context, ids []int64) ([]int64, error)
	UpdateChatMembers(ctx context.Context, chatID int64, refs []chat.UserRef) error
}

// MemberScraper refreshes member lists for every group chat known to the
// active sessions. It runs on a daily cadence.
type MemberScraper struct {
	store     MemberStore
	bulk      ingest.BulkWriter
	connector platform.Connector
	capacity  int
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewMemberScraper creates a MemberScraper.
func NewMemberScraper(
	store MemberStore,
	bulk ingest.BulkWriter,
	connector platform.Connector,
	capacity int,
	log *logger.Logger,
	tracer trace.Tracer,
) *MemberScraper {
	return &MemberScraper{
		store:     store,
		bulk:      bulk,
		connector: connector,
		capacity:  capacity,
		log:       log.With("component", "member_scraper"),
		tracer:    tracer,
	}
}

// Run executes one member scrape unit of work. Per-session and per-chat
// failures are logged and skipped.
func (m *MemberScraper) Run(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "scraper.scrape_chat_members")
	defer span.End()

	sessions, err := m.store.ActiveSessions(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	writer := ingest.NewWriter(m.bulk, m.log, m.capacity)

	for _, session := range sessions {
		if !session.Usable() || len(session.Chats) == 0 {
			continue
		}
		if err := m.scrapeSession(ctx, session, writer); err != nil {
			m.log.Error(ctx, "member scrape failed for session", "session_id", session.ID, "error", err)
		}
	}

	if writer.Count() > 0 {
		if err := writer.Flush(ctx); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

func (m *MemberScraper) scrapeSession(ctx context.Context, session scraping.ClientSession, writer *ingest.Writer) error {
	ids := make([]int64, 0, len(session.Chats))
	for _, ref := range session.Chats {
		ids = append(ids, ref.ID)
	}

	groupIDs, err := m.store.GroupChatIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(groupIDs) == 0 {
		return nil
	}

	sess, err := m.connector.Connect(ctx, platform.Credentials{
		APIID:        session.APIID,
		APIHash:      session.APIHash,
		SessionToken: session.SessionToken,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, chatID := range groupIDs {
		m.log.Info(ctx, "fetching members", "chat_id", chatID)

		refs, err := m.scrapeMembers(ctx, sess, chatID, session.ID, writer)
		if err != nil {
			m.log.Error(ctx, "could not fetch members", "chat_id", chatID, "error", err)
			continue
		}

		if err := m.store.UpdateChatMembers(ctx, chatID, refs); err != nil {
			m.log.Error(ctx, "could not update chat members", "chat_id", chatID, "error", err)
		}

		if writer.IsFull() {
			if err := writer.Flush(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func (m *MemberScraper) scrapeMembers(ctx context.Context, sess platform.Session, chatID int64, sessionID string, writer *ingest.Writer) ([]chat.UserRef, error) {
	var refs []chat.UserRef

	it := sess.Members(ctx, chatID)
	for {
		info, err := it.Next(ctx)
		if errors.Is(err, platform.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		user := newUser(info, sessionID)
		refs = append(refs, user.Ref())
		if !writer.Has(chat.CollectionUsers, user.ID) {
			writer.Add(chat.CollectionUsers, user)
		}
	}

	m.log.Info(ctx, "collected members", "chat_id", chatID, "count", len(refs))
	return refs, nil
}
