package scraping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/teledash/teledash/internal/analytics"
	"github.com/teledash/teledash/internal/app/attachments"
	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/infra/retry"
	"github.com/teledash/teledash/internal/infra/tasks"
	"github.com/teledash/teledash/internal/ingest"
	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/internal/recognition"
	"github.com/teledash/teledash/pkg/common/logger"
)

// platformAttempts is the retry budget for individual platform calls.
const platformAttempts = 3

// ScrapeStore provides the lookups a scrape unit needs beyond the session
// store.
type ScrapeStore interface {
	Session(ctx context.Context, id string) (scraping.ClientSession, error)
	ChatLanguages(ctx context.Context, ids []int64) (map[int64]chat.Chat, error)
	NewestMessage(ctx context.Context, chatID int64) (*chat.Message, error)
}

// Scraper executes scrape units of work: it walks each assigned chat's
// history incrementally and buffers records, metrics and attachment
// download requests along the way.
type Scraper struct {
	store     ScrapeStore
	bulk      ingest.BulkWriter
	connector platform.Connector
	retrier   *retry.Executor
	queue     tasks.Queue
	agg       *analytics.Aggregator
	detector  recognition.LanguageDetector
	policy    config.Scrape
	capacity  int
	limiter   *rate.Limiter
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewScraper creates a Scraper. capacity sets the buffered-record count
// that triggers an intermediate flush; non-positive selects the default.
func NewScraper(
	store ScrapeStore,
	bulk ingest.BulkWriter,
	connector platform.Connector,
	retrier *retry.Executor,
	queue tasks.Queue,
	agg *analytics.Aggregator,
	detector recognition.LanguageDetector,
	policy config.Scrape,
	capacity int,
	limiter *rate.Limiter,
	log *logger.Logger,
	tracer trace.Tracer,
) *Scraper {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Scraper{
		store:     store,
		bulk:      bulk,
		connector: connector,
		retrier:   retrier,
		queue:     queue,
		agg:       agg,
		detector:  detector,
		policy:    policy,
		capacity:  capacity,
		limiter:   limiter,
		log:       log.With("component", "scraper"),
		tracer:    tracer,
	}
}

// ScrapeChats executes one scrape unit of work. Per-chat failures are
// logged and skip the chat; flush failures abort the unit.
func (s *Scraper) ScrapeChats(ctx context.Context, args scraping.ScrapeChatsArgs) error {
	if !args.Valid() {
		return fmt.Errorf("invalid scrape unit args")
	}

	ctx, span := s.tracer.Start(ctx, "scraper.scrape_chats",
		trace.WithAttributes(
			attribute.String("session_id", args.SessionID),
			attribute.Int("chats", len(args.ChatIDs)),
		))
	defer span.End()

	session, err := s.store.Session(ctx, args.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session unavailable")
		return err
	}

	known, err := s.store.ChatLanguages(ctx, args.ChatIDs)
	if err != nil {
		s.log.Warn(ctx, "could not load stored chat languages", "error", err)
		known = map[int64]chat.Chat{}
	}

	sess, err := s.connector.Connect(ctx, platform.Credentials{
		APIID:        session.APIID,
		APIHash:      session.APIHash,
		SessionToken: session.SessionToken,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("connecting session %s: %w", session.ID, err)
	}
	defer sess.Close()

	s.log.Info(ctx, "session started", "session_id", session.ID, "title", session.Title)

	writer := ingest.NewWriter(s.bulk, s.log, s.capacity)
	cursor := NewCursor(s.store)

	for _, chatID := range args.ChatIDs {
		if err := s.scrapeChat(ctx, sess, session, chatID, known[chatID], writer, cursor); err != nil {
			span.RecordError(err)
			return err
		}
	}

	// Tail flush for the records below capacity.
	if writer.Count() > 0 {
		if err := s.flushAndDispatch(ctx, session.ID, writer); err != nil {
			span.RecordError(err)
			return err
		}
	}

	return nil
}

// scrapeChat ingests one chat. Its returned error is fatal to the unit;
// recoverable per-chat problems are logged and swallowed.
func (s *Scraper) scrapeChat(
	ctx context.Context,
	sess platform.Session,
	session scraping.ClientSession,
	chatID int64,
	prior chat.Chat,
	writer *ingest.Writer,
	cursor *Cursor,
) error {
	log := s.log.With("chat_id", chatID)

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	info, err := retry.DoValue(ctx, s.retrier, platformAttempts, func(ctx context.Context) (platform.ChatInfo, error) {
		return sess.Chat(ctx, chatID)
	})
	if err != nil {
		log.Error(ctx, "could not fetch chat metadata", "error", err)
		return nil
	}

	if !chat.SupportedChatType(chat.ChatType(info.Type)) {
		return nil
	}

	record := newChat(info, session.ID)

	if metric, err := chat.MembersCountMetric(record); err == nil {
		writer.Add(chat.CollectionMetrics, metric)
	}

	record.Metrics = s.rollingMetrics(ctx, chatID)

	record.Language, record.LanguageOther = s.chatLanguage(ctx, sess, chatID, prior)

	writer.Add(chat.CollectionChats, record)

	resumePoint, err := cursor.ResumePoint(ctx, chatID)
	if err != nil {
		return err
	}
	cutoff := CutoffDate(time.Now().UTC(), s.policy.MaxDays)

	log.Info(ctx, "fetching messages", "resume_point", resumePoint, "cutoff", cutoff)

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	it := sess.History(ctx, chatID)
	for {
		msg, err := it.Next(ctx)
		if errors.Is(err, platform.Done) {
			break
		}
		if err != nil {
			log.Error(ctx, "history iteration failed", "error", err)
			break
		}

		if Reached(msg, resumePoint, cutoff) {
			break
		}

		users, message := newMessage(msg, record.Ref(), session.ID, record.Language)

		if metric, err := chat.MessagePostedMetric(message); err == nil {
			writer.Add(chat.CollectionMetrics, metric)
		}
		if message.Views != nil {
			if metric, err := chat.MessageViewsMetric(message); err == nil {
				writer.Add(chat.CollectionMetrics, metric)
			}
		}

		for _, user := range users {
			if !writer.Has(chat.CollectionUsers, user.ID) {
				writer.Add(chat.CollectionUsers, user)
			}
		}
		writer.Add(chat.CollectionMessages, message)

		if writer.IsFull() {
			if err := s.flushAndDispatch(ctx, session.ID, writer); err != nil {
				return err
			}
		}
	}

	return nil
}

// rollingMetrics computes the last-day activity and growth aggregates
// stored on the chat document. Aggregation failures degrade to a chat
// without rolling metrics.
func (s *Scraper) rollingMetrics(ctx context.Context, chatID int64) *chat.Metrics {
	yesterday := time.Now().UTC().Add(-24 * time.Hour)

	activity, err := s.agg.Aggregate(ctx, analytics.Filter{
		ChatID: chatID,
		Type:   string(chat.MetricMessagePosted),
		Since:  yesterday,
	}, analytics.ReduceSum, time.Hour)
	if err != nil {
		s.log.Warn(ctx, "could not aggregate activity", "chat_id", chatID, "error", err)
		return nil
	}

	growth, err := s.agg.Aggregate(ctx, analytics.Filter{
		ChatID: chatID,
		Type:   string(chat.MetricChatMembersCount),
		Since:  yesterday,
	}, analytics.ReduceAverageDiff, time.Hour)
	if err != nil {
		s.log.Warn(ctx, "could not aggregate growth", "chat_id", chatID, "error", err)
		return nil
	}

	return &chat.Metrics{ActivityLastDay: &activity, GrowthLastDay: &growth}
}

// chatLanguage returns the stored language when present, otherwise
// detects it from recent message texts.
func (s *Scraper) chatLanguage(ctx context.Context, sess platform.Session, chatID int64, prior chat.Chat) (string, []string) {
	if prior.Language != "" {
		return prior.Language, prior.LanguageOther
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", nil
	}
	texts, err := retry.DoValue(ctx, s.retrier, platformAttempts, func(ctx context.Context) ([]string, error) {
		return sess.RecentTexts(ctx, chatID)
	})
	if err != nil || len(texts) == 0 {
		s.log.Warn(ctx, "could not detect chat language", "chat_id", chatID)
		return "", nil
	}

	detected := s.detector.Detect(strings.Join(texts, "\n"))
	return recognition.SplitDetected(detected)
}

// flushAndDispatch flushes the writer and submits a download unit for the
// buffered messages carrying allow-listed attachments within the
// retention horizon. Candidates are captured before the flush clears the
// buffer.
func (s *Scraper) flushAndDispatch(ctx context.Context, sessionID string, writer *ingest.Writer) error {
	keys := s.downloadCandidates(writer)

	if err := writer.Flush(ctx); err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}
	return s.queue.Submit(ctx, tasks.KindDownloadAttachments, attachments.DownloadArgs{
		SessionID:   sessionID,
		MessageKeys: keys,
	})
}

func (s *Scraper) downloadCandidates(writer *ingest.Writer) []string {
	oldest := time.Time{}
	if s.policy.RetentionDays > 0 {
		oldest = time.Now().UTC().AddDate(0, 0, -s.policy.RetentionDays)
	}

	var keys []string
	for _, doc := range writer.Buffered(chat.CollectionMessages) {
		msg, ok := doc.(chat.Message)
		if !ok || msg.Attachment == nil {
			continue
		}
		if !s.policy.WantsAttachment(msg.Attachment.Type) {
			continue
		}
		if !oldest.IsZero() && !msg.Date.After(oldest) {
			continue
		}
		keys = append(keys, msg.Key)
	}
	return keys
}

func newChat(info platform.ChatInfo, sessionID string) chat.Chat {
	now := time.Now().UTC()
	return chat.Chat{
		ID:           info.ID,
		Type:         chat.ChatType(info.Type),
		Title:        info.Title,
		Username:     info.Username,
		IsVerified:   info.IsVerified,
		IsRestricted: info.IsRestricted,
		IsScam:       info.IsScam,
		IsFake:       info.IsFake,
		Description:  info.Description,
		InviteLink:   info.InviteLink,
		MembersCount: info.MembersCount,
		UpdatedAt:    now,
		ScrapedAt:    now,
		ScrapedBy:    sessionID,
	}
}

func newUser(info platform.UserInfo, sessionID string) chat.User {
	now := time.Now().UTC()
	return chat.User{
		ID:         info.ID,
		Username:   info.Username,
		FirstName:  info.FirstName,
		LastName:   info.LastName,
		IsBot:      info.IsBot,
		IsVerified: info.IsVerified,
		IsScam:     info.IsScam,
		IsFake:     info.IsFake,
		UpdatedAt:  now,
		ScrapedAt:  now,
		ScrapedBy:  sessionID,
	}
}

// newMessage converts a platform message into its stored record plus the
// users it references.
func newMessage(msg platform.MessageInfo, chatRef chat.ChatRef, sessionID, language string) ([]chat.User, chat.Message) {
	record := chat.Message{
		Key:       chat.MessageKey(chatRef.ID, msg.Ordinal),
		Ordinal:   msg.Ordinal,
		Chat:      chatRef,
		Date:      msg.Date,
		Text:      msg.Text,
		Caption:   msg.Caption,
		Views:     msg.Views,
		Language:  language,
		UpdatedAt: time.Now().UTC(),
		ScrapedBy: sessionID,
	}

	var users []chat.User
	if msg.FromUser != nil {
		user := newUser(*msg.FromUser, sessionID)
		ref := user.Ref()
		record.FromUser = &ref
		users = append(users, user)
	}

	if msg.Media != nil {
		att := &chat.Attachment{
			Type:         chat.AttachmentType(msg.Media.Type),
			FileID:       msg.Media.FileID,
			FileUniqueID: msg.Media.FileUniqueID,
			MimeType:     msg.Media.MimeType,
		}
		if thumb := platform.SmallestThumb(msg.Media); thumb != nil {
			att.Thumb = &chat.Thumb{FileID: thumb.FileID, FileUniqueID: thumb.FileUniqueID}
		}
		record.Attachment = att
	}

	return users, record
}
