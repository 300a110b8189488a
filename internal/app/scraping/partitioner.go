// Package scraping coordinates scrape rounds: partitioning chats across
// client sessions, walking message history incrementally, and collecting
// chat members.
package scraping

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/infra/tasks"
	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

// SessionStore provides the session and chat lookups the partitioner and
// scrape units need.
type SessionStore interface {
	ActiveSessions(ctx context.Context) ([]scraping.ClientSession, error)
	Session(ctx context.Context, id string) (scraping.ClientSession, error)
	UpdateSessionChats(ctx context.Context, id string, refs []chat.ChatRef) error
	RecentlyScraped(ctx context.Context, ids []int64, since time.Time) ([]int64, error)
}

// Partitioner assigns each active session a disjoint set of chats and
// submits one scrape unit per assignment.
type Partitioner struct {
	store     SessionStore
	connector platform.Connector
	queue     tasks.Queue
	interval  time.Duration
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewPartitioner creates a Partitioner. interval is the scrape cadence;
// chats scraped within the last interval are excluded from the round.
func NewPartitioner(
	store SessionStore,
	connector platform.Connector,
	queue tasks.Queue,
	interval time.Duration,
	log *logger.Logger,
	tracer trace.Tracer,
) *Partitioner {
	return &Partitioner{
		store:     store,
		connector: connector,
		queue:     queue,
		interval:  interval,
		log:       log.With("component", "partitioner"),
		tracer:    tracer,
	}
}

// Run executes one partitioning round: refresh each idle session's chat
// list from the platform, drop chats that are in flight or freshly
// scraped, dedupe contested chats, and submit scrape units.
func (p *Partitioner) Run(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "partitioner.run")
	defer span.End()

	active, err := p.queue.ListActive(ctx, tasks.KindScrapeChats)
	if err != nil {
		span.RecordError(err)
		return err
	}

	inFlightSessions := make(map[string]struct{})
	inFlightChats := make(map[int64]struct{})
	for _, unit := range active {
		var args scraping.ScrapeChatsArgs
		if err := unit.UnmarshalArgs(&args); err != nil {
			p.log.Warn(ctx, "skipping malformed active unit", "unit_id", unit.ID, "error", err)
			continue
		}
		inFlightSessions[args.SessionID] = struct{}{}
		for _, id := range args.ChatIDs {
			inFlightChats[id] = struct{}{}
		}
	}

	sessions, err := p.store.ActiveSessions(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var assignments []scraping.ChatAssignment
	for _, session := range sessions {
		if !session.Usable() {
			p.log.Info(ctx, "skipping session without credentials", "session_id", session.ID)
			continue
		}
		if _, busy := inFlightSessions[session.ID]; busy {
			continue
		}

		candidates, err := p.candidateChats(ctx, session, inFlightChats)
		if err != nil {
			p.log.Error(ctx, "failed to collect candidate chats", "session_id", session.ID, "error", err)
			continue
		}
		if len(candidates) > 0 {
			assignments = append(assignments, scraping.ChatAssignment{SessionID: session.ID, ChatIDs: candidates})
		}
	}

	assignments = Partition(assignments)
	span.SetAttributes(attribute.Int("assignments", len(assignments)))

	if len(assignments) == 0 {
		p.log.Info(ctx, "no scrape units submitted")
		return nil
	}

	for _, a := range assignments {
		args := scraping.ScrapeChatsArgs{SessionID: a.SessionID, ChatIDs: a.ChatIDs}
		if err := p.queue.Submit(ctx, tasks.KindScrapeChats, args); err != nil {
			span.RecordError(err)
			return err
		}
	}

	p.log.Info(ctx, "scrape units submitted", "count", len(assignments))
	return nil
}

// candidateChats refreshes the session's chat list from the platform,
// persists the refs, and returns the chat ids eligible for this round.
func (p *Partitioner) candidateChats(ctx context.Context, session scraping.ClientSession, inFlight map[int64]struct{}) ([]int64, error) {
	sess, err := p.connector.Connect(ctx, platform.Credentials{
		APIID:        session.APIID,
		APIHash:      session.APIHash,
		SessionToken: session.SessionToken,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	dialogs, err := sess.Dialogs(ctx)
	if err != nil {
		return nil, err
	}

	var refs []chat.ChatRef
	for _, d := range dialogs {
		if !chat.SupportedChatType(chat.ChatType(d.Type)) {
			continue
		}
		refs = append(refs, chat.ChatRef{ID: d.ID, Title: d.Title, Username: d.Username})
	}

	if err := p.store.UpdateSessionChats(ctx, session.ID, refs); err != nil {
		return nil, err
	}

	candidates := make([]int64, 0, len(refs))
	for _, ref := range refs {
		if _, busy := inFlight[ref.ID]; busy {
			continue
		}
		candidates = append(candidates, ref.ID)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	recent, err := p.store.RecentlyScraped(ctx, candidates, time.Now().UTC().Add(-p.interval))
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		p.log.Warn(ctx, "skipping recently scraped chats", "session_id", session.ID, "count", len(recent))
		recentSet := make(map[int64]struct{}, len(recent))
		for _, id := range recent {
			recentSet[id] = struct{}{}
		}
		kept := candidates[:0]
		for _, id := range candidates {
			if _, ok := recentSet[id]; !ok {
				kept = append(kept, id)
			}
		}
		candidates = kept
	}

	return candidates, nil
}

// Partition makes every assignment's chat set disjoint. Assignments are
// ordered by candidate-set size, largest first; when a chat appears in
// several sets the earliest assignment keeps it. Assignments left empty
// are pruned.
func Partition(assignments []scraping.ChatAssignment) []scraping.ChatAssignment {
	sorted := make([]scraping.ChatAssignment, len(assignments))
	copy(sorted, assignments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].ChatIDs) > len(sorted[j].ChatIDs)
	})

	claimed := make(map[int64]struct{})
	out := make([]scraping.ChatAssignment, 0, len(sorted))
	for _, a := range sorted {
		kept := make([]int64, 0, len(a.ChatIDs))
		for _, id := range a.ChatIDs {
			if _, taken := claimed[id]; taken {
				continue
			}
			claimed[id] = struct{}{}
			kept = append(kept, id)
		}
		if len(kept) > 0 {
			out = append(out, scraping.ChatAssignment{SessionID: a.SessionID, ChatIDs: kept})
		}
	}
	return out
}
