package scraping

import (
	"context"
	"fmt"
	"time"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/platform"
)

// MessageFinder looks up the newest stored message for a chat.
type MessageFinder interface {
	NewestMessage(ctx context.Context, chatID int64) (*chat.Message, error)
}

// Cursor determines where an incremental history fetch resumes and where
// it stops.
type Cursor struct {
	store MessageFinder
}

// NewCursor creates a Cursor reading resume points from store.
func NewCursor(store MessageFinder) *Cursor {
	return &Cursor{store: store}
}

// ResumePoint returns the ordinal of the newest stored message for the
// chat, or zero when none is stored yet.
func (c *Cursor) ResumePoint(ctx context.Context, chatID int64) (int64, error) {
	newest, err := c.store.NewestMessage(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("finding resume point for chat %d: %w", chatID, err)
	}
	if newest == nil {
		return 0, nil
	}
	return newest.Ordinal, nil
}

// CutoffDate returns the oldest message date the fetch may reach. A
// non-positive maxDays imposes no bound and yields the zero time.
func CutoffDate(now time.Time, maxDays int) time.Time {
	if maxDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -maxDays)
}

// Reached reports whether a newest-first history walk must stop at msg:
// either the message was already ingested in a previous run, or it falls
// outside the look-back horizon. The walk breaks, it does not skip.
func Reached(msg platform.MessageInfo, resumePoint int64, cutoff time.Time) bool {
	if resumePoint > 0 && msg.Ordinal <= resumePoint {
		return true
	}
	if !cutoff.IsZero() && !msg.Date.IsZero() && msg.Date.Before(cutoff) {
		return true
	}
	return false
}
