package scraping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/platform"
)

type stubFinder struct {
	newest *chat.Message
	err    error
}

func (f stubFinder) NewestMessage(context.Context, int64) (*chat.Message, error) {
	return f.newest, f.err
}

func TestResumePoint(t *testing.T) {
	t.Run("newest stored ordinal", func(t *testing.T) {
		c := NewCursor(stubFinder{newest: &chat.Message{Key: "7-150", Ordinal: 150}})
		got, err := c.ResumePoint(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(150), got)
	})

	t.Run("zero when chat has no messages", func(t *testing.T) {
		c := NewCursor(stubFinder{})
		got, err := c.ResumePoint(context.Background(), 7)
		require.NoError(t, err)
		assert.Zero(t, got)
	})

	t.Run("store error is surfaced", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewCursor(stubFinder{err: boom})
		_, err := c.ResumePoint(context.Background(), 7)
		assert.ErrorIs(t, err, boom)
	})
}

func TestCutoffDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.AddDate(0, 0, -30), CutoffDate(now, 30))
	assert.True(t, CutoffDate(now, 0).IsZero())
	assert.True(t, CutoffDate(now, -1).IsZero())
}

func TestReached(t *testing.T) {
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -30)

	tests := []struct {
		name        string
		msg         platform.MessageInfo
		resumePoint int64
		cutoff      time.Time
		want        bool
	}{
		{
			name:        "stops at the resume point itself",
			msg:         platform.MessageInfo{Ordinal: 150, Date: now},
			resumePoint: 150,
			want:        true,
		},
		{
			name:        "stops below the resume point",
			msg:         platform.MessageInfo{Ordinal: 149, Date: now},
			resumePoint: 150,
			want:        true,
		},
		{
			name:        "continues above the resume point",
			msg:         platform.MessageInfo{Ordinal: 151, Date: now},
			resumePoint: 150,
			want:        false,
		},
		{
			name: "zero resume point never stops the walk",
			msg:  platform.MessageInfo{Ordinal: 1, Date: now},
			want: false,
		},
		{
			name:   "stops before the cutoff date",
			msg:    platform.MessageInfo{Ordinal: 10, Date: cutoff.Add(-time.Hour)},
			cutoff: cutoff,
			want:   true,
		},
		{
			name:   "continues after the cutoff date",
			msg:    platform.MessageInfo{Ordinal: 10, Date: cutoff.Add(time.Hour)},
			cutoff: cutoff,
			want:   false,
		},
		{
			name:   "dateless message is not bounded by the cutoff",
			msg:    platform.MessageInfo{Ordinal: 10},
			cutoff: cutoff,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reached(tt.msg, tt.resumePoint, tt.cutoff))
		})
	}
}
