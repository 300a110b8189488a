// Package platform defines the capability surface the worker needs from a
// chat-platform SDK. Implementations wrap a concrete client library; the
// worker core only ever sees these interfaces.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Done is returned by iterators when no items remain.
var Done = errors.New("no more items")

// RateLimitError signals the platform rejected a call and dictated how long
// to wait before retrying.
type RateLimitError struct {
	Method     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Method, e.RetryAfter)
}

// IsRateLimit reports whether err carries a rate-limit signal and returns
// the server-dictated wait.
func IsRateLimit(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// Credentials authenticate a client session against the platform.
type Credentials struct {
	APIID        int
	APIHash      string
	SessionToken string
}

// ChatInfo is the platform's view of a chat.
type ChatInfo struct {
	ID           int64
	Type         string
	Title        string
	Username     string
	IsVerified   bool
	IsRestricted bool
	IsScam       bool
	IsFake       bool
	Description  string
	InviteLink   string
	MembersCount *int64
}

// UserInfo is the platform's view of a user.
type UserInfo struct {
	ID         int64
	Username   string
	FirstName  string
	LastName   string
	IsBot      bool
	IsVerified bool
	IsScam     bool
	IsFake     bool
}

// ThumbInfo references one thumbnail rendition of an attachment.
type ThumbInfo struct {
	FileID       string
	FileUniqueID string
	Size         int64
}

// MediaInfo describes the downloadable media carried by a message.
type MediaInfo struct {
	Type         string
	FileID       string
	FileUniqueID string
	MimeType     string
	Thumbs       []ThumbInfo
}

// MessageInfo is the platform's view of a message.
type MessageInfo struct {
	Ordinal  int64
	Date     time.Time
	Text     string
	Caption  string
	Views    *int64
	FromUser *UserInfo
	Media    *MediaInfo
}

// MessageIterator yields messages newest first. Next returns Done when the
// history is exhausted.
type MessageIterator interface {
	Next(ctx context.Context) (MessageInfo, error)
}

// MemberIterator yields chat members. Next returns Done when the member
// list is exhausted.
type MemberIterator interface {
	Next(ctx context.Context) (UserInfo, error)
}

// Session is an open, authenticated platform connection. Any call may fail
// with a RateLimitError; callers route platform calls through the retry
// executor.
type Session interface {
	// Dialogs lists the chats visible to the session.
	Dialogs(ctx context.Context) ([]ChatInfo, error)

	// Chat fetches current metadata for a single chat.
	Chat(ctx context.Context, chatID int64) (ChatInfo, error)

	// History iterates a chat's message history newest first.
	History(ctx context.Context, chatID int64) MessageIterator

	// RecentTexts returns the text bodies of the most recent messages,
	// used for language detection.
	RecentTexts(ctx context.Context, chatID int64) ([]string, error)

	// Members iterates a chat's member list.
	Members(ctx context.Context, chatID int64) MemberIterator

	// Message re-fetches a single message for a fresh media reference.
	Message(ctx context.Context, chatID int64, ordinal int64) (MessageInfo, error)

	// Download streams the file behind fileID into dir and returns the
	// path of the downloaded file.
	Download(ctx context.Context, fileID string, dir string) (string, error)

	// Close releases the connection.
	Close() error
}

// Connector opens platform sessions from stored credentials.
type Connector interface {
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// SmallestThumb returns the thumbnail with the smallest byte size, or nil
// when the media offers none.
func SmallestThumb(media *MediaInfo) *ThumbInfo {
	if media == nil || len(media.Thumbs) == 0 {
		return nil
	}
	smallest := media.Thumbs[0]
	for _, t := range media.Thumbs[1:] {
		if t.Size < smallest.Size {
			smallest = t
		}
	}
	return &smallest
}
