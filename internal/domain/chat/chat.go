// Package chat defines the normalized records the worker persists for
// scraped chats, users, messages and derived metrics, along with the
// per-collection write policy used when flushing them in bulk.
package chat

import (
	"time"

	"github.com/teledash/teledash/internal/analytics"
)

// ChatType identifies the kind of chat a record was scraped from.
// Private and bot chats are never persisted.
type ChatType string

const (
	ChatTypeGroup      ChatType = "group"
	ChatTypeSupergroup ChatType = "supergroup"
	ChatTypeChannel    ChatType = "channel"
)

// SupportedChatType reports whether records for the given chat type are
// persisted at all.
func SupportedChatType(t ChatType) bool {
	switch t {
	case ChatTypeGroup, ChatTypeSupergroup, ChatTypeChannel:
		return true
	}
	return false
}

// GroupChatType reports whether the chat type exposes a member list.
func GroupChatType(t ChatType) bool {
	return t == ChatTypeGroup || t == ChatTypeSupergroup
}

// Metrics carries rolling aggregates stored on the chat document so the
// read side does not need to recompute them per request.
type Metrics struct {
	ActivityLastDay *analytics.Series `bson:"activity_last_day,omitempty"`
	GrowthLastDay   *analytics.Series `bson:"growth_last_day,omitempty"`
}

// Chat is the complete chat record as stored in the chats collection.
// Its natural key is the platform chat id.
type Chat struct {
	ID            int64     `bson:"_id"`
	Type          ChatType  `bson:"type"`
	Title         string    `bson:"title,omitempty"`
	Username      string    `bson:"username,omitempty"`
	IsVerified    bool      `bson:"is_verified,omitempty"`
	IsRestricted  bool      `bson:"is_restricted,omitempty"`
	IsScam        bool      `bson:"is_scam,omitempty"`
	IsFake        bool      `bson:"is_fake,omitempty"`
	Description   string    `bson:"description,omitempty"`
	InviteLink    string    `bson:"invite_link,omitempty"`
	Members       []UserRef `bson:"members,omitempty"`
	MembersCount  *int64    `bson:"members_count,omitempty"`
	Language      string    `bson:"language,omitempty"`
	LanguageOther []string  `bson:"language_other,omitempty"`
	Metrics       *Metrics  `bson:"metrics,omitempty"`
	UpdatedAt     time.Time `bson:"updated_at"`
	ScrapedAt     time.Time `bson:"scraped_at"`
	ScrapedBy     string    `bson:"scraped_by"`
}

// DocumentKey returns the natural key used for upserts.
func (c Chat) DocumentKey() any { return c.ID }

// Ref returns the embedded reference form of the chat.
func (c Chat) Ref() ChatRef {
	return ChatRef{ID: c.ID, Title: c.Title, Username: c.Username}
}

// User is the complete user record as stored in the users collection.
// Its natural key is the platform user id.
type User struct {
	ID         int64     `bson:"_id"`
	Username   string    `bson:"username,omitempty"`
	FirstName  string    `bson:"first_name,omitempty"`
	LastName   string    `bson:"last_name,omitempty"`
	IsBot      bool      `bson:"is_bot,omitempty"`
	IsVerified bool      `bson:"is_verified,omitempty"`
	IsScam     bool      `bson:"is_scam,omitempty"`
	IsFake     bool      `bson:"is_fake,omitempty"`
	UpdatedAt  time.Time `bson:"updated_at"`
	ScrapedAt  time.Time `bson:"scraped_at"`
	ScrapedBy  string    `bson:"scraped_by"`
}

// DocumentKey returns the natural key used for upserts.
func (u User) DocumentKey() any { return u.ID }

// Ref returns the embedded reference form of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

// ChatRef is the embedded reference form of a chat.
type ChatRef struct {
	ID       int64  `bson:"_id"`
	Title    string `bson:"title,omitempty"`
	Username string `bson:"username,omitempty"`
}

// UserRef is the embedded reference form of a user.
type UserRef struct {
	ID        int64  `bson:"_id"`
	Username  string `bson:"username,omitempty"`
	FirstName string `bson:"first_name,omitempty"`
	LastName  string `bson:"last_name,omitempty"`
}
