// Package scraping defines the client sessions the worker scrapes through
// and the unit-of-work payloads exchanged over the task queue.
package scraping

import (
	"errors"

	"github.com/teledash/teledash/internal/domain/chat"
)

// ErrNoSession indicates a unit of work referenced a session that is
// missing, inactive, or has no usable credentials. Units hitting it abort;
// the next partitioning round will reassign their chats.
var ErrNoSession = errors.New("no active session with valid credentials")

// ClientSession is an authenticated chat-platform account the worker
// scrapes through, as stored in the sessions collection.
type ClientSession struct {
	ID           string         `bson:"_id"`
	Title        string         `bson:"title,omitempty"`
	APIID        int            `bson:"api_id"`
	APIHash      string         `bson:"api_hash"`
	SessionToken string         `bson:"session_token,omitempty"`
	IsActive     bool           `bson:"is_active"`
	Chats        []chat.ChatRef `bson:"chats,omitempty"`
}

// Usable reports whether the session can open a platform connection.
func (s ClientSession) Usable() bool {
	return s.IsActive && s.SessionToken != ""
}

// ChatAssignment is one partitioner output: the set of chats a single
// session scrapes this round. Chat sets across assignments are disjoint.
type ChatAssignment struct {
	SessionID string
	ChatIDs   []int64
}
