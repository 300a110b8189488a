// Package tasks provides the task queue the worker pulls its units of work
// from: a dispatcher with bounded worker slots, an in-flight registry, and
// in-process and Kafka transports.
package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Kind identifies a unit-of-work type.
type Kind string

// The unit-of-work kinds the worker handles.
const (
	KindScrapeChats         Kind = "scraping.scrape_chats"
	KindScrapeChatMembers   Kind = "scraping.scrape_chat_members"
	KindDownloadAttachments Kind = "files.download_message_attachments"
	KindProcessAttachments  Kind = "process.process_attachments"
	KindPurgeAttachments    Kind = "files.purge_message_attachments"
)

// Unit is a single unit of work.
type Unit struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Args       json.RawMessage `json:"args,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// UnmarshalArgs decodes the unit's payload into v.
func (u Unit) UnmarshalArgs(v any) error {
	if len(u.Args) == 0 {
		return nil
	}
	return json.Unmarshal(u.Args, v)
}

// Queue submits units of work and exposes the set currently running.
type Queue interface {
	// Submit enqueues a unit of work. args is JSON-marshaled; nil args
	// submit an empty payload.
	Submit(ctx context.Context, kind Kind, args any) error

	// ListActive returns the in-flight units matching the given kinds,
	// or all in-flight units when no kind is given.
	ListActive(ctx context.Context, kinds ...Kind) ([]Unit, error)
}

// ActiveRegistry tracks in-flight units. The in-process implementation is
// a map; a distributed registry can be substituted when workers scale out.
type ActiveRegistry interface {
	Add(unit Unit)
	Remove(id string)
	List(kinds ...Kind) []Unit
}

// memoryRegistry is the in-process ActiveRegistry.
type memoryRegistry struct {
	mu    sync.RWMutex
	units map[string]Unit
}

// NewMemoryRegistry creates an in-process ActiveRegistry.
func NewMemoryRegistry() ActiveRegistry {
	return &memoryRegistry{units: make(map[string]Unit)}
}

func (r *memoryRegistry) Add(unit Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[unit.ID] = unit
}

func (r *memoryRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, id)
}

func (r *memoryRegistry) List(kinds ...Kind) []Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Unit
	for _, unit := range r.units {
		if len(kinds) == 0 {
			out = append(out, unit)
			continue
		}
		for _, kind := range kinds {
			if unit.Kind == kind {
				out = append(out, unit)
				break
			}
		}
	}
	return out
}
