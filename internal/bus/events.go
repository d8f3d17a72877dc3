// Package bus defines the domain event taxonomy and event bus backends:
// an in-process fan-out bus and a Redis pub/sub bus for distributed
// observers. Delivery is at-least-once; ordering is preserved per
// publisher; subscribers receive independent copies.
package bus

import (
	"context"
	"time"
)

// EventType enumerates the domain events.
type EventType string

const (
	EventIndexStarted      EventType = "index_started"
	EventIndexProgress     EventType = "index_progress"
	EventIndexCompleted    EventType = "index_completed"
	EventIndexFailed       EventType = "index_failed"
	EventCollectionCleared EventType = "collection_cleared"
	EventProviderSwapped   EventType = "provider_swapped"
)

// Counters is a snapshot of indexing operation progress.
type Counters struct {
	FilesSeen     int   `json:"files_seen"`
	FilesIndexed  int   `json:"files_indexed"`
	ChunksCreated int   `json:"chunks_created"`
	Bytes         int64 `json:"bytes"`
	ErrorCount    int   `json:"error_count"`
}

// Event is a small, owned domain event. Fields are populated according to
// the event type.
type Event struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	OpID       string    `json:"op_id,omitempty"`
	Collection string    `json:"collection,omitempty"`
	Counters   *Counters `json:"counters,omitempty"`
	Error      string    `json:"error,omitempty"`

	// Provider swap fields.
	Capability string `json:"capability,omitempty"`
	OldName    string `json:"old_name,omitempty"`
	NewName    string `json:"new_name,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
}

// Filter selects a subset of events for a subscriber. Zero value matches
// everything.
type Filter struct {
	Types      []EventType
	Collection string
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.Collection != "" && e.Collection != f.Collection {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// EventBus is the capability contract for event publication.
type EventBus interface {
	// Publish delivers an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe returns a stream of matching events and a cancel function
	// that releases the subscription.
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)

	// Close shuts the bus down; subscriber channels are closed.
	Close() error
}
