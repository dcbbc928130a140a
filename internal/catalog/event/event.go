// Package event defines the immutable event envelope and the closed set of
// catalog event payloads. Events are the only facts the system persists;
// everything else (aggregates, projections) is derived from them.
package event

import (
	"strings"
	"time"
)

// Type identifies the kind of a catalog event.
type Type string

// Book lifecycle events.
const (
	// TypeBookAdded records the creation of a book.
	TypeBookAdded Type = "book.added"
	// TypeBookUpdated records updates to book metadata and references.
	TypeBookUpdated Type = "book.updated"
	// TypeBookSoftDeleted records a book being soft-deleted.
	TypeBookSoftDeleted Type = "book.soft_deleted"
	// TypeBookRestored records a soft-deleted book being restored.
	TypeBookRestored Type = "book.restored"
)

// Author lifecycle events.
const (
	TypeAuthorAdded       Type = "author.added"
	TypeAuthorUpdated     Type = "author.updated"
	TypeAuthorSoftDeleted Type = "author.soft_deleted"
	TypeAuthorRestored    Type = "author.restored"
)

// Publisher lifecycle events.
const (
	TypePublisherAdded       Type = "publisher.added"
	TypePublisherUpdated     Type = "publisher.updated"
	TypePublisherSoftDeleted Type = "publisher.soft_deleted"
	TypePublisherRestored    Type = "publisher.restored"
)

// Category lifecycle events.
const (
	TypeCategoryAdded       Type = "category.added"
	TypeCategoryUpdated     Type = "category.updated"
	TypeCategorySoftDeleted Type = "category.soft_deleted"
	TypeCategoryRestored    Type = "category.restored"
)

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// Domain returns the entity-kind prefix of the event type
// (e.g. "book" for "book.added").
func (t Type) Domain() string {
	for i, c := range t {
		if c == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Event is an immutable record appended to exactly one stream.
//
// Within a stream, events are totally ordered by Sequence (starting at 1).
// Across streams only GlobalSeq provides an order, and that order carries no
// domain meaning beyond "append happened before".
type Event struct {
	// ID is the unique event identifier (UUID).
	ID string

	// TenantID scopes the event to one tenant. No operation crosses tenants.
	TenantID string

	// StreamID is the entity identity the event belongs to.
	StreamID string

	// Sequence is the position within the stream, starting at 1.
	// Assigned by storage on append.
	Sequence int64

	// GlobalSeq is a monotonic sequence across all streams, assigned by
	// storage on append. It feeds projection workers in strict total order.
	GlobalSeq int64

	// Type identifies the payload shape.
	Type Type

	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time

	// CorrelationID groups events caused by one logical request.
	CorrelationID string

	// CausationID is the ID of the event or command that caused this one.
	CausationID string

	// Payload holds the typed event data. Its concrete type is determined
	// by Type; see payload.go for the closed set.
	Payload Payload
}
