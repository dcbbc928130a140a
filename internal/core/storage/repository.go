// Package storage defines the persistence contracts for the event log and
// the projection document store, plus the error types callers pattern-match
// on. Implementations live in the postgres and memory subpackages.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
)

// Expected-version sentinels for Append.
const (
	// ExpectedVersionAny disables the concurrency check (last-writer-wins).
	ExpectedVersionAny int64 = -1
	// ExpectedVersionNone requires that the stream does not exist yet.
	ExpectedVersionNone int64 = 0
)

// ErrNotFound indicates a requested projection document is missing.
var ErrNotFound = errors.New("document not found")

// ErrStreamNotFound indicates a stream that has never been appended to.
// Distinct from "exists but empty": such a state cannot occur.
var ErrStreamNotFound = errors.New("stream not found")

// ConcurrencyConflictError reports an expected-version mismatch at append
// time. The stream is left untouched.
type ConcurrencyConflictError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: stream %s is at version %d, expected %d",
		e.StreamID, e.ActualVersion, e.ExpectedVersion)
}

// StreamExistsError reports an attempt to start a stream that already has
// events.
type StreamExistsError struct {
	StreamID      string
	ActualVersion int64
}

func (e *StreamExistsError) Error() string {
	return fmt.Sprintf("stream %s already exists at version %d", e.StreamID, e.ActualVersion)
}

// EventStore is the append-only event log. It is the single source of truth
// and the only component requiring a true atomic write: Append must be
// all-or-nothing for the batch and must refuse the append atomically when
// the expected version no longer matches.
type EventStore interface {
	// Append writes events to one stream under the expected-version guard
	// and returns the new stream version. expectedVersion is an exact
	// version (> 0), ExpectedVersionAny, or ExpectedVersionNone.
	// Sequence and GlobalSeq of the passed events are assigned by the store.
	Append(ctx context.Context, tenantID, streamID string, expectedVersion int64, events []event.Event) (int64, error)

	// FetchVersion returns the current stream version, or ErrStreamNotFound
	// for a stream that has never been appended to.
	FetchVersion(ctx context.Context, tenantID, streamID string) (int64, error)

	// ReadForward returns up to limit events of one stream with
	// sequence >= fromSequence, in ascending sequence order. Re-issue with a
	// later fromSequence to continue.
	ReadForward(ctx context.Context, tenantID, streamID string, fromSequence int64, limit int) ([]event.Event, error)

	// ReadAllAfter returns up to limit events across all streams and tenants
	// with GlobalSeq > cursor, in strict GlobalSeq order. This is the
	// projection feed; cursor 0 means "from the beginning".
	ReadAllAfter(ctx context.Context, cursor int64, limit int) ([]event.Event, error)
}

// Kind names one projection document family (e.g. "book_search").
type Kind string

// ProjectionDocument is a persisted, denormalized, query-optimized view
// derived from one or more streams. Body holds the kind-specific fields as
// JSON. Version mirrors the sequence of the last event from the document's
// own stream; writes driven by a foreign stream (denormalized name copies,
// membership routed from book events) change Body and UpdatedAt only, since
// another stream's sequence is not comparable to this one's.
type ProjectionDocument struct {
	TenantID  string
	Kind      Kind
	DocID     string
	Version   int64
	Deleted   bool
	DeletedAt time.Time
	Body      json.RawMessage
	UpdatedAt time.Time
}

// DocumentQuery selects documents of one kind within one tenant.
type DocumentQuery struct {
	// FilterEquals matches scalar Body fields by their JSON text value.
	FilterEquals map[string]string
	// FilterContains matches Body fields holding string arrays that contain
	// the given value.
	FilterContains map[string]string
	// FilterContainsAny matches Body fields holding string arrays that
	// contain at least one of the given values. One query resolves an entire
	// batch of candidate values.
	FilterContainsAny map[string][]string
	// IncludeDeleted includes soft-deleted documents; default is active only.
	IncludeDeleted bool
	// SortField orders by a Body field's text value; empty sorts by DocID.
	SortField string
	SortDesc  bool
	Limit     int
	Offset    int
}

// CommitReport describes one committed projection write batch, for the
// commit notification hook.
type CommitReport struct {
	Kind     Kind
	Cursor   int64
	Inserted []string
	Updated  []string
	Deleted  []string
}

// Empty reports whether the commit touched no documents.
func (r CommitReport) Empty() bool {
	return len(r.Inserted) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0
}

// DocumentReader is the read surface shared by queries and projectors.
type DocumentReader interface {
	// GetDocument returns one document or ErrNotFound.
	GetDocument(ctx context.Context, tenantID string, kind Kind, docID string) (ProjectionDocument, error)

	// GetDocuments batch-loads documents by id, returning only those found.
	// One round trip regardless of len(docIDs).
	GetDocuments(ctx context.Context, tenantID string, kind Kind, docIDs []string) (map[string]ProjectionDocument, error)

	// QueryDocuments returns documents matching the query.
	QueryDocuments(ctx context.Context, tenantID string, kind Kind, query DocumentQuery) ([]ProjectionDocument, error)
}

// ProjectionStore persists projection documents and the per-kind checkpoint.
// Documents are owned exclusively by their projector; nothing else writes
// them.
type ProjectionStore interface {
	DocumentReader

	// Flush upserts the batch and advances the kind's checkpoint cursor in
	// one transaction, so a crash can never double-apply or lose a batch.
	// Stale flushes (cursor <= durable cursor) are skipped. The returned
	// report distinguishes inserts from updates for the commit hook.
	Flush(ctx context.Context, kind Kind, docs []ProjectionDocument, cursor int64) (CommitReport, error)

	// UpsertDocuments writes documents without touching the checkpoint.
	// Used by the reconciliation pass, which is not part of the event feed.
	UpsertDocuments(ctx context.Context, docs []ProjectionDocument) (CommitReport, error)

	// ReadCheckpoint returns the kind's cursor; 0 means "replay from the
	// beginning".
	ReadCheckpoint(ctx context.Context, kind Kind) (int64, error)

	// ListDocuments pages through all documents of a kind across tenants in
	// (tenant_id, doc_id) order, for reconciliation sweeps. Pass the last
	// seen pair to continue.
	ListDocuments(ctx context.Context, kind Kind, afterTenantID, afterDocID string, limit int) ([]ProjectionDocument, error)

	// ResetProjection deletes every document of the kind and resets its
	// checkpoint to 0. First step of a rebuild.
	ResetProjection(ctx context.Context, kind Kind) error
}
