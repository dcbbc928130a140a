// Package projection derives query-optimized documents from the event log.
//
// Each projector owns one document kind and is driven by the Runner, which
// feeds it batches from the global event feed and flushes the resulting
// documents together with the kind's checkpoint. Projectors are pure with
// respect to the feed: replaying the same events over an empty store
// produces the same documents.
package projection

import (
	"context"
	"log/slog"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// Document kinds owned by this package.
const (
	KindBookSearch     storage.Kind = "book_search"
	KindAuthorList     storage.Kind = "author_list"
	KindPublisherList  storage.Kind = "publisher_list"
	KindCategoryList   storage.Kind = "category_list"
	KindAuthorStats    storage.Kind = "author_stats"
	KindPublisherStats storage.Kind = "publisher_stats"
	KindCategoryStats  storage.Kind = "category_stats"
)

// AllKinds lists every kind in registration order.
func AllKinds() []storage.Kind {
	return []storage.Kind{
		KindBookSearch,
		KindAuthorList,
		KindPublisherList,
		KindCategoryList,
		KindAuthorStats,
		KindPublisherStats,
		KindCategoryStats,
	}
}

// Projector is the surface common to all projectors.
type Projector interface {
	// Kind names the document family this projector owns.
	Kind() storage.Kind
	// Handles reports whether the projector reacts to the event type.
	// Events it does not handle advance its checkpoint without effect.
	Handles(t event.Type) bool
}

// StreamProjector derives documents from events one at a time. The usual
// shape is one document per stream, keyed by stream id, but a single event
// may also touch dependent documents (denormalized copies of the event's
// data held by other documents of the same kind).
type StreamProjector interface {
	Projector

	// Project applies one event and returns every document it changed.
	// view serves reads of current documents, including ones written earlier
	// in the same batch.
	Project(ctx context.Context, view storage.DocumentReader, evt event.Event) ([]storage.ProjectionDocument, error)
}

// RoutedEvent pairs one event with one target document of a grouped
// projection, annotated with how the target's contributing set changes.
// AddBook and RemoveBook are both empty for the target's own lifecycle
// events.
type RoutedEvent struct {
	TenantID   string
	TargetID   string
	Event      event.Event
	AddBook    string
	RemoveBook string
}

// GroupedProjector derives documents whose identity differs from the stream
// the events came from: many streams feed one document. The runner calls
// Group once per batch so prior state can be loaded in bulk, then Project
// once per route.
type GroupedProjector interface {
	Projector

	// Group routes the batch's events to the documents they affect.
	Group(ctx context.Context, view storage.DocumentReader, events []event.Event) ([]RoutedEvent, error)

	// Project applies one routed event to its target document. A route whose
	// target document does not exist is a no-op (nil, nil).
	Project(ctx context.Context, view storage.DocumentReader, route RoutedEvent) ([]storage.ProjectionDocument, error)
}

// Recomputable is implemented by projectors whose documents can be derived
// directly from current state, independent of the event feed. The
// reconciler uses it to repair drift.
type Recomputable interface {
	// Recompute rebuilds the document from current state. The bool reports
	// whether the stored document differs and needs a write.
	Recompute(ctx context.Context, view storage.DocumentReader, doc storage.ProjectionDocument) (storage.ProjectionDocument, bool, error)
}

// CommitListener is notified after every durable projection commit. The
// report only ever describes committed state; a failed flush produces no
// notification.
type CommitListener interface {
	OnProjectionCommit(ctx context.Context, report storage.CommitReport)
}

// LogListener logs each commit. The default listener when no other is wired.
type LogListener struct{}

// OnProjectionCommit implements CommitListener.
func (LogListener) OnProjectionCommit(_ context.Context, report storage.CommitReport) {
	if report.Empty() {
		return
	}
	slog.Info("[Projection] Commit",
		"kind", report.Kind,
		"cursor", report.Cursor,
		"inserted", len(report.Inserted),
		"updated", len(report.Updated),
		"deleted", len(report.Deleted))
}
