package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// statsBody is the queryable shape of the author_stats, publisher_stats and
// category_stats documents. The id list is the source of truth; the count
// is always len(active_book_ids). The document's Version tracks the owner's
// own stream only: membership changes routed from book events touch Body
// and UpdatedAt, since a book stream's sequence says nothing about the
// owner's.
type statsBody struct {
	ActiveBookIDs   []string `json:"active_book_ids"`
	ActiveBookCount int      `json:"active_book_count"`
}

// statsProjector counts active books per author, publisher or category. One
// document per owner stream, fed by two event families: the owner's own
// lifecycle events and the book events that change which books reference
// the owner.
type statsProjector struct {
	kind   storage.Kind
	domain string
	// refs extracts the owner references from a book payload.
	refs func(p event.Payload) []string
	// priorRefs extracts the owner references from a book_search body.
	priorRefs func(body bookSearchBody) []string
	// seedQuery matches the book_search documents referencing one owner.
	seedQuery func(ownerID string) storage.DocumentQuery
}

// NewAuthorStatsProjector counts active books per author.
func NewAuthorStatsProjector() GroupedProjector {
	return &statsProjector{
		kind:   KindAuthorStats,
		domain: "author",
		refs: func(p event.Payload) []string {
			switch payload := p.(type) {
			case *event.BookAdded:
				return payload.AuthorIDs
			case *event.BookUpdated:
				return payload.AuthorIDs
			}
			return nil
		},
		priorRefs: func(body bookSearchBody) []string { return body.AuthorIDs },
		seedQuery: func(ownerID string) storage.DocumentQuery {
			return storage.DocumentQuery{FilterContains: map[string]string{"author_ids": ownerID}}
		},
	}
}

// NewPublisherStatsProjector counts active books per publisher.
func NewPublisherStatsProjector() GroupedProjector {
	return &statsProjector{
		kind:   KindPublisherStats,
		domain: "publisher",
		refs: func(p event.Payload) []string {
			switch payload := p.(type) {
			case *event.BookAdded:
				return singleRef(payload.PublisherID)
			case *event.BookUpdated:
				return singleRef(payload.PublisherID)
			}
			return nil
		},
		priorRefs: func(body bookSearchBody) []string { return singleRef(body.PublisherID) },
		seedQuery: func(ownerID string) storage.DocumentQuery {
			return storage.DocumentQuery{FilterEquals: map[string]string{"publisher_id": ownerID}}
		},
	}
}

// NewCategoryStatsProjector counts active books per category.
func NewCategoryStatsProjector() GroupedProjector {
	return &statsProjector{
		kind:   KindCategoryStats,
		domain: "category",
		refs: func(p event.Payload) []string {
			switch payload := p.(type) {
			case *event.BookAdded:
				return payload.CategoryIDs
			case *event.BookUpdated:
				return payload.CategoryIDs
			}
			return nil
		},
		priorRefs: func(body bookSearchBody) []string { return body.CategoryIDs },
		seedQuery: func(ownerID string) storage.DocumentQuery {
			return storage.DocumentQuery{FilterContains: map[string]string{"category_ids": ownerID}}
		},
	}
}

func singleRef(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

func (p *statsProjector) Kind() storage.Kind { return p.kind }

func (p *statsProjector) Handles(t event.Type) bool {
	d := t.Domain()
	return d == p.domain || d == "book"
}

type bookRefsKey struct {
	tenantID string
	bookID   string
}

// Group implements GroupedProjector. Book events are routed by the
// symmetric difference between each book's prior and new owner sets, so an
// owner whose membership did not change receives no route. Prior owners are
// derived from this kind's own documents (which owners currently count the
// book), never from another projection's state: other kinds run on their
// own checkpoints and may be ahead of or behind this one. Prior state for
// the whole batch is resolved up front in a bounded number of reads;
// consecutive events for the same book then diff against each other through
// the known map.
func (p *statsProjector) Group(
	ctx context.Context,
	view storage.DocumentReader,
	events []event.Event,
) ([]RoutedEvent, error) {
	known, err := p.loadPriorState(ctx, view, events)
	if err != nil {
		return nil, err
	}

	var routes []RoutedEvent
	for _, evt := range events {
		switch evt.Type.Domain() {
		case p.domain:
			routes = append(routes, RoutedEvent{
				TenantID: evt.TenantID,
				TargetID: evt.StreamID,
				Event:    evt,
			})
		case "book":
			routes = append(routes, p.routeBookEvent(evt, known)...)
		}
	}
	return routes, nil
}

// loadPriorState resolves the prior owner set of every book whose first
// event in the batch is not its creation: one containment query per tenant
// covers the updated and soft-deleted books, one batched point read per
// tenant covers the restored ones. Round trips scale with the number of
// tenants in the batch, never with the number of events.
func (p *statsProjector) loadPriorState(
	ctx context.Context,
	view storage.DocumentReader,
	events []event.Event,
) (map[bookRefsKey][]string, error) {
	needOwners := make(map[string][]string)
	needBodies := make(map[string][]string)
	decided := make(map[bookRefsKey]bool)

	for _, evt := range events {
		if evt.Type.Domain() != "book" {
			continue
		}
		key := bookRefsKey{tenantID: evt.TenantID, bookID: evt.StreamID}
		if decided[key] {
			continue
		}
		decided[key] = true
		switch evt.Type {
		case event.TypeBookUpdated, event.TypeBookSoftDeleted:
			needOwners[evt.TenantID] = append(needOwners[evt.TenantID], evt.StreamID)
		case event.TypeBookRestored:
			needBodies[evt.TenantID] = append(needBodies[evt.TenantID], evt.StreamID)
		}
		// book.added establishes its own refs; nothing to load.
	}

	known := make(map[bookRefsKey][]string)

	for tenantID, bookIDs := range needOwners {
		docs, err := view.QueryDocuments(ctx, tenantID, p.kind, storage.DocumentQuery{
			FilterContainsAny: map[string][]string{"active_book_ids": bookIDs},
			IncludeDeleted:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: load owners of %d books: %w", p.kind, len(bookIDs), err)
		}
		for _, bookID := range bookIDs {
			known[bookRefsKey{tenantID: tenantID, bookID: bookID}] = nil
		}
		for _, doc := range docs {
			var body statsBody
			if err := json.Unmarshal(doc.Body, &body); err != nil {
				return nil, fmt.Errorf("%s: decode document %s: %w", p.kind, doc.DocID, err)
			}
			counted := toSet(body.ActiveBookIDs)
			for _, bookID := range bookIDs {
				if counted[bookID] {
					key := bookRefsKey{tenantID: tenantID, bookID: bookID}
					known[key] = append(known[key], doc.DocID)
				}
			}
		}
	}

	// A deleted book is counted nowhere, so restore re-adds come from the
	// book's own reference list instead. Updates are refused while the book
	// is deleted, so the projected copy is stable here.
	for tenantID, bookIDs := range needBodies {
		docs, err := view.GetDocuments(ctx, tenantID, KindBookSearch, bookIDs)
		if err != nil {
			return nil, fmt.Errorf("%s: load book documents: %w", p.kind, err)
		}
		for _, bookID := range bookIDs {
			key := bookRefsKey{tenantID: tenantID, bookID: bookID}
			doc, ok := docs[bookID]
			if !ok {
				// Nothing to restore against; the reconciler repairs any
				// counts once the book document exists.
				slog.Warn("[Projection] Book document missing on restore, skipping re-adds",
					"kind", p.kind, "book_id", bookID, "tenant_id", tenantID)
				known[key] = nil
				continue
			}
			var body bookSearchBody
			if err := json.Unmarshal(doc.Body, &body); err != nil {
				return nil, fmt.Errorf("%s: decode book_search %s: %w", p.kind, bookID, err)
			}
			known[key] = p.priorRefs(body)
		}
	}

	return known, nil
}

func (p *statsProjector) routeBookEvent(evt event.Event, known map[bookRefsKey][]string) []RoutedEvent {
	key := bookRefsKey{tenantID: evt.TenantID, bookID: evt.StreamID}

	route := func(ownerID string, add bool) RoutedEvent {
		r := RoutedEvent{TenantID: evt.TenantID, TargetID: ownerID, Event: evt}
		if add {
			r.AddBook = evt.StreamID
		} else {
			r.RemoveBook = evt.StreamID
		}
		return r
	}

	var routes []RoutedEvent
	switch evt.Type {
	case event.TypeBookAdded:
		refs := p.refs(evt.Payload)
		for _, ownerID := range refs {
			routes = append(routes, route(ownerID, true))
		}
		known[key] = refs

	case event.TypeBookUpdated:
		prior := known[key]
		next := p.refs(evt.Payload)
		priorSet := toSet(prior)
		nextSet := toSet(next)
		for _, ownerID := range prior {
			if !nextSet[ownerID] {
				routes = append(routes, route(ownerID, false))
			}
		}
		for _, ownerID := range next {
			if !priorSet[ownerID] {
				routes = append(routes, route(ownerID, true))
			}
		}
		known[key] = next

	case event.TypeBookSoftDeleted:
		// The owner refs stay in the known map: a restore later in the
		// batch re-adds exactly these.
		for _, ownerID := range known[key] {
			routes = append(routes, route(ownerID, false))
		}

	case event.TypeBookRestored:
		for _, ownerID := range known[key] {
			routes = append(routes, route(ownerID, true))
		}
	}
	return routes
}

// Project implements GroupedProjector. Membership changes are applied as
// set operations, so re-delivering a route is harmless: the count is always
// the size of the set.
func (p *statsProjector) Project(
	ctx context.Context,
	view storage.DocumentReader,
	route RoutedEvent,
) ([]storage.ProjectionDocument, error) {
	evt := route.Event

	if evt.Type.Domain() == p.domain {
		return p.projectOwnerEvent(ctx, view, route)
	}

	doc, err := view.GetDocument(ctx, route.TenantID, p.kind, route.TargetID)
	if errors.Is(err, storage.ErrNotFound) {
		// The owner was never added (or its stats document was removed):
		// membership routes to it are dropped, not accumulated.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var body statsBody
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, fmt.Errorf("%s: decode document %s: %w", p.kind, route.TargetID, err)
	}

	set := toSet(body.ActiveBookIDs)
	switch {
	case route.AddBook != "":
		if set[route.AddBook] {
			return nil, nil
		}
		set[route.AddBook] = true
	case route.RemoveBook != "":
		if !set[route.RemoveBook] {
			return nil, nil
		}
		delete(set, route.RemoveBook)
	default:
		return nil, nil
	}

	raw, err := json.Marshal(statsBodyFromSet(set))
	if err != nil {
		return nil, err
	}
	doc.Body = raw
	doc.UpdatedAt = evt.Timestamp
	return []storage.ProjectionDocument{doc}, nil
}

func (p *statsProjector) projectOwnerEvent(
	ctx context.Context,
	view storage.DocumentReader,
	route RoutedEvent,
) ([]storage.ProjectionDocument, error) {
	evt := route.Event

	doc, err := view.GetDocument(ctx, route.TenantID, p.kind, route.TargetID)
	if errors.Is(err, storage.ErrNotFound) {
		if !evt.Type.IsCreation() {
			// A committed event cannot be refused; failing here would wedge
			// the kind on every retry. Skip it and let a rebuild recover.
			slog.Warn("[Projection] Skipping event for missing document",
				"kind", p.kind, "type", evt.Type, "stream_id", evt.StreamID, "tenant_id", route.TenantID)
			return nil, nil
		}
		body, err := p.seedBody(ctx, view, route.TenantID, route.TargetID)
		if err != nil {
			return nil, err
		}
		doc = storage.ProjectionDocument{
			TenantID: route.TenantID,
			Kind:     p.kind,
			DocID:    route.TargetID,
			Body:     body,
		}
	} else if err != nil {
		return nil, err
	} else {
		switch evt.Payload.(type) {
		case *event.AuthorSoftDeleted, *event.PublisherSoftDeleted, *event.CategorySoftDeleted:
			doc.Deleted = true
			doc.DeletedAt = evt.Timestamp
		case *event.AuthorRestored, *event.PublisherRestored, *event.CategoryRestored:
			doc.Deleted = false
			doc.DeletedAt = time.Time{}
		}
	}

	doc.Version = evt.Sequence
	doc.UpdatedAt = evt.Timestamp
	return []storage.ProjectionDocument{doc}, nil
}

// seedBody computes the initial contributing set for a brand-new owner from
// the book_search documents already referencing it. Usually empty; non-empty
// only when book events referencing the owner were projected first.
func (p *statsProjector) seedBody(
	ctx context.Context,
	view storage.DocumentReader,
	tenantID, ownerID string,
) (json.RawMessage, error) {
	docs, err := view.QueryDocuments(ctx, tenantID, KindBookSearch, p.seedQuery(ownerID))
	if err != nil {
		return nil, fmt.Errorf("%s: seed set for %s: %w", p.kind, ownerID, err)
	}
	set := make(map[string]bool, len(docs))
	for _, doc := range docs {
		set[doc.DocID] = true
	}
	return json.Marshal(statsBodyFromSet(set))
}

// Recompute implements Recomputable: the contributing set is re-derived from
// the current book_search documents and compared with the stored body.
func (p *statsProjector) Recompute(
	ctx context.Context,
	view storage.DocumentReader,
	doc storage.ProjectionDocument,
) (storage.ProjectionDocument, bool, error) {
	docs, err := view.QueryDocuments(ctx, doc.TenantID, KindBookSearch, p.seedQuery(doc.DocID))
	if err != nil {
		return doc, false, fmt.Errorf("%s: recompute %s: %w", p.kind, doc.DocID, err)
	}
	set := make(map[string]bool, len(docs))
	for _, d := range docs {
		set[d.DocID] = true
	}
	fresh := statsBodyFromSet(set)

	var current statsBody
	if err := json.Unmarshal(doc.Body, &current); err != nil {
		return doc, false, fmt.Errorf("%s: decode document %s: %w", p.kind, doc.DocID, err)
	}
	if equalStringSlices(current.ActiveBookIDs, fresh.ActiveBookIDs) &&
		current.ActiveBookCount == fresh.ActiveBookCount {
		return doc, false, nil
	}

	raw, err := json.Marshal(fresh)
	if err != nil {
		return doc, false, err
	}
	doc.Body = raw
	doc.UpdatedAt = time.Now().UTC()
	return doc, true, nil
}

func statsBodyFromSet(set map[string]bool) statsBody {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return statsBody{ActiveBookIDs: ids, ActiveBookCount: len(ids)}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
