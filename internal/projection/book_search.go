package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// bookSearchBody is the queryable shape of one book_search document. Names
// are denormalized copies: the document answers a search result without
// joins, at the cost of the repair pass below when a name changes.
type bookSearchBody struct {
	Title         string          `json:"title"`
	ISBN          string          `json:"isbn"`
	Price         decimal.Decimal `json:"price"`
	PublishedYear int             `json:"published_year"`
	PublisherID   string          `json:"publisher_id"`
	PublisherName string          `json:"publisher_name"`
	AuthorIDs     []string        `json:"author_ids"`
	AuthorNames   []string        `json:"author_names"`
	CategoryIDs   []string        `json:"category_ids"`
}

// BookSearchProjector maintains one book_search document per book stream.
// It also handles author.updated and publisher.updated to refresh the
// denormalized name copies in every document that holds them.
type BookSearchProjector struct{}

// NewBookSearchProjector creates a BookSearchProjector.
func NewBookSearchProjector() *BookSearchProjector {
	return &BookSearchProjector{}
}

// Kind implements Projector.
func (p *BookSearchProjector) Kind() storage.Kind { return KindBookSearch }

// Handles implements Projector.
func (p *BookSearchProjector) Handles(t event.Type) bool {
	switch t {
	case event.TypeAuthorUpdated, event.TypePublisherUpdated:
		return true
	}
	return t.Domain() == "book"
}

// Project implements StreamProjector.
func (p *BookSearchProjector) Project(
	ctx context.Context,
	view storage.DocumentReader,
	evt event.Event,
) ([]storage.ProjectionDocument, error) {
	switch evt.Type {
	case event.TypeAuthorUpdated:
		payload, ok := evt.Payload.(*event.AuthorUpdated)
		if !ok {
			return nil, fmt.Errorf("book_search: unexpected payload for %s", evt.Type)
		}
		return p.refreshAuthorName(ctx, view, evt, payload.Name)
	case event.TypePublisherUpdated:
		payload, ok := evt.Payload.(*event.PublisherUpdated)
		if !ok {
			return nil, fmt.Errorf("book_search: unexpected payload for %s", evt.Type)
		}
		return p.refreshPublisherName(ctx, view, evt, payload.Name)
	}
	return p.projectBookEvent(ctx, view, evt)
}

func (p *BookSearchProjector) projectBookEvent(
	ctx context.Context,
	view storage.DocumentReader,
	evt event.Event,
) ([]storage.ProjectionDocument, error) {
	doc, err := view.GetDocument(ctx, evt.TenantID, KindBookSearch, evt.StreamID)
	if errors.Is(err, storage.ErrNotFound) {
		if !evt.Type.IsCreation() {
			// A committed event cannot be refused; failing here would wedge
			// the kind on every retry. Skip it and let a rebuild recover.
			slog.Warn("[Projection] Skipping event for missing document",
				"kind", KindBookSearch, "type", evt.Type, "stream_id", evt.StreamID, "tenant_id", evt.TenantID)
			return nil, nil
		}
		doc = storage.ProjectionDocument{
			TenantID: evt.TenantID,
			Kind:     KindBookSearch,
			DocID:    evt.StreamID,
		}
	} else if err != nil {
		return nil, err
	}

	switch payload := evt.Payload.(type) {
	case *event.BookAdded:
		body, err := p.buildBody(ctx, view, evt.TenantID, bookFields(payload.Title, payload.ISBN, payload.Price,
			payload.PublishedYear, payload.PublisherID, payload.AuthorIDs, payload.CategoryIDs))
		if err != nil {
			return nil, err
		}
		doc.Body = body
	case *event.BookUpdated:
		body, err := p.buildBody(ctx, view, evt.TenantID, bookFields(payload.Title, payload.ISBN, payload.Price,
			payload.PublishedYear, payload.PublisherID, payload.AuthorIDs, payload.CategoryIDs))
		if err != nil {
			return nil, err
		}
		doc.Body = body
	case *event.BookSoftDeleted:
		doc.Deleted = true
		doc.DeletedAt = evt.Timestamp
	case *event.BookRestored:
		doc.Deleted = false
		doc.DeletedAt = time.Time{}
	default:
		return nil, fmt.Errorf("book_search: unexpected payload for %s", evt.Type)
	}

	doc.Version = evt.Sequence
	doc.UpdatedAt = evt.Timestamp
	return []storage.ProjectionDocument{doc}, nil
}

func bookFields(
	title, isbn string,
	price decimal.Decimal,
	year int,
	publisherID string,
	authorIDs, categoryIDs []string,
) bookSearchBody {
	return bookSearchBody{
		Title:         title,
		ISBN:          isbn,
		Price:         price,
		PublishedYear: year,
		PublisherID:   publisherID,
		AuthorIDs:     authorIDs,
		CategoryIDs:   categoryIDs,
	}
}

// buildBody fills in the denormalized publisher and author names from the
// list documents. A missing list document yields an empty name; the repair
// pass fixes it up once the corresponding updated event arrives.
func (p *BookSearchProjector) buildBody(
	ctx context.Context,
	view storage.DocumentReader,
	tenantID string,
	body bookSearchBody,
) (json.RawMessage, error) {
	if body.PublisherID != "" {
		pubDoc, err := view.GetDocument(ctx, tenantID, KindPublisherList, body.PublisherID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			slog.Debug("[Projection] Publisher not yet projected",
				"tenant_id", tenantID, "publisher_id", body.PublisherID)
		case err != nil:
			return nil, err
		default:
			var pub namedListBody
			if err := json.Unmarshal(pubDoc.Body, &pub); err != nil {
				return nil, fmt.Errorf("book_search: decode publisher_list %s: %w", body.PublisherID, err)
			}
			body.PublisherName = pub.Name
		}
	}

	body.AuthorNames = make([]string, len(body.AuthorIDs))
	if len(body.AuthorIDs) > 0 {
		authorDocs, err := view.GetDocuments(ctx, tenantID, KindAuthorList, body.AuthorIDs)
		if err != nil {
			return nil, err
		}
		for i, id := range body.AuthorIDs {
			authorDoc, ok := authorDocs[id]
			if !ok {
				slog.Debug("[Projection] Author not yet projected",
					"tenant_id", tenantID, "author_id", id)
				continue
			}
			var author authorListBody
			if err := json.Unmarshal(authorDoc.Body, &author); err != nil {
				return nil, fmt.Errorf("book_search: decode author_list %s: %w", id, err)
			}
			body.AuthorNames[i] = author.Name
		}
	}

	return json.Marshal(body)
}

// refreshAuthorName rewrites the denormalized author name in every
// book_search document that references the author. The new name comes from
// the event payload, so this does not depend on the author_list projector
// having caught up.
func (p *BookSearchProjector) refreshAuthorName(
	ctx context.Context,
	view storage.DocumentReader,
	evt event.Event,
	name string,
) ([]storage.ProjectionDocument, error) {
	docs, err := view.QueryDocuments(ctx, evt.TenantID, KindBookSearch, storage.DocumentQuery{
		FilterContains: map[string]string{"author_ids": evt.StreamID},
		IncludeDeleted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("book_search: query books of author %s: %w", evt.StreamID, err)
	}

	var changed []storage.ProjectionDocument
	for _, doc := range docs {
		var body bookSearchBody
		if err := json.Unmarshal(doc.Body, &body); err != nil {
			return nil, fmt.Errorf("book_search: decode document %s: %w", doc.DocID, err)
		}
		dirty := false
		for i, id := range body.AuthorIDs {
			if id == evt.StreamID && i < len(body.AuthorNames) && body.AuthorNames[i] != name {
				body.AuthorNames[i] = name
				dirty = true
			}
		}
		if !dirty {
			continue
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		doc.Body = raw
		doc.UpdatedAt = evt.Timestamp
		changed = append(changed, doc)
	}
	return changed, nil
}

// Recompute implements Recomputable: the denormalized name copies are
// re-read from the list documents. Catches books projected before their
// author or publisher documents existed.
func (p *BookSearchProjector) Recompute(
	ctx context.Context,
	view storage.DocumentReader,
	doc storage.ProjectionDocument,
) (storage.ProjectionDocument, bool, error) {
	var body bookSearchBody
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return doc, false, fmt.Errorf("book_search: decode document %s: %w", doc.DocID, err)
	}

	raw, err := p.buildBody(ctx, view, doc.TenantID, bookFields(body.Title, body.ISBN, body.Price,
		body.PublishedYear, body.PublisherID, body.AuthorIDs, body.CategoryIDs))
	if err != nil {
		return doc, false, err
	}

	var fresh bookSearchBody
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return doc, false, err
	}

	// A list document may itself be missing or lagging; never erase a name
	// already repaired from an event payload.
	if fresh.PublisherName == "" {
		fresh.PublisherName = body.PublisherName
	}
	for i := range fresh.AuthorNames {
		if fresh.AuthorNames[i] == "" && i < len(body.AuthorNames) {
			fresh.AuthorNames[i] = body.AuthorNames[i]
		}
	}

	if fresh.PublisherName == body.PublisherName && equalStringSlices(fresh.AuthorNames, body.AuthorNames) {
		return doc, false, nil
	}

	raw, err = json.Marshal(fresh)
	if err != nil {
		return doc, false, err
	}
	doc.Body = raw
	doc.UpdatedAt = time.Now().UTC()
	return doc, true, nil
}

// refreshPublisherName does the same for the publisher name copy.
func (p *BookSearchProjector) refreshPublisherName(
	ctx context.Context,
	view storage.DocumentReader,
	evt event.Event,
	name string,
) ([]storage.ProjectionDocument, error) {
	docs, err := view.QueryDocuments(ctx, evt.TenantID, KindBookSearch, storage.DocumentQuery{
		FilterEquals:   map[string]string{"publisher_id": evt.StreamID},
		IncludeDeleted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("book_search: query books of publisher %s: %w", evt.StreamID, err)
	}

	var changed []storage.ProjectionDocument
	for _, doc := range docs {
		var body bookSearchBody
		if err := json.Unmarshal(doc.Body, &body); err != nil {
			return nil, fmt.Errorf("book_search: decode document %s: %w", doc.DocID, err)
		}
		if body.PublisherName == name {
			continue
		}
		body.PublisherName = name
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		doc.Body = raw
		doc.UpdatedAt = evt.Timestamp
		changed = append(changed, doc)
	}
	return changed, nil
}
