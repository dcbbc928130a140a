package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// authorListBody is the queryable shape of one author_list document.
type authorListBody struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

// namedListBody is the queryable shape of publisher_list and category_list
// documents.
type namedListBody struct {
	Name string `json:"name"`
}

// listProjector maintains one document per stream for a single domain,
// carrying the stream's latest attribute values. Used for authors,
// publishers and categories.
type listProjector struct {
	kind   storage.Kind
	domain string
	// body merges one event's payload into the document's current body and
	// returns the updated body. Nil prior means the document is being created.
	body func(prior json.RawMessage, p event.Payload) (json.RawMessage, error)
}

// NewAuthorListProjector projects author streams into author_list documents.
func NewAuthorListProjector() StreamProjector {
	return &listProjector{
		kind:   KindAuthorList,
		domain: "author",
		body: func(prior json.RawMessage, p event.Payload) (json.RawMessage, error) {
			var body authorListBody
			if prior != nil {
				if err := json.Unmarshal(prior, &body); err != nil {
					return nil, err
				}
			}
			switch payload := p.(type) {
			case *event.AuthorAdded:
				body.Name, body.Bio = payload.Name, payload.Bio
			case *event.AuthorUpdated:
				body.Name, body.Bio = payload.Name, payload.Bio
			}
			return json.Marshal(body)
		},
	}
}

// NewPublisherListProjector projects publisher streams into publisher_list
// documents.
func NewPublisherListProjector() StreamProjector {
	return &listProjector{
		kind:   KindPublisherList,
		domain: "publisher",
		body: func(prior json.RawMessage, p event.Payload) (json.RawMessage, error) {
			var body namedListBody
			if prior != nil {
				if err := json.Unmarshal(prior, &body); err != nil {
					return nil, err
				}
			}
			switch payload := p.(type) {
			case *event.PublisherAdded:
				body.Name = payload.Name
			case *event.PublisherUpdated:
				body.Name = payload.Name
			}
			return json.Marshal(body)
		},
	}
}

// NewCategoryListProjector projects category streams into category_list
// documents.
func NewCategoryListProjector() StreamProjector {
	return &listProjector{
		kind:   KindCategoryList,
		domain: "category",
		body: func(prior json.RawMessage, p event.Payload) (json.RawMessage, error) {
			var body namedListBody
			if prior != nil {
				if err := json.Unmarshal(prior, &body); err != nil {
					return nil, err
				}
			}
			switch payload := p.(type) {
			case *event.CategoryAdded:
				body.Name = payload.Name
			case *event.CategoryUpdated:
				body.Name = payload.Name
			}
			return json.Marshal(body)
		},
	}
}

func (p *listProjector) Kind() storage.Kind { return p.kind }

func (p *listProjector) Handles(t event.Type) bool {
	return t.Domain() == p.domain
}

func (p *listProjector) Project(
	ctx context.Context,
	view storage.DocumentReader,
	evt event.Event,
) ([]storage.ProjectionDocument, error) {
	doc, err := view.GetDocument(ctx, evt.TenantID, p.kind, evt.StreamID)
	if errors.Is(err, storage.ErrNotFound) {
		if !evt.Type.IsCreation() {
			// Event for a document this projector never created. The event
			// is a committed fact; failing would wedge the kind on every
			// retry, so skip it and let a rebuild recover the document.
			slog.Warn("[Projection] Skipping event for missing document",
				"kind", p.kind, "type", evt.Type, "stream_id", evt.StreamID, "tenant_id", evt.TenantID)
			return nil, nil
		}
		doc = storage.ProjectionDocument{
			TenantID: evt.TenantID,
			Kind:     p.kind,
			DocID:    evt.StreamID,
		}
	} else if err != nil {
		return nil, err
	}

	switch evt.Type {
	case event.TypeAuthorSoftDeleted, event.TypePublisherSoftDeleted, event.TypeCategorySoftDeleted:
		doc.Deleted = true
		doc.DeletedAt = evt.Timestamp
	case event.TypeAuthorRestored, event.TypePublisherRestored, event.TypeCategoryRestored:
		doc.Deleted = false
		doc.DeletedAt = time.Time{}
	default:
		body, err := p.body(doc.Body, evt.Payload)
		if err != nil {
			return nil, fmt.Errorf("%s: build body for %s: %w", p.kind, evt.StreamID, err)
		}
		doc.Body = body
	}

	doc.Version = evt.Sequence
	doc.UpdatedAt = evt.Timestamp
	return []storage.ProjectionDocument{doc}, nil
}
