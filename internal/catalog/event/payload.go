package event

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Payload is the typed data carried by an event. The set of implementations
// is closed: marshalling and unmarshalling dispatch on the event Type, so
// every handled payload is statically enumerable.
type Payload interface {
	EventType() Type
}

// BookAdded is the creation payload for a book stream.
type BookAdded struct {
	Title         string          `json:"title"`
	ISBN          string          `json:"isbn,omitempty"`
	Price         decimal.Decimal `json:"price"`
	PublishedYear int             `json:"published_year,omitempty"`
	PublisherID   string          `json:"publisher_id,omitempty"`
	AuthorIDs     []string        `json:"author_ids,omitempty"`
	CategoryIDs   []string        `json:"category_ids,omitempty"`
}

func (BookAdded) EventType() Type { return TypeBookAdded }

// BookUpdated carries the full replacement state of a book. Reference diffs
// against the previous state are computed by projectors, not recorded here.
type BookUpdated struct {
	Title         string          `json:"title"`
	ISBN          string          `json:"isbn,omitempty"`
	Price         decimal.Decimal `json:"price"`
	PublishedYear int             `json:"published_year,omitempty"`
	PublisherID   string          `json:"publisher_id,omitempty"`
	AuthorIDs     []string        `json:"author_ids,omitempty"`
	CategoryIDs   []string        `json:"category_ids,omitempty"`
}

func (BookUpdated) EventType() Type { return TypeBookUpdated }

// BookSoftDeleted marks a book deleted. The deletion time is the envelope
// timestamp; the payload intentionally carries no reference list.
type BookSoftDeleted struct{}

func (BookSoftDeleted) EventType() Type { return TypeBookSoftDeleted }

// BookRestored clears a book's deleted flag.
type BookRestored struct{}

func (BookRestored) EventType() Type { return TypeBookRestored }

// AuthorAdded is the creation payload for an author stream.
type AuthorAdded struct {
	Name string `json:"name"`
	Bio  string `json:"bio,omitempty"`
}

func (AuthorAdded) EventType() Type { return TypeAuthorAdded }

type AuthorUpdated struct {
	Name string `json:"name"`
	Bio  string `json:"bio,omitempty"`
}

func (AuthorUpdated) EventType() Type { return TypeAuthorUpdated }

type AuthorSoftDeleted struct{}

func (AuthorSoftDeleted) EventType() Type { return TypeAuthorSoftDeleted }

type AuthorRestored struct{}

func (AuthorRestored) EventType() Type { return TypeAuthorRestored }

// PublisherAdded is the creation payload for a publisher stream.
type PublisherAdded struct {
	Name string `json:"name"`
}

func (PublisherAdded) EventType() Type { return TypePublisherAdded }

type PublisherUpdated struct {
	Name string `json:"name"`
}

func (PublisherUpdated) EventType() Type { return TypePublisherUpdated }

type PublisherSoftDeleted struct{}

func (PublisherSoftDeleted) EventType() Type { return TypePublisherSoftDeleted }

type PublisherRestored struct{}

func (PublisherRestored) EventType() Type { return TypePublisherRestored }

// CategoryAdded is the creation payload for a category stream.
type CategoryAdded struct {
	Name string `json:"name"`
}

func (CategoryAdded) EventType() Type { return TypeCategoryAdded }

type CategoryUpdated struct {
	Name string `json:"name"`
}

func (CategoryUpdated) EventType() Type { return TypeCategoryUpdated }

type CategorySoftDeleted struct{}

func (CategorySoftDeleted) EventType() Type { return TypeCategorySoftDeleted }

type CategoryRestored struct{}

func (CategoryRestored) EventType() Type { return TypeCategoryRestored }

// MarshalPayload serializes a payload to JSON for storage.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is nil")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload %s: %w", p.EventType(), err)
	}
	return raw, nil
}

// UnmarshalPayload decodes stored JSON into the typed payload for t.
// Unknown types are an error: appends reject them, and projectors skip the
// event rather than stall the pipeline.
func UnmarshalPayload(t Type, raw []byte) (Payload, error) {
	var p Payload
	switch t {
	case TypeBookAdded:
		p = &BookAdded{}
	case TypeBookUpdated:
		p = &BookUpdated{}
	case TypeBookSoftDeleted:
		p = &BookSoftDeleted{}
	case TypeBookRestored:
		p = &BookRestored{}
	case TypeAuthorAdded:
		p = &AuthorAdded{}
	case TypeAuthorUpdated:
		p = &AuthorUpdated{}
	case TypeAuthorSoftDeleted:
		p = &AuthorSoftDeleted{}
	case TypeAuthorRestored:
		p = &AuthorRestored{}
	case TypePublisherAdded:
		p = &PublisherAdded{}
	case TypePublisherUpdated:
		p = &PublisherUpdated{}
	case TypePublisherSoftDeleted:
		p = &PublisherSoftDeleted{}
	case TypePublisherRestored:
		p = &PublisherRestored{}
	case TypeCategoryAdded:
		p = &CategoryAdded{}
	case TypeCategoryUpdated:
		p = &CategoryUpdated{}
	case TypeCategorySoftDeleted:
		p = &CategorySoftDeleted{}
	case TypeCategoryRestored:
		p = &CategoryRestored{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("unmarshal payload %s: %w", t, err)
	}
	return p, nil
}

// IsCreation reports whether t starts a stream.
func (t Type) IsCreation() bool {
	switch t {
	case TypeBookAdded, TypeAuthorAdded, TypePublisherAdded, TypeCategoryAdded:
		return true
	}
	return false
}
