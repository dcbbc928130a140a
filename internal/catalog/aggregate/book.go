package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/shopspring/decimal"
)

// BookState is the fold of a book stream. It is never persisted directly.
type BookState struct {
	ID            string
	Title         string
	ISBN          string
	Price         decimal.Decimal
	PublishedYear int
	PublisherID   string
	AuthorIDs     []string
	CategoryIDs   []string
	Deleted       bool
	DeletedAt     time.Time
	Version       int64
}

// BookInput is the command input for creating or replacing book metadata.
type BookInput struct {
	Title         string
	ISBN          string
	Price         decimal.Decimal
	PublishedYear int
	PublisherID   string
	AuthorIDs     []string
	CategoryIDs   []string
}

func (in BookInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return invalidf("title", "is required")
	}
	if in.Price.IsNegative() {
		return invalidf("price", "must not be negative")
	}
	if dup, ok := firstDuplicate(in.AuthorIDs); ok {
		return invalidf("author_ids", "duplicate id %q", dup)
	}
	if dup, ok := firstDuplicate(in.CategoryIDs); ok {
		return invalidf("category_ids", "duplicate id %q", dup)
	}
	return nil
}

// NewBook validates the input for a new book and returns its creation event.
func NewBook(in BookInput) (event.Payload, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return &event.BookAdded{
		Title:         in.Title,
		ISBN:          in.ISBN,
		Price:         in.Price,
		PublishedYear: in.PublishedYear,
		PublisherID:   in.PublisherID,
		AuthorIDs:     copyIDs(in.AuthorIDs),
		CategoryIDs:   copyIDs(in.CategoryIDs),
	}, nil
}

// Update validates a full metadata replacement against current state.
func (s BookState) Update(in BookInput) (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("book %s is deleted", s.ID)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return &event.BookUpdated{
		Title:         in.Title,
		ISBN:          in.ISBN,
		Price:         in.Price,
		PublishedYear: in.PublishedYear,
		PublisherID:   in.PublisherID,
		AuthorIDs:     copyIDs(in.AuthorIDs),
		CategoryIDs:   copyIDs(in.CategoryIDs),
	}, nil
}

// SoftDelete marks the book deleted.
func (s BookState) SoftDelete() (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("book %s is already deleted", s.ID)
	}
	return &event.BookSoftDeleted{}, nil
}

// Restore clears the deleted flag.
func (s BookState) Restore() (event.Payload, error) {
	if !s.Deleted {
		return nil, conflictf("book %s is not deleted", s.ID)
	}
	return &event.BookRestored{}, nil
}

// FoldBook replays a book stream from sequence 1 into current state.
// The events must be in ascending sequence order.
func FoldBook(streamID string, events []event.Event) (BookState, error) {
	state := BookState{ID: streamID}
	for _, evt := range events {
		next, err := state.apply(evt)
		if err != nil {
			return BookState{}, err
		}
		state = next
	}
	return state, nil
}

// apply is the pure transition function for one event.
func (s BookState) apply(evt event.Event) (BookState, error) {
	next := s
	next.Version = evt.Sequence

	switch p := evt.Payload.(type) {
	case *event.BookAdded:
		next.Title = p.Title
		next.ISBN = p.ISBN
		next.Price = p.Price
		next.PublishedYear = p.PublishedYear
		next.PublisherID = p.PublisherID
		next.AuthorIDs = copyIDs(p.AuthorIDs)
		next.CategoryIDs = copyIDs(p.CategoryIDs)
	case *event.BookUpdated:
		next.Title = p.Title
		next.ISBN = p.ISBN
		next.Price = p.Price
		next.PublishedYear = p.PublishedYear
		next.PublisherID = p.PublisherID
		next.AuthorIDs = copyIDs(p.AuthorIDs)
		next.CategoryIDs = copyIDs(p.CategoryIDs)
	case *event.BookSoftDeleted:
		next.Deleted = true
		next.DeletedAt = evt.Timestamp
	case *event.BookRestored:
		next.Deleted = false
		next.DeletedAt = time.Time{}
	default:
		return BookState{}, fmt.Errorf("book fold: unexpected event type %q at sequence %d", evt.Type, evt.Sequence)
	}

	return next, nil
}
