// Package service exposes the catalog's command and query operations.
// Commands load current state by folding the stream, validate the change
// through the aggregate, and append the resulting event under the caller's
// concurrency token.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/librarium-lab/librarium/internal/catalog/aggregate"
	"github.com/librarium-lab/librarium/internal/catalog/etag"
	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// Scope carries the per-request context every command runs under.
type Scope struct {
	TenantID      string
	CorrelationID string
	CausationID   string
}

// Receipt is the result of a successful command: the stream's new version
// and the token for the caller's next conditional request.
type Receipt struct {
	StreamID string
	Version  int64
	ETag     string
}

// readPageSize bounds one ReadForward round trip while folding a stream.
const readPageSize = 512

// CatalogService executes catalog commands against the event log.
type CatalogService struct {
	store storage.EventStore
	now   func() time.Time
	newID func() string
}

// NewCatalogService creates a CatalogService over the event store.
func NewCatalogService(store storage.EventStore) *CatalogService {
	return &CatalogService{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *CatalogService) envelope(scope Scope, p event.Payload) event.Event {
	return event.Event{
		ID:            s.newID(),
		Type:          p.EventType(),
		Timestamp:     s.now().UTC(),
		CorrelationID: scope.CorrelationID,
		CausationID:   scope.CausationID,
		Payload:       p,
	}
}

// create starts a new stream for the payload and returns its receipt.
func (s *CatalogService) create(ctx context.Context, scope Scope, p event.Payload) (Receipt, error) {
	streamID := s.newID()
	version, err := s.store.Append(ctx, scope.TenantID, streamID, storage.ExpectedVersionNone,
		[]event.Event{s.envelope(scope, p)})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{StreamID: streamID, Version: version, ETag: etag.Encode(version)}, nil
}

// mutate appends one event to an existing stream under the caller's token.
// An empty token means last-writer-wins; a present token must decode and
// match the stream's version at append time or the append is refused with a
// *storage.ConcurrencyConflictError.
func (s *CatalogService) mutate(
	ctx context.Context,
	scope Scope,
	streamID, token string,
	p event.Payload,
) (Receipt, error) {
	expected := storage.ExpectedVersionAny
	if token != "" {
		version, err := etag.Decode(token)
		if err != nil {
			return Receipt{}, err
		}
		expected = version
	}

	version, err := s.store.Append(ctx, scope.TenantID, streamID, expected,
		[]event.Event{s.envelope(scope, p)})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{StreamID: streamID, Version: version, ETag: etag.Encode(version)}, nil
}

// readStream folds pages of one stream into a full event slice.
// storage.ErrStreamNotFound for a stream with no events.
func (s *CatalogService) readStream(ctx context.Context, tenantID, streamID string) ([]event.Event, error) {
	var all []event.Event
	from := int64(1)
	for {
		batch, err := s.store.ReadForward(ctx, tenantID, streamID, from, readPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < readPageSize {
			break
		}
		from = batch[len(batch)-1].Sequence + 1
	}
	if len(all) == 0 {
		return nil, storage.ErrStreamNotFound
	}
	return all, nil
}

// AddBook creates a new book stream.
func (s *CatalogService) AddBook(ctx context.Context, scope Scope, in aggregate.BookInput) (Receipt, error) {
	p, err := aggregate.NewBook(in)
	if err != nil {
		return Receipt{}, err
	}
	return s.create(ctx, scope, p)
}

// GetBook folds the book's stream into current state. The returned token
// matches the state's version for use on a subsequent conditional command.
func (s *CatalogService) GetBook(ctx context.Context, scope Scope, bookID string) (aggregate.BookState, string, error) {
	events, err := s.readStream(ctx, scope.TenantID, bookID)
	if err != nil {
		return aggregate.BookState{}, "", err
	}
	state, err := aggregate.FoldBook(bookID, events)
	if err != nil {
		return aggregate.BookState{}, "", err
	}
	return state, etag.Encode(state.Version), nil
}

// UpdateBook replaces the book's metadata.
func (s *CatalogService) UpdateBook(
	ctx context.Context,
	scope Scope,
	bookID, token string,
	in aggregate.BookInput,
) (Receipt, error) {
	state, _, err := s.GetBook(ctx, scope, bookID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Update(in)
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, bookID, token, p)
}

// SoftDeleteBook marks the book deleted. The stream and its history remain.
func (s *CatalogService) SoftDeleteBook(ctx context.Context, scope Scope, bookID, token string) (Receipt, error) {
	state, _, err := s.GetBook(ctx, scope, bookID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.SoftDelete()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, bookID, token, p)
}

// RestoreBook clears the book's deleted flag.
func (s *CatalogService) RestoreBook(ctx context.Context, scope Scope, bookID, token string) (Receipt, error) {
	state, _, err := s.GetBook(ctx, scope, bookID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Restore()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, bookID, token, p)
}

// AddAuthor creates a new author stream.
func (s *CatalogService) AddAuthor(ctx context.Context, scope Scope, in aggregate.AuthorInput) (Receipt, error) {
	p, err := aggregate.NewAuthor(in)
	if err != nil {
		return Receipt{}, err
	}
	return s.create(ctx, scope, p)
}

// GetAuthor folds the author's stream into current state.
func (s *CatalogService) GetAuthor(ctx context.Context, scope Scope, authorID string) (aggregate.AuthorState, string, error) {
	events, err := s.readStream(ctx, scope.TenantID, authorID)
	if err != nil {
		return aggregate.AuthorState{}, "", err
	}
	state, err := aggregate.FoldAuthor(authorID, events)
	if err != nil {
		return aggregate.AuthorState{}, "", err
	}
	return state, etag.Encode(state.Version), nil
}

// UpdateAuthor replaces the author's attributes.
func (s *CatalogService) UpdateAuthor(
	ctx context.Context,
	scope Scope,
	authorID, token string,
	in aggregate.AuthorInput,
) (Receipt, error) {
	state, _, err := s.GetAuthor(ctx, scope, authorID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Update(in)
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, authorID, token, p)
}

// SoftDeleteAuthor marks the author deleted.
func (s *CatalogService) SoftDeleteAuthor(ctx context.Context, scope Scope, authorID, token string) (Receipt, error) {
	state, _, err := s.GetAuthor(ctx, scope, authorID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.SoftDelete()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, authorID, token, p)
}

// RestoreAuthor clears the author's deleted flag.
func (s *CatalogService) RestoreAuthor(ctx context.Context, scope Scope, authorID, token string) (Receipt, error) {
	state, _, err := s.GetAuthor(ctx, scope, authorID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Restore()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, authorID, token, p)
}

// AddPublisher creates a new publisher stream.
func (s *CatalogService) AddPublisher(ctx context.Context, scope Scope, name string) (Receipt, error) {
	p, err := aggregate.NewPublisher(name)
	if err != nil {
		return Receipt{}, err
	}
	return s.create(ctx, scope, p)
}

// GetPublisher folds the publisher's stream into current state.
func (s *CatalogService) GetPublisher(ctx context.Context, scope Scope, publisherID string) (aggregate.PublisherState, string, error) {
	events, err := s.readStream(ctx, scope.TenantID, publisherID)
	if err != nil {
		return aggregate.PublisherState{}, "", err
	}
	state, err := aggregate.FoldPublisher(publisherID, events)
	if err != nil {
		return aggregate.PublisherState{}, "", err
	}
	return state, etag.Encode(state.Version), nil
}

// UpdatePublisher renames the publisher.
func (s *CatalogService) UpdatePublisher(ctx context.Context, scope Scope, publisherID, token, name string) (Receipt, error) {
	state, _, err := s.GetPublisher(ctx, scope, publisherID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Update(name)
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, publisherID, token, p)
}

// SoftDeletePublisher marks the publisher deleted.
func (s *CatalogService) SoftDeletePublisher(ctx context.Context, scope Scope, publisherID, token string) (Receipt, error) {
	state, _, err := s.GetPublisher(ctx, scope, publisherID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.SoftDelete()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, publisherID, token, p)
}

// RestorePublisher clears the publisher's deleted flag.
func (s *CatalogService) RestorePublisher(ctx context.Context, scope Scope, publisherID, token string) (Receipt, error) {
	state, _, err := s.GetPublisher(ctx, scope, publisherID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Restore()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, publisherID, token, p)
}

// AddCategory creates a new category stream.
func (s *CatalogService) AddCategory(ctx context.Context, scope Scope, name string) (Receipt, error) {
	p, err := aggregate.NewCategory(name)
	if err != nil {
		return Receipt{}, err
	}
	return s.create(ctx, scope, p)
}

// GetCategory folds the category's stream into current state.
func (s *CatalogService) GetCategory(ctx context.Context, scope Scope, categoryID string) (aggregate.CategoryState, string, error) {
	events, err := s.readStream(ctx, scope.TenantID, categoryID)
	if err != nil {
		return aggregate.CategoryState{}, "", err
	}
	state, err := aggregate.FoldCategory(categoryID, events)
	if err != nil {
		return aggregate.CategoryState{}, "", err
	}
	return state, etag.Encode(state.Version), nil
}

// UpdateCategory renames the category.
func (s *CatalogService) UpdateCategory(ctx context.Context, scope Scope, categoryID, token, name string) (Receipt, error) {
	state, _, err := s.GetCategory(ctx, scope, categoryID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Update(name)
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, categoryID, token, p)
}

// SoftDeleteCategory marks the category deleted.
func (s *CatalogService) SoftDeleteCategory(ctx context.Context, scope Scope, categoryID, token string) (Receipt, error) {
	state, _, err := s.GetCategory(ctx, scope, categoryID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.SoftDelete()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, categoryID, token, p)
}

// RestoreCategory clears the category's deleted flag.
func (s *CatalogService) RestoreCategory(ctx context.Context, scope Scope, categoryID, token string) (Receipt, error) {
	state, _, err := s.GetCategory(ctx, scope, categoryID)
	if err != nil {
		return Receipt{}, err
	}
	p, err := state.Restore()
	if err != nil {
		return Receipt{}, err
	}
	return s.mutate(ctx, scope, categoryID, token, p)
}
