package service

import (
	"context"

	"github.com/librarium-lab/librarium/internal/core/storage"
	"github.com/librarium-lab/librarium/internal/projection"
)

// QueryService reads projection documents. Results are eventually
// consistent with the event log; callers needing read-your-writes fold the
// stream through CatalogService instead.
type QueryService struct {
	docs storage.DocumentReader
}

// NewQueryService creates a QueryService over the document reader.
func NewQueryService(docs storage.DocumentReader) *QueryService {
	return &QueryService{docs: docs}
}

// SearchBooks queries the book_search documents.
func (q *QueryService) SearchBooks(
	ctx context.Context,
	tenantID string,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	return q.docs.QueryDocuments(ctx, tenantID, projection.KindBookSearch, query)
}

// GetBookSearch returns one book's search document or storage.ErrNotFound.
func (q *QueryService) GetBookSearch(ctx context.Context, tenantID, bookID string) (storage.ProjectionDocument, error) {
	return q.docs.GetDocument(ctx, tenantID, projection.KindBookSearch, bookID)
}

// ListAuthors queries the author_list documents.
func (q *QueryService) ListAuthors(
	ctx context.Context,
	tenantID string,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	return q.docs.QueryDocuments(ctx, tenantID, projection.KindAuthorList, query)
}

// ListPublishers queries the publisher_list documents.
func (q *QueryService) ListPublishers(
	ctx context.Context,
	tenantID string,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	return q.docs.QueryDocuments(ctx, tenantID, projection.KindPublisherList, query)
}

// ListCategories queries the category_list documents.
func (q *QueryService) ListCategories(
	ctx context.Context,
	tenantID string,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	return q.docs.QueryDocuments(ctx, tenantID, projection.KindCategoryList, query)
}

// GetAuthorStats returns one author's stats document or storage.ErrNotFound.
func (q *QueryService) GetAuthorStats(ctx context.Context, tenantID, authorID string) (storage.ProjectionDocument, error) {
	return q.docs.GetDocument(ctx, tenantID, projection.KindAuthorStats, authorID)
}

// GetPublisherStats returns one publisher's stats document or storage.ErrNotFound.
func (q *QueryService) GetPublisherStats(ctx context.Context, tenantID, publisherID string) (storage.ProjectionDocument, error) {
	return q.docs.GetDocument(ctx, tenantID, projection.KindPublisherStats, publisherID)
}

// GetCategoryStats returns one category's stats document or storage.ErrNotFound.
func (q *QueryService) GetCategoryStats(ctx context.Context, tenantID, categoryID string) (storage.ProjectionDocument, error) {
	return q.docs.GetDocument(ctx, tenantID, projection.KindCategoryStats, categoryID)
}
