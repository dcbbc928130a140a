package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/librarium-lab/librarium/internal/core/storage"
	"github.com/librarium-lab/librarium/internal/core/storage/memory"
	"github.com/librarium-lab/librarium/internal/projection"
)

func seedDocuments(t *testing.T, store *memory.Store) {
	t.Helper()
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	mustJSON := func(v interface{}) json.RawMessage {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		return raw
	}

	_, err := store.UpsertDocuments(context.Background(), []storage.ProjectionDocument{
		{TenantID: "t1", Kind: projection.KindBookSearch, DocID: "b1", UpdatedAt: now,
			Body: mustJSON(map[string]interface{}{
				"title": "The Dispossessed", "publisher_id": "p1",
				"author_ids": []string{"a1"},
			})},
		{TenantID: "t1", Kind: projection.KindBookSearch, DocID: "b2", UpdatedAt: now,
			Body: mustJSON(map[string]interface{}{
				"title": "Dune", "publisher_id": "p2",
				"author_ids": []string{"a2"},
			})},
		{TenantID: "t1", Kind: projection.KindBookSearch, DocID: "b3", UpdatedAt: now, Deleted: true,
			Body: mustJSON(map[string]interface{}{
				"title": "Withdrawn", "publisher_id": "p1",
				"author_ids": []string{"a1"},
			})},
		{TenantID: "t1", Kind: projection.KindAuthorList, DocID: "a1", UpdatedAt: now,
			Body: mustJSON(map[string]interface{}{"name": "Ursula K. Le Guin"})},
		{TenantID: "t1", Kind: projection.KindAuthorStats, DocID: "a1", UpdatedAt: now,
			Body: mustJSON(map[string]interface{}{
				"active_book_ids": []string{"b1"}, "active_book_count": 1,
			})},
	})
	require.NoError(t, err)
}

func TestQueryService_SearchBooks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedDocuments(t, store)
	q := NewQueryService(store)

	t.Run("equals filter excludes deleted by default", func(t *testing.T) {
		docs, err := q.SearchBooks(ctx, "t1", storage.DocumentQuery{
			FilterEquals: map[string]string{"publisher_id": "p1"},
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Equal(t, "b1", docs[0].DocID)
	})

	t.Run("contains filter with deleted included", func(t *testing.T) {
		docs, err := q.SearchBooks(ctx, "t1", storage.DocumentQuery{
			FilterContains: map[string]string{"author_ids": "a1"},
			IncludeDeleted: true,
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)
	})

	t.Run("sorted by title with limit", func(t *testing.T) {
		docs, err := q.SearchBooks(ctx, "t1", storage.DocumentQuery{
			SortField: "title",
			Limit:     1,
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		require.Equal(t, "b2", docs[0].DocID) // "Dune" sorts first
	})

	t.Run("unknown tenant sees nothing", func(t *testing.T) {
		docs, err := q.SearchBooks(ctx, "t2", storage.DocumentQuery{})
		require.NoError(t, err)
		require.Empty(t, docs)
	})
}

func TestQueryService_PointReads(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedDocuments(t, store)
	q := NewQueryService(store)

	doc, err := q.GetBookSearch(ctx, "t1", "b1")
	require.NoError(t, err)
	require.Equal(t, "b1", doc.DocID)

	stats, err := q.GetAuthorStats(ctx, "t1", "a1")
	require.NoError(t, err)
	var body struct {
		ActiveBookCount int `json:"active_book_count"`
	}
	require.NoError(t, json.Unmarshal(stats.Body, &body))
	require.Equal(t, 1, body.ActiveBookCount)

	_, err = q.GetPublisherStats(ctx, "t1", "p1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	authors, err := q.ListAuthors(ctx, "t1", storage.DocumentQuery{})
	require.NoError(t, err)
	require.Len(t, authors, 1)
}
