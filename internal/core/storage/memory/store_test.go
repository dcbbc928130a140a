package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

func newEvent(id string, t event.Type, p event.Payload) event.Event {
	return event.Event{
		ID:        id,
		Type:      t,
		Timestamp: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Payload:   p,
	}
}

func TestStore_AppendGuards(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	version, err := store.Append(ctx, "t1", "s1", storage.ExpectedVersionNone,
		[]event.Event{newEvent("e1", event.TypeCategoryAdded, &event.CategoryAdded{Name: "Fantasy"})})
	require.NoError(t, err)
	require.Equal(t, int64(1), version)

	// Creating the same stream twice fails.
	_, err = store.Append(ctx, "t1", "s1", storage.ExpectedVersionNone,
		[]event.Event{newEvent("e2", event.TypeCategoryAdded, &event.CategoryAdded{Name: "Fantasy"})})
	var exists *storage.StreamExistsError
	require.ErrorAs(t, err, &exists)

	// Stale expected version fails and leaves the stream untouched.
	_, err = store.Append(ctx, "t1", "s1", 2,
		[]event.Event{newEvent("e3", event.TypeCategoryUpdated, &event.CategoryUpdated{Name: "SF"})})
	var conflict *storage.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(1), conflict.ActualVersion)

	current, err := store.FetchVersion(ctx, "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, int64(1), current)

	// Matching expected version succeeds.
	version, err = store.Append(ctx, "t1", "s1", 1,
		[]event.Event{newEvent("e4", event.TypeCategoryUpdated, &event.CategoryUpdated{Name: "SF"})})
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
}

func TestStore_FeedOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Append(ctx, "t1", "a", storage.ExpectedVersionNone,
		[]event.Event{newEvent("e1", event.TypeAuthorAdded, &event.AuthorAdded{Name: "A"})})
	require.NoError(t, err)
	_, err = store.Append(ctx, "t2", "b", storage.ExpectedVersionNone,
		[]event.Event{newEvent("e2", event.TypeAuthorAdded, &event.AuthorAdded{Name: "B"})})
	require.NoError(t, err)
	_, err = store.Append(ctx, "t1", "a", storage.ExpectedVersionAny,
		[]event.Event{newEvent("e3", event.TypeAuthorUpdated, &event.AuthorUpdated{Name: "A2"})})
	require.NoError(t, err)

	feed, err := store.ReadAllAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, feed, 3)
	require.Equal(t, []string{"e1", "e2", "e3"}, []string{feed[0].ID, feed[1].ID, feed[2].ID})
	require.Equal(t, int64(1), feed[0].GlobalSeq)
	require.Equal(t, int64(3), feed[2].GlobalSeq)

	tail, err := store.ReadAllAfter(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, "e3", tail[0].ID)
}

func TestStore_FlushMonotonicCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	doc := storage.ProjectionDocument{
		TenantID: "t1", Kind: "book_search", DocID: "b1",
		Body: []byte(`{"title":"Dune"}`), UpdatedAt: time.Now().UTC(),
	}

	report, err := store.Flush(ctx, "book_search", []storage.ProjectionDocument{doc}, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"b1"}, report.Inserted)

	cursor, err := store.ReadCheckpoint(ctx, "book_search")
	require.NoError(t, err)
	require.Equal(t, int64(5), cursor)

	// Replayed batch with an older cursor is a no-op.
	stale := doc
	stale.Body = []byte(`{"title":"Changed"}`)
	report, err = store.Flush(ctx, "book_search", []storage.ProjectionDocument{stale}, 3)
	require.NoError(t, err)
	require.True(t, report.Empty())
	require.Equal(t, int64(5), report.Cursor)

	got, err := store.GetDocument(ctx, "t1", "book_search", "b1")
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"Dune"}`, string(got.Body))
}

func TestStore_QueryDocuments(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	docs := []storage.ProjectionDocument{
		{TenantID: "t1", Kind: "book_search", DocID: "b1",
			Body: []byte(`{"title":"Dune","publisher_id":"p1","author_ids":["a1","a2"]}`)},
		{TenantID: "t1", Kind: "book_search", DocID: "b2", Deleted: true,
			Body: []byte(`{"title":"Gone","publisher_id":"p1","author_ids":["a1"]}`)},
		{TenantID: "t1", Kind: "book_search", DocID: "b3",
			Body: []byte(`{"title":"Other","publisher_id":"p2","author_ids":["a3"]}`)},
		{TenantID: "t2", Kind: "book_search", DocID: "b4",
			Body: []byte(`{"title":"Foreign","publisher_id":"p1","author_ids":["a1"]}`)},
	}
	_, err := store.UpsertDocuments(ctx, docs)
	require.NoError(t, err)

	// Containment filter is tenant-scoped and excludes deleted by default.
	got, err := store.QueryDocuments(ctx, "t1", "book_search", storage.DocumentQuery{
		FilterContains: map[string]string{"author_ids": "a1"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b1", got[0].DocID)

	// IncludeDeleted widens the result.
	got, err = store.QueryDocuments(ctx, "t1", "book_search", storage.DocumentQuery{
		FilterContains: map[string]string{"author_ids": "a1"},
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Batched containment resolves several candidate values in one query.
	got, err = store.QueryDocuments(ctx, "t1", "book_search", storage.DocumentQuery{
		FilterContainsAny: map[string][]string{"author_ids": {"a2", "a3", "a9"}},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b1", got[0].DocID)
	require.Equal(t, "b3", got[1].DocID)

	// Equality filter plus sort.
	got, err = store.QueryDocuments(ctx, "t1", "book_search", storage.DocumentQuery{
		FilterEquals:   map[string]string{"publisher_id": "p1"},
		IncludeDeleted: true,
		SortField:      "title",
		SortDesc:       true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "b2", got[0].DocID) // "Gone" > "Dune"
}

func TestStore_ResetProjection(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Flush(ctx, "author_stats", []storage.ProjectionDocument{
		{TenantID: "t1", Kind: "author_stats", DocID: "a1", Body: []byte(`{}`)},
	}, 9)
	require.NoError(t, err)

	require.NoError(t, store.ResetProjection(ctx, "author_stats"))

	cursor, err := store.ReadCheckpoint(ctx, "author_stats")
	require.NoError(t, err)
	require.Zero(t, cursor)

	_, err = store.GetDocument(ctx, "t1", "author_stats", "a1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
