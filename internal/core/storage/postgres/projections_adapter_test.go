package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/librarium-lab/librarium/internal/core/storage"
)

func TestProjectionsAdapter_Flush(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	doc := storage.ProjectionDocument{
		TenantID:  "tenant-1",
		Kind:      "book_search",
		DocID:     "book-1",
		Version:   1,
		Body:      []byte(`{"title":"Dune"}`),
		UpdatedAt: now,
	}

	t.Run("upserts and advances the checkpoint atomically", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(querySelectCheckpointForUpdate)).
			WithArgs("book_search").
			WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(10)))
		mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertDocument)).WillBeClosed()
		mock.ExpectQuery(regexp.QuoteMeta(queryUpsertDocument)).
			WithArgs("tenant-1", "book_search", "book-1", int64(1), false,
				sql.NullTime{}, []byte(`{"title":"Dune"}`), now).
			WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
		mock.ExpectExec(regexp.QuoteMeta(queryUpdateCheckpoint)).
			WithArgs(int64(15), sqlmock.AnyArg(), "book_search").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		adapter := NewProjectionsAdapter(db)
		report, err := adapter.Flush(context.Background(), "book_search", []storage.ProjectionDocument{doc}, 15)
		require.NoError(t, err)
		require.Equal(t, int64(15), report.Cursor)
		require.Equal(t, []string{"book-1"}, report.Inserted)
		require.Empty(t, report.Updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale cursor skips the batch", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(querySelectCheckpointForUpdate)).
			WithArgs("book_search").
			WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(20)))
		mock.ExpectRollback()

		adapter := NewProjectionsAdapter(db)
		report, err := adapter.Flush(context.Background(), "book_search", []storage.ProjectionDocument{doc}, 15)
		require.NoError(t, err)
		require.Equal(t, int64(20), report.Cursor)
		require.True(t, report.Empty())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("initializes a missing checkpoint row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(querySelectCheckpointForUpdate)).
			WithArgs("book_search").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec(regexp.QuoteMeta(queryInitCheckpointRow)).
			WithArgs("book_search", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta(querySelectCheckpointForUpdate)).
			WithArgs("book_search").
			WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(0)))
		mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertDocument)).WillBeClosed()
		mock.ExpectQuery(regexp.QuoteMeta(queryUpsertDocument)).
			WithArgs("tenant-1", "book_search", "book-1", int64(1), false,
				sql.NullTime{}, []byte(`{"title":"Dune"}`), now).
			WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta(queryUpdateCheckpoint)).
			WithArgs(int64(1), sqlmock.AnyArg(), "book_search").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		adapter := NewProjectionsAdapter(db)
		report, err := adapter.Flush(context.Background(), "book_search", []storage.ProjectionDocument{doc}, 1)
		require.NoError(t, err)
		require.Equal(t, []string{"book-1"}, report.Updated)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("kind mismatch aborts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(querySelectCheckpointForUpdate)).
			WithArgs("author_list").
			WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(0)))
		mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertDocument)).WillBeClosed()
		mock.ExpectRollback()

		adapter := NewProjectionsAdapter(db)
		_, err = adapter.Flush(context.Background(), "author_list", []storage.ProjectionDocument{doc}, 5)
		require.Error(t, err)
		require.ErrorContains(t, err, "document kind mismatch")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestProjectionsAdapter_GetDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetDocument)).
		WithArgs("tenant-1", "book_search", "book-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns()).
			AddRow("tenant-1", "book_search", "book-1", int64(3), false, nil,
				[]byte(`{"title":"Dune"}`), now))

	adapter := NewProjectionsAdapter(db)
	doc, err := adapter.GetDocument(context.Background(), "tenant-1", "book_search", "book-1")
	require.NoError(t, err)
	require.Equal(t, storage.Kind("book_search"), doc.Kind)
	require.Equal(t, int64(3), doc.Version)
	require.JSONEq(t, `{"title":"Dune"}`, string(doc.Body))

	mock.ExpectQuery(regexp.QuoteMeta(queryGetDocument)).
		WithArgs("tenant-1", "book_search", "book-missing").
		WillReturnError(sql.ErrNoRows)

	_, err = adapter.GetDocument(context.Background(), "tenant-1", "book_search", "book-missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectionsAdapter_ReadCheckpoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryReadCheckpoint)).
		WithArgs("book_search").
		WillReturnRows(sqlmock.NewRows([]string{"cursor"}).AddRow(int64(42)))

	adapter := NewProjectionsAdapter(db)
	cursor, err := adapter.ReadCheckpoint(context.Background(), "book_search")
	require.NoError(t, err)
	require.Equal(t, int64(42), cursor)

	// A kind that never flushed replays from the beginning.
	mock.ExpectQuery(regexp.QuoteMeta(queryReadCheckpoint)).
		WithArgs("author_stats").
		WillReturnError(sql.ErrNoRows)

	cursor, err = adapter.ReadCheckpoint(context.Background(), "author_stats")
	require.NoError(t, err)
	require.Zero(t, cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectionsAdapter_ResetProjection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryDeleteDocumentsOfKind)).
		WithArgs("author_stats").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta(queryResetCheckpoint)).
		WithArgs("author_stats", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	adapter := NewProjectionsAdapter(db)
	require.NoError(t, adapter.ResetProjection(context.Background(), "author_stats"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectionsAdapter_QueryDocuments_RejectsBadFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewProjectionsAdapter(db)

	_, err = adapter.QueryDocuments(context.Background(), "tenant-1", "book_search", storage.DocumentQuery{
		FilterEquals: map[string]string{"title'; DROP TABLE events; --": "x"},
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid filter field")

	_, err = adapter.QueryDocuments(context.Background(), "tenant-1", "book_search", storage.DocumentQuery{
		FilterContainsAny: map[string][]string{"author_ids; --": {"a1"}},
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid filter field")

	_, err = adapter.QueryDocuments(context.Background(), "tenant-1", "book_search", storage.DocumentQuery{
		SortField: "Title)",
	})
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid sort field")
}

func TestProjectionsAdapter_QueryDocuments_BatchedContainment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`body->'active_book_ids' ?| $3`)).
		WithArgs("tenant-1", "author_stats", pq.Array([]string{"b1", "b2"})).
		WillReturnRows(sqlmock.NewRows(documentRowColumns()).
			AddRow("tenant-1", "author_stats", "a1", int64(1), false, nil,
				[]byte(`{"active_book_ids":["b1"],"active_book_count":1}`), now))

	adapter := NewProjectionsAdapter(db)
	docs, err := adapter.QueryDocuments(context.Background(), "tenant-1", "author_stats", storage.DocumentQuery{
		FilterContainsAny: map[string][]string{"active_book_ids": {"b1", "b2"}},
		IncludeDeleted:    true,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "a1", docs[0].DocID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func documentRowColumns() []string {
	return []string{
		"tenant_id",
		"kind",
		"doc_id",
		"version",
		"deleted",
		"deleted_at",
		"body",
		"updated_at",
	}
}
