package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
	"github.com/librarium-lab/librarium/internal/core/storage/memory"
)

type fixture struct {
	store  *memory.Store
	runner *Runner
	clock  time.Time
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	runner := NewRunner(store, store,
		RunnerConfig{BatchSize: 4},
		NewAuthorListProjector(),
		NewPublisherListProjector(),
		NewCategoryListProjector(),
		NewBookSearchProjector(),
		NewAuthorStatsProjector(),
		NewPublisherStatsProjector(),
		NewCategoryStatsProjector(),
	)
	return &fixture{
		store:  store,
		runner: runner,
		clock:  time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
}

// append writes one event to the stream, creating it when expected is
// ExpectedVersionNone.
func (f *fixture) append(t *testing.T, streamID string, expected int64, p event.Payload) {
	t.Helper()
	f.seq++
	f.clock = f.clock.Add(time.Minute)
	_, err := f.store.Append(context.Background(), "t1", streamID, expected, []event.Event{{
		ID:        fmt.Sprintf("%s-%d", streamID, f.seq),
		Type:      p.EventType(),
		Timestamp: f.clock,
		Payload:   p,
	}})
	require.NoError(t, err)
}

func (f *fixture) catchUp(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runner.CatchUp(context.Background()))
}

func (f *fixture) bookBody(t *testing.T, bookID string) (storage.ProjectionDocument, bookSearchBody) {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), "t1", KindBookSearch, bookID)
	require.NoError(t, err)
	var body bookSearchBody
	require.NoError(t, json.Unmarshal(doc.Body, &body))
	return doc, body
}

func (f *fixture) stats(t *testing.T, kind storage.Kind, ownerID string) statsBody {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), "t1", kind, ownerID)
	require.NoError(t, err)
	var body statsBody
	require.NoError(t, json.Unmarshal(doc.Body, &body))
	return body
}

func seedCatalog(t *testing.T, f *fixture) {
	f.append(t, "p1", storage.ExpectedVersionNone, &event.PublisherAdded{Name: "Tor Books"})
	f.append(t, "a1", storage.ExpectedVersionNone, &event.AuthorAdded{Name: "Ursula K. Le Guin"})
	f.append(t, "a2", storage.ExpectedVersionNone, &event.AuthorAdded{Name: "Frank Herbert"})
	f.append(t, "c1", storage.ExpectedVersionNone, &event.CategoryAdded{Name: "Science Fiction"})
	f.append(t, "b1", storage.ExpectedVersionNone, &event.BookAdded{
		Title:         "The Dispossessed",
		ISBN:          "978-0061054884",
		Price:         decimal.RequireFromString("14.99"),
		PublishedYear: 1974,
		PublisherID:   "p1",
		AuthorIDs:     []string{"a1", "a2"},
		CategoryIDs:   []string{"c1"},
	})
}

func TestRunner_ProjectsCatalog(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.catchUp(t)

	doc, body := f.bookBody(t, "b1")
	require.Equal(t, int64(1), doc.Version)
	require.False(t, doc.Deleted)
	require.Equal(t, "The Dispossessed", body.Title)
	require.Equal(t, "Tor Books", body.PublisherName)
	require.Equal(t, []string{"a1", "a2"}, body.AuthorIDs)
	require.Equal(t, []string{"Ursula K. Le Guin", "Frank Herbert"}, body.AuthorNames)

	require.Equal(t, statsBody{ActiveBookIDs: []string{"b1"}, ActiveBookCount: 1},
		f.stats(t, KindAuthorStats, "a1"))
	require.Equal(t, statsBody{ActiveBookIDs: []string{"b1"}, ActiveBookCount: 1},
		f.stats(t, KindAuthorStats, "a2"))
	require.Equal(t, statsBody{ActiveBookIDs: []string{"b1"}, ActiveBookCount: 1},
		f.stats(t, KindPublisherStats, "p1"))
	require.Equal(t, statsBody{ActiveBookIDs: []string{"b1"}, ActiveBookCount: 1},
		f.stats(t, KindCategoryStats, "c1"))
}

func TestRunner_UpdateRoutesBySymmetricDifference(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.catchUp(t)

	// a1 leaves, a2 stays, ghost never existed as an author stream.
	f.append(t, "b1", storage.ExpectedVersionAny, &event.BookUpdated{
		Title:       "The Dispossessed",
		Price:       decimal.RequireFromString("14.99"),
		PublisherID: "p1",
		AuthorIDs:   []string{"a2", "ghost"},
		CategoryIDs: []string{"c1"},
	})
	f.catchUp(t)

	require.Equal(t, 0, f.stats(t, KindAuthorStats, "a1").ActiveBookCount)
	require.Equal(t, 1, f.stats(t, KindAuthorStats, "a2").ActiveBookCount)
	require.Equal(t, 1, f.stats(t, KindPublisherStats, "p1").ActiveBookCount)

	// Routes to owners without a stats document are dropped.
	_, err := f.store.GetDocument(context.Background(), "t1", KindAuthorStats, "ghost")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunner_SoftDeleteAndRestoreBook(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.catchUp(t)

	f.append(t, "b1", storage.ExpectedVersionAny, &event.BookSoftDeleted{})
	f.catchUp(t)

	doc, _ := f.bookBody(t, "b1")
	require.True(t, doc.Deleted)
	require.False(t, doc.DeletedAt.IsZero())
	require.Equal(t, 0, f.stats(t, KindAuthorStats, "a1").ActiveBookCount)
	require.Equal(t, 0, f.stats(t, KindPublisherStats, "p1").ActiveBookCount)
	require.Equal(t, 0, f.stats(t, KindCategoryStats, "c1").ActiveBookCount)

	f.append(t, "b1", storage.ExpectedVersionAny, &event.BookRestored{})
	f.catchUp(t)

	restored, restoredBody := f.bookBody(t, "b1")
	require.False(t, restored.Deleted)
	require.True(t, restored.DeletedAt.IsZero())
	require.Equal(t, "The Dispossessed", restoredBody.Title)
	require.Equal(t, 1, f.stats(t, KindAuthorStats, "a1").ActiveBookCount)
	require.Equal(t, 1, f.stats(t, KindCategoryStats, "c1").ActiveBookCount)
}

func TestRunner_RenameRefreshesDenormalizedCopies(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.catchUp(t)

	f.append(t, "p1", storage.ExpectedVersionAny, &event.PublisherUpdated{Name: "Tor"})
	f.append(t, "a2", storage.ExpectedVersionAny, &event.AuthorUpdated{Name: "F. Herbert"})
	f.catchUp(t)

	_, body := f.bookBody(t, "b1")
	require.Equal(t, "Tor", body.PublisherName)
	require.Equal(t, []string{"Ursula K. Le Guin", "F. Herbert"}, body.AuthorNames)
}

func TestRunner_OwnerAddedAfterBookSeedsStats(t *testing.T) {
	f := newFixture(t)

	// The book references an author stream that does not exist yet.
	f.append(t, "b1", storage.ExpectedVersionNone, &event.BookAdded{
		Title:     "Orphaned",
		Price:     decimal.Zero,
		AuthorIDs: []string{"late-author"},
	})
	f.catchUp(t)

	_, err := f.store.GetDocument(context.Background(), "t1", KindAuthorStats, "late-author")
	require.ErrorIs(t, err, storage.ErrNotFound)

	f.append(t, "late-author", storage.ExpectedVersionNone, &event.AuthorAdded{Name: "Late"})
	f.catchUp(t)

	require.Equal(t, statsBody{ActiveBookIDs: []string{"b1"}, ActiveBookCount: 1},
		f.stats(t, KindAuthorStats, "late-author"))
}

func TestRunner_RebuildConvergesToSameDocuments(t *testing.T) {
	f := newFixture(t)
	seedCatalog(t, f)
	f.append(t, "b1", storage.ExpectedVersionAny, &event.BookUpdated{
		Title:       "The Dispossessed (Anniversary)",
		Price:       decimal.RequireFromString("19.99"),
		PublisherID: "p1",
		AuthorIDs:   []string{"a1"},
		CategoryIDs: []string{"c1"},
	})
	f.append(t, "b1", storage.ExpectedVersionAny, &event.BookSoftDeleted{})
	f.catchUp(t)

	ctx := context.Background()
	for _, kind := range AllKinds() {
		incremental, err := f.store.ListDocuments(ctx, kind, "", "", 100)
		require.NoError(t, err)

		require.NoError(t, f.runner.Rebuild(ctx, kind))

		rebuilt, err := f.store.ListDocuments(ctx, kind, "", "", 100)
		require.NoError(t, err)
		require.Len(t, rebuilt, len(incremental), "kind %s", kind)
		for i := range incremental {
			require.Equal(t, incremental[i].DocID, rebuilt[i].DocID, "kind %s", kind)
			require.Equal(t, incremental[i].Deleted, rebuilt[i].Deleted, "kind %s doc %s", kind, incremental[i].DocID)
			require.JSONEq(t, string(incremental[i].Body), string(rebuilt[i].Body), "kind %s doc %s", kind, incremental[i].DocID)
		}
	}
}

func TestRunner_UnhandledEventsAdvanceCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.append(t, "p1", storage.ExpectedVersionNone, &event.PublisherAdded{Name: "Tor Books"})
	f.catchUp(t)

	// category_list handles no publisher events, yet its cursor is at head.
	cursor, err := f.store.ReadCheckpoint(context.Background(), KindCategoryList)
	require.NoError(t, err)
	require.Equal(t, int64(1), cursor)

	_, err = f.store.GetDocument(context.Background(), "t1", KindCategoryList, "p1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRunner_CommitListenerObservesDurableCommits(t *testing.T) {
	f := newFixture(t)

	var reports []storage.CommitReport
	f.runner.AddListener(listenerFunc(func(report storage.CommitReport) {
		reports = append(reports, report)
	}))

	seedCatalog(t, f)
	f.catchUp(t)

	require.NotEmpty(t, reports)
	byKind := make(map[storage.Kind][]storage.CommitReport)
	for _, report := range reports {
		require.False(t, report.Empty())
		byKind[report.Kind] = append(byKind[report.Kind], report)
	}
	require.Contains(t, byKind, KindBookSearch)
	require.Contains(t, byKind, KindAuthorStats)

	var inserted []string
	for _, report := range byKind[KindBookSearch] {
		inserted = append(inserted, report.Inserted...)
	}
	require.Contains(t, inserted, "b1")
}

type listenerFunc func(report storage.CommitReport)

func (f listenerFunc) OnProjectionCommit(_ context.Context, report storage.CommitReport) {
	f(report)
}
