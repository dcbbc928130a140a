package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// Runner drives the registered projectors against the global event feed.
// Each kind advances independently: its own checkpoint, its own goroutine,
// its own flushes. A slow or failing projector never holds the others back.
type Runner struct {
	events       storage.EventStore
	store        storage.ProjectionStore
	projectors   []Projector
	listeners    []CommitListener
	pollInterval time.Duration
	batchSize    int
}

// RunnerConfig tunes the polling loop.
type RunnerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 256
)

// NewRunner creates a Runner over the given stores and projectors.
func NewRunner(
	events storage.EventStore,
	store storage.ProjectionStore,
	cfg RunnerConfig,
	projectors ...Projector,
) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Runner{
		events:       events,
		store:        store,
		projectors:   projectors,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
}

// AddListener registers a commit listener. Listeners run synchronously
// after each durable flush, in registration order.
func (r *Runner) AddListener(l CommitListener) {
	r.listeners = append(r.listeners, l)
}

// Run drives all projectors until the context is canceled. Always returns a
// non-nil error (ctx.Err() on clean shutdown).
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.projectors {
		g.Go(func() error {
			return r.runKind(ctx, p)
		})
	}
	return g.Wait()
}

func (r *Runner) runKind(ctx context.Context, p Projector) error {
	slog.Info("[Projection] Projector started", "kind", p.Kind())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if err := r.drain(ctx, p); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient store errors are retried on the next tick; the
			// checkpoint guarantees no batch is lost or double-applied.
			slog.Error("[Projection] Drain failed, will retry",
				"kind", p.Kind(), "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("[Projection] Projector stopped", "kind", p.Kind())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain processes feed batches for one kind until it is caught up.
func (r *Runner) drain(ctx context.Context, p Projector) error {
	for {
		cursor, err := r.store.ReadCheckpoint(ctx, p.Kind())
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}

		events, err := r.events.ReadAllAfter(ctx, cursor, r.batchSize)
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		docs, err := r.projectBatch(ctx, p, events)
		if err != nil {
			return fmt.Errorf("project batch: %w", err)
		}

		newCursor := events[len(events)-1].GlobalSeq
		report, err := r.store.Flush(ctx, p.Kind(), docs, newCursor)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}

		r.notify(ctx, report)

		if len(events) < r.batchSize {
			return nil
		}
	}
}

// projectBatch runs one feed batch through the projector and returns the
// changed documents in deterministic order. Later events in the batch see
// the documents written by earlier ones through the overlay view.
func (r *Runner) projectBatch(
	ctx context.Context,
	p Projector,
	events []event.Event,
) ([]storage.ProjectionDocument, error) {
	view := newBatchView(r.store)

	handled := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if !p.Handles(evt.Type) {
			continue
		}
		if evt.Payload == nil {
			// Undecodable payload surfaced by the store. The event is a
			// committed fact we cannot interpret; skipping it beats wedging
			// the whole kind.
			slog.Warn("[Projection] Skipping event without payload",
				"kind", p.Kind(),
				"stream_id", evt.StreamID,
				"sequence", evt.Sequence,
				"type", evt.Type)
			continue
		}
		handled = append(handled, evt)
	}

	switch projector := p.(type) {
	case GroupedProjector:
		routes, err := projector.Group(ctx, view, handled)
		if err != nil {
			return nil, err
		}
		for _, route := range routes {
			docs, err := projector.Project(ctx, view, route)
			if err != nil {
				return nil, err
			}
			view.put(docs)
		}
	case StreamProjector:
		for _, evt := range handled {
			docs, err := projector.Project(ctx, view, evt)
			if err != nil {
				return nil, err
			}
			view.put(docs)
		}
	default:
		return nil, fmt.Errorf("projector %s implements neither StreamProjector nor GroupedProjector", p.Kind())
	}

	return view.changed(), nil
}

func (r *Runner) notify(ctx context.Context, report storage.CommitReport) {
	if report.Empty() {
		return
	}
	for _, l := range r.listeners {
		l.OnProjectionCommit(ctx, report)
	}
}

// CatchUp synchronously drains every projector to the head of the feed.
func (r *Runner) CatchUp(ctx context.Context) error {
	for _, p := range r.projectors {
		if err := r.drain(ctx, p); err != nil {
			return fmt.Errorf("catch up %s: %w", p.Kind(), err)
		}
	}
	return nil
}

// Rebuild wipes one kind's documents and checkpoint, then synchronously
// replays the feed from the beginning until the kind has caught up. The
// event log is untouched and appends continue during the rebuild; the kind
// simply reconverges.
func (r *Runner) Rebuild(ctx context.Context, kind storage.Kind) error {
	var target Projector
	for _, p := range r.projectors {
		if p.Kind() == kind {
			target = p
			break
		}
	}
	if target == nil {
		return fmt.Errorf("rebuild: unknown projection kind %q", kind)
	}

	slog.Info("[Projection] Rebuild started", "kind", kind)
	start := time.Now()

	if err := r.store.ResetProjection(ctx, kind); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	if err := r.drain(ctx, target); err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	slog.Info("[Projection] Rebuild finished", "kind", kind, "took", time.Since(start))
	return nil
}

// batchView overlays a batch's pending writes on the durable document
// store, giving projectors read-your-writes within the batch. Point reads
// consult the overlay; QueryDocuments intentionally passes through to
// durable state, since the filtered queries feed seeding and repair, both
// of which the reconciler also covers.
type batchView struct {
	base    storage.DocumentReader
	pending map[viewKey]storage.ProjectionDocument
	order   []viewKey
}

type viewKey struct {
	tenantID string
	kind     storage.Kind
	docID    string
}

func newBatchView(base storage.DocumentReader) *batchView {
	return &batchView{
		base:    base,
		pending: make(map[viewKey]storage.ProjectionDocument),
	}
}

func (v *batchView) put(docs []storage.ProjectionDocument) {
	for _, doc := range docs {
		key := viewKey{tenantID: doc.TenantID, kind: doc.Kind, docID: doc.DocID}
		if _, seen := v.pending[key]; !seen {
			v.order = append(v.order, key)
		}
		v.pending[key] = doc
	}
}

// changed returns the batch's final documents in first-write order.
func (v *batchView) changed() []storage.ProjectionDocument {
	docs := make([]storage.ProjectionDocument, 0, len(v.order))
	for _, key := range v.order {
		docs = append(docs, v.pending[key])
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].TenantID != docs[j].TenantID {
			return docs[i].TenantID < docs[j].TenantID
		}
		return docs[i].DocID < docs[j].DocID
	})
	return docs
}

// GetDocument implements storage.DocumentReader.
func (v *batchView) GetDocument(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	docID string,
) (storage.ProjectionDocument, error) {
	if doc, ok := v.pending[viewKey{tenantID: tenantID, kind: kind, docID: docID}]; ok {
		return doc, nil
	}
	return v.base.GetDocument(ctx, tenantID, kind, docID)
}

// GetDocuments implements storage.DocumentReader.
func (v *batchView) GetDocuments(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	docIDs []string,
) (map[string]storage.ProjectionDocument, error) {
	missing := make([]string, 0, len(docIDs))
	result := make(map[string]storage.ProjectionDocument, len(docIDs))
	for _, id := range docIDs {
		if doc, ok := v.pending[viewKey{tenantID: tenantID, kind: kind, docID: id}]; ok {
			result[id] = doc
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fromBase, err := v.base.GetDocuments(ctx, tenantID, kind, missing)
		if err != nil {
			return nil, err
		}
		for id, doc := range fromBase {
			result[id] = doc
		}
	}
	return result, nil
}

// QueryDocuments implements storage.DocumentReader.
func (v *batchView) QueryDocuments(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	return v.base.QueryDocuments(ctx, tenantID, kind, query)
}
