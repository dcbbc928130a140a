package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/librarium-lab/librarium/internal/core/storage"
)

// Reconciler periodically re-derives recomputable documents from current
// state and repairs any that drifted, typically stats documents whose
// removals were skipped because prior book state was missing at projection
// time. It writes outside the checkpoint, so it never moves any cursor.
type Reconciler struct {
	store     storage.ProjectionStore
	targets   []reconcileTarget
	listeners []CommitListener
	interval  time.Duration
	pageSize  int
}

type reconcileTarget struct {
	kind storage.Kind
	rec  Recomputable
}

const (
	defaultReconcileInterval = 5 * time.Minute
	reconcilePageSize        = 200
)

// NewReconciler creates a Reconciler over the projectors that support
// recomputation. Projectors that do not are silently ignored.
func NewReconciler(store storage.ProjectionStore, interval time.Duration, projectors ...Projector) *Reconciler {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	r := &Reconciler{
		store:    store,
		interval: interval,
		pageSize: reconcilePageSize,
	}
	for _, p := range projectors {
		if rec, ok := p.(Recomputable); ok {
			r.targets = append(r.targets, reconcileTarget{kind: p.Kind(), rec: rec})
		}
	}
	return r
}

// AddListener registers a commit listener for repair writes.
func (r *Reconciler) AddListener(l CommitListener) {
	r.listeners = append(r.listeners, l)
}

// Run sweeps on the configured interval until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	slog.Info("[Reconciler] Started",
		"interval", r.interval,
		"kinds", len(r.targets))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("[Reconciler] Stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("[Reconciler] Sweep failed, will retry", "error", err)
			}
		}
	}
}

// Sweep runs one full reconciliation pass over every recomputable kind.
func (r *Reconciler) Sweep(ctx context.Context) error {
	for _, target := range r.targets {
		if err := r.sweepKind(ctx, target); err != nil {
			return fmt.Errorf("reconcile %s: %w", target.kind, err)
		}
	}
	return nil
}

func (r *Reconciler) sweepKind(ctx context.Context, target reconcileTarget) error {
	var (
		afterTenantID string
		afterDocID    string
		repaired      int
	)

	for {
		docs, err := r.store.ListDocuments(ctx, target.kind, afterTenantID, afterDocID, r.pageSize)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}

		var dirty []storage.ProjectionDocument
		for _, doc := range docs {
			if doc.Deleted {
				continue
			}
			fresh, changed, err := target.rec.Recompute(ctx, r.store, doc)
			if err != nil {
				return err
			}
			if changed {
				dirty = append(dirty, fresh)
			}
		}

		if len(dirty) > 0 {
			report, err := r.store.UpsertDocuments(ctx, dirty)
			if err != nil {
				return err
			}
			repaired += len(dirty)
			for _, l := range r.listeners {
				l.OnProjectionCommit(ctx, report)
			}
		}

		last := docs[len(docs)-1]
		afterTenantID, afterDocID = last.TenantID, last.DocID
		if len(docs) < r.pageSize {
			break
		}
	}

	if repaired > 0 {
		slog.Warn("[Reconciler] Repaired drifted documents",
			"kind", target.kind,
			"count", repaired)
	}
	return nil
}
