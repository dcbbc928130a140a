package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

// ProjectionsAdapter implements storage.ProjectionStore using PostgreSQL.
// Document upserts and the per-kind checkpoint advance happen in a single
// transaction, so a crash between them cannot split a batch.
type ProjectionsAdapter struct {
	db *sql.DB
}

// NewProjectionsAdapter creates a ProjectionsAdapter sharing the given connection.
func NewProjectionsAdapter(db *sql.DB) *ProjectionsAdapter {
	return &ProjectionsAdapter{db: db}
}

// GetDocument returns one projection document or storage.ErrNotFound.
func (a *ProjectionsAdapter) GetDocument(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	docID string,
) (storage.ProjectionDocument, error) {
	row := a.db.QueryRowContext(ctx, queryGetDocument, tenantID, string(kind), docID)
	doc, err := scanDocumentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProjectionDocument{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.ProjectionDocument{}, err
	}
	return doc, nil
}

// GetDocuments batch-loads documents by id in one round trip. Missing ids
// are simply absent from the result map.
func (a *ProjectionsAdapter) GetDocuments(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	docIDs []string,
) (map[string]storage.ProjectionDocument, error) {
	result := make(map[string]storage.ProjectionDocument, len(docIDs))
	if len(docIDs) == 0 {
		return result, nil
	}

	rows, err := a.db.QueryContext(ctx, queryGetDocuments, tenantID, string(kind), pq.Array(docIDs))
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	defer rows.Close()

	docs, err := collectDocumentRows(rows)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		result[doc.DocID] = doc
	}
	return result, nil
}

var bodyFieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// QueryDocuments runs a filtered, sorted, paged query over one kind's
// documents within one tenant. Filter and sort fields address Body JSON keys.
func (a *ProjectionsAdapter) QueryDocuments(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT tenant_id, kind, doc_id, version, deleted, deleted_at, body, updated_at
		FROM projection_documents
		WHERE tenant_id = $1 AND kind = $2`)
	args := []interface{}{tenantID, string(kind)}

	if !query.IncludeDeleted {
		sb.WriteString(" AND deleted = FALSE")
	}

	for _, field := range sortedKeys(query.FilterEquals) {
		if !bodyFieldPattern.MatchString(field) {
			return nil, fmt.Errorf("query documents: invalid filter field %q", field)
		}
		args = append(args, query.FilterEquals[field])
		fmt.Fprintf(&sb, " AND body->>'%s' = $%d", field, len(args))
	}

	for _, field := range sortedKeys(query.FilterContains) {
		if !bodyFieldPattern.MatchString(field) {
			return nil, fmt.Errorf("query documents: invalid filter field %q", field)
		}
		args = append(args, query.FilterContains[field])
		fmt.Fprintf(&sb, " AND body->'%s' ? $%d", field, len(args))
	}

	for _, field := range sortedSliceKeys(query.FilterContainsAny) {
		if !bodyFieldPattern.MatchString(field) {
			return nil, fmt.Errorf("query documents: invalid filter field %q", field)
		}
		args = append(args, pq.Array(query.FilterContainsAny[field]))
		fmt.Fprintf(&sb, " AND body->'%s' ?| $%d", field, len(args))
	}

	switch {
	case query.SortField == "":
		sb.WriteString(" ORDER BY doc_id ASC")
	case bodyFieldPattern.MatchString(query.SortField):
		direction := "ASC"
		if query.SortDesc {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY body->>'%s' %s, doc_id ASC", query.SortField, direction)
	default:
		return nil, fmt.Errorf("query documents: invalid sort field %q", query.SortField)
	}

	if query.Limit > 0 {
		args = append(args, query.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if query.Offset > 0 {
		args = append(args, query.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := a.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	return collectDocumentRows(rows)
}

// Flush upserts the batch and advances the kind's checkpoint cursor in one
// transaction. Stale flushes (cursor <= durable cursor) are skipped so an
// out-of-order retry can never rewind durable state.
func (a *ProjectionsAdapter) Flush(
	ctx context.Context,
	kind storage.Kind,
	docs []storage.ProjectionDocument,
	cursor int64,
) (storage.CommitReport, error) {
	report := storage.CommitReport{Kind: kind, Cursor: cursor}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("projection flush: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	durableCursor, err := lockCheckpoint(ctx, tx, kind)
	if err != nil {
		return report, err
	}

	if cursor <= durableCursor {
		slog.Warn("[ProjectionsAdapter] Skipping stale/no-op flush",
			"kind", kind,
			"cursor", cursor,
			"durable_cursor", durableCursor,
			"documents", len(docs))
		report.Cursor = durableCursor
		return report, nil
	}

	upsertStmt, err := tx.PrepareContext(ctx, queryUpsertDocument)
	if err != nil {
		return report, fmt.Errorf("projection flush: prepare upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, doc := range docs {
		if doc.Kind != kind {
			return report, fmt.Errorf("projection flush: document kind mismatch: expected %s, got %s for %s",
				kind, doc.Kind, doc.DocID)
		}

		var inserted bool
		err := upsertStmt.QueryRowContext(ctx,
			doc.TenantID,
			string(doc.Kind),
			doc.DocID,
			doc.Version,
			doc.Deleted,
			nullableTime(doc.DeletedAt),
			doc.Body,
			doc.UpdatedAt,
		).Scan(&inserted)
		if err != nil {
			return report, fmt.Errorf("projection flush: upsert %s/%s: %w", doc.Kind, doc.DocID, err)
		}

		if inserted {
			report.Inserted = append(report.Inserted, doc.DocID)
		} else if doc.Deleted {
			report.Deleted = append(report.Deleted, doc.DocID)
		} else {
			report.Updated = append(report.Updated, doc.DocID)
		}
	}

	result, err := tx.ExecContext(ctx, queryUpdateCheckpoint, cursor, time.Now().UTC(), string(kind))
	if err != nil {
		return report, fmt.Errorf("projection flush: write checkpoint: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return report, fmt.Errorf("projection flush: check checkpoint write: %w", err)
	}
	if rowsAffected == 0 {
		return report, fmt.Errorf("projection flush: checkpoint row missing (kind=%s)", kind)
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("projection flush: commit: %w", err)
	}

	slog.Info("[ProjectionsAdapter] Flushed",
		"kind", kind,
		"documents", len(docs),
		"cursor", cursor)
	return report, nil
}

// UpsertDocuments writes documents without advancing any checkpoint. Used by
// the reconciliation pass.
func (a *ProjectionsAdapter) UpsertDocuments(
	ctx context.Context,
	docs []storage.ProjectionDocument,
) (storage.CommitReport, error) {
	var report storage.CommitReport
	if len(docs) == 0 {
		return report, nil
	}
	report.Kind = docs[0].Kind

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("upsert documents: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	upsertStmt, err := tx.PrepareContext(ctx, queryUpsertDocument)
	if err != nil {
		return report, fmt.Errorf("upsert documents: prepare upsert: %w", err)
	}
	defer upsertStmt.Close()

	for _, doc := range docs {
		var inserted bool
		err := upsertStmt.QueryRowContext(ctx,
			doc.TenantID,
			string(doc.Kind),
			doc.DocID,
			doc.Version,
			doc.Deleted,
			nullableTime(doc.DeletedAt),
			doc.Body,
			doc.UpdatedAt,
		).Scan(&inserted)
		if err != nil {
			return report, fmt.Errorf("upsert documents: upsert %s/%s: %w", doc.Kind, doc.DocID, err)
		}
		if inserted {
			report.Inserted = append(report.Inserted, doc.DocID)
		} else {
			report.Updated = append(report.Updated, doc.DocID)
		}
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("upsert documents: commit: %w", err)
	}
	return report, nil
}

// ReadCheckpoint returns the kind's checkpoint cursor, 0 if none exists yet.
func (a *ProjectionsAdapter) ReadCheckpoint(ctx context.Context, kind storage.Kind) (int64, error) {
	var cursor int64
	err := a.db.QueryRowContext(ctx, queryReadCheckpoint, string(kind)).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	return cursor, nil
}

// ListDocuments pages through a kind's documents across tenants.
func (a *ProjectionsAdapter) ListDocuments(
	ctx context.Context,
	kind storage.Kind,
	afterTenantID, afterDocID string,
	limit int,
) ([]storage.ProjectionDocument, error) {
	rows, err := a.db.QueryContext(ctx, queryListDocuments, string(kind), afterTenantID, afterDocID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	return collectDocumentRows(rows)
}

// ResetProjection deletes all documents of the kind and resets its
// checkpoint to 0 in one transaction. Live appends are unaffected: the next
// runner pass replays the log from the beginning.
func (a *ProjectionsAdapter) ResetProjection(ctx context.Context, kind storage.Kind) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset projection: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, queryDeleteDocumentsOfKind, string(kind)); err != nil {
		return fmt.Errorf("reset projection: delete documents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, queryResetCheckpoint, string(kind), time.Now().UTC()); err != nil {
		return fmt.Errorf("reset projection: reset checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset projection: commit: %w", err)
	}

	slog.Info("[ProjectionsAdapter] Projection reset", "kind", kind)
	return nil
}

// lockCheckpoint reads the kind's checkpoint with its row locked, creating
// the row on first use.
func lockCheckpoint(ctx context.Context, tx *sql.Tx, kind storage.Kind) (int64, error) {
	var cursor int64
	err := tx.QueryRowContext(ctx, querySelectCheckpointForUpdate, string(kind)).Scan(&cursor)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, queryInitCheckpointRow, string(kind), time.Now().UTC()); err != nil {
			return 0, fmt.Errorf("projection flush: init checkpoint row: %w", err)
		}
		if err := tx.QueryRowContext(ctx, querySelectCheckpointForUpdate, string(kind)).Scan(&cursor); err != nil {
			return 0, fmt.Errorf("projection flush: read initialized checkpoint: %w", err)
		}
		return cursor, nil
	}
	if err != nil {
		return 0, fmt.Errorf("projection flush: read checkpoint for update: %w", err)
	}
	return cursor, nil
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSliceKeys(m map[string][]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
