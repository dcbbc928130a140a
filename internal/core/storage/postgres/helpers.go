package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into an Event, decoding the typed
// payload from its JSON column. Compatible with both sql.Row and sql.Rows.
func scanEventRow(row scanner) (event.Event, error) {
	var (
		evt         event.Event
		typ         string
		payloadJSON []byte
	)

	err := row.Scan(
		&evt.ID,
		&evt.TenantID,
		&evt.StreamID,
		&evt.Sequence,
		&typ,
		&evt.CorrelationID,
		&evt.CausationID,
		&evt.Timestamp,
		&payloadJSON,
		&evt.GlobalSeq,
	)
	if err != nil {
		return event.Event{}, fmt.Errorf("failed to scan event row: %w", err)
	}

	evt.Type = event.Type(typ)
	evt.Timestamp = evt.Timestamp.UTC()

	payload, err := event.UnmarshalPayload(evt.Type, payloadJSON)
	if err != nil {
		// A committed event is a fact. Surface it without a payload rather
		// than failing the read; projectors skip events they cannot decode.
		slog.Warn("[Postgres] Undecodable event payload",
			"stream_id", evt.StreamID,
			"sequence", evt.Sequence,
			"type", typ,
			"error", err)
		return evt, nil
	}

	evt.Payload = payload
	return evt, nil
}

func collectEventRows(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		evt, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// scanDocumentRow scans a projection document row.
func scanDocumentRow(row scanner) (storage.ProjectionDocument, error) {
	var (
		doc       storage.ProjectionDocument
		kind      string
		deletedAt sql.NullTime
	)

	err := row.Scan(
		&doc.TenantID,
		&kind,
		&doc.DocID,
		&doc.Version,
		&doc.Deleted,
		&deletedAt,
		&doc.Body,
		&doc.UpdatedAt,
	)
	if err != nil {
		return storage.ProjectionDocument{}, fmt.Errorf("failed to scan document row: %w", err)
	}

	doc.Kind = storage.Kind(kind)
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	if deletedAt.Valid {
		doc.DeletedAt = deletedAt.Time.UTC()
	}
	return doc, nil
}

func collectDocumentRows(rows *sql.Rows) ([]storage.ProjectionDocument, error) {
	var docs []storage.ProjectionDocument
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
