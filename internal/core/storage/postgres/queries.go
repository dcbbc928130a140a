package postgres

// SQL for the event log and the projection document store.

const (
	// queryLockStream locks one stream's version row for the duration of an
	// append transaction. Concurrent appends to the same stream serialize
	// here; different streams proceed independently.
	queryLockStream = `
		SELECT version
		FROM streams
		WHERE tenant_id = $1 AND stream_id = $2
		FOR UPDATE
	`

	// queryInitStream creates the version row for a brand-new stream.
	// ON CONFLICT DO NOTHING keeps a racing creator from failing here; the
	// subsequent locked read decides who wins.
	queryInitStream = `
		INSERT INTO streams (tenant_id, stream_id, version, updated_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (tenant_id, stream_id) DO NOTHING
	`

	// queryInsertEvent appends one event. RETURNING retrieves the
	// auto-generated global_seq that feeds projection workers. The unique
	// index on (tenant_id, stream_id, sequence) refuses a lost-update append
	// even if the row lock is ever bypassed.
	queryInsertEvent = `
		INSERT INTO events (
			id, tenant_id, stream_id, sequence, type,
			correlation_id, causation_id, occurred_at, payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING global_seq
	`

	// queryBumpStreamVersion advances the stream head after a successful
	// append, in the same transaction as the event inserts.
	queryBumpStreamVersion = `
		UPDATE streams
		SET version = $1, updated_at = $2
		WHERE tenant_id = $3 AND stream_id = $4
	`

	queryFetchVersion = `
		SELECT version
		FROM streams
		WHERE tenant_id = $1 AND stream_id = $2
	`

	queryReadForward = `
		SELECT
			id, tenant_id, stream_id, sequence, type,
			correlation_id, causation_id, occurred_at, payload, global_seq
		FROM events
		WHERE tenant_id = $1 AND stream_id = $2 AND sequence >= $3
		ORDER BY sequence ASC
		LIMIT $4
	`

	// queryReadAllAfter is the projection feed: all tenants, all streams,
	// strict global_seq order. Per-stream sequence order is preserved because
	// appends to one stream are serialized.
	queryReadAllAfter = `
		SELECT
			id, tenant_id, stream_id, sequence, type,
			correlation_id, causation_id, occurred_at, payload, global_seq
		FROM events
		WHERE global_seq > $1
		ORDER BY global_seq ASC
		LIMIT $2
	`
)

const (
	queryGetDocument = `
		SELECT tenant_id, kind, doc_id, version, deleted, deleted_at, body, updated_at
		FROM projection_documents
		WHERE tenant_id = $1 AND kind = $2 AND doc_id = $3
	`

	// queryGetDocuments batch-loads prior state for the grouper: one round
	// trip for the whole incoming batch.
	queryGetDocuments = `
		SELECT tenant_id, kind, doc_id, version, deleted, deleted_at, body, updated_at
		FROM projection_documents
		WHERE tenant_id = $1 AND kind = $2 AND doc_id = ANY($3)
	`

	// queryUpsertDocument writes one projection document. (xmax = 0)
	// distinguishes an insert from an update for the commit report.
	queryUpsertDocument = `
		INSERT INTO projection_documents (
			tenant_id, kind, doc_id, version, deleted, deleted_at, body, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, kind, doc_id) DO UPDATE SET
			version    = EXCLUDED.version,
			deleted    = EXCLUDED.deleted,
			deleted_at = EXCLUDED.deleted_at,
			body       = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`

	queryListDocuments = `
		SELECT tenant_id, kind, doc_id, version, deleted, deleted_at, body, updated_at
		FROM projection_documents
		WHERE kind = $1 AND (tenant_id, doc_id) > ($2, $3)
		ORDER BY tenant_id ASC, doc_id ASC
		LIMIT $4
	`

	queryDeleteDocumentsOfKind = `DELETE FROM projection_documents WHERE kind = $1`

	// Checkpoint handling: the cursor is the last global_seq included in the
	// durable documents, it only moves forward, and it is written in the
	// same transaction as the document upserts.
	querySelectCheckpointForUpdate = `
		SELECT cursor
		FROM projection_checkpoints
		WHERE kind = $1
		FOR UPDATE
	`

	queryInitCheckpointRow = `
		INSERT INTO projection_checkpoints (kind, cursor, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (kind) DO NOTHING
	`

	queryUpdateCheckpoint = `
		UPDATE projection_checkpoints
		SET cursor = $1, updated_at = $2
		WHERE kind = $3
	`

	queryReadCheckpoint = `SELECT cursor FROM projection_checkpoints WHERE kind = $1`

	queryResetCheckpoint = `
		INSERT INTO projection_checkpoints (kind, cursor, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (kind) DO UPDATE SET
			cursor = 0,
			updated_at = EXCLUDED.updated_at
	`
)
