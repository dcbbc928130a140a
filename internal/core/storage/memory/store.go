// Package memory provides in-memory implementations of the storage
// contracts, for tests and local development. Semantics mirror the postgres
// adapters, including the expected-version guard and the monotonic
// checkpoint.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/librarium-lab/librarium/internal/catalog/event"
	"github.com/librarium-lab/librarium/internal/core/storage"
)

type streamKey struct {
	tenantID string
	streamID string
}

type docKey struct {
	tenantID string
	kind     storage.Kind
	docID    string
}

// Store holds events, projection documents and checkpoints in process
// memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	globalSeq   int64
	streams     map[streamKey]int64
	events      map[streamKey][]event.Event
	feed        []event.Event
	documents   map[docKey]storage.ProjectionDocument
	checkpoints map[storage.Kind]int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		streams:     make(map[streamKey]int64),
		events:      make(map[streamKey][]event.Event),
		documents:   make(map[docKey]storage.ProjectionDocument),
		checkpoints: make(map[storage.Kind]int64),
	}
}

// Append implements storage.EventStore.
func (s *Store) Append(
	ctx context.Context,
	tenantID, streamID string,
	expectedVersion int64,
	events []event.Event,
) (int64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("append: empty event batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{tenantID: tenantID, streamID: streamID}
	current := s.streams[key]

	switch {
	case expectedVersion == storage.ExpectedVersionNone:
		if current != 0 {
			return 0, &storage.StreamExistsError{StreamID: streamID, ActualVersion: current}
		}
	case expectedVersion == storage.ExpectedVersionAny:
		// No check.
	case expectedVersion > 0:
		if current != expectedVersion {
			return 0, &storage.ConcurrencyConflictError{
				StreamID:        streamID,
				ExpectedVersion: expectedVersion,
				ActualVersion:   current,
			}
		}
	default:
		return 0, fmt.Errorf("append: invalid expected version %d", expectedVersion)
	}

	version := current
	for i := range events {
		version++
		s.globalSeq++
		events[i].TenantID = tenantID
		events[i].StreamID = streamID
		events[i].Sequence = version
		events[i].GlobalSeq = s.globalSeq
		s.events[key] = append(s.events[key], events[i])
		s.feed = append(s.feed, events[i])
	}
	s.streams[key] = version

	return version, nil
}

// FetchVersion implements storage.EventStore.
func (s *Store) FetchVersion(ctx context.Context, tenantID, streamID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	version, ok := s.streams[streamKey{tenantID: tenantID, streamID: streamID}]
	if !ok || version == 0 {
		return 0, storage.ErrStreamNotFound
	}
	return version, nil
}

// ReadForward implements storage.EventStore.
func (s *Store) ReadForward(
	ctx context.Context,
	tenantID, streamID string,
	fromSequence int64,
	limit int,
) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []event.Event
	for _, evt := range s.events[streamKey{tenantID: tenantID, streamID: streamID}] {
		if evt.Sequence < fromSequence {
			continue
		}
		result = append(result, evt)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ReadAllAfter implements storage.EventStore.
func (s *Store) ReadAllAfter(ctx context.Context, cursor int64, limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []event.Event
	for _, evt := range s.feed {
		if evt.GlobalSeq <= cursor {
			continue
		}
		result = append(result, evt)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// GetDocument implements storage.DocumentReader.
func (s *Store) GetDocument(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	docID string,
) (storage.ProjectionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[docKey{tenantID: tenantID, kind: kind, docID: docID}]
	if !ok {
		return storage.ProjectionDocument{}, storage.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// GetDocuments implements storage.DocumentReader.
func (s *Store) GetDocuments(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	docIDs []string,
) (map[string]storage.ProjectionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]storage.ProjectionDocument, len(docIDs))
	for _, id := range docIDs {
		if doc, ok := s.documents[docKey{tenantID: tenantID, kind: kind, docID: id}]; ok {
			result[id] = cloneDocument(doc)
		}
	}
	return result, nil
}

// QueryDocuments implements storage.DocumentReader.
func (s *Store) QueryDocuments(
	ctx context.Context,
	tenantID string,
	kind storage.Kind,
	query storage.DocumentQuery,
) ([]storage.ProjectionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []storage.ProjectionDocument
	for key, doc := range s.documents {
		if key.tenantID != tenantID || key.kind != kind {
			continue
		}
		if doc.Deleted && !query.IncludeDeleted {
			continue
		}

		var body map[string]interface{}
		if err := json.Unmarshal(doc.Body, &body); err != nil {
			return nil, fmt.Errorf("query documents: decode body of %s: %w", key.docID, err)
		}

		if !matchesEquals(body, query.FilterEquals) || !matchesContains(body, query.FilterContains) ||
			!matchesContainsAny(body, query.FilterContainsAny) {
			continue
		}
		matched = append(matched, cloneDocument(doc))
	}

	sortDocuments(matched, query.SortField, query.SortDesc)

	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[query.Offset:]
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

// Flush implements storage.ProjectionStore.
func (s *Store) Flush(
	ctx context.Context,
	kind storage.Kind,
	docs []storage.ProjectionDocument,
	cursor int64,
) (storage.CommitReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := storage.CommitReport{Kind: kind, Cursor: cursor}

	if cursor <= s.checkpoints[kind] {
		report.Cursor = s.checkpoints[kind]
		return report, nil
	}

	for _, doc := range docs {
		if doc.Kind != kind {
			return report, fmt.Errorf("flush: document kind mismatch: expected %s, got %s for %s",
				kind, doc.Kind, doc.DocID)
		}
		key := docKey{tenantID: doc.TenantID, kind: doc.Kind, docID: doc.DocID}
		_, existed := s.documents[key]
		s.documents[key] = cloneDocument(doc)

		switch {
		case !existed:
			report.Inserted = append(report.Inserted, doc.DocID)
		case doc.Deleted:
			report.Deleted = append(report.Deleted, doc.DocID)
		default:
			report.Updated = append(report.Updated, doc.DocID)
		}
	}

	s.checkpoints[kind] = cursor
	return report, nil
}

// UpsertDocuments implements storage.ProjectionStore.
func (s *Store) UpsertDocuments(
	ctx context.Context,
	docs []storage.ProjectionDocument,
) (storage.CommitReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report storage.CommitReport
	if len(docs) == 0 {
		return report, nil
	}
	report.Kind = docs[0].Kind

	for _, doc := range docs {
		key := docKey{tenantID: doc.TenantID, kind: doc.Kind, docID: doc.DocID}
		_, existed := s.documents[key]
		s.documents[key] = cloneDocument(doc)
		if existed {
			report.Updated = append(report.Updated, doc.DocID)
		} else {
			report.Inserted = append(report.Inserted, doc.DocID)
		}
	}
	return report, nil
}

// ReadCheckpoint implements storage.ProjectionStore.
func (s *Store) ReadCheckpoint(ctx context.Context, kind storage.Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[kind], nil
}

// ListDocuments implements storage.ProjectionStore.
func (s *Store) ListDocuments(
	ctx context.Context,
	kind storage.Kind,
	afterTenantID, afterDocID string,
	limit int,
) ([]storage.ProjectionDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.ProjectionDocument
	for key, doc := range s.documents {
		if key.kind != kind {
			continue
		}
		if key.tenantID < afterTenantID ||
			(key.tenantID == afterTenantID && key.docID <= afterDocID) {
			continue
		}
		result = append(result, cloneDocument(doc))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TenantID != result[j].TenantID {
			return result[i].TenantID < result[j].TenantID
		}
		return result[i].DocID < result[j].DocID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ResetProjection implements storage.ProjectionStore.
func (s *Store) ResetProjection(ctx context.Context, kind storage.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.documents {
		if key.kind == kind {
			delete(s.documents, key)
		}
	}
	s.checkpoints[kind] = 0
	return nil
}

func cloneDocument(doc storage.ProjectionDocument) storage.ProjectionDocument {
	clone := doc
	if doc.Body != nil {
		clone.Body = make(json.RawMessage, len(doc.Body))
		copy(clone.Body, doc.Body)
	}
	return clone
}

func matchesEquals(body map[string]interface{}, filters map[string]string) bool {
	for field, want := range filters {
		value, ok := body[field]
		if !ok || scalarText(value) != want {
			return false
		}
	}
	return true
}

func matchesContains(body map[string]interface{}, filters map[string]string) bool {
	for field, want := range filters {
		list, ok := body[field].([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if text, ok := item.(string); ok && text == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchesContainsAny(body map[string]interface{}, filters map[string][]string) bool {
	for field, wanted := range filters {
		list, ok := body[field].([]interface{})
		if !ok {
			return false
		}
		held := make(map[string]bool, len(list))
		for _, item := range list {
			if text, ok := item.(string); ok {
				held[text] = true
			}
		}
		found := false
		for _, want := range wanted {
			if held[want] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// scalarText renders a scalar JSON value the way postgres' ->> operator
// does, so filter semantics match across implementations.
func scalarText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func sortDocuments(docs []storage.ProjectionDocument, field string, desc bool) {
	less := func(i, j int) bool { return docs[i].DocID < docs[j].DocID }
	if field != "" {
		less = func(i, j int) bool {
			a := bodyFieldText(docs[i].Body, field)
			b := bodyFieldText(docs[j].Body, field)
			if a != b {
				if desc {
					return a > b
				}
				return a < b
			}
			return docs[i].DocID < docs[j].DocID
		}
	}
	sort.Slice(docs, less)
}

func bodyFieldText(body json.RawMessage, field string) string {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return ""
	}
	return scalarText(m[field])
}
