// Package aggregate folds event streams into in-memory domain state and
// validates commands against that state.
//
// Transition functions are pure: they consult no database, no clock and no
// randomness, so folding the same ordered events twice yields identical
// state. Command methods never mutate state; they validate business rules
// and return the single event that, once appended and re-folded, performs
// the mutation.
package aggregate

import "fmt"

// ValidationError reports malformed or out-of-policy command input. It is
// always raised before any append, so the caller can correct and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConflictError reports a state-machine violation, e.g. updating an entity
// while it is soft-deleted.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// firstDuplicate reports the first duplicate in ids, if any.
func firstDuplicate(ids []string) (string, bool) {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id, true
		}
		seen[id] = struct{}{}
	}
	return "", false
}

func copyIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
