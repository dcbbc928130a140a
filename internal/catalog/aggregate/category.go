package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
)

// CategoryState is the fold of a category stream.
type CategoryState struct {
	ID        string
	Name      string
	Deleted   bool
	DeletedAt time.Time
	Version   int64
}

// NewCategory validates the name for a new category and returns its creation event.
func NewCategory(name string) (event.Payload, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("name", "is required")
	}
	return &event.CategoryAdded{Name: name}, nil
}

func (s CategoryState) Update(name string) (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("category %s is deleted", s.ID)
	}
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("name", "is required")
	}
	return &event.CategoryUpdated{Name: name}, nil
}

func (s CategoryState) SoftDelete() (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("category %s is already deleted", s.ID)
	}
	return &event.CategorySoftDeleted{}, nil
}

func (s CategoryState) Restore() (event.Payload, error) {
	if !s.Deleted {
		return nil, conflictf("category %s is not deleted", s.ID)
	}
	return &event.CategoryRestored{}, nil
}

// FoldCategory replays a category stream from sequence 1 into current state.
func FoldCategory(streamID string, events []event.Event) (CategoryState, error) {
	state := CategoryState{ID: streamID}
	for _, evt := range events {
		next, err := state.apply(evt)
		if err != nil {
			return CategoryState{}, err
		}
		state = next
	}
	return state, nil
}

func (s CategoryState) apply(evt event.Event) (CategoryState, error) {
	next := s
	next.Version = evt.Sequence

	switch p := evt.Payload.(type) {
	case *event.CategoryAdded:
		next.Name = p.Name
	case *event.CategoryUpdated:
		next.Name = p.Name
	case *event.CategorySoftDeleted:
		next.Deleted = true
		next.DeletedAt = evt.Timestamp
	case *event.CategoryRestored:
		next.Deleted = false
		next.DeletedAt = time.Time{}
	default:
		return CategoryState{}, fmt.Errorf("category fold: unexpected event type %q at sequence %d", evt.Type, evt.Sequence)
	}

	return next, nil
}
