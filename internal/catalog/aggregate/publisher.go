package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
)

// PublisherState is the fold of a publisher stream.
type PublisherState struct {
	ID        string
	Name      string
	Deleted   bool
	DeletedAt time.Time
	Version   int64
}

// NewPublisher validates the name for a new publisher and returns its creation event.
func NewPublisher(name string) (event.Payload, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("name", "is required")
	}
	return &event.PublisherAdded{Name: name}, nil
}

func (s PublisherState) Update(name string) (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("publisher %s is deleted", s.ID)
	}
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("name", "is required")
	}
	return &event.PublisherUpdated{Name: name}, nil
}

func (s PublisherState) SoftDelete() (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("publisher %s is already deleted", s.ID)
	}
	return &event.PublisherSoftDeleted{}, nil
}

func (s PublisherState) Restore() (event.Payload, error) {
	if !s.Deleted {
		return nil, conflictf("publisher %s is not deleted", s.ID)
	}
	return &event.PublisherRestored{}, nil
}

// FoldPublisher replays a publisher stream from sequence 1 into current state.
func FoldPublisher(streamID string, events []event.Event) (PublisherState, error) {
	state := PublisherState{ID: streamID}
	for _, evt := range events {
		next, err := state.apply(evt)
		if err != nil {
			return PublisherState{}, err
		}
		state = next
	}
	return state, nil
}

func (s PublisherState) apply(evt event.Event) (PublisherState, error) {
	next := s
	next.Version = evt.Sequence

	switch p := evt.Payload.(type) {
	case *event.PublisherAdded:
		next.Name = p.Name
	case *event.PublisherUpdated:
		next.Name = p.Name
	case *event.PublisherSoftDeleted:
		next.Deleted = true
		next.DeletedAt = evt.Timestamp
	case *event.PublisherRestored:
		next.Deleted = false
		next.DeletedAt = time.Time{}
	default:
		return PublisherState{}, fmt.Errorf("publisher fold: unexpected event type %q at sequence %d", evt.Type, evt.Sequence)
	}

	return next, nil
}
