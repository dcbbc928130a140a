package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/librarium-lab/librarium/internal/catalog/event"
)

// AuthorState is the fold of an author stream.
type AuthorState struct {
	ID        string
	Name      string
	Bio       string
	Deleted   bool
	DeletedAt time.Time
	Version   int64
}

// AuthorInput is the command input for creating or updating an author.
type AuthorInput struct {
	Name string
	Bio  string
}

func (in AuthorInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalidf("name", "is required")
	}
	return nil
}

// NewAuthor validates the input for a new author and returns its creation event.
func NewAuthor(in AuthorInput) (event.Payload, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	return &event.AuthorAdded{Name: in.Name, Bio: in.Bio}, nil
}

func (s AuthorState) Update(in AuthorInput) (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("author %s is deleted", s.ID)
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return &event.AuthorUpdated{Name: in.Name, Bio: in.Bio}, nil
}

func (s AuthorState) SoftDelete() (event.Payload, error) {
	if s.Deleted {
		return nil, conflictf("author %s is already deleted", s.ID)
	}
	return &event.AuthorSoftDeleted{}, nil
}

func (s AuthorState) Restore() (event.Payload, error) {
	if !s.Deleted {
		return nil, conflictf("author %s is not deleted", s.ID)
	}
	return &event.AuthorRestored{}, nil
}

// FoldAuthor replays an author stream from sequence 1 into current state.
func FoldAuthor(streamID string, events []event.Event) (AuthorState, error) {
	state := AuthorState{ID: streamID}
	for _, evt := range events {
		next, err := state.apply(evt)
		if err != nil {
			return AuthorState{}, err
		}
		state = next
	}
	return state, nil
}

func (s AuthorState) apply(evt event.Event) (AuthorState, error) {
	next := s
	next.Version = evt.Sequence

	switch p := evt.Payload.(type) {
	case *event.AuthorAdded:
		next.Name = p.Name
		next.Bio = p.Bio
	case *event.AuthorUpdated:
		next.Name = p.Name
		next.Bio = p.Bio
	case *event.AuthorSoftDeleted:
		next.Deleted = true
		next.DeletedAt = evt.Timestamp
	case *event.AuthorRestored:
		next.Deleted = false
		next.DeletedAt = time.Time{}
	default:
		return AuthorState{}, fmt.Errorf("author fold: unexpected event type %q at sequence %d", evt.Type, evt.Sequence)
	}

	return next, nil
}
