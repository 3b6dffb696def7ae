// Package audit is the append-only ledger of authorization commands. Entries are
// written once, in the same unit of work as the state change they describe, and are
// never updated or deleted.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sellergate.io/internal/ids"
)

// Action names the command an entry records.
type Action string

const (
	ActionRequest Action = "request"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRevoke  Action = "revoke"
	ActionCancel  Action = "cancel"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRequest, ActionApprove, ActionReject, ActionRevoke, ActionCancel:
		return true
	}
	return false
}

var (
	ErrInvalidEntry = errors.New("audit: invalid entry")
	ErrDuplicate    = errors.New("audit: duplicate entry id")
)

// Entry is one immutable audit record.
type Entry struct {
	ID              string         `json:"id"`
	AuthorizationID string         `json:"authorization_id"`
	Action          Action         `json:"action"`
	ActorID         string         `json:"actor_id"`
	ActorRole       string         `json:"actor_role"`
	StatusFrom      string         `json:"status_from,omitempty"`
	StatusTo        string         `json:"status_to"`
	Reason          string         `json:"reason,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	RequestID       string         `json:"request_id,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Validate checks the fields every entry must carry.
func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.AuthorizationID) == "":
		return fmt.Errorf("%w: authorization id is required", ErrInvalidEntry)
	case !e.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, e.Action)
	case strings.TrimSpace(e.ActorID) == "":
		return fmt.Errorf("%w: actor id is required", ErrInvalidEntry)
	case e.StatusTo == "":
		return fmt.Errorf("%w: target status is required", ErrInvalidEntry)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEntry)
	}
	return nil
}

// Prepare validates e and assigns an id derived from its timestamp when it has
// none. Stores call it before writing.
func (e *Entry) Prepare() error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID != "" {
		return nil
	}
	id, err := ids.NewAt(e.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	e.ID = id
	return nil
}

// Store persists entries. There is deliberately no update or delete.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByAuthorization(ctx context.Context, authorizationID string) ([]Entry, error)
}

// InMemory is a process-local Store.
type InMemory struct {
	mu      sync.RWMutex
	byAuth  map[string][]Entry
	seenIDs map[string]struct{}
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		byAuth:  make(map[string][]Entry),
		seenIDs: make(map[string]struct{}),
	}
}

func (s *InMemory) Append(_ context.Context, entry Entry) error {
	if err := entry.Prepare(); err != nil {
		return err
	}
	entry.Metadata = cloneMap(entry.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seenIDs[entry.ID]; ok {
		return ErrDuplicate
	}
	s.seenIDs[entry.ID] = struct{}{}
	s.byAuth[entry.AuthorizationID] = append(s.byAuth[entry.AuthorizationID], entry)
	return nil
}

func (s *InMemory) ListByAuthorization(_ context.Context, authorizationID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byAuth[authorizationID]
	out := make([]Entry, len(src))
	for i, e := range src {
		e.Metadata = cloneMap(e.Metadata)
		out[i] = e
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
