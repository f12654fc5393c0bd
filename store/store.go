package store

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrSessionNotFound is returned when an operation targets an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Driver is the persistence backend behind Store.
type Driver interface {
	// UpsertChatSession creates the session when it does not exist, otherwise
	// moves its updated_ts forward to create.UpdatedTs. It returns the stored session.
	UpsertChatSession(ctx context.Context, create *ChatSession) (*ChatSession, error)
	// ListChatSessions returns matching sessions, most recently updated first.
	ListChatSessions(ctx context.Context, find *FindChatSession) ([]*ChatSession, error)
	DeleteChatSession(ctx context.Context, uid string) error
	// CreateChatMessages appends the messages in order and bumps the session's updated_ts.
	CreateChatMessages(ctx context.Context, sessionUID string, ts int64, creates []*CreateChatMessage) ([]*ChatMessage, error)
	// ListChatMessages returns the session's messages, oldest first.
	ListChatMessages(ctx context.Context, find *FindChatMessage) ([]*ChatMessage, error)
	Close() error
}

// ExpiryPolicy bounds how long and how many sessions are kept.
// The zero value keeps every session for the life of the driver.
type ExpiryPolicy struct {
	TTL         time.Duration
	MaxSessions int
}

// Store provides access to conversation sessions.
type Store struct {
	driver Driver
	policy ExpiryPolicy
	now    func() time.Time

	// createMu serialises get-or-create so drivers without upsert semantics see one insert.
	createMu sync.Mutex
}

func New(driver Driver, policy ExpiryPolicy) *Store {
	return &Store{
		driver: driver,
		policy: policy,
		now:    time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Policy() ExpiryPolicy {
	return s.policy
}

func (s *Store) Close() error {
	return s.driver.Close()
}
