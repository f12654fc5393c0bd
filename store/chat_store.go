package store

import (
	"context"

	"github.com/pkg/errors"
)

// GetOrCreateHistory returns the history of the session, registering an empty
// session the first time the identifier is seen. Resuming a session counts as
// activity for the expiry policy.
func (s *Store) GetOrCreateHistory(ctx context.Context, uid string) (*History, error) {
	if uid == "" {
		return nil, errors.New("session id is required")
	}
	s.createMu.Lock()
	defer s.createMu.Unlock()

	ts := s.now().Unix()
	if _, err := s.driver.UpsertChatSession(ctx, &ChatSession{UID: uid, CreatedTs: ts, UpdatedTs: ts}); err != nil {
		return nil, errors.Wrapf(err, "failed to create session %s", uid)
	}
	return &History{store: s, sessionUID: uid}, nil
}

// GetChatSession returns the session or nil when it does not exist.
func (s *Store) GetChatSession(ctx context.Context, uid string) (*ChatSession, error) {
	list, err := s.driver.ListChatSessions(ctx, &FindChatSession{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListChatSessions lists sessions matching the given filter.
func (s *Store) ListChatSessions(ctx context.Context, find *FindChatSession) ([]*ChatSession, error) {
	return s.driver.ListChatSessions(ctx, find)
}

// DeleteChatSession deletes a session and all its messages.
func (s *Store) DeleteChatSession(ctx context.Context, uid string) error {
	sess, err := s.GetChatSession(ctx, uid)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	return s.driver.DeleteChatSession(ctx, uid)
}

// ListChatMessages returns all messages of a session, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, find *FindChatMessage) ([]*ChatMessage, error) {
	return s.driver.ListChatMessages(ctx, find)
}

// Sweep applies the expiry policy and returns the identifiers of evicted sessions.
func (s *Store) Sweep(ctx context.Context) ([]string, error) {
	var evicted []string
	if s.policy.TTL > 0 {
		cutoff := s.now().Add(-s.policy.TTL).Unix()
		idle, err := s.driver.ListChatSessions(ctx, &FindChatSession{UpdatedBefore: &cutoff})
		if err != nil {
			return evicted, errors.Wrap(err, "failed to list idle sessions")
		}
		for _, sess := range idle {
			if err := s.driver.DeleteChatSession(ctx, sess.UID); err != nil {
				return evicted, errors.Wrapf(err, "failed to evict session %s", sess.UID)
			}
			evicted = append(evicted, sess.UID)
		}
	}
	if s.policy.MaxSessions > 0 {
		all, err := s.driver.ListChatSessions(ctx, &FindChatSession{})
		if err != nil {
			return evicted, errors.Wrap(err, "failed to list sessions")
		}
		if len(all) > s.policy.MaxSessions {
			for _, sess := range all[s.policy.MaxSessions:] {
				if err := s.driver.DeleteChatSession(ctx, sess.UID); err != nil {
					return evicted, errors.Wrapf(err, "failed to evict session %s", sess.UID)
				}
				evicted = append(evicted, sess.UID)
			}
		}
	}
	return evicted, nil
}
