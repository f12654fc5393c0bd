// Package memory is the in-process session driver. Sessions live for the
// lifetime of the process unless the store's expiry policy removes them.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"

	"github.com/incometax/taxbot/store"
)

type session struct {
	meta    store.ChatSession
	history *memory.ChatMessageHistory
	// createdTs holds one timestamp per message in history.
	createdTs []int64
}

type DB struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func NewDB() store.Driver {
	return &DB{sessions: make(map[string]*session)}
}

func (d *DB) UpsertChatSession(_ context.Context, create *store.ChatSession) (*store.ChatSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.sessions[create.UID]; ok {
		if create.UpdatedTs > s.meta.UpdatedTs {
			s.meta.UpdatedTs = create.UpdatedTs
		}
		meta := s.meta
		return &meta, nil
	}
	s := &session{
		meta:    *create,
		history: memory.NewChatMessageHistory(),
	}
	d.sessions[create.UID] = s
	meta := s.meta
	return &meta, nil
}

func (d *DB) ListChatSessions(_ context.Context, find *store.FindChatSession) ([]*store.ChatSession, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]*store.ChatSession, 0, len(d.sessions))
	for _, s := range d.sessions {
		if v := find.UID; v != nil && s.meta.UID != *v {
			continue
		}
		if v := find.UpdatedBefore; v != nil && s.meta.UpdatedTs >= *v {
			continue
		}
		meta := s.meta
		list = append(list, &meta)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].UpdatedTs == list[j].UpdatedTs {
			return list[i].UID < list[j].UID
		}
		return list[i].UpdatedTs > list[j].UpdatedTs
	})
	return list, nil
}

func (d *DB) DeleteChatSession(_ context.Context, uid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.sessions, uid)
	return nil
}

func (d *DB) CreateChatMessages(ctx context.Context, sessionUID string, ts int64, creates []*store.CreateChatMessage) ([]*store.ChatMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionUID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	list := make([]*store.ChatMessage, 0, len(creates))
	for _, create := range creates {
		var err error
		switch create.Role {
		case store.RoleAI:
			err = s.history.AddAIMessage(ctx, create.Content)
		default:
			err = s.history.AddUserMessage(ctx, create.Content)
		}
		if err != nil {
			return nil, err
		}
		s.createdTs = append(s.createdTs, ts)
		list = append(list, &store.ChatMessage{
			ID:         int32(len(s.createdTs)),
			SessionUID: sessionUID,
			Role:       create.Role,
			Content:    create.Content,
			CreatedTs:  ts,
		})
	}
	s.meta.UpdatedTs = ts
	return list, nil
}

func (d *DB) ListChatMessages(ctx context.Context, find *store.FindChatMessage) ([]*store.ChatMessage, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[find.SessionUID]
	if !ok {
		return []*store.ChatMessage{}, nil
	}
	msgs, err := s.history.Messages(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]*store.ChatMessage, 0, len(msgs))
	for i, m := range msgs {
		role := store.RoleHuman
		if m.GetType() == llms.ChatMessageTypeAI {
			role = store.RoleAI
		}
		list = append(list, &store.ChatMessage{
			ID:         int32(i + 1),
			SessionUID: find.SessionUID,
			Role:       role,
			Content:    m.GetContent(),
			CreatedTs:  s.createdTs[i],
		})
	}
	return list, nil
}

func (*DB) Close() error {
	return nil
}
