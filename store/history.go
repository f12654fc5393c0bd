package store

import (
	"context"

	"github.com/pkg/errors"
)

// History is a handle on the ordered turns of one session.
type History struct {
	store      *Store
	sessionUID string
}

func (h *History) SessionUID() string {
	return h.sessionUID
}

// Messages returns the turns exchanged so far, oldest first.
func (h *History) Messages(ctx context.Context) ([]*ChatMessage, error) {
	return h.store.driver.ListChatMessages(ctx, &FindChatMessage{SessionUID: h.sessionUID})
}

// AddExchange appends a human turn followed by the ai answer.
func (h *History) AddExchange(ctx context.Context, question, answer string) error {
	ts := h.store.now().Unix()
	// The session may have been swept while the answer was generated.
	h.store.createMu.Lock()
	_, err := h.store.driver.UpsertChatSession(ctx, &ChatSession{UID: h.sessionUID, CreatedTs: ts, UpdatedTs: ts})
	h.store.createMu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "failed to restore session %s", h.sessionUID)
	}
	_, err = h.store.driver.CreateChatMessages(ctx, h.sessionUID, ts, []*CreateChatMessage{
		{Role: RoleHuman, Content: question},
		{Role: RoleAI, Content: answer},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to append exchange to session %s", h.sessionUID)
	}
	return nil
}
