package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/incometax/taxbot/store"
)

func (d *DB) EnsureChatTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_session (
			uid        TEXT   PRIMARY KEY,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_message (
			id          SERIAL PRIMARY KEY,
			session_uid TEXT   NOT NULL REFERENCES chat_session(uid) ON DELETE CASCADE,
			role        TEXT   NOT NULL,
			content     TEXT   NOT NULL,
			created_ts  BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_message_session ON chat_message(session_uid)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) UpsertChatSession(ctx context.Context, create *store.ChatSession) (*store.ChatSession, error) {
	stmt := `INSERT INTO chat_session (uid, created_ts, updated_ts)
	         VALUES ($1, $2, $3)
	         ON CONFLICT (uid) DO UPDATE SET updated_ts = GREATEST(chat_session.updated_ts, EXCLUDED.updated_ts)`
	if _, err := d.db.ExecContext(ctx, stmt, create.UID, create.CreatedTs, create.UpdatedTs); err != nil {
		return nil, err
	}
	list, err := d.ListChatSessions(ctx, &store.FindChatSession{UID: &create.UID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrSessionNotFound
	}
	return list[0], nil
}

func (d *DB) ListChatSessions(ctx context.Context, find *store.FindChatSession) ([]*store.ChatSession, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UpdatedBefore; v != nil {
		where, args = append(where, "updated_ts < "+placeholder(len(args)+1)), append(args, *v)
	}
	query := fmt.Sprintf(
		`SELECT uid, created_ts, updated_ts
		 FROM chat_session WHERE %s ORDER BY updated_ts DESC, uid ASC`,
		strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.ChatSession
	for rows.Next() {
		s := &store.ChatSession{}
		if err := rows.Scan(&s.UID, &s.CreatedTs, &s.UpdatedTs); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (d *DB) DeleteChatSession(ctx context.Context, uid string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_message WHERE session_uid = $1`, uid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_session WHERE uid = $1`, uid); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) CreateChatMessages(ctx context.Context, sessionUID string, ts int64, creates []*store.CreateChatMessage) ([]*store.ChatMessage, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE chat_session SET updated_ts = $1 WHERE uid = $2`, ts, sessionUID)
	if err != nil {
		return nil, err
	}
	if affected, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrSessionNotFound
	}

	stmt := `INSERT INTO chat_message (session_uid, role, content, created_ts)
	         VALUES ($1, $2, $3, $4)
	         RETURNING id`
	list := make([]*store.ChatMessage, 0, len(creates))
	for _, create := range creates {
		m := &store.ChatMessage{
			SessionUID: sessionUID,
			Role:       create.Role,
			Content:    create.Content,
			CreatedTs:  ts,
		}
		if err := tx.QueryRowContext(ctx, stmt, sessionUID, string(create.Role), create.Content, ts).Scan(&m.ID); err != nil {
			return nil, errors.Wrap(err, "failed to insert chat message")
		}
		list = append(list, m)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) ListChatMessages(ctx context.Context, find *store.FindChatMessage) ([]*store.ChatMessage, error) {
	query := `SELECT id, session_uid, role, content, created_ts
	          FROM chat_message WHERE session_uid = $1 ORDER BY id ASC`
	rows, err := d.db.QueryContext(ctx, query, find.SessionUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*store.ChatMessage{}
	for rows.Next() {
		m := &store.ChatMessage{}
		var role string
		if err := rows.Scan(&m.ID, &m.SessionUID, &role, &m.Content, &m.CreatedTs); err != nil {
			return nil, err
		}
		m.Role = store.Role(role)
		list = append(list, m)
	}
	return list, rows.Err()
}
