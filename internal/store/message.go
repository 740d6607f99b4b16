package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

const messageColumns = `key, server_id, chat_id, sender_id, message_type, body, media_url, media_type,
	file_size, duration, reply_to, reply_to_server_id, status, is_edited, created_at`

// selectMessage reads the columns of messageColumns from the table aliased
// m, with reply_to resolved through reply_to_server_id when it is unset.
const selectMessage = `m.key, m.server_id, m.chat_id, m.sender_id, m.message_type, m.body, m.media_url, m.media_type,
	m.file_size, m.duration,
	COALESCE(NULLIF(m.reply_to, ''), (SELECT r.key FROM messages r
		WHERE m.reply_to_server_id != 0 AND r.server_id = m.reply_to_server_id), ''),
	m.reply_to_server_id, m.status, m.is_edited, m.created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var (
		m        Message
		key      string
		serverID sql.NullInt64
	)
	err := row.Scan(&key, &serverID, &m.ChatID, &m.SenderID, &m.Type, &m.Body, &m.MediaURL, &m.MediaType,
		&m.FileSize, &m.Duration, &m.ReplyTo, &m.ReplyToServerID, &m.Status, &m.IsEdited, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if serverID.Valid && serverID.Int64 != 0 {
		m.ID = ConfirmedID(key, serverID.Int64)
	} else {
		m.ID = PendingID(key)
	}
	return &m, nil
}

func nullServerID(id MessageID) sql.NullInt64 {
	sid, ok := id.ServerID()
	return sql.NullInt64{Int64: sid, Valid: ok}
}

// InsertMessage inserts m unless a message with the same key or server id
// already exists. Reports whether a row was inserted, which is what makes
// re-applied push events idempotent.
func (q *Queries) InsertMessage(ctx context.Context, m *Message) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		m.ID.Key(), nullServerID(m.ID), m.ChatID, m.SenderID, string(m.Type), m.Body, m.MediaURL, m.MediaType,
		m.FileSize, m.Duration, m.ReplyTo, m.ReplyToServerID, string(m.Status), m.IsEdited, m.CreatedAt, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		q.emit(bus.KindMessageUpserted, bus.MessageChange{ChatID: m.ChatID, Key: m.ID.Key()})
	}
	return n > 0, nil
}

// UpsertMessage writes m, replacing mutable fields of an existing row with
// the same key. The key and chat never change.
func (q *Queries) UpsertMessage(ctx context.Context, m *Message) error {
	now := time.Now().UnixMilli()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			server_id = COALESCE(excluded.server_id, messages.server_id),
			body = excluded.body,
			media_url = excluded.media_url,
			media_type = excluded.media_type,
			file_size = excluded.file_size,
			duration = excluded.duration,
			status = excluded.status,
			is_edited = excluded.is_edited,
			updated_at = excluded.updated_at`,
		m.ID.Key(), nullServerID(m.ID), m.ChatID, m.SenderID, string(m.Type), m.Body, m.MediaURL, m.MediaType,
		m.FileSize, m.Duration, m.ReplyTo, m.ReplyToServerID, string(m.Status), m.IsEdited, m.CreatedAt, now)
	if err != nil {
		return err
	}
	q.emit(bus.KindMessageUpserted, bus.MessageChange{ChatID: m.ChatID, Key: m.ID.Key()})
	return nil
}

// GetMessage returns a message by key, or nil if it does not exist.
func (q *Queries) GetMessage(ctx context.Context, key string) (*Message, error) {
	m, err := scanMessage(q.q.QueryRowContext(ctx, `SELECT `+selectMessage+` FROM messages m WHERE m.key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// GetMessageByServerID returns a message by its server id, or nil.
func (q *Queries) GetMessageByServerID(ctx context.Context, serverID int64) (*Message, error) {
	m, err := scanMessage(q.q.QueryRowContext(ctx, `SELECT `+selectMessage+` FROM messages m WHERE m.server_id = ?`, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ListMessages returns messages for a chat using keyset pagination by
// creation time, newest first.
func (q *Queries) ListMessages(ctx context.Context, chatID, beforeMs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+selectMessage+`
		FROM messages m
		WHERE m.chat_id = ? AND m.created_at < ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`, chatID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// LatestIncoming returns the newest message in the chat not sent by selfID,
// or nil if there is none.
func (q *Queries) LatestIncoming(ctx context.Context, chatID, selfID int64) (*Message, error) {
	m, err := scanMessage(q.q.QueryRowContext(ctx, `
		SELECT `+selectMessage+`
		FROM messages m
		WHERE m.chat_id = ? AND m.sender_id != ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT 1`, chatID, selfID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// ConfirmMessage attaches the server id to a pending message and advances
// its status. The key is left untouched.
func (q *Queries) ConfirmMessage(ctx context.Context, key string, serverID int64, status MessageStatus) error {
	var chatID int64
	err := q.q.QueryRowContext(ctx, `
		UPDATE messages SET
			server_id = CASE WHEN ? > 0 THEN ? ELSE server_id END,
			status = ?,
			updated_at = ?
		WHERE key = ?
		RETURNING chat_id`,
		serverID, serverID, string(status), time.Now().UnixMilli(), key).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	q.emit(bus.KindMessageUpserted, bus.MessageChange{ChatID: chatID, Key: key})
	return nil
}

// SetMessageStatus updates the status of a message.
func (q *Queries) SetMessageStatus(ctx context.Context, key string, status MessageStatus) error {
	return q.ConfirmMessage(ctx, key, 0, status)
}

// DeleteMessage removes a single message.
func (q *Queries) DeleteMessage(ctx context.Context, chatID int64, key string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND key = ?`, chatID, key); err != nil {
		return err
	}
	q.emit(bus.KindMessageDeleted, bus.MessageChange{ChatID: chatID, Key: key})
	return nil
}

// ClearChatMessages removes every message of a chat and resets the chat's
// message pointers.
func (q *Queries) ClearChatMessages(ctx context.Context, chatID int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return err
	}
	if err := q.updateChat(ctx, chatID, `
		last_message_id = '', first_unread_message_id = '', unread_count = 0`); err != nil {
		return err
	}
	q.emit(bus.KindMessageDeleted, bus.MessageChange{ChatID: chatID})
	return nil
}

// MessageCount returns the total number of messages.
func (q *Queries) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
