package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

const chatColumns = `id, type, group_type, name, username, description, avatar_url, created_by,
	participant_ids, member_count, created_at, remote_updated_at,
	unread_count, muted_until, is_pinned, pinned_at, is_hidden, folder_id,
	last_message_id, last_read_message_id, first_unread_message_id, is_placeholder`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	err := row.Scan(
		&c.ID, &c.Type, &c.GroupType, &c.Name, &c.Username, &c.Description, &c.AvatarURL, &c.CreatedBy,
		&c.ParticipantIDs, &c.MemberCount, &c.CreatedAt, &c.UpdatedAt,
		&c.UnreadCount, &c.MutedUntil, &c.IsPinned, &c.PinnedAt, &c.IsHidden, &c.FolderID,
		&c.LastMessageID, &c.LastReadMessageID, &c.FirstUnreadMessageID, &c.Placeholder,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertChat writes the full chat row. Callers produce the row with the
// merge package so locally-owned fields are already resolved.
func (q *Queries) UpsertChat(ctx context.Context, c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO chats (`+chatColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			group_type = excluded.group_type,
			name = excluded.name,
			username = excluded.username,
			description = excluded.description,
			avatar_url = excluded.avatar_url,
			created_by = excluded.created_by,
			participant_ids = excluded.participant_ids,
			member_count = excluded.member_count,
			created_at = excluded.created_at,
			remote_updated_at = excluded.remote_updated_at,
			unread_count = excluded.unread_count,
			muted_until = excluded.muted_until,
			is_pinned = excluded.is_pinned,
			pinned_at = excluded.pinned_at,
			is_hidden = excluded.is_hidden,
			folder_id = excluded.folder_id,
			last_message_id = excluded.last_message_id,
			last_read_message_id = excluded.last_read_message_id,
			first_unread_message_id = excluded.first_unread_message_id,
			is_placeholder = excluded.is_placeholder,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Type), c.GroupType, c.Name, c.Username, c.Description, c.AvatarURL, c.CreatedBy,
		c.ParticipantIDs, c.MemberCount, c.CreatedAt, c.UpdatedAt,
		c.UnreadCount, c.MutedUntil, c.IsPinned, c.PinnedAt, c.IsHidden, c.FolderID,
		c.LastMessageID, c.LastReadMessageID, c.FirstUnreadMessageID, c.Placeholder, now)
	if err != nil {
		return err
	}
	q.emit(bus.KindChatUpserted, bus.ChatChange{ChatIDs: []int64{c.ID}})
	return nil
}

// EnsurePlaceholderChat inserts a placeholder row for id unless a row
// already exists. Returns true if a row was created.
func (q *Queries) EnsurePlaceholderChat(ctx context.Context, id int64, typ ChatType) (bool, error) {
	if typ == "" {
		typ = ChatPrivate
	}
	now := time.Now().UnixMilli()
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO chats (id, type, name, is_placeholder, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, string(typ), PlaceholderChatName, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		q.emit(bus.KindChatUpserted, bus.ChatChange{ChatIDs: []int64{id}})
	}
	return n > 0, nil
}

// GetChat returns a single chat by id, or nil if it does not exist.
func (q *Queries) GetChat(ctx context.Context, id int64) (*Chat, error) {
	c, err := scanChat(q.q.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListChats returns chats with pinned chats first (most recently pinned
// first), then by remote activity.
func (q *Queries) ListChats(ctx context.Context, f ChatFilter) ([]Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats`
	if !f.IncludeHidden {
		query += ` WHERE is_hidden = 0`
	}
	query += ` ORDER BY is_pinned DESC, pinned_at DESC, remote_updated_at DESC, id DESC`
	var args []any
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// ListChatIDs returns the ids of every cached chat.
func (q *Queries) ListChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id FROM chats`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChats removes the given chats. Their messages and queued outbox
// entries go with them.
func (q *Queries) DeleteChats(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := q.q.ExecContext(ctx, `DELETE FROM chats WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return err
	}
	q.emit(bus.KindChatDeleted, bus.ChatChange{ChatIDs: ids})
	return nil
}

// SetMutedUntil stores an absolute mute deadline (unix ms, MutedForever, or 0).
func (q *Queries) SetMutedUntil(ctx context.Context, id, until int64) error {
	return q.updateChat(ctx, id, `muted_until = ?`, until)
}

// SetPinned stores pin state and its tie-break timestamp.
func (q *Queries) SetPinned(ctx context.Context, id int64, pinned bool, pinnedAt int64) error {
	return q.updateChat(ctx, id, `is_pinned = ?, pinned_at = ?`, pinned, pinnedAt)
}

// SetHidden stores the hidden flag.
func (q *Queries) SetHidden(ctx context.Context, id int64, hidden bool) error {
	return q.updateChat(ctx, id, `is_hidden = ?`, hidden)
}

// SetFolder stores the chat's primary folder assignment (0 = none).
func (q *Queries) SetFolder(ctx context.Context, id, folderID int64) error {
	return q.updateChat(ctx, id, `folder_id = ?`, folderID)
}

// SetUnread overwrites the unread counter.
func (q *Queries) SetUnread(ctx context.Context, id int64, count int) error {
	return q.updateChat(ctx, id, `unread_count = ?`, max(count, 0))
}

// IncrementUnread bumps the unread counter and records the first unread
// message if none is recorded yet.
func (q *Queries) IncrementUnread(ctx context.Context, id int64, messageKey string) error {
	return q.updateChat(ctx, id, `
		unread_count = unread_count + 1,
		first_unread_message_id = CASE WHEN first_unread_message_id = '' THEN ? ELSE first_unread_message_id END`,
		messageKey)
}

// MarkRead zeroes the unread counter and records the last read message.
// An empty lastRead keeps the previous value.
func (q *Queries) MarkRead(ctx context.Context, id int64, lastRead string) error {
	return q.updateChat(ctx, id, `
		unread_count = 0,
		first_unread_message_id = '',
		last_read_message_id = CASE WHEN ? = '' THEN last_read_message_id ELSE ? END`,
		lastRead, lastRead)
}

// SetLastMessage points the chat at its newest known message.
func (q *Queries) SetLastMessage(ctx context.Context, id int64, messageKey string) error {
	return q.updateChat(ctx, id, `last_message_id = ?`, messageKey)
}

// ChatCount returns the total number of chats.
func (q *Queries) ChatCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

func (q *Queries) updateChat(ctx context.Context, id int64, set string, args ...any) error {
	args = append(args, time.Now().UnixMilli(), id)
	res, err := q.q.ExecContext(ctx, `UPDATE chats SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.emit(bus.KindChatUpserted, bus.ChatChange{ChatIDs: []int64{id}})
	}
	return nil
}
