package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

const folderColumns = `id, name, icon, color, position, include_contacts, include_non_contacts,
	include_groups, include_channels, include_bots, included_chats, excluded_chats`

func scanFolder(row interface{ Scan(...any) error }) (*Folder, error) {
	var f Folder
	err := row.Scan(&f.ID, &f.Name, &f.Icon, &f.Color, &f.Position, &f.IncludeContacts, &f.IncludeNonContacts,
		&f.IncludeGroups, &f.IncludeChannels, &f.IncludeBots, &f.IncludedChatIDs, &f.ExcludedChatIDs)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpsertFolder inserts or replaces a folder.
func (q *Queries) UpsertFolder(ctx context.Context, f *Folder) error {
	if err := q.upsertFolder(ctx, f); err != nil {
		return err
	}
	q.emit(bus.KindFolderChanged, bus.FolderChange{FolderID: f.ID})
	return nil
}

func (q *Queries) upsertFolder(ctx context.Context, f *Folder) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO folders (`+folderColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			icon = excluded.icon,
			color = excluded.color,
			position = excluded.position,
			include_contacts = excluded.include_contacts,
			include_non_contacts = excluded.include_non_contacts,
			include_groups = excluded.include_groups,
			include_channels = excluded.include_channels,
			include_bots = excluded.include_bots,
			included_chats = excluded.included_chats,
			excluded_chats = excluded.excluded_chats,
			updated_at = excluded.updated_at`,
		f.ID, f.Name, f.Icon, f.Color, f.Position, f.IncludeContacts, f.IncludeNonContacts,
		f.IncludeGroups, f.IncludeChannels, f.IncludeBots, f.IncludedChatIDs, f.ExcludedChatIDs,
		time.Now().UnixMilli())
	return err
}

// ReplaceFolders swaps the cached folder list for folders.
func (q *Queries) ReplaceFolders(ctx context.Context, folders []Folder) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM folders`); err != nil {
		return err
	}
	for i := range folders {
		if err := q.upsertFolder(ctx, &folders[i]); err != nil {
			return err
		}
	}
	q.emit(bus.KindFolderChanged, bus.FolderChange{})
	return nil
}

// GetFolder returns a folder by id, or nil if it does not exist.
func (q *Queries) GetFolder(ctx context.Context, id int64) (*Folder, error) {
	f, err := scanFolder(q.q.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// ListFolders returns folders in display order.
func (q *Queries) ListFolders(ctx context.Context) ([]Folder, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+folderColumns+` FROM folders ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var folders []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, *f)
	}
	return folders, rows.Err()
}

// DeleteFolder removes a folder and clears it as any chat's primary folder.
func (q *Queries) DeleteFolder(ctx context.Context, id int64) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE chats SET folder_id = 0 WHERE folder_id = ?`, id); err != nil {
		return err
	}
	q.emit(bus.KindFolderChanged, bus.FolderChange{FolderID: id})
	return nil
}
