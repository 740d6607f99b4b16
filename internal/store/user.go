package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertUser inserts or updates a cached participant profile. Empty
// incoming fields keep the cached value.
func (q *Queries) UpsertUser(ctx context.Context, u *User) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, avatar_url, online_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE users.display_name END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END,
			online_status = CASE WHEN excluded.online_status != '' THEN excluded.online_status ELSE users.online_status END,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.DisplayName, u.AvatarURL, u.OnlineStatus, time.Now().UnixMilli())
	return err
}

// GetUser returns a cached user, or nil if unknown.
func (q *Queries) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := q.q.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, online_status FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.OnlineStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
