package store

import (
	"context"
	"database/sql"
	"errors"
)

// PutUser inserts or updates a user. The online flag is left untouched.
func (db *DB) PutUser(ctx context.Context, u *User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		u.ID, u.Name, u.Email, db.millis())
	return err
}

// GetUser returns the user, or nil if it does not exist.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, is_online, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Online, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUserOnline mirrors live presence onto the user record.
func (db *DB) SetUserOnline(ctx context.Context, id string, online bool) error {
	_, err := db.ExecContext(ctx, `UPDATE users SET is_online = ? WHERE id = ?`, online, id)
	return err
}

// ResetPresence marks every user offline. Used at startup, when no session
// can be live yet.
func (db *DB) ResetPresence(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE users SET is_online = 0 WHERE is_online = 1`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Block records that blocker does not accept messages from blocked.
func (db *DB) Block(ctx context.Context, blocker, blocked string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_blocks (blocker_id, blocked_id, created_at) VALUES (?, ?, ?)`,
		blocker, blocked, db.millis())
	return err
}

func (db *DB) Unblock(ctx context.Context, blocker, blocked string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM user_blocks WHERE blocker_id = ? AND blocked_id = ?`, blocker, blocked)
	return err
}

// Blocked reports whether either user has blocked the other.
func (db *DB) Blocked(ctx context.Context, a, b string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_blocks
		WHERE (blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)`,
		a, b, b, a).Scan(&n)
	return n > 0, err
}
