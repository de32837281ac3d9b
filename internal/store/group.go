package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PutGroup inserts or updates a group and replaces its roster.
func (db *DB) PutGroup(ctx context.Context, g *Group) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.millis()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_groups (id, name, admin_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			admin_id = excluded.admin_id`,
		g.ID, g.Name, g.AdminID, now); err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("clear roster: %w", err)
	}
	for _, m := range g.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`,
			g.ID, m, now); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
	}
	return tx.Commit()
}

// AddGroupMembers adds users to the roster of group. Existing members are
// left untouched.
func (db *DB) AddGroupMembers(ctx context.Context, group string, users []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.millis()
	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, user_id, joined_at) VALUES (?, ?, ?)`,
			group, u, now); err != nil {
			return fmt.Errorf("add member: %w", err)
		}
	}
	return tx.Commit()
}

// RemoveGroupMember takes user off the roster of group and returns the admin
// afterwards. When the admin leaves, the longest-standing remaining member
// takes over; an emptied group has no admin. ErrNotFound is returned when
// user was not a member.
func (db *DB) RemoveGroupMember(ctx context.Context, group, user string) (admin string, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, group, user)
	if err != nil {
		return "", fmt.Errorf("remove member: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", ErrNotFound
	}

	if err := tx.QueryRowContext(ctx, `SELECT admin_id FROM chat_groups WHERE id = ?`, group).Scan(&admin); err != nil {
		return "", fmt.Errorf("load admin: %w", err)
	}
	if admin == user {
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at, user_id LIMIT 1`, group).Scan(&admin)
		if errors.Is(err, sql.ErrNoRows) {
			admin = ""
		} else if err != nil {
			return "", fmt.Errorf("pick admin: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE chat_groups SET admin_id = ? WHERE id = ?`, admin, group); err != nil {
			return "", fmt.Errorf("reassign admin: %w", err)
		}
	}
	return admin, tx.Commit()
}

// GetGroup returns the group with its roster, or nil if it does not exist.
func (db *DB) GetGroup(ctx context.Context, id string) (*Group, error) {
	var g Group
	err := db.QueryRowContext(ctx, `SELECT id, name, admin_id FROM chat_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.AdminID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Members, err = db.GroupRoster(ctx, id)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupRoster returns the member ids of a group, sorted.
func (db *DB) GroupRoster(ctx context.Context, id string) ([]string, error) {
	return db.strings(ctx, `SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, id)
}

func (db *DB) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
