package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// InsertMessage persists m and its receivers in one transaction. CreatedAt
// and DeliveryStatus are filled in when empty.
func (db *DB) InsertMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = db.millis()
	}
	if m.DeliveryStatus == "" {
		m.DeliveryStatus = StatusSent
	}
	files, err := json.Marshal(nonNil(m.FileURLs))
	if err != nil {
		return fmt.Errorf("encode file urls: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, group_id, text, file_urls, audio_url, forwarded_from, delivery_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SenderID, m.ReceiverID, m.GroupID, m.Text, string(files), m.AudioURL, m.ForwardedFrom, m.DeliveryStatus, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	for _, r := range m.Receivers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO message_receivers (message_id, user_id) VALUES (?, ?)`, m.ID, r); err != nil {
			return fmt.Errorf("insert receiver: %w", err)
		}
	}
	return tx.Commit()
}

// ErrNotFound is returned by updates that matched no live row.
var ErrNotFound = errors.New("not found")

const messageColumns = `id, sender_id, receiver_id, group_id, text, file_urls, audio_url, forwarded_from, edited, is_deleted, delivery_status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var files string
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Text, &files, &m.AudioURL, &m.ForwardedFrom, &m.Edited, &m.Deleted, &m.DeliveryStatus, &m.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(files), &m.FileURLs); err != nil {
		return nil, fmt.Errorf("decode file urls: %w", err)
	}
	return &m, nil
}

// loadSets fills the receivers and seen-by set of m.
func (db *DB) loadSets(ctx context.Context, m *Message) error {
	var err error
	if m.Receivers, err = db.strings(ctx,
		`SELECT user_id FROM message_receivers WHERE message_id = ? ORDER BY user_id`, m.ID); err != nil {
		return err
	}
	m.SeenBy, err = db.strings(ctx,
		`SELECT user_id FROM message_seen_by WHERE message_id = ? ORDER BY seen_at, user_id`, m.ID)
	return err
}

// GetMessage returns the message with its receivers and seen-by set, or nil
// if it does not exist.
func (db *DB) GetMessage(ctx context.Context, id string) (*Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := db.loadSets(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Conversation returns the latest direct messages between user and peer,
// oldest first. Messages user deleted for themselves are left out.
func (db *DB) Conversation(ctx context.Context, user, peer string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages m
		WHERE ((m.sender_id = ? AND m.receiver_id = ?) OR (m.sender_id = ? AND m.receiver_id = ?))
		  AND NOT EXISTS (SELECT 1 FROM message_deleted_for d WHERE d.message_id = m.id AND d.user_id = ?)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`,
		user, peer, peer, user, user, limit)
	if err != nil {
		return nil, err
	}
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	slices.Reverse(out)
	for i := range out {
		if err := db.loadSets(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MarkDelivered advances a sent message to delivered. It reports whether the
// status changed; delivered and seen messages are left alone.
func (db *DB) MarkDelivered(ctx context.Context, id string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE messages SET delivery_status = ? WHERE id = ? AND delivery_status = ?`,
		StatusDelivered, id, StatusSent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkSeen sets the message status to seen and adds viewer to its seen-by
// set. added is false when viewer had already seen it.
func (db *DB) MarkSeen(ctx context.Context, id, viewer string) (added bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET delivery_status = ? WHERE id = ? AND delivery_status <> ?`,
		StatusSeen, id, StatusSeen); err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_seen_by (message_id, user_id, seen_at) VALUES (?, ?, ?)`,
		id, viewer, db.millis())
	if err != nil {
		return false, fmt.Errorf("insert seen_by: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// EditMessage replaces the text of a message and flags it as edited. It
// returns ErrNotFound when the message is missing or was deleted.
func (db *DB) EditMessage(ctx context.Context, id, text string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE messages SET text = ?, edited = 1 WHERE id = ? AND is_deleted = 0`, text, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForUser hides the message from one user only.
func (db *DB) DeleteForUser(ctx context.Context, id, user string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO message_deleted_for (message_id, user_id) VALUES (?, ?)`, id, user)
	return err
}

// DeletedFor reports whether user hid the message.
func (db *DB) DeletedFor(ctx context.Context, id, user string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_deleted_for WHERE message_id = ? AND user_id = ?`, id, user).Scan(&n)
	return n > 0, err
}

// Tombstone clears the content of a message for everyone. The row is kept so
// references and delivery history stay valid.
func (db *DB) Tombstone(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE messages SET text = '', file_urls = '[]', audio_url = '', is_deleted = 1 WHERE id = ?`, id)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
