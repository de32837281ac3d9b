package store

import "context"

// InsertNotification persists a direct-message notification.
func (db *DB) InsertNotification(ctx context.Context, n *Notification) error {
	if n.CreatedAt == 0 {
		n.CreatedAt = db.millis()
	}
	if n.Type == "" {
		n.Type = "message"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, sender_id, message_id, type, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.SenderID, n.MessageID, n.Type, n.Body, n.CreatedAt)
	return err
}

// InsertGroupNotification persists a group-message notification.
func (db *DB) InsertGroupNotification(ctx context.Context, n *GroupNotification) error {
	if n.CreatedAt == 0 {
		n.CreatedAt = db.millis()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO group_notifications (id, user_id, group_id, sender_id, message_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.GroupID, n.SenderID, n.MessageID, n.Body, n.CreatedAt)
	return err
}

// UnreadNotifications returns the unread direct notifications of user,
// newest first.
func (db *DB) UnreadNotifications(ctx context.Context, user string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, sender_id, message_id, type, body, is_read, created_at
		FROM notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY created_at DESC, id
		LIMIT ?`, user, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.SenderID, &n.MessageID, &n.Type, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UnreadGroupNotifications returns the unread group notifications of user,
// newest first.
func (db *DB) UnreadGroupNotifications(ctx context.Context, user string, limit int) ([]GroupNotification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, group_id, sender_id, message_id, body, is_read, created_at
		FROM group_notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY created_at DESC, id
		LIMIT ?`, user, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GroupNotification
	for rows.Next() {
		var n GroupNotification
		if err := rows.Scan(&n.ID, &n.UserID, &n.GroupID, &n.SenderID, &n.MessageID, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks every notification of user as read, direct and
// group alike, and returns how many changed.
func (db *DB) MarkNotificationsRead(ctx context.Context, user string) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, user)
	if err != nil {
		return 0, err
	}
	direct, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	res, err = db.ExecContext(ctx, `UPDATE group_notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, user)
	if err != nil {
		return direct, err
	}
	group, err := res.RowsAffected()
	return direct + group, err
}

// MarkGroupNotificationsRead marks the notifications of user for one group
// as read.
func (db *DB) MarkGroupNotificationsRead(ctx context.Context, user, group string) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE group_notifications SET is_read = 1 WHERE user_id = ? AND group_id = ? AND is_read = 0`, user, group)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
