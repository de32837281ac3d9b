package store

import "context"

// QueueEmail adds an email to the outbox and returns its id.
func (db *DB) QueueEmail(ctx context.Context, recipient, subject, body string) (int64, error) {
	now := db.millis()
	res, err := db.ExecContext(ctx, `
		INSERT INTO email_outbox (recipient, subject, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		recipient, subject, body, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingEmails returns queued emails, oldest first.
func (db *DB) PendingEmails(ctx context.Context, limit int) ([]EmailEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, recipient, subject, body, status, attempts, error_message
		FROM email_outbox
		WHERE status = 'queued'
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []EmailEntry
	for rows.Next() {
		var e EmailEntry
		if err := rows.Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.Status, &e.Attempts, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEmailSending claims a queued email. ok is false if another worker
// already claimed it.
func (db *DB) MarkEmailSending(ctx context.Context, id int64) (ok bool, err error) {
	res, err := db.ExecContext(ctx, `
		UPDATE email_outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'queued'`, db.millis(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkEmailSent marks an email as delivered to the relay.
func (db *DB) MarkEmailSent(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE email_outbox SET status = 'sent', error_message = '', updated_at = ? WHERE id = ?`,
		db.millis(), id)
	return err
}

// MarkEmailFailed records a failed attempt. Entries below maxAttempts go
// back to the queue; the rest are marked failed.
func (db *DB) MarkEmailFailed(ctx context.Context, id int64, errMsg string, maxAttempts int) error {
	_, err := db.ExecContext(ctx, `
		UPDATE email_outbox
		SET status = CASE WHEN attempts < ? THEN 'queued' ELSE 'failed' END,
		    error_message = ?, updated_at = ?
		WHERE id = ?`, maxAttempts, errMsg, db.millis(), id)
	return err
}

// GetEmail returns an outbox entry by id.
func (db *DB) GetEmail(ctx context.Context, id int64) (*EmailEntry, error) {
	var e EmailEntry
	err := db.QueryRowContext(ctx, `
		SELECT id, recipient, subject, body, status, attempts, error_message
		FROM email_outbox WHERE id = ?`, id).
		Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body, &e.Status, &e.Attempts, &e.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// RequeueSending returns emails left in 'sending' by an unclean shutdown
// to the queue.
func (db *DB) RequeueSending(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE email_outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, db.millis())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
