package store

import (
	"context"
	"time"
)

// QueueOutbox adds a message to the send outbox.
func (q *Queries) QueueOutbox(ctx context.Context, clientMsgID string, chatID int64, body, replyTo string) error {
	now := time.Now().UnixMilli()
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO outbox (client_msg_id, chat_id, body, reply_to, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, chatID, body, replyTo, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (q *Queries) MarkOutboxSending(ctx context.Context, clientMsgID string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE client_msg_id = ?`, time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent'.
func (q *Queries) MarkOutboxSent(ctx context.Context, clientMsgID string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', error_message = '', updated_at = ?
		WHERE client_msg_id = ?`, time.Now().UnixMilli(), clientMsgID)
	return err
}

// MarkOutboxFailed records a send failure. The entry goes back to 'queued'
// while it has attempts left, otherwise it becomes 'failed'. Reports
// whether the failure is terminal.
func (q *Queries) MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string, maxAttempts int) (bool, error) {
	var status string
	err := q.q.QueryRowContext(ctx, `
		UPDATE outbox SET
			status = CASE WHEN attempts >= ? THEN 'failed' ELSE 'queued' END,
			error_message = ?,
			updated_at = ?
		WHERE client_msg_id = ?
		RETURNING status`,
		maxAttempts, errMsg, time.Now().UnixMilli(), clientMsgID).Scan(&status)
	if err != nil {
		return false, err
	}
	return status == "failed", nil
}

// RequeueOutbox resets entries stuck in 'sending' (e.g. after a crash) back
// to 'queued'. Returns the number of entries requeued.
func (q *Queries) RequeueOutbox(ctx context.Context) (int64, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (q *Queries) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, client_msg_id, chat_id, body, reply_to, status, attempts, error_message
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ChatID, &e.Body, &e.ReplyTo, &e.Status, &e.Attempts, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
