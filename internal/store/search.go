package store

import "context"

// SearchMessages performs a full-text search on message bodies. chatID 0
// searches every chat.
func (q *Queries) SearchMessages(ctx context.Context, query string, chatID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	stmt := `
		SELECT `+selectMessage+`,
		       snippet(messages_fts, '<<', '>>', '...', -1, 16)
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != 0 {
		stmt += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	stmt += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var snippet string
		m, err := scanMessage(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &snippet)...)
		}))
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: *m, Snippet: snippet})
	}
	return results, rows.Err()
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }
