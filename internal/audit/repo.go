package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const (
	ActionChatCreated       = "chat_created"
	ActionChatDeleted       = "chat_deleted"
	ActionMessagePosted     = "message_posted"
	ActionCharacterSelected = "character_selected"
)

type Entry struct {
	ID        int64
	ChatID    string
	Action    string
	MetaJSON  string
	CreatedAt time.Time
}

// Meta encodes v for Entry.MetaJSON, falling back to an empty object.
func Meta(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func (s *Store) LogAction(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.MetaJSON) == "" || !json.Valid([]byte(e.MetaJSON)) {
		e.MetaJSON = "{}"
	}

	q := s.sql.Insert("chat_audit_log").
		Columns("chat_id", "action", "meta_json").
		Values(e.ChatID, e.Action, e.MetaJSON)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListActions returns the entries of a chat, oldest first. The service only
// writes the trail; this is the read side for operators and tests.
func (s *Store) ListActions(ctx context.Context, chatID string, limit uint64) ([]Entry, error) {
	q := s.sql.Select("id", "chat_id", "action", "meta_json", "created_at").
		From("chat_audit_log").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Action, &e.MetaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}
