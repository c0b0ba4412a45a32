package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbrichman/scry/internal/scrytype"
)

// ConversationRepo persists Conversation rows.
type ConversationRepo struct {
	db dbExecer
}

// Create inserts a new conversation. c.ID must already be assigned.
func (r *ConversationRepo) Create(ctx context.Context, c scrytype.Conversation, originID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversations (id, title, source, origin_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Title, string(c.Source), originID, c.CreatedAt.Unix(), c.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetByID returns the conversation row, or ok=false if absent.
func (r *ConversationRepo) GetByID(ctx context.Context, id string) (scrytype.Conversation, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, title, source, created_at, updated_at FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return scrytype.Conversation{}, false, nil
	}
	if err != nil {
		return scrytype.Conversation{}, false, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, true, nil
}

// FindByOrigin looks up a conversation by its source product and origin id,
// the key the duplicate guard uses to detect re-imports.
func (r *ConversationRepo) FindByOrigin(ctx context.Context, source scrytype.Source, originID string) (scrytype.Conversation, bool, error) {
	if originID == "" {
		return scrytype.Conversation{}, false, nil
	}
	row := r.db.QueryRow(ctx,
		`SELECT id, title, source, created_at, updated_at FROM conversations WHERE source = $1 AND origin_id = $2`,
		string(source), originID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return scrytype.Conversation{}, false, nil
	}
	if err != nil {
		return scrytype.Conversation{}, false, fmt.Errorf("find conversation by origin: %w", err)
	}
	return c, true, nil
}

// GetAll returns the most recently updated conversations, up to limit.
func (r *ConversationRepo) GetAll(ctx context.Context, limit int) ([]scrytype.Conversation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, source, created_at, updated_at FROM conversations ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []scrytype.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetWithMessages returns a conversation plus every message, in stored
// order (created_at then insertion_seq).
func (r *ConversationRepo) GetWithMessages(ctx context.Context, id string) (scrytype.Conversation, []scrytype.Message, bool, error) {
	c, ok, err := r.GetByID(ctx, id)
	if err != nil || !ok {
		return c, nil, ok, err
	}
	messages, err := (&MessageRepo{db: r.db}).GetByConversation(ctx, id)
	if err != nil {
		return c, nil, false, err
	}
	return c, messages, true, nil
}

// Count returns the total number of conversations.
func (r *ConversationRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// ConversationStats summarizes the archive for the stats endpoint.
type ConversationStats struct {
	TotalConversations int
	TotalMessages      int
	BySource           map[string]int
	Last24h            int
}

// GetStats aggregates conversation counts by source and recency.
func (r *ConversationRepo) GetStats(ctx context.Context) (ConversationStats, error) {
	stats := ConversationStats{BySource: make(map[string]int)}

	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&stats.TotalConversations); err != nil {
		return stats, fmt.Errorf("count conversations: %w", err)
	}
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.TotalMessages); err != nil {
		return stats, fmt.Errorf("count messages: %w", err)
	}

	rows, err := r.db.Query(ctx, `SELECT source, COUNT(*) FROM conversations GROUP BY source`)
	if err != nil {
		return stats, fmt.Errorf("group conversations by source: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return stats, err
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	cutoff := time.Now().Add(-24 * time.Hour).Unix()
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE created_at >= $1`, cutoff).Scan(&stats.Last24h); err != nil {
		return stats, fmt.Errorf("count recent conversations: %w", err)
	}
	return stats, nil
}

// Delete removes a conversation; messages and embeddings cascade via FK.
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (scrytype.Conversation, error) {
	var c scrytype.Conversation
	var source string
	var createdAt, updatedAt int64
	err := row.Scan(&c.ID, &c.Title, &source, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.Source = scrytype.Source(source)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return c, nil
}
