package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/atiendohq/atiendo/store"
)

// GetConversationSummary returns the rolling summary, or (nil, nil)
// when the conversation has none yet.
func (d *DB) GetConversationSummary(ctx context.Context, conversationID string) (*store.ConversationSummary, error) {
	query := `
		SELECT summary
		FROM public.conversations
		WHERE id = $1
	`

	var raw []byte
	err := d.db.QueryRowContext(ctx, query, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get conversation summary")
	}
	if len(raw) == 0 {
		return nil, nil
	}

	summary := &store.ConversationSummary{}
	if err := json.Unmarshal(raw, summary); err != nil {
		return nil, errors.Wrap(err, "failed to decode conversation summary")
	}
	if summary.Text == "" {
		return nil, nil
	}
	return summary, nil
}

// UpsertConversationSummary stores the rolling summary jsonb.
func (d *DB) UpsertConversationSummary(ctx context.Context, conversationID string, summary *store.ConversationSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "failed to encode conversation summary")
	}

	stmt := `
		UPDATE public.conversations
		SET summary = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := d.db.ExecContext(ctx, stmt, raw, conversationID); err != nil {
		return errors.Wrap(err, "failed to upsert conversation summary")
	}
	return nil
}
