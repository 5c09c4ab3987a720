package postgres

import (
	"context"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/atiendohq/atiendo/store"
)

// CreateAgentExecution inserts the active execution row for a turn.
func (d *DB) CreateAgentExecution(ctx context.Context, create *store.AgentExecution) error {
	stmt := `
		INSERT INTO ai.agent_executions (id, business_id, conversation_id, status, started_at)
		VALUES (` + placeholders(5) + `)
	`

	_, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.BusinessID, create.ConversationID, create.Status, create.StartedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create agent execution")
	}
	return nil
}

// FinishAgentExecution closes an execution with its terminal status.
// Metadata is merged so fields written mid-turn (handoff reason)
// survive the final update.
func (d *DB) FinishAgentExecution(ctx context.Context, finish *store.FinishAgentExecution) error {
	metadata, err := json.Marshal(finish.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to encode execution metadata")
	}

	stmt := `
		UPDATE ai.agent_executions
		SET status = $1,
			completed_at = NOW(),
			nodes_visited = $2,
			tokens_used = $3,
			cost = $4,
			error = $5,
			metadata = COALESCE(metadata, '{}') || $6
		WHERE id = $7
	`

	_, err = d.db.ExecContext(ctx, stmt,
		finish.Status,
		pq.Array(finish.NodesVisited),
		finish.TokensUsed,
		finish.Cost,
		finish.Error,
		metadata,
		finish.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to finish agent execution")
	}
	return nil
}
