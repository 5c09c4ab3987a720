package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/atiendohq/atiendo/store"
)

// GetAgentConfig returns the agent configuration for a business, or
// (nil, nil) when no row exists.
func (d *DB) GetAgentConfig(ctx context.Context, businessID string) (*store.AgentConfig, error) {
	query := `
		SELECT id, business_id, business_name, enabled,
			system_prompt,
			COALESCE(agent_prompt, ''), COALESCE(greet_prompt, ''),
			COALESCE(handoff_prompt, ''), COALESCE(fallback_prompt, ''),
			provider, model, max_tokens, temperature,
			enable_dynamic_variables, COALESCE(custom_variables, '{}'),
			enable_conversation_memory,
			created_at, updated_at
		FROM ai.agent_configs
		WHERE business_id = $1
	`

	cfg := &store.AgentConfig{}
	var temperature sql.NullFloat64
	var customVars []byte
	err := d.db.QueryRowContext(ctx, query, businessID).Scan(
		&cfg.ID, &cfg.BusinessID, &cfg.BusinessName, &cfg.Enabled,
		&cfg.SystemPrompt,
		&cfg.AgentPrompt, &cfg.GreetPrompt,
		&cfg.HandoffPrompt, &cfg.FallbackPrompt,
		&cfg.Provider, &cfg.Model, &cfg.MaxTokens, &temperature,
		&cfg.EnableDynamicVariables, &customVars,
		&cfg.EnableConversationMemory,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get agent config")
	}

	if temperature.Valid {
		t := float32(temperature.Float64)
		cfg.Temperature = &t
	}
	if len(customVars) > 0 {
		if err := json.Unmarshal(customVars, &cfg.CustomVariables); err != nil {
			return nil, errors.Wrap(err, "failed to decode custom variables")
		}
	}

	return cfg, nil
}

// CreateAgentConfig inserts an agent configuration row.
func (d *DB) CreateAgentConfig(ctx context.Context, create *store.AgentConfig) (*store.AgentConfig, error) {
	stmt := `
		INSERT INTO ai.agent_configs (
			business_id, business_name, enabled,
			system_prompt, agent_prompt, greet_prompt, handoff_prompt, fallback_prompt,
			provider, model, max_tokens, temperature,
			enable_dynamic_variables, custom_variables, enable_conversation_memory
		) VALUES (` + placeholders(15) + `)
		RETURNING id, created_at, updated_at
	`

	customVars, err := json.Marshal(orEmptyVars(create.CustomVariables))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode custom variables")
	}

	var temperature any
	if create.Temperature != nil {
		temperature = *create.Temperature
	}

	err = d.db.QueryRowContext(ctx, stmt,
		create.BusinessID, create.BusinessName, create.Enabled,
		create.SystemPrompt, nullString(create.AgentPrompt), nullString(create.GreetPrompt),
		nullString(create.HandoffPrompt), nullString(create.FallbackPrompt),
		create.Provider, create.Model, create.MaxTokens, temperature,
		create.EnableDynamicVariables, customVars, create.EnableConversationMemory,
	).Scan(&create.ID, &create.CreatedAt, &create.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create agent config")
	}

	return create, nil
}

// UpdateAgentConfig applies a partial update and returns the fresh row.
func (d *DB) UpdateAgentConfig(ctx context.Context, update *store.UpdateAgentConfig) (*store.AgentConfig, error) {
	set, args := []string{}, []any{}

	if update.Enabled != nil {
		set, args = append(set, "enabled = "+placeholder(len(args)+1)), append(args, *update.Enabled)
	}
	if update.SystemPrompt != nil {
		set, args = append(set, "system_prompt = "+placeholder(len(args)+1)), append(args, *update.SystemPrompt)
	}
	if update.AgentPrompt != nil {
		set, args = append(set, "agent_prompt = "+placeholder(len(args)+1)), append(args, *update.AgentPrompt)
	}
	if update.Provider != nil {
		set, args = append(set, "provider = "+placeholder(len(args)+1)), append(args, *update.Provider)
	}
	if update.Model != nil {
		set, args = append(set, "model = "+placeholder(len(args)+1)), append(args, *update.Model)
	}
	if update.MaxTokens != nil {
		set, args = append(set, "max_tokens = "+placeholder(len(args)+1)), append(args, *update.MaxTokens)
	}
	if update.EnableDynamicVariables != nil {
		set, args = append(set, "enable_dynamic_variables = "+placeholder(len(args)+1)), append(args, *update.EnableDynamicVariables)
	}
	if update.CustomVariables != nil {
		customVars, err := json.Marshal(update.CustomVariables)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode custom variables")
		}
		set, args = append(set, "custom_variables = "+placeholder(len(args)+1)), append(args, customVars)
	}
	if len(set) == 0 {
		return d.GetAgentConfig(ctx, update.BusinessID)
	}

	set = append(set, "updated_at = NOW()")
	args = append(args, update.BusinessID)

	stmt := `
		UPDATE ai.agent_configs
		SET ` + strings.Join(set, ", ") + `
		WHERE business_id = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to update agent config")
	}

	return d.GetAgentConfig(ctx, update.BusinessID)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmptyVars(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
