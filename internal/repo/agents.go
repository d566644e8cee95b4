package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agentline/internal/domain"
)

const agentCols = "id,name,display_name,COALESCE(description,''),agent_type,llm_model,temperature,COALESCE(system_prompt,''),allowed_tools_json,auto_execute,is_active,created_at"

func scanAgent(row interface{ Scan(...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var allowedTools sql.NullString
	var autoExecute, active int
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Description, &a.AgentType, &a.LLMModel,
		&a.Temperature, &a.SystemPrompt, &allowedTools, &autoExecute, &active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.AutoExecute = autoExecute == 1
	a.IsActive = active == 1
	if allowedTools.Valid && allowedTools.String != "" {
		if err := json.Unmarshal([]byte(allowedTools.String), &a.AllowedTools); err != nil {
			return a, fmt.Errorf("unmarshal allowed_tools: %w", err)
		}
	}
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, a domain.Agent) error {
	var allowedTools any
	if len(a.AllowedTools) > 0 {
		data, err := json.Marshal(a.AllowedTools)
		if err != nil {
			return fmt.Errorf("marshal allowed_tools: %w", err)
		}
		allowedTools = string(data)
	}
	autoExecute := 0
	if a.AutoExecute {
		autoExecute = 1
	}
	active := 0
	if a.IsActive {
		active = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(id,name,display_name,description,agent_type,llm_model,temperature,system_prompt,allowed_tools_json,auto_execute,is_active,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.DisplayName, nullable(a.Description), a.AgentType, a.LLMModel,
		a.Temperature, nullable(a.SystemPrompt), allowedTools, autoExecute, active, a.CreatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE id=?`, id))
}

func (r Repo) GetAgentByName(ctx context.Context, name string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentCols+` FROM agents WHERE name=?`, name))
}

func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentCols+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
