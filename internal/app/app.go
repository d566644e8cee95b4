package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentline/internal/config"
	"agentline/internal/domain"
	"agentline/internal/migrate"
	"agentline/internal/repo"
)

// Bootstrap migrates the database and seeds the configured default agent if
// it does not exist yet. Safe to run on every start.
func Bootstrap(ctx context.Context, conn *sql.DB, cfg *config.Config, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, err := r.GetAgentByName(ctx, cfg.Agent.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	agent := domain.Agent{
		ID:           uuid.NewString(),
		Name:         cfg.Agent.Name,
		DisplayName:  cfg.Agent.DisplayName,
		AgentType:    "BUSINESS",
		LLMModel:     cfg.Limits.DefaultModel,
		Temperature:  cfg.Limits.DefaultTemperature,
		SystemPrompt: cfg.Agent.SystemPrompt,
		AutoExecute:  true,
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.InsertAgent(ctx, agent); err != nil {
		return err
	}
	log.Info("seeded default agent", zap.String("agent", agent.Name))
	return nil
}
