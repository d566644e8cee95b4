package engine

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"agentline/internal/config"
	"agentline/internal/events"
	"agentline/internal/metrics"
	"agentline/internal/provider"
	"agentline/internal/record"
	"agentline/internal/repo"
)

// Engine executes governed actions: every mutation is recorded as an intent
// first, applied and confirmed in one transaction, and can be compensated
// later. The engine owns the quota, audit and clamping policies around the
// model provider.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Records  *record.Catalog
	Tools    *ToolCatalog
	Quota    *QuotaManager
	Audit    *AuditLogger
	Governor *Governor
	Provider provider.Provider
	Metrics  *metrics.Metrics
	Log      *zap.Logger
	Now      func() time.Time

	DefaultAgent string
}

func New(cfg *config.Config, conn *sql.DB, prov provider.Provider, m *metrics.Metrics, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	now := time.Now
	tools := NewToolCatalog()
	if err := RegisterBuiltinTools(tools); err != nil {
		return nil, err
	}
	return &Engine{
		DB:      conn,
		Repo:    repo.Repo{DB: conn},
		Events:  events.Writer{DB: conn, Now: now},
		Records: record.Builtin(now),
		Tools:   tools,
		Quota:   NewQuotaManager(cfg.Quota.DailyRequests, cfg.Quota.DailyTokens, now, log),
		Audit:   NewAuditLogger(cfg.Audit.MaxEntries, cfg.Costs.PerKInputUSD, cfg.Costs.PerKOutputUSD, now, log),
		Governor: NewGovernor(Limits{
			MinTemperature:     cfg.Limits.MinTemperature,
			MaxTemperature:     cfg.Limits.MaxTemperature,
			DefaultTemperature: cfg.Limits.DefaultTemperature,
			MinMaxTokens:       cfg.Limits.MinMaxTokens,
			MaxMaxTokens:       cfg.Limits.MaxMaxTokens,
			DefaultMaxTokens:   cfg.Limits.DefaultMaxTokens,
			DefaultModel:       cfg.Limits.DefaultModel,
		}, log),
		Provider:     prov,
		Metrics:      m,
		Log:          log,
		Now:          now,
		DefaultAgent: cfg.Agent.Name,
	}, nil
}

func (e *Engine) timestamp() string {
	return e.Now().UTC().Format(time.RFC3339)
}
