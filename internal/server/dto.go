package server

import (
	"agentline/internal/domain"
	"agentline/internal/engine"
)

type ChatRequestBody struct {
	Message     string   `json:"message" doc:"User message for this turn"`
	SessionID   string   `json:"session_id,omitempty" doc:"Continue an existing session"`
	Agent       string   `json:"agent,omitempty" doc:"Agent name; defaults to the configured agent"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" doc:"Clamped to the configured window"`
	MaxTokens   *int     `json:"max_tokens,omitempty" doc:"Clamped to the configured window"`
}

type RollbackRequestBody struct {
	Reason string `json:"reason,omitempty" doc:"Why the action is being reversed"`
}

type RollbackResponse struct {
	Action      domain.ActionRecord `json:"action"`
	NewTargetID string              `json:"new_target_id,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

type ActionListResponse struct {
	Actions []domain.ActionRecord `json:"actions"`
}

type SessionListResponse struct {
	Sessions []domain.Session `json:"sessions"`
}

type ToolListResponse struct {
	Tools []domain.ToolDefinition `json:"tools"`
}

type AgentListResponse struct {
	Agents []domain.Agent `json:"agents"`
}

type AuditEntriesResponse struct {
	Entries []engine.AuditEntry `json:"entries"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}
