package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/events"
	"agentline/internal/provider"
	"agentline/internal/repo"
)

// ChatRequest is one governed conversation turn.
type ChatRequest struct {
	PrincipalID string
	SessionID   string
	AgentName   string
	Message     string
	Overrides   RequestOverrides
}

// ActionOutcome is the per-tool-call result of a chat turn. Error is set
// when the call failed but the turn as a whole carried on.
type ActionOutcome struct {
	Tool     string              `json:"tool"`
	Action   domain.ActionRecord `json:"action"`
	Results  []map[string]any    `json:"results,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Proposal is a mutation the model asked for on an agent that does not
// auto-execute. Nothing was written; the caller decides.
type Proposal struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

type ChatResult struct {
	SessionID    string          `json:"session_id"`
	Content      string          `json:"content"`
	Outcomes     []ActionOutcome `json:"outcomes,omitempty"`
	Proposals    []Proposal      `json:"proposals,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	CostUSD      float64         `json:"cost_usd"`
	Quota        QuotaStatus     `json:"quota"`
}

// Chat runs one conversation turn: quota check, clamped provider call,
// tool-call execution, session bookkeeping.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.PrincipalID) == "" {
		return nil, ValidationError{Msg: "principal_id is required"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ValidationError{Msg: "message is required"}
	}

	if err := e.Quota.Check(req.PrincipalID, EstimateTokens(req.Message)); err != nil {
		var qe QuotaExceededError
		if errors.As(err, &qe) {
			e.Metrics.QuotaDenialsTotal.WithLabelValues(qe.Reason).Inc()
		}
		return nil, err
	}

	agentName := req.AgentName
	if agentName == "" {
		agentName = e.DefaultAgent
	}
	agent, err := e.Repo.GetAgentByName(ctx, agentName)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, NotFoundError{Kind: "agent", ID: agentName}
	}
	if err != nil {
		return nil, err
	}

	if err := e.Repo.EnsureActor(ctx, req.PrincipalID, e.timestamp()); err != nil {
		return nil, err
	}

	session, created, err := e.resolveSession(ctx, req, agent)
	if err != nil {
		return nil, err
	}

	overrides := req.Overrides
	if overrides.Model == "" && agent.LLMModel != "" {
		overrides.Model = agent.LLMModel
	}
	if overrides.Temperature == nil {
		t := agent.Temperature
		overrides.Temperature = &t
	}
	model, temperature, maxTokens := e.Governor.Clamp(overrides)

	messages := make([]provider.Message, 0, len(session.Messages)+1)
	for _, m := range session.Messages {
		if m.Role == "user" || m.Role == "assistant" {
			messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, provider.Message{Role: "user", Content: req.Message})

	provReq := provider.Request{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		System:      agent.SystemPrompt,
		Messages:    messages,
		Tools:       e.Tools.Schemas(agent.AllowedTools),
	}

	requestHash := HashRequest(req.PrincipalID, req.Message)
	start := e.Now()
	resp, provErr := e.Provider.Complete(ctx, provReq)
	durationMS := e.Now().Sub(start).Milliseconds()

	if provErr != nil {
		e.Audit.Record(AuditEntry{
			PrincipalID: req.PrincipalID,
			Model:       model,
			RequestHash: requestHash,
			InputTokens: EstimateTokens(req.Message),
			DurationMS:  durationMS,
			Status:      "error",
			Error:       provErr.Error(),
		})
		e.Metrics.AuditBufferFill.Set(float64(e.Audit.Len()))
		e.Quota.Record(req.PrincipalID, 0)
		return nil, ProviderError{Provider: e.Provider.Name(), Err: provErr}
	}

	e.Audit.Record(AuditEntry{
		PrincipalID:  req.PrincipalID,
		Model:        model,
		RequestHash:  requestHash,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		DurationMS:   durationMS,
		Status:       "ok",
	})
	e.Metrics.AuditBufferFill.Set(float64(e.Audit.Len()))
	e.Metrics.TokensTotal.WithLabelValues("input").Add(float64(resp.InputTokens))
	e.Metrics.TokensTotal.WithLabelValues("output").Add(float64(resp.OutputTokens))
	e.Quota.Record(req.PrincipalID, resp.InputTokens+resp.OutputTokens)

	result := &ChatResult{
		SessionID:    session.SessionID,
		Content:      resp.Content,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      e.Audit.Cost(resp.InputTokens, resp.OutputTokens),
	}

	for _, tc := range resp.ToolCalls {
		e.runToolCall(ctx, req, agent, session.SessionID, tc, result)
	}

	e.recordTurn(ctx, req, session, created, result)
	result.Quota = e.Quota.Status(req.PrincipalID)
	return result, nil
}

func (e *Engine) resolveSession(ctx context.Context, req ChatRequest, agent domain.Agent) (domain.Session, bool, error) {
	if req.SessionID == "" {
		now := e.timestamp()
		agentID := agent.ID
		return domain.Session{
			SessionID:   uuid.NewString(),
			PrincipalID: req.PrincipalID,
			AgentID:     &agentID,
			Title:       truncate(req.Message, 80),
			Messages:    []domain.Message{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}, true, nil
	}
	session, err := e.Repo.GetSession(ctx, req.SessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Session{}, false, NotFoundError{Kind: "session", ID: req.SessionID}
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	if session.PrincipalID != req.PrincipalID {
		return domain.Session{}, false, ValidationError{Msg: "session belongs to another principal"}
	}
	return session, false, nil
}

func (e *Engine) runToolCall(ctx context.Context, req ChatRequest, agent domain.Agent, sessionID string, tc provider.ToolCall, result *ChatResult) {
	binding, ok := e.Tools.Get(tc.Name)
	if !ok {
		result.Outcomes = append(result.Outcomes, ActionOutcome{Tool: tc.Name, Error: "unknown tool"})
		return
	}
	if len(agent.AllowedTools) > 0 && !contains(agent.AllowedTools, tc.Name) {
		result.Outcomes = append(result.Outcomes, ActionOutcome{Tool: tc.Name, Error: "tool not allowed for this agent"})
		return
	}

	// Mutations and approval-flagged tools, rollbacks included, only run on
	// agents that auto-execute; otherwise they come back as proposals.
	// Queries always run.
	if !agent.AutoExecute && (binding.Def.RequiresApproval || binding.ActionType != domain.ActionQuery) {
		result.Proposals = append(result.Proposals, Proposal{
			Tool:       tc.Name,
			Arguments:  tc.Arguments,
			Reasoning:  tc.Reasoning,
			Confidence: tc.Confidence,
		})
		return
	}

	if tc.Name == "rollback_action" {
		actionID, _ := tc.Arguments["action_id"].(string)
		reason, _ := tc.Arguments["reason"].(string)
		rb, err := e.Rollback(ctx, actionID, reason, req.PrincipalID)
		if err != nil {
			result.Outcomes = append(result.Outcomes, ActionOutcome{Tool: tc.Name, Error: err.Error()})
			return
		}
		result.Outcomes = append(result.Outcomes, ActionOutcome{Tool: tc.Name, Action: rb.Action, Warnings: rb.Warnings})
		return
	}

	targetID := ""
	fields := map[string]any{}
	for k, v := range tc.Arguments {
		if k == "id" {
			targetID, _ = v.(string)
			continue
		}
		fields[k] = v
	}

	agentID := agent.ID
	actionResult, err := e.Execute(ctx, ActionRequest{
		PrincipalID: req.PrincipalID,
		AgentID:     &agentID,
		SessionID:   sessionID,
		ActionType:  binding.ActionType,
		TargetType:  binding.Def.TargetType,
		TargetID:    targetID,
		Fields:      fields,
		UserPrompt:  req.Message,
		Reasoning:   tc.Reasoning,
		Confidence:  tc.Confidence,
	})
	outcome := ActionOutcome{Tool: tc.Name}
	if actionResult != nil {
		outcome.Action = actionResult.Action
		outcome.Results = actionResult.Results
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	result.Outcomes = append(result.Outcomes, outcome)
}

// recordTurn persists the conversation and its counters. Session write
// failures are logged, not surfaced: the actions already committed.
func (e *Engine) recordTurn(ctx context.Context, req ChatRequest, session domain.Session, created bool, result *ChatResult) {
	now := e.timestamp()
	session.Messages = append(session.Messages,
		domain.Message{Role: "user", Content: req.Message, Timestamp: now},
		domain.Message{Role: "assistant", Content: result.Content, Timestamp: now})
	for _, o := range result.Outcomes {
		session.TotalActions++
		if o.Error == "" {
			session.SuccessfulActions++
		} else {
			session.FailedActions++
		}
	}
	session.UpdatedAt = now

	var err error
	if created {
		err = e.Repo.InsertSession(ctx, session)
	} else {
		err = e.Repo.UpdateSession(ctx, session)
	}
	if err != nil {
		e.Log.Error("persist session", zap.String("session_id", session.SessionID), zap.Error(err))
		return
	}
	if err := e.Events.AppendDirect(ctx, events.TypeSessionChat, "session", session.SessionID, req.PrincipalID, events.EventPayload{
		"outcomes":      len(result.Outcomes),
		"proposals":     len(result.Proposals),
		"input_tokens":  result.InputTokens,
		"output_tokens": result.OutputTokens,
	}); err != nil {
		e.Log.Error("append chat event", zap.String("session_id", session.SessionID), zap.Error(err))
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
