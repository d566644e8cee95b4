package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/events"
	"agentline/internal/record"
)

// ActionRequest describes one governed mutation or query.
type ActionRequest struct {
	PrincipalID string
	AgentID     *string
	SessionID   string
	ActionType  string
	TargetType  string
	TargetID    string
	Fields      map[string]any
	UserPrompt  string
	Reasoning   string
	Confidence  float64
}

// ActionResult carries the finished action record plus, for queries, the
// matching rows.
type ActionResult struct {
	Action  domain.ActionRecord
	Results []map[string]any
}

// Execute runs one governed action. The PENDING intent row is committed
// before the mutation starts; the mutation and the EXECUTED transition share
// a transaction, so a crash leaves either a consistent PENDING row with no
// mutation, or both. Failures are recorded as FAILED without losing the
// intent.
func (e *Engine) Execute(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	if strings.TrimSpace(req.PrincipalID) == "" {
		return nil, ValidationError{Msg: "principal_id is required"}
	}
	switch req.ActionType {
	case domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete, domain.ActionQuery:
	default:
		return nil, ValidationError{Msg: fmt.Sprintf("unknown action type %q", req.ActionType)}
	}
	accessor, err := e.Records.Get(req.TargetType)
	if err != nil {
		var ute record.UnsupportedTypeError
		if errors.As(err, &ute) {
			return nil, ValidationError{Msg: ute.Error()}
		}
		return nil, err
	}
	if (req.ActionType == domain.ActionUpdate || req.ActionType == domain.ActionDelete) && req.TargetID == "" {
		return nil, ValidationError{Msg: "target id is required"}
	}

	if err := e.Repo.EnsureActor(ctx, req.PrincipalID, e.timestamp()); err != nil {
		return nil, err
	}

	// Snapshot current state for reversibility before recording the intent.
	var dataBefore map[string]any
	if req.ActionType == domain.ActionUpdate || req.ActionType == domain.ActionDelete {
		dataBefore, err = accessor.Get(ctx, e.DB, req.TargetID)
		if errors.Is(err, record.ErrNotFound) {
			return nil, NotFoundError{Kind: req.TargetType, ID: req.TargetID}
		}
		if err != nil {
			return nil, err
		}
	}

	action := domain.ActionRecord{
		ID:          uuid.NewString(),
		AgentID:     req.AgentID,
		PrincipalID: req.PrincipalID,
		SessionID:   req.SessionID,
		ActionType:  req.ActionType,
		Status:      domain.StatusPending,
		TargetType:  req.TargetType,
		TargetID:    req.TargetID,
		DataBefore:  dataBefore,
		UserPrompt:  req.UserPrompt,
		Reasoning:   req.Reasoning,
		Confidence:  req.Confidence,
		CreatedAt:   e.timestamp(),
	}
	if err := e.Repo.InsertPendingAction(ctx, action); err != nil {
		return nil, err
	}

	start := e.Now()
	results, err := e.apply(ctx, accessor, &action, req.Fields, start)
	duration := e.Now().Sub(start)

	if err != nil {
		action.Status = domain.StatusFailed
		action.ErrorMessage = err.Error()
		action.DurationMS = duration.Milliseconds()
		if markErr := e.Repo.MarkActionFailed(ctx, action.ID, err.Error(), action.DurationMS); markErr != nil {
			e.Log.Error("mark action failed", zap.String("action_id", action.ID), zap.Error(markErr))
		}
		if evErr := e.Events.AppendDirect(ctx, events.TypeActionFailed, "action", action.ID, req.PrincipalID, events.EventPayload{
			"action_type": action.ActionType,
			"target_type": action.TargetType,
			"error":       err.Error(),
		}); evErr != nil {
			e.Log.Error("append failure event", zap.String("action_id", action.ID), zap.Error(evErr))
		}
		e.Metrics.ActionsTotal.WithLabelValues(action.ActionType, domain.StatusFailed).Inc()
		e.Metrics.ActionDuration.WithLabelValues(action.ActionType, action.TargetType, domain.StatusFailed).Observe(duration.Seconds())
		e.Log.Warn("action failed",
			zap.String("action_id", action.ID),
			zap.String("action_type", action.ActionType),
			zap.String("target_type", action.TargetType),
			zap.Error(err))
		return &ActionResult{Action: action}, ExecutionError{ActionID: action.ID, Err: err}
	}

	e.Metrics.ActionsTotal.WithLabelValues(action.ActionType, domain.StatusExecuted).Inc()
	e.Metrics.ActionDuration.WithLabelValues(action.ActionType, action.TargetType, domain.StatusExecuted).Observe(duration.Seconds())
	e.Log.Info("action executed",
		zap.String("action_id", action.ID),
		zap.String("action_type", action.ActionType),
		zap.String("target_type", action.TargetType),
		zap.String("target_id", action.TargetID),
		zap.Int64("duration_ms", action.DurationMS))
	return &ActionResult{Action: action, Results: results}, nil
}

// apply performs the mutation and the PENDING -> EXECUTED transition in one
// transaction.
func (e *Engine) apply(ctx context.Context, accessor record.Accessor, action *domain.ActionRecord, fields map[string]any, start time.Time) ([]map[string]any, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var results []map[string]any
	switch action.ActionType {
	case domain.ActionCreate:
		after, err := accessor.Create(ctx, tx, fields)
		if err != nil {
			return nil, err
		}
		action.DataAfter = after
		if id, ok := after["id"].(string); ok {
			action.TargetID = id
		}
	case domain.ActionUpdate:
		after, err := accessor.Update(ctx, tx, action.TargetID, fields)
		if err != nil {
			return nil, err
		}
		action.DataAfter = after
	case domain.ActionDelete:
		soft, err := accessor.Delete(ctx, tx, action.TargetID)
		if err != nil {
			return nil, err
		}
		action.DataAfter = map[string]any{"deleted": true, "soft": soft}
	case domain.ActionQuery:
		limit := 0
		filters := map[string]any{}
		for k, v := range fields {
			filters[k] = v
		}
		if n, ok := filters["limit"].(float64); ok {
			limit = int(n)
			delete(filters, "limit")
		}
		results, err = accessor.List(ctx, tx, filters, limit)
		if err != nil {
			return nil, err
		}
		action.DataAfter = map[string]any{"count": len(results)}
	}

	executedAt := e.timestamp()
	durationMS := e.Now().Sub(start).Milliseconds()
	if err := e.Repo.MarkActionExecuted(ctx, tx, action.ID, action.TargetID, action.DataAfter, executedAt, durationMS); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeActionExecuted, "action", action.ID, action.PrincipalID, events.EventPayload{
		"action_type": action.ActionType,
		"target_type": action.TargetType,
		"target_id":   action.TargetID,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	action.Status = domain.StatusExecuted
	action.ExecutedAt = &executedAt
	action.DurationMS = durationMS
	return results, nil
}
