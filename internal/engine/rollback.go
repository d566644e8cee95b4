package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"agentline/internal/domain"
	"agentline/internal/events"
	"agentline/internal/record"
	"agentline/internal/repo"
)

// RollbackResult reports what compensation actually did. Warnings flag
// partial reversals, like a hard-deleted record coming back under a new id.
type RollbackResult struct {
	Action      domain.ActionRecord
	NewTargetID string
	Warnings    []string
}

// Rollback reverses an executed action. The EXECUTED -> ROLLED_BACK
// transition is claimed first inside the compensation transaction; of two
// concurrent attempts only one can match the CAS, so the loser aborts
// without touching the record.
func (e *Engine) Rollback(ctx context.Context, actionID, reason, rolledBackBy string) (*RollbackResult, error) {
	action, err := e.Repo.GetAction(ctx, actionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, NotFoundError{Kind: "action", ID: actionID}
	}
	if err != nil {
		return nil, err
	}
	if !action.CanRollback() {
		e.Metrics.RollbacksTotal.WithLabelValues("denied").Inc()
		return nil, RollbackNotAllowedError{ActionID: actionID, Status: action.Status}
	}
	accessor, err := e.Records.Get(action.TargetType)
	if err != nil {
		return nil, err
	}
	if rolledBackBy == "" {
		rolledBackBy = action.PrincipalID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rolledBackAt := e.timestamp()
	if err := e.Repo.MarkActionRolledBack(ctx, tx, actionID, reason, rolledBackBy, rolledBackAt); err != nil {
		if errors.Is(err, repo.ErrStatusConflict) {
			e.Metrics.RollbacksTotal.WithLabelValues("conflict").Inc()
			current, getErr := e.Repo.GetAction(ctx, actionID)
			status := action.Status
			if getErr == nil {
				status = current.Status
			}
			return nil, RollbackNotAllowedError{ActionID: actionID, Status: status}
		}
		return nil, err
	}

	result := &RollbackResult{}
	switch action.ActionType {
	case domain.ActionCreate:
		// Undo a create by deleting what was created. A record that is
		// already gone leaves nothing to undo.
		if _, err := accessor.Delete(ctx, tx, action.TargetID); err != nil {
			if !errors.Is(err, record.ErrNotFound) {
				e.Metrics.RollbacksTotal.WithLabelValues("failed").Inc()
				return nil, err
			}
			result.Warnings = append(result.Warnings, "record was already deleted")
		}
	case domain.ActionUpdate:
		restore := withoutIdentity(action.DataBefore)
		if _, err := accessor.Update(ctx, tx, action.TargetID, restore); err != nil {
			if errors.Is(err, record.ErrNotFound) {
				e.Metrics.RollbacksTotal.WithLabelValues("failed").Inc()
				return nil, fmt.Errorf("cannot restore %s %s: record no longer exists", action.TargetType, action.TargetID)
			}
			e.Metrics.RollbacksTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
	case domain.ActionDelete:
		if accessor.SoftDeletes() {
			if err := accessor.Reactivate(ctx, tx, action.TargetID); err != nil {
				e.Metrics.RollbacksTotal.WithLabelValues("failed").Inc()
				return nil, err
			}
		} else {
			// The row is gone; recreate it from the snapshot. Identity
			// columns are regenerated, so references to the old id stay
			// broken and the caller is warned.
			recreated, err := accessor.Create(ctx, tx, withoutIdentity(action.DataBefore))
			if err != nil {
				e.Metrics.RollbacksTotal.WithLabelValues("failed").Inc()
				return nil, err
			}
			if id, ok := recreated["id"].(string); ok {
				result.NewTargetID = id
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("record re-created with new id %s; references to %s are not restored", id, action.TargetID))
			}
		}
	}

	payload := events.EventPayload{
		"action_type": action.ActionType,
		"target_type": action.TargetType,
		"target_id":   action.TargetID,
		"reason":      reason,
	}
	if result.NewTargetID != "" {
		payload["new_target_id"] = result.NewTargetID
	}
	if err := e.Events.Append(ctx, tx, events.TypeActionRolledBack, "action", actionID, rolledBackBy, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	action.Status = domain.StatusRolledBack
	action.RollbackReason = reason
	action.RolledBackBy = rolledBackBy
	action.RolledBackAt = &rolledBackAt
	result.Action = action
	e.Metrics.RollbacksTotal.WithLabelValues("ok").Inc()
	e.Log.Info("action rolled back",
		zap.String("action_id", actionID),
		zap.String("action_type", action.ActionType),
		zap.String("target_type", action.TargetType),
		zap.String("reason", reason),
		zap.Strings("warnings", result.Warnings))
	return result, nil
}

// withoutIdentity strips the columns a restore must never replay.
func withoutIdentity(snapshot map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range snapshot {
		switch k {
		case "id", "created_at", "updated_at":
			continue
		}
		out[k] = v
	}
	return out
}
