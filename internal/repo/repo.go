package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"agentline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStatusConflict is returned when a compare-and-set status transition
// matched no row, meaning another writer already moved the action on.
var ErrStatusConflict = errors.New("action status conflict")

const actionCols = `id,agent_id,principal_id,session_id,action_type,status,target_type,target_id,
data_before_json,data_after_json,user_prompt,reasoning,confidence,error_message,
rollback_reason,rolled_back_by,duration_ms,created_at,executed_at,rolled_back_at`

func marshalSnapshot(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

// InsertPendingAction durably records the intent before any mutation runs.
// It uses its own implicit transaction so a crash mid-mutation still leaves
// the PENDING row behind.
func (r Repo) InsertPendingAction(ctx context.Context, a domain.ActionRecord) error {
	before, err := marshalSnapshot(a.DataBefore)
	if err != nil {
		return err
	}
	after, err := marshalSnapshot(a.DataAfter)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO actions(id,agent_id,principal_id,session_id,action_type,status,target_type,target_id,
data_before_json,data_after_json,user_prompt,reasoning,confidence,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, nullableStringPtr(a.AgentID), a.PrincipalID, nullable(a.SessionID), a.ActionType, domain.StatusPending,
		a.TargetType, a.TargetID, before, after, a.UserPrompt, a.Reasoning, a.Confidence, a.CreatedAt)
	return err
}

// MarkActionExecuted performs the PENDING -> EXECUTED transition in the same
// transaction that applied the mutation. The WHERE clause on status makes the
// transition a compare-and-set.
func (r Repo) MarkActionExecuted(ctx context.Context, tx *sql.Tx, id, targetID string, dataAfter map[string]any, executedAt string, durationMS int64) error {
	after, err := marshalSnapshot(dataAfter)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE actions SET status=?, target_id=?, data_after_json=?, executed_at=?, duration_ms=?
WHERE id=? AND status=?`,
		domain.StatusExecuted, targetID, after, executedAt, durationMS, id, domain.StatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkActionFailed performs PENDING -> FAILED. Runs outside the mutation
// transaction, which has already been rolled back by the time this is called.
func (r Repo) MarkActionFailed(ctx context.Context, id, errorMessage string, durationMS int64) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actions SET status=?, error_message=?, duration_ms=? WHERE id=? AND status=?`,
		domain.StatusFailed, errorMessage, durationMS, id, domain.StatusPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkActionRolledBack performs EXECUTED -> ROLLED_BACK inside the
// compensation transaction. Claiming the row first serializes concurrent
// rollback attempts: the loser's CAS matches nothing and its transaction
// aborts without touching the target record.
func (r Repo) MarkActionRolledBack(ctx context.Context, tx *sql.Tx, id, reason, rolledBackBy, rolledBackAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actions SET status=?, rollback_reason=?, rolled_back_by=?, rolled_back_at=?
WHERE id=? AND status=?`,
		domain.StatusRolledBack, reason, rolledBackBy, rolledBackAt, id, domain.StatusExecuted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func scanAction(row interface{ Scan(...any) error }) (domain.ActionRecord, error) {
	var a domain.ActionRecord
	var agentID, sessionID, executedAt, rolledBackAt sql.NullString
	var before, after string
	err := row.Scan(&a.ID, &agentID, &a.PrincipalID, &sessionID, &a.ActionType, &a.Status, &a.TargetType, &a.TargetID,
		&before, &after, &a.UserPrompt, &a.Reasoning, &a.Confidence, &a.ErrorMessage,
		&a.RollbackReason, &a.RolledBackBy, &a.DurationMS, &a.CreatedAt, &executedAt, &rolledBackAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if agentID.Valid {
		a.AgentID = &agentID.String
	}
	if sessionID.Valid {
		a.SessionID = sessionID.String
	}
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.String
	}
	if rolledBackAt.Valid {
		a.RolledBackAt = &rolledBackAt.String
	}
	if err := json.Unmarshal([]byte(before), &a.DataBefore); err != nil {
		return a, fmt.Errorf("unmarshal data_before: %w", err)
	}
	if err := json.Unmarshal([]byte(after), &a.DataAfter); err != nil {
		return a, fmt.Errorf("unmarshal data_after: %w", err)
	}
	return a, nil
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.ActionRecord, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id))
}

func (r Repo) GetActionTx(ctx context.Context, tx *sql.Tx, id string) (domain.ActionRecord, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id))
}

type ActionFilters struct {
	SessionID       string
	PrincipalID     string
	Status          string
	ActionType      string
	TargetType      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.ActionRecord, error) {
	var clauses []string
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	if f.PrincipalID != "" {
		clauses = append(clauses, "principal_id=?")
		args = append(args, f.PrincipalID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActionType != "" {
		clauses = append(clauses, "action_type=?")
		args = append(args, f.ActionType)
	}
	if f.TargetType != "" {
		clauses = append(clauses, "target_type=?")
		args = append(args, f.TargetType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + actionCols + ` FROM actions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionRecord
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountActionsByStatus(ctx context.Context, sessionID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM actions`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id=?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
