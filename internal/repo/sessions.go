package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agentline/internal/domain"
)

const sessionCols = "session_id,principal_id,agent_id,COALESCE(title,''),messages_json,total_actions,successful_actions,failed_actions,created_at,updated_at"

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	var agentID sql.NullString
	var messages string
	err := row.Scan(&s.SessionID, &s.PrincipalID, &agentID, &s.Title, &messages,
		&s.TotalActions, &s.SuccessfulActions, &s.FailedActions, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if agentID.Valid {
		s.AgentID = &agentID.String
	}
	if err := json.Unmarshal([]byte(messages), &s.Messages); err != nil {
		return s, fmt.Errorf("unmarshal session messages: %w", err)
	}
	return s, nil
}

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	messages, err := marshalMessages(s.Messages)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO sessions(session_id,principal_id,agent_id,title,messages_json,total_actions,successful_actions,failed_actions,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.SessionID, s.PrincipalID, nullableStringPtr(s.AgentID), nullable(s.Title), messages,
		s.TotalActions, s.SuccessfulActions, s.FailedActions, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE session_id=?`, sessionID))
}

func (r Repo) ListSessions(ctx context.Context, principalID string, limit int) ([]domain.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM sessions`
	var args []any
	if principalID != "" {
		query += ` WHERE principal_id=?`
		args = append(args, principalID)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSession rewrites the message log and counters after a chat turn.
func (r Repo) UpdateSession(ctx context.Context, s domain.Session) error {
	messages, err := marshalMessages(s.Messages)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET title=?, messages_json=?, total_actions=?, successful_actions=?, failed_actions=?, updated_at=? WHERE session_id=?`,
		nullable(s.Title), messages, s.TotalActions, s.SuccessfulActions, s.FailedActions, s.UpdatedAt, s.SessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalMessages(messages []domain.Message) (string, error) {
	if messages == nil {
		messages = []domain.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshal session messages: %w", err)
	}
	return string(data), nil
}
