package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentline/internal/domain"
)

type auditProjectAccessor struct {
	now func() time.Time
}

const auditProjectCols = "id,client_id,project_name,audit_type,status,start_date,end_date,budget,notes,is_active,created_at,updated_at"

var auditProjectUpdatable = map[string]bool{
	"client_id": true, "project_name": true, "audit_type": true, "status": true,
	"start_date": true, "end_date": true, "budget": true, "notes": true, "is_active": true,
}

var auditProjectFilterable = map[string]bool{
	"client_id": true, "audit_type": true, "status": true, "is_active": true,
}

func (auditProjectAccessor) TargetType() string { return "business.AuditProject" }
func (auditProjectAccessor) SoftDeletes() bool  { return true }

func scanAuditProject(row interface{ Scan(...any) error }) (map[string]any, error) {
	var p domain.AuditProject
	var active int
	var start, end sql.NullString
	err := row.Scan(&p.ID, &p.ClientID, &p.ProjectName, &p.AuditType, &p.Status,
		&start, &end, &p.Budget, &p.Notes, &active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.IsActive = active == 1
	if start.Valid {
		p.StartDate = &start.String
	}
	if end.Valid {
		p.EndDate = &end.String
	}
	return serializeAuditProject(p), nil
}

func serializeAuditProject(p domain.AuditProject) map[string]any {
	return map[string]any{
		"id":           p.ID,
		"client_id":    p.ClientID,
		"project_name": p.ProjectName,
		"audit_type":   p.AuditType,
		"status":       p.Status,
		"start_date":   optString(p.StartDate),
		"end_date":     optString(p.EndDate),
		"budget":       p.Budget,
		"notes":        p.Notes,
		"is_active":    p.IsActive,
		"created_at":   p.CreatedAt,
		"updated_at":   p.UpdatedAt,
	}
}

func (a auditProjectAccessor) Get(ctx context.Context, q Querier, id string) (map[string]any, error) {
	return scanAuditProject(q.QueryRowContext(ctx, `SELECT `+auditProjectCols+` FROM audit_projects WHERE id=?`, id))
}

func (a auditProjectAccessor) List(ctx context.Context, q Querier, filters map[string]any, limit int) ([]map[string]any, error) {
	rows, err := listQuery(ctx, q, "audit_projects", auditProjectCols, auditProjectFilterable, filters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		m, err := scanAuditProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a auditProjectAccessor) Create(ctx context.Context, tx *sql.Tx, fields map[string]any) (map[string]any, error) {
	clientID, ok := fieldString(fields, "client_id")
	if !ok || clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	name, ok := fieldString(fields, "project_name")
	if !ok || name == "" {
		return nil, fmt.Errorf("project_name is required")
	}
	auditType, ok := fieldString(fields, "audit_type")
	if !ok || auditType == "" {
		return nil, fmt.Errorf("audit_type is required")
	}
	p := domain.AuditProject{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		ProjectName: name,
		AuditType:   auditType,
		Status:      "PLANNING",
		IsActive:    true,
		CreatedAt:   stamp(a.now),
	}
	p.UpdatedAt = p.CreatedAt
	if s, ok := fieldString(fields, "status"); ok && s != "" {
		p.Status = s
	}
	if s, ok := fieldString(fields, "start_date"); ok {
		p.StartDate = &s
	}
	if s, ok := fieldString(fields, "end_date"); ok {
		p.EndDate = &s
	}
	if b, ok := fieldFloat(fields, "budget"); ok {
		p.Budget = b
	}
	if s, ok := fieldString(fields, "notes"); ok {
		p.Notes = s
	}
	if b, ok := fieldBool(fields, "is_active"); ok {
		p.IsActive = b
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_projects (`+auditProjectCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ClientID, p.ProjectName, p.AuditType, p.Status,
		optString(p.StartDate), optString(p.EndDate), p.Budget, p.Notes,
		bindArg(p.IsActive), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return serializeAuditProject(p), nil
}

func (a auditProjectAccessor) Update(ctx context.Context, tx *sql.Tx, id string, fields map[string]any) (map[string]any, error) {
	if err := applyUpdate(ctx, tx, "audit_projects", auditProjectUpdatable, id, fields, stamp(a.now)); err != nil {
		return nil, err
	}
	return scanAuditProject(tx.QueryRowContext(ctx, `SELECT `+auditProjectCols+` FROM audit_projects WHERE id=?`, id))
}

func (a auditProjectAccessor) Delete(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return true, softDelete(ctx, tx, "audit_projects", id, stamp(a.now))
}

func (a auditProjectAccessor) Reactivate(ctx context.Context, tx *sql.Tx, id string) error {
	return reactivate(ctx, tx, "audit_projects", id, stamp(a.now))
}
