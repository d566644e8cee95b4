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

type billableHourAccessor struct {
	now func() time.Time
}

const billableHourCols = "id,employee_name,client_id,project_id,role,hours,hourly_rate,multiplier,description,work_date,created_at,updated_at"

var billableHourUpdatable = map[string]bool{
	"employee_name": true, "client_id": true, "project_id": true, "role": true,
	"hours": true, "hourly_rate": true, "multiplier": true, "description": true, "work_date": true,
}

var billableHourFilterable = map[string]bool{
	"employee_name": true, "client_id": true, "project_id": true, "role": true, "work_date": true,
}

func (billableHourAccessor) TargetType() string { return "business.BillableHour" }
func (billableHourAccessor) SoftDeletes() bool  { return false }

func scanBillableHour(row interface{ Scan(...any) error }) (map[string]any, error) {
	var h domain.BillableHour
	var projectID, workDate sql.NullString
	err := row.Scan(&h.ID, &h.EmployeeName, &h.ClientID, &projectID, &h.Role,
		&h.Hours, &h.HourlyRate, &h.Multiplier, &h.Description, &workDate, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		h.ProjectID = &projectID.String
	}
	if workDate.Valid {
		h.WorkDate = &workDate.String
	}
	return serializeBillableHour(h), nil
}

func serializeBillableHour(h domain.BillableHour) map[string]any {
	return map[string]any{
		"id":            h.ID,
		"employee_name": h.EmployeeName,
		"client_id":     h.ClientID,
		"project_id":    optString(h.ProjectID),
		"role":          h.Role,
		"hours":         h.Hours,
		"hourly_rate":   h.HourlyRate,
		"multiplier":    h.Multiplier,
		"description":   h.Description,
		"work_date":     optString(h.WorkDate),
		"created_at":    h.CreatedAt,
		"updated_at":    h.UpdatedAt,
	}
}

func (a billableHourAccessor) Get(ctx context.Context, q Querier, id string) (map[string]any, error) {
	return scanBillableHour(q.QueryRowContext(ctx, `SELECT `+billableHourCols+` FROM billable_hours WHERE id=?`, id))
}

func (a billableHourAccessor) List(ctx context.Context, q Querier, filters map[string]any, limit int) ([]map[string]any, error) {
	rows, err := listQuery(ctx, q, "billable_hours", billableHourCols, billableHourFilterable, filters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		m, err := scanBillableHour(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a billableHourAccessor) Create(ctx context.Context, tx *sql.Tx, fields map[string]any) (map[string]any, error) {
	employee, ok := fieldString(fields, "employee_name")
	if !ok || employee == "" {
		return nil, fmt.Errorf("employee_name is required")
	}
	clientID, ok := fieldString(fields, "client_id")
	if !ok || clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	role, ok := fieldString(fields, "role")
	if !ok || role == "" {
		return nil, fmt.Errorf("role is required")
	}
	hours, ok := fieldFloat(fields, "hours")
	if !ok || hours <= 0 {
		return nil, fmt.Errorf("hours must be positive")
	}
	rate, ok := fieldFloat(fields, "hourly_rate")
	if !ok || rate < 0 {
		return nil, fmt.Errorf("hourly_rate is required")
	}
	h := domain.BillableHour{
		ID:           uuid.NewString(),
		EmployeeName: employee,
		ClientID:     clientID,
		Role:         role,
		Hours:        hours,
		HourlyRate:   rate,
		Multiplier:   1.0,
		CreatedAt:    stamp(a.now),
	}
	h.UpdatedAt = h.CreatedAt
	if s, ok := fieldString(fields, "project_id"); ok && s != "" {
		h.ProjectID = &s
	}
	if m, ok := fieldFloat(fields, "multiplier"); ok {
		h.Multiplier = m
	}
	if s, ok := fieldString(fields, "description"); ok {
		h.Description = s
	}
	if s, ok := fieldString(fields, "work_date"); ok {
		h.WorkDate = &s
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO billable_hours (`+billableHourCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.ID, h.EmployeeName, h.ClientID, optString(h.ProjectID), h.Role,
		h.Hours, h.HourlyRate, h.Multiplier, h.Description, optString(h.WorkDate),
		h.CreatedAt, h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return serializeBillableHour(h), nil
}

func (a billableHourAccessor) Update(ctx context.Context, tx *sql.Tx, id string, fields map[string]any) (map[string]any, error) {
	if err := applyUpdate(ctx, tx, "billable_hours", billableHourUpdatable, id, fields, stamp(a.now)); err != nil {
		return nil, err
	}
	return scanBillableHour(tx.QueryRowContext(ctx, `SELECT `+billableHourCols+` FROM billable_hours WHERE id=?`, id))
}

func (a billableHourAccessor) Delete(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return false, hardDelete(ctx, tx, "billable_hours", id)
}

func (a billableHourAccessor) Reactivate(ctx context.Context, tx *sql.Tx, id string) error {
	return fmt.Errorf("business.BillableHour records are hard-deleted and cannot be reactivated")
}
