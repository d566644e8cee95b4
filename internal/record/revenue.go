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

type revenueAccessor struct {
	now func() time.Time
}

const revenueCols = "id,client_id,project_id,description,amount,currency,invoice_date,due_date,status,created_at,updated_at"

var revenueUpdatable = map[string]bool{
	"client_id": true, "project_id": true, "description": true, "amount": true,
	"currency": true, "invoice_date": true, "due_date": true, "status": true,
}

var revenueFilterable = map[string]bool{
	"client_id": true, "project_id": true, "currency": true, "status": true,
}

func (revenueAccessor) TargetType() string { return "business.Revenue" }
func (revenueAccessor) SoftDeletes() bool  { return false }

func scanRevenue(row interface{ Scan(...any) error }) (map[string]any, error) {
	var r domain.Revenue
	var projectID, invoiceDate, dueDate sql.NullString
	err := row.Scan(&r.ID, &r.ClientID, &projectID, &r.Description, &r.Amount,
		&r.Currency, &invoiceDate, &dueDate, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		r.ProjectID = &projectID.String
	}
	if invoiceDate.Valid {
		r.InvoiceDate = &invoiceDate.String
	}
	if dueDate.Valid {
		r.DueDate = &dueDate.String
	}
	return serializeRevenue(r), nil
}

func serializeRevenue(r domain.Revenue) map[string]any {
	return map[string]any{
		"id":           r.ID,
		"client_id":    r.ClientID,
		"project_id":   optString(r.ProjectID),
		"description":  r.Description,
		"amount":       r.Amount,
		"currency":     r.Currency,
		"invoice_date": optString(r.InvoiceDate),
		"due_date":     optString(r.DueDate),
		"status":       r.Status,
		"created_at":   r.CreatedAt,
		"updated_at":   r.UpdatedAt,
	}
}

func (a revenueAccessor) Get(ctx context.Context, q Querier, id string) (map[string]any, error) {
	return scanRevenue(q.QueryRowContext(ctx, `SELECT `+revenueCols+` FROM revenues WHERE id=?`, id))
}

func (a revenueAccessor) List(ctx context.Context, q Querier, filters map[string]any, limit int) ([]map[string]any, error) {
	rows, err := listQuery(ctx, q, "revenues", revenueCols, revenueFilterable, filters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		m, err := scanRevenue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a revenueAccessor) Create(ctx context.Context, tx *sql.Tx, fields map[string]any) (map[string]any, error) {
	clientID, ok := fieldString(fields, "client_id")
	if !ok || clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	description, ok := fieldString(fields, "description")
	if !ok || description == "" {
		return nil, fmt.Errorf("description is required")
	}
	amount, ok := fieldFloat(fields, "amount")
	if !ok {
		return nil, fmt.Errorf("amount is required")
	}
	r := domain.Revenue{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		Description: description,
		Amount:      amount,
		Currency:    "HKD",
		Status:      "DRAFT",
		CreatedAt:   stamp(a.now),
	}
	r.UpdatedAt = r.CreatedAt
	if s, ok := fieldString(fields, "project_id"); ok && s != "" {
		r.ProjectID = &s
	}
	if s, ok := fieldString(fields, "currency"); ok && s != "" {
		r.Currency = s
	}
	if s, ok := fieldString(fields, "invoice_date"); ok {
		r.InvoiceDate = &s
	}
	if s, ok := fieldString(fields, "due_date"); ok {
		r.DueDate = &s
	}
	if s, ok := fieldString(fields, "status"); ok && s != "" {
		r.Status = s
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO revenues (`+revenueCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.ClientID, optString(r.ProjectID), r.Description, r.Amount,
		r.Currency, optString(r.InvoiceDate), optString(r.DueDate), r.Status,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return serializeRevenue(r), nil
}

func (a revenueAccessor) Update(ctx context.Context, tx *sql.Tx, id string, fields map[string]any) (map[string]any, error) {
	if err := applyUpdate(ctx, tx, "revenues", revenueUpdatable, id, fields, stamp(a.now)); err != nil {
		return nil, err
	}
	return scanRevenue(tx.QueryRowContext(ctx, `SELECT `+revenueCols+` FROM revenues WHERE id=?`, id))
}

func (a revenueAccessor) Delete(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return false, hardDelete(ctx, tx, "revenues", id)
}

func (a revenueAccessor) Reactivate(ctx context.Context, tx *sql.Tx, id string) error {
	return fmt.Errorf("business.Revenue records are hard-deleted and cannot be reactivated")
}
