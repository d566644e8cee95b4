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

type taxReturnAccessor struct {
	now func() time.Time
}

const taxReturnCols = "id,client_id,tax_year,tax_type,status,filing_deadline,notes,is_active,created_at,updated_at"

var taxReturnUpdatable = map[string]bool{
	"client_id": true, "tax_year": true, "tax_type": true, "status": true,
	"filing_deadline": true, "notes": true, "is_active": true,
}

var taxReturnFilterable = map[string]bool{
	"client_id": true, "tax_year": true, "tax_type": true, "status": true, "is_active": true,
}

func (taxReturnAccessor) TargetType() string { return "business.TaxReturnCase" }
func (taxReturnAccessor) SoftDeletes() bool  { return true }

func scanTaxReturn(row interface{ Scan(...any) error }) (map[string]any, error) {
	var t domain.TaxReturnCase
	var active int
	var deadline sql.NullString
	err := row.Scan(&t.ID, &t.ClientID, &t.TaxYear, &t.TaxType, &t.Status,
		&deadline, &t.Notes, &active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.IsActive = active == 1
	if deadline.Valid {
		t.FilingDeadline = &deadline.String
	}
	return serializeTaxReturn(t), nil
}

func serializeTaxReturn(t domain.TaxReturnCase) map[string]any {
	return map[string]any{
		"id":              t.ID,
		"client_id":       t.ClientID,
		"tax_year":        t.TaxYear,
		"tax_type":        t.TaxType,
		"status":          t.Status,
		"filing_deadline": optString(t.FilingDeadline),
		"notes":           t.Notes,
		"is_active":       t.IsActive,
		"created_at":      t.CreatedAt,
		"updated_at":      t.UpdatedAt,
	}
}

func (a taxReturnAccessor) Get(ctx context.Context, q Querier, id string) (map[string]any, error) {
	return scanTaxReturn(q.QueryRowContext(ctx, `SELECT `+taxReturnCols+` FROM tax_return_cases WHERE id=?`, id))
}

func (a taxReturnAccessor) List(ctx context.Context, q Querier, filters map[string]any, limit int) ([]map[string]any, error) {
	rows, err := listQuery(ctx, q, "tax_return_cases", taxReturnCols, taxReturnFilterable, filters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		m, err := scanTaxReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a taxReturnAccessor) Create(ctx context.Context, tx *sql.Tx, fields map[string]any) (map[string]any, error) {
	clientID, ok := fieldString(fields, "client_id")
	if !ok || clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	taxYear, ok := fieldString(fields, "tax_year")
	if !ok || taxYear == "" {
		return nil, fmt.Errorf("tax_year is required")
	}
	taxType, ok := fieldString(fields, "tax_type")
	if !ok || taxType == "" {
		return nil, fmt.Errorf("tax_type is required")
	}
	t := domain.TaxReturnCase{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		TaxYear:   taxYear,
		TaxType:   taxType,
		Status:    "NOT_STARTED",
		IsActive:  true,
		CreatedAt: stamp(a.now),
	}
	t.UpdatedAt = t.CreatedAt
	if s, ok := fieldString(fields, "status"); ok && s != "" {
		t.Status = s
	}
	if s, ok := fieldString(fields, "filing_deadline"); ok {
		t.FilingDeadline = &s
	}
	if s, ok := fieldString(fields, "notes"); ok {
		t.Notes = s
	}
	if b, ok := fieldBool(fields, "is_active"); ok {
		t.IsActive = b
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tax_return_cases (`+taxReturnCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ClientID, t.TaxYear, t.TaxType, t.Status,
		optString(t.FilingDeadline), t.Notes, bindArg(t.IsActive), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return serializeTaxReturn(t), nil
}

func (a taxReturnAccessor) Update(ctx context.Context, tx *sql.Tx, id string, fields map[string]any) (map[string]any, error) {
	if err := applyUpdate(ctx, tx, "tax_return_cases", taxReturnUpdatable, id, fields, stamp(a.now)); err != nil {
		return nil, err
	}
	return scanTaxReturn(tx.QueryRowContext(ctx, `SELECT `+taxReturnCols+` FROM tax_return_cases WHERE id=?`, id))
}

func (a taxReturnAccessor) Delete(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return true, softDelete(ctx, tx, "tax_return_cases", id, stamp(a.now))
}

func (a taxReturnAccessor) Reactivate(ctx context.Context, tx *sql.Tx, id string) error {
	return reactivate(ctx, tx, "tax_return_cases", id, stamp(a.now))
}
