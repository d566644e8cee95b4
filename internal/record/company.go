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

type companyAccessor struct {
	now func() time.Time
}

const companyCols = "id,name,tax_id,industry,notes,is_active,created_at,updated_at"

var companyUpdatable = map[string]bool{
	"name": true, "tax_id": true, "industry": true, "notes": true, "is_active": true,
}

var companyFilterable = map[string]bool{
	"name": true, "tax_id": true, "industry": true, "is_active": true,
}

func (companyAccessor) TargetType() string { return "business.Company" }
func (companyAccessor) SoftDeletes() bool  { return true }

func scanCompany(row interface{ Scan(...any) error }) (map[string]any, error) {
	var c domain.Company
	var active int
	err := row.Scan(&c.ID, &c.Name, &c.TaxID, &c.Industry, &c.Notes, &active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.IsActive = active == 1
	return serializeCompany(c), nil
}

func serializeCompany(c domain.Company) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"name":       c.Name,
		"tax_id":     c.TaxID,
		"industry":   c.Industry,
		"notes":      c.Notes,
		"is_active":  c.IsActive,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}

func (a companyAccessor) Get(ctx context.Context, q Querier, id string) (map[string]any, error) {
	return scanCompany(q.QueryRowContext(ctx, `SELECT `+companyCols+` FROM companies WHERE id=?`, id))
}

func (a companyAccessor) List(ctx context.Context, q Querier, filters map[string]any, limit int) ([]map[string]any, error) {
	rows, err := listQuery(ctx, q, "companies", companyCols, companyFilterable, filters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []map[string]any{}
	for rows.Next() {
		m, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (a companyAccessor) Create(ctx context.Context, tx *sql.Tx, fields map[string]any) (map[string]any, error) {
	name, ok := fieldString(fields, "name")
	if !ok || name == "" {
		return nil, fmt.Errorf("name is required")
	}
	taxID, _ := fieldString(fields, "tax_id")
	industry, _ := fieldString(fields, "industry")
	notes, _ := fieldString(fields, "notes")
	active := true
	if b, ok := fieldBool(fields, "is_active"); ok {
		active = b
	}
	c := domain.Company{
		ID:        uuid.NewString(),
		Name:      name,
		TaxID:     taxID,
		Industry:  industry,
		Notes:     notes,
		IsActive:  active,
		CreatedAt: stamp(a.now),
	}
	c.UpdatedAt = c.CreatedAt
	_, err := tx.ExecContext(ctx, `INSERT INTO companies (`+companyCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.TaxID, c.Industry, c.Notes, bindArg(c.IsActive), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return serializeCompany(c), nil
}

func (a companyAccessor) Update(ctx context.Context, tx *sql.Tx, id string, fields map[string]any) (map[string]any, error) {
	if err := applyUpdate(ctx, tx, "companies", companyUpdatable, id, fields, stamp(a.now)); err != nil {
		return nil, err
	}
	return scanCompany(tx.QueryRowContext(ctx, `SELECT `+companyCols+` FROM companies WHERE id=?`, id))
}

func (a companyAccessor) Delete(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	return true, softDelete(ctx, tx, "companies", id, stamp(a.now))
}

func (a companyAccessor) Reactivate(ctx context.Context, tx *sql.Tx, id string) error {
	return reactivate(ctx, tx, "companies", id, stamp(a.now))
}
