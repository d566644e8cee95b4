package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when an id does not resolve to a record.
var ErrNotFound = errors.New("record not found")

// UnsupportedTypeError indicates a target type with no registered accessor.
type UnsupportedTypeError struct {
	TargetType string
}

func (e UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported target type %s", e.TargetType)
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Accessor is the per-entity-type capability behind every governed mutation.
// Snapshots are maps of primitives: timestamps as RFC3339 strings, ids and
// foreign references as strings, never nested objects.
type Accessor interface {
	TargetType() string
	// SoftDeletes reports whether Delete flips an is_active flag instead of
	// removing the row. Soft-deleting types support Reactivate.
	SoftDeletes() bool
	Get(ctx context.Context, q Querier, id string) (map[string]any, error)
	List(ctx context.Context, q Querier, filters map[string]any, limit int) ([]map[string]any, error)
	Create(ctx context.Context, tx *sql.Tx, fields map[string]any) (map[string]any, error)
	Update(ctx context.Context, tx *sql.Tx, id string, fields map[string]any) (map[string]any, error)
	Delete(ctx context.Context, tx *sql.Tx, id string) (soft bool, err error)
	Reactivate(ctx context.Context, tx *sql.Tx, id string) error
}

// Catalog resolves namespaced type names to accessors. Populated once at
// process start; read-only afterwards.
type Catalog struct {
	accessors map[string]Accessor
}

func NewCatalog() *Catalog {
	return &Catalog{accessors: map[string]Accessor{}}
}

func (c *Catalog) Register(a Accessor) {
	c.accessors[a.TargetType()] = a
}

func (c *Catalog) Get(targetType string) (Accessor, error) {
	a, ok := c.accessors[targetType]
	if !ok {
		return nil, UnsupportedTypeError{TargetType: targetType}
	}
	return a, nil
}

func (c *Catalog) Types() []string {
	names := make([]string, 0, len(c.accessors))
	for name := range c.accessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the catalog of all business record accessors.
func Builtin(now func() time.Time) *Catalog {
	if now == nil {
		now = time.Now
	}
	c := NewCatalog()
	c.Register(companyAccessor{now: now})
	c.Register(auditProjectAccessor{now: now})
	c.Register(billableHourAccessor{now: now})
	c.Register(revenueAccessor{now: now})
	c.Register(taxReturnAccessor{now: now})
	return c
}

func stamp(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339)
}

// Field helpers. Tool arguments arrive as decoded JSON, so values are
// string, float64, bool or nil.

func fieldString(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func fieldFloat(fields map[string]any, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func fieldBool(fields map[string]any, key string) (bool, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// bindArg converts a snapshot value back into a SQL argument.
func bindArg(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}

// applyUpdate builds an UPDATE for the allowed subset of fields. Unknown
// keys are ignored, matching how restores replay old snapshots that may
// contain columns an entity no longer exposes.
func applyUpdate(ctx context.Context, tx *sql.Tx, table string, allowed map[string]bool, id string, fields map[string]any, updatedAt string) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if allowed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		sets = append(sets, k+"=?")
		args = append(args, bindArg(fields[k]))
	}
	sets = append(sets, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET `+strings.Join(sets, ",")+` WHERE id=?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// listQuery runs an equality-filtered SELECT, newest first.
func listQuery(ctx context.Context, q Querier, table, cols string, allowed map[string]bool, filters map[string]any, limit int) (*sql.Rows, error) {
	if limit <= 0 {
		limit = 50
	}
	where := []string{}
	args := []any{}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		if allowed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		where = append(where, k+"=?")
		args = append(args, bindArg(filters[k]))
	}
	query := `SELECT ` + cols + ` FROM ` + table
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	return q.QueryContext(ctx, query, args...)
}

func softDelete(ctx context.Context, tx *sql.Tx, table, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET is_active=0, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func reactivate(ctx context.Context, tx *sql.Tx, table, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE `+table+` SET is_active=1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func hardDelete(ctx context.Context, tx *sql.Tx, table, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
