package record_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"agentline/internal/db"
	"agentline/internal/migrate"
	"agentline/internal/record"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// inTx runs fn in a committed transaction.
func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCatalogResolvesAllTypes(t *testing.T) {
	catalog := record.Builtin(nil)
	want := []string{
		"business.AuditProject",
		"business.BillableHour",
		"business.Company",
		"business.Revenue",
		"business.TaxReturnCase",
	}
	types := catalog.Types()
	if len(types) != len(want) {
		t.Fatalf("types = %v", types)
	}
	for i, name := range want {
		if types[i] != name {
			t.Fatalf("types[%d] = %s, want %s", i, types[i], name)
		}
	}
	_, err := catalog.Get("business.Nope")
	var ute record.UnsupportedTypeError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnsupportedTypeError, got %v", err)
	}
}

func TestCompanyLifecycle(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	catalog := record.Builtin(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) })
	acc, err := catalog.Get("business.Company")
	if err != nil {
		t.Fatal(err)
	}
	if !acc.SoftDeletes() {
		t.Fatalf("companies must soft-delete")
	}

	var created map[string]any
	inTx(t, conn, func(tx *sql.Tx) error {
		created, err = acc.Create(ctx, tx, map[string]any{
			"name":     "Acme Ltd",
			"industry": "manufacturing",
		})
		return err
	})
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("missing id in %v", created)
	}
	if created["created_at"] != "2025-01-02T03:04:05Z" {
		t.Fatalf("created_at = %v", created["created_at"])
	}

	got, err := acc.Get(ctx, conn, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got["name"] != "Acme Ltd" || got["is_active"] != true {
		t.Fatalf("got %v", got)
	}

	inTx(t, conn, func(tx *sql.Tx) error {
		_, err := acc.Update(ctx, tx, id, map[string]any{"notes": "priority client", "bogus": "ignored"})
		return err
	})
	got, err = acc.Get(ctx, conn, id)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got["notes"] != "priority client" {
		t.Fatalf("notes = %v", got["notes"])
	}

	inTx(t, conn, func(tx *sql.Tx) error {
		soft, err := acc.Delete(ctx, tx, id)
		if err == nil && !soft {
			t.Errorf("delete should report soft")
		}
		return err
	})
	got, err = acc.Get(ctx, conn, id)
	if err != nil {
		t.Fatalf("soft-deleted record must remain readable: %v", err)
	}
	if got["is_active"] != false {
		t.Fatalf("is_active = %v", got["is_active"])
	}

	inTx(t, conn, func(tx *sql.Tx) error {
		return acc.Reactivate(ctx, tx, id)
	})
	got, _ = acc.Get(ctx, conn, id)
	if got["is_active"] != true {
		t.Fatalf("reactivate failed: %v", got)
	}
}

func TestCompanyCreateRequiresName(t *testing.T) {
	conn := newTestDB(t)
	catalog := record.Builtin(nil)
	acc, _ := catalog.Get("business.Company")
	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if _, err := acc.Create(context.Background(), tx, map[string]any{"industry": "x"}); err == nil {
		t.Fatalf("expected required-field error")
	}
}

func TestListFilters(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	catalog := record.Builtin(nil)
	acc, _ := catalog.Get("business.Company")

	for _, name := range []string{"A Ltd", "B Ltd"} {
		name := name
		inTx(t, conn, func(tx *sql.Tx) error {
			_, err := acc.Create(ctx, tx, map[string]any{"name": name, "industry": "audit"})
			return err
		})
	}
	inTx(t, conn, func(tx *sql.Tx) error {
		_, err := acc.Create(ctx, tx, map[string]any{"name": "C Ltd", "industry": "tax"})
		return err
	})

	all, err := acc.List(ctx, conn, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}

	audit, err := acc.List(ctx, conn, map[string]any{"industry": "audit"}, 0)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(audit) != 2 {
		t.Fatalf("audit = %d", len(audit))
	}

	limited, err := acc.List(ctx, conn, nil, 1)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited = %d", len(limited))
	}
}

func TestBillableHourHardDelete(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	catalog := record.Builtin(nil)
	companies, _ := catalog.Get("business.Company")
	hours, _ := catalog.Get("business.BillableHour")
	if hours.SoftDeletes() {
		t.Fatalf("billable hours must hard-delete")
	}

	var clientID string
	inTx(t, conn, func(tx *sql.Tx) error {
		c, err := companies.Create(ctx, tx, map[string]any{"name": "Client Ltd"})
		if err != nil {
			return err
		}
		clientID, _ = c["id"].(string)
		return nil
	})

	var hourID string
	inTx(t, conn, func(tx *sql.Tx) error {
		h, err := hours.Create(ctx, tx, map[string]any{
			"employee_name": "Ada",
			"client_id":     clientID,
			"role":          "MANAGER",
			"hours":         8.0,
			"hourly_rate":   950.0,
		})
		if err != nil {
			return err
		}
		hourID, _ = h["id"].(string)
		if h["multiplier"] != 1.0 {
			t.Errorf("default multiplier = %v", h["multiplier"])
		}
		return nil
	})

	inTx(t, conn, func(tx *sql.Tx) error {
		soft, err := hours.Delete(ctx, tx, hourID)
		if err == nil && soft {
			t.Errorf("delete should report hard")
		}
		return err
	})
	if _, err := hours.Get(ctx, conn, hourID); !errors.Is(err, record.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// hard-delete types cannot be reactivated
	tx, _ := conn.Begin()
	defer tx.Rollback()
	if err := hours.Reactivate(ctx, tx, hourID); err == nil {
		t.Fatalf("expected reactivate to fail")
	}
}
