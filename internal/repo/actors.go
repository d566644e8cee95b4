package repo

import (
	"context"
)

// EnsureActor inserts the principal row if it does not already exist.
// Principals are created lazily the first time they act.
func (r Repo) EnsureActor(ctx context.Context, id, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id,created_at) VALUES (?,?)`, id, createdAt)
	return err
}

func (r Repo) ListActors(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM actors ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
