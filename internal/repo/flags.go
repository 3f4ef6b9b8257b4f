package repo

import (
	"context"
	"database/sql"

	"okrbrain/internal/domain"
)

const ManualModeFlag = "manual_mode"

func (r Repo) GetFlag(ctx context.Context, name string) (domain.SystemFlag, error) {
	var f domain.SystemFlag
	err := r.DB.QueryRowContext(ctx, `SELECT name,value,updated_at FROM system_flags WHERE name=?`, name).
		Scan(&f.Name, &f.Value, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

func (r Repo) SetFlag(ctx context.Context, name, value, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO system_flags(name,value,updated_at) VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, name, value, now)
	return err
}

// ManualMode reports whether the manual-mode kill switch is set. A
// missing row means off.
func (r Repo) ManualMode(ctx context.Context) (bool, error) {
	f, err := r.GetFlag(ctx, ManualModeFlag)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return f.Value == "true", nil
}
