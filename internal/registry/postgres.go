package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nmslite/targetwatch/internal/models"
)

const serverColumns = `id, name, address, os_type, auth_type, username, key_path, ssh_port, winrm_port`

// querier is the subset of *pgxpool.Pool used here
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// serverRow mirrors one row of the servers table
type serverRow struct {
	ID        string      `db:"id"`
	Name      pgtype.Text `db:"name"`
	Address   string      `db:"address"`
	OSType    string      `db:"os_type"`
	AuthType  string      `db:"auth_type"`
	Username  pgtype.Text `db:"username"`
	KeyPath   pgtype.Text `db:"key_path"`
	SSHPort   pgtype.Int4 `db:"ssh_port"`
	WinRMPort pgtype.Int4 `db:"winrm_port"`
}

func (r serverRow) toTarget() models.Target {
	t := models.Target{
		ID:       r.ID,
		Name:     r.Name.String,
		Address:  r.Address,
		OSFamily: models.OSFamily(r.OSType),
		AuthMode: models.AuthMode(r.AuthType),
		Username: r.Username.String,
		KeyPath:  r.KeyPath.String,
	}
	switch {
	case t.OSFamily == models.OSLinux && r.SSHPort.Valid:
		t.Port = int(r.SSHPort.Int32)
	case t.OSFamily == models.OSWindows && r.WinRMPort.Valid:
		t.Port = int(r.WinRMPort.Int32)
	}
	return t
}

// validTarget converts the row and rejects records the fetcher cannot use
func (r serverRow) validTarget() (models.Target, error) {
	t := r.toTarget()
	if err := models.ValidateTarget(t); err != nil {
		return models.Target{}, fmt.Errorf("invalid server row %s: %w", r.ID, err)
	}
	return t, nil
}

func rowFromTarget(t models.Target) serverRow {
	r := serverRow{
		ID:       t.ID,
		Name:     pgtype.Text{String: t.Name, Valid: t.Name != ""},
		Address:  t.Address,
		OSType:   string(t.OSFamily),
		AuthType: string(t.AuthMode),
		Username: pgtype.Text{String: t.Username, Valid: t.Username != ""},
		KeyPath:  pgtype.Text{String: t.KeyPath, Valid: t.KeyPath != ""},
	}
	if t.Port > 0 {
		port := pgtype.Int4{Int32: int32(t.Port), Valid: true}
		if t.OSFamily == models.OSWindows {
			r.WinRMPort = port
		} else {
			r.SSHPort = port
		}
	}
	return r
}

// Postgres is a registry backed by the servers table
type Postgres struct {
	db     querier
	logger *slog.Logger
}

// NewPostgres creates a registry over a pool (normally *pgxpool.Pool)
func NewPostgres(db querier, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger.With("component", "postgres_registry")}
}

// Lookup implements Registry
func (p *Postgres) Lookup(ctx context.Context, id string) (models.Target, error) {
	rows, err := p.db.Query(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id)
	if err != nil {
		return models.Target{}, fmt.Errorf("failed to query target %s: %w", id, err)
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[serverRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Target{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return models.Target{}, fmt.Errorf("failed to scan target %s: %w", id, err)
	}
	return row.validTarget()
}

// List implements Lister. Rows that fail validation are skipped.
func (p *Postgres) List(ctx context.Context) ([]models.Target, error) {
	rows, err := p.db.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[serverRow])
	if err != nil {
		return nil, fmt.Errorf("failed to scan targets: %w", err)
	}

	targets := make([]models.Target, 0, len(records))
	for _, r := range records {
		t, err := r.validTarget()
		if err != nil {
			p.logger.Warn("skipping invalid server row", "target_id", r.ID, "error", err)
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// Put inserts or updates a target
func (p *Postgres) Put(ctx context.Context, t models.Target) error {
	if err := models.ValidateTarget(t); err != nil {
		return err
	}
	r := rowFromTarget(t)

	_, err := p.db.Exec(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			os_type = EXCLUDED.os_type,
			auth_type = EXCLUDED.auth_type,
			username = EXCLUDED.username,
			key_path = EXCLUDED.key_path,
			ssh_port = EXCLUDED.ssh_port,
			winrm_port = EXCLUDED.winrm_port,
			updated_at = now()`,
		r.ID, r.Name, r.Address, r.OSType, r.AuthType, r.Username, r.KeyPath, r.SSHPort, r.WinRMPort)
	if err != nil {
		return fmt.Errorf("failed to save target %s: %w", t.ID, err)
	}
	return nil
}

// Remove deletes a target. Unknown ids are ignored.
func (p *Postgres) Remove(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to remove target %s: %w", id, err)
	}
	return nil
}
