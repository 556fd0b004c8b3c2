package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/vin"
)

// WMIRepository stores ISO 3780 manufacturer assignments and implements
// vin.WMISource for the offline decoder.
type WMIRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewWMIRepository wraps an open database. When cfg.AutoMigrate is set the
// schema migrations are applied first.
func NewWMIRepository(ctx context.Context, db *sql.DB, cfg Config) (*WMIRepository, error) {
	if db == nil {
		return nil, errors.New("database handle cannot be nil")
	}
	if cfg.AutoMigrate {
		if err := Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	return &WMIRepository{db: db, now: time.Now}, nil
}

// LookupWMI implements vin.WMISource. Unknown prefixes return the zero value.
func (r *WMIRepository) LookupWMI(ctx context.Context, wmi string) (vin.Manufacturer, error) {
	wmi = vin.Normalize(wmi)
	var (
		m      vin.Manufacturer
		region string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT manufacturer, country, region FROM wmi_registry WHERE wmi = ?`, wmi,
	).Scan(&m.Name, &m.Country, &region)
	if errors.Is(err, sql.ErrNoRows) {
		return vin.Manufacturer{}, nil
	}
	if err != nil {
		return vin.Manufacturer{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "lookup wmi", xerrors.WithMetadata("wmi", wmi))
	}
	m.Region = vin.Region(region)
	return m, nil
}

// Upsert inserts or replaces one assignment.
func (r *WMIRepository) Upsert(ctx context.Context, wmi string, m vin.Manufacturer) error {
	wmi = vin.Normalize(wmi)
	if len(wmi) != 3 {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("wmi must have 3 characters, got %q", wmi))
	}
	if strings.TrimSpace(m.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "manufacturer name cannot be empty")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO wmi_registry (wmi, manufacturer, country, region, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE manufacturer = VALUES(manufacturer), country = VALUES(country), region = VALUES(region), updated_at = VALUES(updated_at)`,
		wmi, m.Name, m.Country, string(m.Region), r.now().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "upsert wmi", xerrors.WithMetadata("wmi", wmi))
	}
	return nil
}

// Seed upserts every entry of table in one transaction, in sorted WMI order.
func (r *WMIRepository) Seed(ctx context.Context, table vin.Table) error {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "begin seed")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT IGNORE INTO wmi_registry (wmi, manufacturer, country, region, updated_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "prepare seed")
	}
	defer stmt.Close()

	ts := r.now().Unix()
	for _, k := range keys {
		m := table[k]
		if _, err := stmt.ExecContext(ctx, k, m.Name, m.Country, string(m.Region), ts); err != nil {
			_ = tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "seed wmi", xerrors.WithMetadata("wmi", k))
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit seed")
	}
	return nil
}

// Count returns the number of stored assignments.
func (r *WMIRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wmi_registry`).Scan(&n); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "count wmi")
	}
	return n, nil
}

// Ping verifies the database connection.
func (r *WMIRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
