package pg

import (
	"context"
	"database/sql"
	"errors"

	"sellergate.io/internal/feature"
)

// DefaultFlag is the gate_settings row that switches the gate.
const DefaultFlag = "seller_authorization"

// Flag is a feature switch shared by every instance using the database.
type Flag struct {
	db   *sql.DB
	name string
}

var (
	_ feature.Source = (*Flag)(nil)
	_ feature.Setter = (*Flag)(nil)
)

// Flag returns the named switch. An empty name selects DefaultFlag.
func (s *Store) Flag(name string) *Flag {
	if name == "" {
		name = DefaultFlag
	}
	return &Flag{db: s.db, name: name}
}

// Enabled reads the switch on every call. A missing row means disabled.
func (f *Flag) Enabled(ctx context.Context) (bool, error) {
	var on bool
	err := f.db.QueryRowContext(ctx, `select enabled from gate_settings where name = $1`, f.name).Scan(&on)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return on, err
}

func (f *Flag) SetEnabled(ctx context.Context, enabled bool) error {
	_, err := f.db.ExecContext(ctx, `
		insert into gate_settings (name, enabled, updated_at) values ($1, $2, now())
		on conflict (name) do update set enabled = excluded.enabled, updated_at = now()
	`, f.name, enabled)
	return err
}
