package featureflag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteProvider reads flags from the feature_flags table. A flag with no
// row falls back to the provider's defaults.
type SQLiteProvider struct {
	db       *sql.DB
	defaults map[string]bool
	logger   Logger
}

// NewSQLiteProvider creates a provider over db
func NewSQLiteProvider(db *sql.DB, defaults map[string]bool, logger Logger) *SQLiteProvider {
	return &SQLiteProvider{db: db, defaults: defaults, logger: logger}
}

// IsEnabled looks the flag up; query errors are logged and read as off
func (p *SQLiteProvider) IsEnabled(ctx context.Context, flag string) bool {
	var enabled bool
	err := p.db.QueryRowContext(ctx,
		"SELECT enabled FROM feature_flags WHERE name = ?", flag,
	).Scan(&enabled)

	switch {
	case err == nil:
		return enabled
	case errors.Is(err, sql.ErrNoRows):
		return p.defaults[flag]
	default:
		if p.logger != nil {
			p.logger.Error("Feature flag lookup failed", "flag", flag, "error", err)
		}
		return false
	}
}

// Set upserts a flag value
func (p *SQLiteProvider) Set(ctx context.Context, flag string, enabled bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, enabled, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = CURRENT_TIMESTAMP
	`, flag, enabled)
	if err != nil {
		return fmt.Errorf("set feature flag %s: %w", flag, err)
	}
	return nil
}

// Seed inserts defaults for flags that have no row yet
func (p *SQLiteProvider) Seed(ctx context.Context) error {
	for flag, enabled := range p.defaults {
		_, err := p.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO feature_flags (name, enabled) VALUES (?, ?)", flag, enabled)
		if err != nil {
			return fmt.Errorf("seed feature flag %s: %w", flag, err)
		}
	}
	return nil
}
