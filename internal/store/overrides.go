package store

import (
	"context"
	"fmt"
)

// LoadConfigOverrides returns dotted-key configuration overrides.
func (s *Store) LoadConfigOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, value FROM config_overrides ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("select config overrides: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan config override: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) SetConfigOverride(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO config_overrides (key, value, updated_at) VALUES ($1,$2,NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("upsert config override %s: %w", key, err)
	}
	return nil
}
