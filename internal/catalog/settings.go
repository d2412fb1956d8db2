package catalog

import "context"

// GetSetting reads a single systemSettings key, returning ok=false if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false, nil //nolint:nilerr // absence is not an error for callers
	}
	return value, true, nil
}

// SetSetting upserts a systemSettings key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
