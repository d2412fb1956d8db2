package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateLibrary validates and inserts a new Library. Validation errors are
// rejected before any side effect reaches the store.
func (s *Store) CreateLibrary(ctx context.Context, lib Library) (Library, error) {
	if lib.DisplayName == "" {
		return Library{}, fmt.Errorf("%w: displayName is required", ErrValidation)
	}
	if lib.RootPath == "" {
		return Library{}, fmt.Errorf("%w: rootPath is required", ErrValidation)
	}
	if lib.ID == "" {
		lib.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lib.CreatedAt, lib.UpdatedAt = now, now

	settingsJSON, err := json.Marshal(lib.Settings)
	if err != nil {
		return Library{}, err
	}
	statsJSON, err := json.Marshal(lib.Statistics)
	if err != nil {
		return Library{}, err
	}

	done := observeQuery("create_library")
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO libraries (id, display_name, root_path, owner_id, active, settings_json, statistics_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lib.ID, lib.DisplayName, lib.RootPath, lib.OwnerID, boolToInt(lib.Active), settingsJSON, statsJSON, now.Unix(), now.Unix())
	done(err)
	if err != nil {
		return Library{}, fmt.Errorf("create library: %w", err)
	}
	return lib, nil
}

// GetLibrary loads a Library by id.
func (s *Store) GetLibrary(ctx context.Context, id string) (Library, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, root_path, owner_id, active, settings_json, statistics_json, created_at, updated_at
		FROM libraries WHERE id = ?`, id)
	return scanLibrary(row)
}

func scanLibrary(row *sql.Row) (Library, error) {
	var lib Library
	var active int
	var settingsJSON, statsJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&lib.ID, &lib.DisplayName, &lib.RootPath, &lib.OwnerID, &active, &settingsJSON, &statsJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Library{}, ErrNotFound
	}
	if err != nil {
		return Library{}, err
	}
	lib.Active = active != 0
	lib.CreatedAt = time.Unix(createdAt, 0).UTC()
	lib.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := json.Unmarshal([]byte(settingsJSON), &lib.Settings); err != nil {
		return Library{}, err
	}
	if err := json.Unmarshal([]byte(statsJSON), &lib.Statistics); err != nil {
		return Library{}, err
	}
	return lib, nil
}

// UpdateLibraryStatistics is called by the Scan Coordinator after a library
// scan completes to refresh aggregate counters and lastScanAt.
func (s *Store) UpdateLibraryStatistics(ctx context.Context, id string, stats LibraryStatistics) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	done := observeQuery("update_library_statistics")
	res, err := s.db.ExecContext(ctx, `
		UPDATE libraries SET statistics_json = ?, updated_at = ? WHERE id = ?`,
		statsJSON, time.Now().Unix(), id)
	done(err)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLibraryScan is called by the Scan Coordinator once a library scan has
// enqueued its collection scans, to update lastScanAt without waiting for
// those collection scans to complete.
func (s *Store) TouchLibraryScan(ctx context.Context, id string, at time.Time) error {
	lib, err := s.GetLibrary(ctx, id)
	if err != nil {
		return err
	}
	lib.Statistics.LastScanAt = at
	return s.UpdateLibraryStatistics(ctx, id, lib.Statistics)
}

// ListActiveLibraries returns every Library with Active=true, used to sum
// library statistics for metrics and to enumerate auto-scan candidates for
// filesystem watches.
func (s *Store) ListActiveLibraries(ctx context.Context) ([]Library, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, root_path, owner_id, active, settings_json, statistics_json, created_at, updated_at
		FROM libraries WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Library
	for rows.Next() {
		var lib Library
		var active int
		var settingsJSON, statsJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&lib.ID, &lib.DisplayName, &lib.RootPath, &lib.OwnerID, &active, &settingsJSON, &statsJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		lib.Active = active != 0
		lib.CreatedAt = time.Unix(createdAt, 0).UTC()
		lib.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		_ = json.Unmarshal([]byte(settingsJSON), &lib.Settings)
		_ = json.Unmarshal([]byte(statsJSON), &lib.Statistics)
		out = append(out, lib)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
