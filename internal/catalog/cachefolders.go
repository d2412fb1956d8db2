package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateCacheFolder inserts a new CacheFolder.
func (s *Store) CreateCacheFolder(ctx context.Context, f CacheFolder) (CacheFolder, error) {
	if f.RootPath == "" {
		return CacheFolder{}, fmt.Errorf("%w: rootPath is required", ErrValidation)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	done := observeQuery("create_cache_folder")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_folders (id, name, root_path, max_bytes, current_bytes, priority, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Name, f.RootPath, f.MaxBytes, f.CurrentBytes, f.Priority, boolToInt(f.Active))
	done(err)
	if err != nil {
		return CacheFolder{}, err
	}
	return f, nil
}

// ListActiveCacheFolders returns every active cache folder, ordered by
// priority descending, for the allocator to pick from.
func (s *Store) ListActiveCacheFolders(ctx context.Context) ([]CacheFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, root_path, max_bytes, current_bytes, priority, active
		FROM cache_folders WHERE active = 1 ORDER BY priority DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheFolder
	for rows.Next() {
		var f CacheFolder
		var active int
		if err := rows.Scan(&f.ID, &f.Name, &f.RootPath, &f.MaxBytes, &f.CurrentBytes, &f.Priority, &active); err != nil {
			return nil, err
		}
		f.Active = active != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetCacheFolder loads a cache folder by id.
func (s *Store) GetCacheFolder(ctx context.Context, id string) (CacheFolder, error) {
	var f CacheFolder
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, max_bytes, current_bytes, priority, active
		FROM cache_folders WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.RootPath, &f.MaxBytes, &f.CurrentBytes, &f.Priority, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return CacheFolder{}, ErrNotFound
	}
	if err != nil {
		return CacheFolder{}, err
	}
	f.Active = active != 0
	return f, nil
}

// AdjustCacheFolderBytes atomically adds delta (positive on write, negative
// on eviction/removal) to a folder's currentBytes, inside the per-folder
// mutual-exclusion region a shared folder needs (the SQL UPDATE itself is
// the critical section; SQLite serializes writers on the same row).
func (s *Store) AdjustCacheFolderBytes(ctx context.Context, id string, delta int64) (CacheFolder, error) {
	done := observeQuery("adjust_cache_folder_bytes")
	_, err := s.db.ExecContext(ctx, `
		UPDATE cache_folders SET current_bytes = current_bytes + ? WHERE id = ?`, delta, id)
	done(err)
	if err != nil {
		return CacheFolder{}, err
	}
	return s.GetCacheFolder(ctx, id)
}

// ReconcileCacheFolderBytes recomputes currentBytes for a folder from the
// authoritative sum of cache bindings across all collections, for use after
// eviction or on an explicit reconcile request.
func (s *Store) ReconcileCacheFolderBytes(ctx context.Context, folderID string) (int64, error) {
	collections, err := s.ListAllCollections(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, c := range collections {
		for _, b := range c.CacheBindings {
			if b.CacheFolderID == folderID {
				total += b.ByteSize
			}
		}
	}
	done := observeQuery("reconcile_cache_folder_bytes")
	_, err = s.db.ExecContext(ctx, `UPDATE cache_folders SET current_bytes = ? WHERE id = ?`, total, folderID)
	done(err)
	return total, err
}

// SetCacheFolderActive flips a folder's active flag, e.g. when the
// allocator's reachability probe finds the folder's root unreachable.
func (s *Store) SetCacheFolderActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_folders SET active = ? WHERE id = ?`, boolToInt(active), id)
	return err
}
