package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalogpipe/internal/mediatypes"

	"github.com/google/uuid"
)

// CreateCollection validates and inserts a new Collection at version 0.
// (libraryId, path) must be unique; archive kinds force
// useDirectFileAccess=false per the Collection invariants.
func (s *Store) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	if c.LibraryID == "" {
		return Collection{}, fmt.Errorf("%w: libraryId is required", ErrValidation)
	}
	if c.Path == "" {
		return Collection{}, fmt.Errorf("%w: path is required", ErrValidation)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Kind.IsArchive() {
		c.Settings.UseDirectFileAccess = false
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	c.Version = 0
	if c.MediaItems == nil {
		c.MediaItems = []MediaItem{}
	}
	if c.Thumbnails == nil {
		c.Thumbnails = []ThumbnailEmbedded{}
	}
	if c.CacheImages == nil {
		c.CacheImages = []CacheImageEmbedded{}
	}
	if c.CacheBindings == nil {
		c.CacheBindings = []CacheBindingEmbedded{}
	}

	blobs, err := marshalCollectionBlobs(c)
	if err != nil {
		return Collection{}, err
	}

	done := observeQuery("create_collection")
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (
			id, library_id, display_name, path, kind, settings_json, statistics_json,
			media_items_json, thumbnails_json, cache_images_json, cache_bindings_json,
			version, deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		c.ID, c.LibraryID, c.DisplayName, c.Path, string(c.Kind),
		blobs.settings, blobs.stats, blobs.media, blobs.thumbs, blobs.caches, blobs.bindings,
		now.Unix(), now.Unix())
	done(err)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return Collection{}, ErrDuplicatePath
		}
		return Collection{}, fmt.Errorf("create collection: %w", err)
	}
	return c, nil
}

// GetCollection loads a non-deleted Collection by id.
func (s *Store) GetCollection(ctx context.Context, id string) (Collection, error) {
	row := s.db.QueryRowContext(ctx, collectionSelectCols+` FROM collections WHERE id = ? AND deleted = 0`, id)
	return scanCollection(row)
}

// GetCollectionByPath loads a non-deleted Collection by (libraryId, path),
// used by the Scan Coordinator to check whether a candidate already exists.
func (s *Store) GetCollectionByPath(ctx context.Context, libraryID, path string) (Collection, error) {
	row := s.db.QueryRowContext(ctx, collectionSelectCols+` FROM collections WHERE library_id = ? AND path = ? AND deleted = 0`, libraryID, path)
	return scanCollection(row)
}

// FindCollectionPathOwner reports which libraryId (if any, including other
// libraries) already owns this exact path. Used for the Scan Coordinator's
// per-candidate "claimed by a different library" tie-break.
func (s *Store) FindCollectionPathOwner(ctx context.Context, path string) (libraryID string, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT library_id FROM collections WHERE path = ? AND deleted = 0 LIMIT 1`, path)
	err = row.Scan(&libraryID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return libraryID, true, nil
}

// ListCollectionsByLibrary returns every non-deleted Collection under a library.
func (s *Store) ListCollectionsByLibrary(ctx context.Context, libraryID string) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, collectionSelectCols+` FROM collections WHERE library_id = ? AND deleted = 0`, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCollections(rows)
}

// ListAllCollections returns every non-deleted Collection, used by
// index.Rebuild to reconstruct the Ordered Collection Index from scratch.
func (s *Store) ListAllCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, collectionSelectCols+` FROM collections WHERE deleted = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCollections(rows)
}

// CountActiveCollections is a cheap count used by index.Rebuild's divergence
// check: a rebuild triggers when this count diverges from the index's own
// entry count beyond a threshold.
func (s *Store) CountActiveCollections(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE deleted = 0`).Scan(&n)
	return n, err
}

// UpdateCollection performs a compare-and-set on (id, version). The caller's
// in-memory Collection.Version must match the stored version; on success the
// returned Collection carries the new version. On mismatch, ErrVersionConflict
// is returned and the caller is expected to re-fetch and reapply.
func (s *Store) UpdateCollection(ctx context.Context, c Collection) (Collection, error) {
	blobs, err := marshalCollectionBlobs(c)
	if err != nil {
		return Collection{}, err
	}
	now := time.Now().UTC()
	newVersion := c.Version + 1

	done := observeQuery("update_collection")
	res, err := s.db.ExecContext(ctx, `
		UPDATE collections SET
			display_name = ?, statistics_json = ?,
			media_items_json = ?, thumbnails_json = ?, cache_images_json = ?, cache_bindings_json = ?,
			version = ?, updated_at = ?
		WHERE id = ? AND version = ? AND deleted = 0`,
		c.DisplayName, blobs.stats, blobs.media, blobs.thumbs, blobs.caches, blobs.bindings,
		newVersion, now.Unix(), c.ID, c.Version)
	done(err)
	if err != nil {
		return Collection{}, fmt.Errorf("update collection: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Collection{}, ErrVersionConflict
	}
	c.Version = newVersion
	c.UpdatedAt = now
	return c, nil
}

// SoftDeleteCollection marks a Collection deleted when a rescan discovers its
// root is gone. Historical Jobs referencing it are left untouched.
func (s *Store) SoftDeleteCollection(ctx context.Context, id string) error {
	done := observeQuery("soft_delete_collection")
	_, err := s.db.ExecContext(ctx, `UPDATE collections SET deleted = 1, updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	done(err)
	return err
}

const collectionSelectCols = `
	SELECT id, library_id, display_name, path, kind, settings_json, statistics_json,
	       media_items_json, thumbnails_json, cache_images_json, cache_bindings_json,
	       version, deleted, created_at, updated_at`

type collectionBlobs struct {
	settings, stats, media, thumbs, caches, bindings []byte
}

func marshalCollectionBlobs(c Collection) (collectionBlobs, error) {
	var b collectionBlobs
	var err error
	if b.settings, err = json.Marshal(c.Settings); err != nil {
		return b, err
	}
	if b.stats, err = json.Marshal(c.Statistics); err != nil {
		return b, err
	}
	if b.media, err = json.Marshal(c.MediaItems); err != nil {
		return b, err
	}
	if b.thumbs, err = json.Marshal(c.Thumbnails); err != nil {
		return b, err
	}
	if b.caches, err = json.Marshal(c.CacheImages); err != nil {
		return b, err
	}
	if b.bindings, err = json.Marshal(c.CacheBindings); err != nil {
		return b, err
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollectionRow(scanner rowScanner) (Collection, error) {
	var c Collection
	var kind string
	var settingsJSON, statsJSON, mediaJSON, thumbsJSON, cachesJSON, bindingsJSON string
	var deleted int
	var createdAt, updatedAt int64

	err := scanner.Scan(&c.ID, &c.LibraryID, &c.DisplayName, &c.Path, &kind,
		&settingsJSON, &statsJSON, &mediaJSON, &thumbsJSON, &cachesJSON, &bindingsJSON,
		&c.Version, &deleted, &createdAt, &updatedAt)
	if err != nil {
		return Collection{}, err
	}
	c.Kind = stringToCollectionKind(kind)
	c.Deleted = deleted != 0
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := json.Unmarshal([]byte(settingsJSON), &c.Settings); err != nil {
		return Collection{}, err
	}
	if err := json.Unmarshal([]byte(statsJSON), &c.Statistics); err != nil {
		return Collection{}, err
	}
	if err := json.Unmarshal([]byte(mediaJSON), &c.MediaItems); err != nil {
		return Collection{}, err
	}
	if err := json.Unmarshal([]byte(thumbsJSON), &c.Thumbnails); err != nil {
		return Collection{}, err
	}
	if err := json.Unmarshal([]byte(cachesJSON), &c.CacheImages); err != nil {
		return Collection{}, err
	}
	if err := json.Unmarshal([]byte(bindingsJSON), &c.CacheBindings); err != nil {
		return Collection{}, err
	}
	return c, nil
}

func scanCollection(row *sql.Row) (Collection, error) {
	c, err := scanCollectionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, ErrNotFound
	}
	return c, err
}

func scanCollections(rows *sql.Rows) ([]Collection, error) {
	var out []Collection
	for rows.Next() {
		c, err := scanCollectionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func stringToCollectionKind(s string) mediatypes.CollectionKind {
	return mediatypes.CollectionKind(s)
}
