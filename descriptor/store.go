package descriptor

import (
	"database/sql"
	"time"

	"github.com/researchintegrity/elis-backend/errors"
)

// Store persists descriptors in SQLite, keyed by (image_id, variant)
type Store struct {
	db *sql.DB
}

// NewStore creates a new descriptor store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put inserts or replaces a descriptor
func (s *Store) Put(d *Descriptor) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.AccessedAt = now

	query := `
		INSERT INTO descriptors (image_id, variant, owner, data, keypoint_count, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(image_id, variant) DO UPDATE SET
			owner = excluded.owner,
			data = excluded.data,
			keypoint_count = excluded.keypoint_count,
			accessed_at = excluded.accessed_at
	`

	_, err := s.db.Exec(query, d.ImageID, d.Variant, d.Owner, d.Data, d.KeypointCount, d.CreatedAt, d.AccessedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to store descriptor for %s/%s", d.ImageID, d.Variant)
	}

	return nil
}

// Get retrieves a descriptor and bumps its accessed_at timestamp.
// Returns ErrNotFound when the pair has not been cached.
func (s *Store) Get(imageID string, variant Variant) (*Descriptor, error) {
	query := `
		SELECT image_id, variant, owner, data, keypoint_count, created_at, accessed_at
		FROM descriptors
		WHERE image_id = ? AND variant = ?
	`

	var d Descriptor
	err := s.db.QueryRow(query, imageID, variant).Scan(
		&d.ImageID, &d.Variant, &d.Owner, &d.Data, &d.KeypointCount, &d.CreatedAt, &d.AccessedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("descriptor not cached: %s/%s", imageID, variant)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get descriptor for %s/%s", imageID, variant)
	}

	// Recency drives eviction, so reads refresh the access timestamp
	d.AccessedAt = time.Now()
	if _, err := s.db.Exec(`UPDATE descriptors SET accessed_at = ? WHERE image_id = ? AND variant = ?`,
		d.AccessedAt, imageID, variant); err != nil {
		return nil, errors.Wrap(err, "failed to update descriptor access time")
	}

	return &d, nil
}

// Delete removes a single cached descriptor
func (s *Store) Delete(imageID string, variant Variant) error {
	result, err := s.db.Exec(`DELETE FROM descriptors WHERE image_id = ? AND variant = ?`, imageID, variant)
	if err != nil {
		return errors.Wrapf(err, "failed to delete descriptor for %s/%s", imageID, variant)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("descriptor not cached: %s/%s", imageID, variant)
	}

	return nil
}

// DeleteOwner removes all cached descriptors belonging to an owner
func (s *Store) DeleteOwner(owner string) (int, error) {
	result, err := s.db.Exec(`DELETE FROM descriptors WHERE owner = ?`, owner)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete descriptors for owner %s", owner)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// EvictOlderThan removes descriptors not accessed within the given
// duration. A non-empty ownerFilter restricts eviction to that owner.
func (s *Store) EvictOlderThan(olderThan time.Duration, ownerFilter string) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `DELETE FROM descriptors WHERE accessed_at < ?`
	args := []interface{}{cutoff}
	if ownerFilter != "" {
		query += ` AND owner = ?`
		args = append(args, ownerFilter)
	}

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to evict stale descriptors")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// Stats summarizes cache contents
type Stats struct {
	Entries    int            `json:"entries"`
	TotalBytes int64          `json:"total_bytes"`
	ByVariant  map[string]int `json:"by_variant"`
}

// GetStats returns cache statistics
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{ByVariant: make(map[string]int)}

	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM descriptors`).
		Scan(&stats.Entries, &stats.TotalBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count descriptors")
	}

	rows, err := s.db.Query(`SELECT variant, COUNT(*) FROM descriptors GROUP BY variant`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count descriptors by variant")
	}
	defer rows.Close()

	for rows.Next() {
		var variant string
		var count int
		if err := rows.Scan(&variant, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan variant count")
		}
		stats.ByVariant[variant] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating variant counts")
	}

	return stats, nil
}
