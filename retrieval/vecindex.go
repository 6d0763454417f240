package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/errors"
)

// VecIndex is a Retriever over the image_embeddings table, using sqlite-vec
// L2 distance for brute-force nearest-neighbor search.
type VecIndex struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewVecIndex creates a retrieval index over the given database
func NewVecIndex(db *sql.DB, logger *zap.SugaredLogger) *VecIndex {
	return &VecIndex{
		db:  db,
		log: logger.Named("retrieval"),
	}
}

// Add inserts or replaces an image embedding
func (v *VecIndex) Add(imageID string, owner string, labels []string, embedding []float32) error {
	blob, err := SerializeEmbedding(embedding)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize embedding for %s", imageID)
	}

	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return errors.Wrap(err, "failed to marshal labels")
	}
	if labels == nil {
		labelsJSON = []byte("[]")
	}

	query := `
		INSERT INTO image_embeddings (image_id, owner, labels, embedding, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(image_id) DO UPDATE SET
			owner = excluded.owner,
			labels = excluded.labels,
			embedding = excluded.embedding
	`

	if _, err := v.db.Exec(query, imageID, owner, string(labelsJSON), blob, time.Now()); err != nil {
		return errors.Wrapf(err, "failed to index embedding for %s", imageID)
	}

	v.log.Debugw("Indexed image embedding",
		"image_id", imageID,
		"owner", owner,
		"dimensions", len(embedding),
	)

	return nil
}

// Remove deletes an image embedding from the index
func (v *VecIndex) Remove(imageID string) error {
	result, err := v.db.Exec(`DELETE FROM image_embeddings WHERE image_id = ?`, imageID)
	if err != nil {
		return errors.Wrapf(err, "failed to remove embedding for %s", imageID)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("image not indexed: %s", imageID)
	}

	return nil
}

// DeleteOwner removes all indexed embeddings belonging to an owner
func (v *VecIndex) DeleteOwner(owner string) (int, error) {
	result, err := v.db.Exec(`DELETE FROM image_embeddings WHERE owner = ?`, owner)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to remove embeddings for owner %s", owner)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// GetOwner returns the owner of an indexed image.
// Returns ErrNotFound when the image is not indexed.
func (v *VecIndex) GetOwner(imageID string) (string, error) {
	var owner string
	err := v.db.QueryRow(`SELECT owner FROM image_embeddings WHERE image_id = ?`, imageID).
		Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NewNotFoundError("image not indexed: %s", imageID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to load owner for %s", imageID)
	}
	return owner, nil
}

// GetLabels returns the label metadata for an indexed image.
// Returns ErrNotFound when the image is not indexed.
func (v *VecIndex) GetLabels(imageID string) ([]string, error) {
	var labelsJSON string
	err := v.db.QueryRow(`SELECT labels FROM image_embeddings WHERE image_id = ?`, imageID).
		Scan(&labelsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("image not indexed: %s", imageID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load labels for %s", imageID)
	}

	var labels []string
	if err := json.Unmarshal([]byte(labelsJSON), &labels); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal labels for %s", imageID)
	}

	return labels, nil
}

// Count returns the number of indexed images
func (v *VecIndex) Count() (int, error) {
	var count int
	if err := v.db.QueryRow(`SELECT COUNT(*) FROM image_embeddings`).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count indexed images")
	}
	return count, nil
}

// RetrieveSimilar returns up to k corpus images ranked by similarity to the
// query image. Returns ErrNotFound when the query image is not indexed.
func (v *VecIndex) RetrieveSimilar(ctx context.Context, imageID string, k int, filter Filter) ([]Candidate, error) {
	if k <= 0 {
		return nil, errors.NewInvalidConfigError("retrieval k must be > 0, got %d", k)
	}

	var queryBlob []byte
	err := v.db.QueryRowContext(ctx, `SELECT embedding FROM image_embeddings WHERE image_id = ?`, imageID).
		Scan(&queryBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("image not indexed: %s", imageID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load query embedding for %s", imageID)
	}

	// Brute-force L2 scan with sqlite-vec; lower distance means more similar.
	// The query image itself is excluded from its own candidate list.
	query := `
		SELECT image_id, vec_distance_L2(embedding, ?) AS distance
		FROM image_embeddings
		WHERE image_id != ?
	`
	args := []interface{}{queryBlob, imageID}

	if filter.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	if len(filter.Labels) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Labels)), ",")
		query += ` AND EXISTS (SELECT 1 FROM json_each(labels) WHERE json_each.value IN (` + placeholders + `))`
		for _, label := range filter.Labels {
			args = append(args, label)
		}
	}

	query += ` ORDER BY distance LIMIT ?`
	args = append(args, k)

	rows, err := v.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search similar images (k=%d)", k)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var distance float32
		if err := rows.Scan(&c.ImageID, &distance); err != nil {
			return nil, errors.Wrapf(err, "failed to scan search result at row %d", len(candidates)+1)
		}

		// L2 distance for normalized embeddings ranges 0 to 2;
		// convert to similarity 1 - (distance / 2), clamped at 0
		c.Similarity = 1.0 - (distance / 2.0)
		if c.Similarity < 0 {
			c.Similarity = 0
		}

		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to iterate search results (scanned %d rows)", len(candidates))
	}

	v.log.Debugw("Similarity search completed",
		"image_id", imageID,
		"k", k,
		"results", len(candidates),
	)

	return candidates, nil
}
