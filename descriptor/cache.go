package descriptor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/researchintegrity/elis-backend/errors"
)

// Cache is a read-through descriptor cache backed by SQLite.
//
// Concurrent requests for the same (image, variant) pair are collapsed into
// one collaborator call via singleflight; every waiter receives the same
// result or the same error.
type Cache struct {
	store    *Store
	computer Computer
	group    singleflight.Group
	log      *zap.SugaredLogger
}

// NewCache creates a descriptor cache over the given store and computer
func NewCache(store *Store, computer Computer, logger *zap.SugaredLogger) *Cache {
	return &Cache{
		store:    store,
		computer: computer,
		log:      logger.Named("descriptor-cache"),
	}
}

// GetOrCompute returns the cached descriptor for (imageID, variant), asking
// the collaborator to compute it on a miss. The owner is recorded on newly
// computed entries so owner-scoped cleanup can find them.
func (c *Cache) GetOrCompute(ctx context.Context, imageID string, variant Variant, owner string) (*Descriptor, error) {
	if d, err := c.store.Get(imageID, variant); err == nil {
		return d, nil
	} else if !errors.IsNotFoundError(err) {
		return nil, err
	}

	key := imageID + "/" + string(variant)
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another goroutine may have filled the
		// cache between our miss and acquiring the flight.
		if d, err := c.store.Get(imageID, variant); err == nil {
			return d, nil
		} else if !errors.IsNotFoundError(err) {
			return nil, err
		}

		d, err := c.computer.Compute(ctx, imageID, variant)
		if err != nil {
			return nil, err
		}
		d.Owner = owner

		if err := c.store.Put(d); err != nil {
			return nil, err
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.log.Debugw("Descriptor computation deduplicated", "image_id", imageID, "variant", variant)
	}

	return v.(*Descriptor), nil
}

// precomputeFailureStreak is the number of consecutive
// collaborator-unavailable failures after which a batch stops retrying
// the remaining images.
const precomputeFailureStreak = 5

// Precompute warms the cache for a batch of images. Per-image failures are
// counted and skipped so one bad image never sinks the rest of the batch;
// it stops early only on cancellation or when the collaborator fails
// precomputeFailureStreak images in a row.
func (c *Cache) Precompute(ctx context.Context, imageIDs []string, variant Variant, owner string) (computed, failed int, err error) {
	streak := 0
	for _, imageID := range imageIDs {
		select {
		case <-ctx.Done():
			return computed, failed, errors.Wrap(errors.ErrCancelled, "precompute cancelled")
		default:
		}

		if _, err := c.GetOrCompute(ctx, imageID, variant, owner); err != nil {
			failed++
			c.log.Warnw("Skipping image during precompute",
				"image_id", imageID,
				"variant", variant,
				"error", err,
			)
			if errors.IsCollaboratorUnavailableError(err) {
				streak++
				if streak >= precomputeFailureStreak {
					return computed, failed, errors.Wrapf(errors.ErrCollaboratorUnavailable,
						"precompute stopped after %d consecutive failures", streak)
				}
			}
			continue
		}
		streak = 0
		computed++
	}
	return computed, failed, nil
}

// EvictOlderThan removes descriptors not accessed within the given
// duration, optionally restricted to one owner
func (c *Cache) EvictOlderThan(olderThan time.Duration, ownerFilter string) (int, error) {
	removed, err := c.store.EvictOlderThan(olderThan, ownerFilter)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Infow("Evicted stale descriptors",
			"removed", removed, "older_than", olderThan, "owner", ownerFilter)
	}
	return removed, nil
}

// DeleteOwner removes all cached descriptors belonging to an owner
func (c *Cache) DeleteOwner(owner string) (int, error) {
	return c.store.DeleteOwner(owner)
}

// GetStats returns cache statistics
func (c *Cache) GetStats() (*Stats, error) {
	return c.store.GetStats()
}
