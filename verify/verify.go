// Package verify performs geometric verification of candidate image pairs.
// A verified match means the two images share a content region supported by
// enough keypoint correspondences under a consistent homography.
package verify

import (
	"context"

	"github.com/researchintegrity/elis-backend/descriptor"
)

// MatchResult is the outcome of verifying one ordered image pair.
type MatchResult struct {
	// Accepted is true when the matcher found a geometrically consistent
	// shared region. The traversal applies its own area and keypoint
	// thresholds on top of this.
	Accepted bool `json:"accepted"`

	// Score is the matcher's confidence in [0, 1]. Deterministic for a
	// given pair and variant, so re-verification reproduces it.
	Score float64 `json:"score"`

	// SharedArea is the matched region's area as a fraction of the
	// smaller image, in [0, 1].
	SharedArea float64 `json:"shared_area"`

	// KeypointCount is the number of inlier correspondences.
	KeypointCount int `json:"keypoint_count"`

	// IsFlipped indicates the match was found against the horizontally
	// flipped orientation of image B.
	IsFlipped bool `json:"is_flipped"`
}

// Matcher verifies whether two images share content.
type Matcher interface {
	// VerifyMatch compares image a against image b using descriptors of
	// the given variant. When checkFlip is set the matcher also tries the
	// flipped orientation and reports the better result.
	VerifyMatch(ctx context.Context, a, b string, variant descriptor.Variant, checkFlip bool) (*MatchResult, error)

	// Health reports whether the matcher is reachable
	Health(ctx context.Context) error
}
