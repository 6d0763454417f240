// Package provenance implements the provenance analysis engine: a bounded
// breadth-first search over an image corpus whose adjacency is discovered
// lazily through similarity retrieval and confirmed by geometric
// verification. The output is a weighted undirected graph plus its
// maximum-weight spanning forest and connected components.
package provenance

import (
	"github.com/researchintegrity/elis-backend/config"
	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
)

// Scope restricts which corpus images a traversal may discover.
type Scope string

const (
	// ScopeOwner restricts retrieval to the submitting owner's images
	ScopeOwner Scope = "owner"
	// ScopeGlobal searches across all owners. Admin only.
	ScopeGlobal Scope = "global"
)

// AnalysisConfig holds the per-job traversal parameters. Every recognized
// option is an explicit field, validated at submission time.
type AnalysisConfig struct {
	// MaxDepth limits BFS depth; 0 means unbounded (traverse until the
	// frontier is exhausted or MaxQueueSize is reached)
	MaxDepth int `json:"max_depth"`

	// MaxQueueSize is a hard cap on the total number of images ever
	// enqueued, seeds included. Once reached, no further images are
	// enqueued and the job completes with partial coverage.
	MaxQueueSize int `json:"max_queue_size"`

	// TopKRetrieval is the number of candidates requested per retrieval call
	TopKRetrieval int `json:"top_k_retrieval"`

	// VerificationQ caps how many unvisited candidates are verified per
	// expanded image, in retrieval order. 0 verifies all retrieved.
	VerificationQ int `json:"verification_q"`

	// MinArea is the minimum shared-area ratio for an accepted match
	MinArea float64 `json:"min_area"`

	// MinKeypoints is the minimum inlier keypoint count for an accepted match
	MinKeypoints int `json:"min_keypoints"`

	// CheckFlip also attempts a flipped-orientation match
	CheckFlip bool `json:"check_flip"`

	// SameLabelOnly restricts candidates to images sharing at least one
	// label with the image being expanded
	SameLabelOnly bool `json:"same_label_only"`

	// Scope is the corpus search scope
	Scope Scope `json:"scope"`

	// DescriptorVariant selects the descriptor type used for verification
	DescriptorVariant descriptor.Variant `json:"descriptor_variant"`
}

// DefaultAnalysisConfig builds an AnalysisConfig from the configured
// provenance defaults, owner-scoped with the RootSIFT variant.
func DefaultAnalysisConfig(cfg config.ProvenanceConfig) AnalysisConfig {
	return AnalysisConfig{
		MaxDepth:          cfg.DefaultMaxDepth,
		MaxQueueSize:      cfg.MaxQueueSize,
		TopKRetrieval:     cfg.DefaultRetrievalK,
		VerificationQ:     cfg.DefaultVerificationQ,
		MinArea:           0.02,
		MinKeypoints:      10,
		Scope:             ScopeOwner,
		DescriptorVariant: descriptor.VariantCVRootSIFT,
	}
}

// Validate rejects configurations before any work starts
func (c AnalysisConfig) Validate() error {
	if c.MaxDepth < 0 {
		return errors.NewInvalidConfigError("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxQueueSize <= 0 {
		return errors.NewInvalidConfigError("max_queue_size must be > 0, got %d", c.MaxQueueSize)
	}
	if c.TopKRetrieval <= 0 {
		return errors.NewInvalidConfigError("top_k_retrieval must be > 0, got %d", c.TopKRetrieval)
	}
	if c.VerificationQ < 0 {
		return errors.NewInvalidConfigError("verification_q must be >= 0, got %d", c.VerificationQ)
	}
	if c.MinArea < 0 || c.MinArea > 1 {
		return errors.NewInvalidConfigError("min_area must be in [0, 1], got %f", c.MinArea)
	}
	if c.MinKeypoints < 0 {
		return errors.NewInvalidConfigError("min_keypoints must be >= 0, got %d", c.MinKeypoints)
	}
	if c.Scope != ScopeOwner && c.Scope != ScopeGlobal {
		return errors.NewInvalidConfigError("unknown scope: %s", c.Scope)
	}
	if _, err := descriptor.ParseVariant(string(c.DescriptorVariant)); err != nil {
		return err
	}
	return nil
}
