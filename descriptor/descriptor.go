// Package descriptor caches keypoint descriptors computed by the external
// descriptor collaborator. Descriptors are expensive to compute and immutable
// for a given (image, variant) pair, so they are cached in SQLite and
// deduplicated in flight.
package descriptor

import (
	"time"

	"github.com/researchintegrity/elis-backend/errors"
)

// Variant identifies a descriptor extraction algorithm
type Variant string

const (
	// VariantCVSIFT is plain OpenCV SIFT
	VariantCVSIFT Variant = "cv_sift"
	// VariantCVRootSIFT is OpenCV SIFT with RootSIFT normalization
	VariantCVRootSIFT Variant = "cv_rsift"
	// VariantVLFeatSIFTHeq is VLFeat SIFT over a histogram-equalized image
	VariantVLFeatSIFTHeq Variant = "vlfeat_sift_heq"
)

// Variants lists all supported descriptor variants
func Variants() []Variant {
	return []Variant{VariantCVSIFT, VariantCVRootSIFT, VariantVLFeatSIFTHeq}
}

// ParseVariant validates a variant string
func ParseVariant(s string) (Variant, error) {
	v := Variant(s)
	switch v {
	case VariantCVSIFT, VariantCVRootSIFT, VariantVLFeatSIFTHeq:
		return v, nil
	default:
		return "", errors.NewInvalidConfigError("unknown descriptor variant: %q", s)
	}
}

// Descriptor holds the serialized keypoint descriptors for one image under
// one extraction variant
type Descriptor struct {
	ImageID       string    `json:"image_id"`
	Variant       Variant   `json:"variant"`
	Owner         string    `json:"owner"`
	Data          []byte    `json:"-"`
	KeypointCount int       `json:"keypoint_count"`
	CreatedAt     time.Time `json:"created_at"`
	AccessedAt    time.Time `json:"accessed_at"`
}
