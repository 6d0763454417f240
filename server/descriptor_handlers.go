package server

import (
	"net/http"
	"time"

	"github.com/researchintegrity/elis-backend/descriptor"
)

// cleanupRequest is the body of POST /api/descriptors/cleanup
type cleanupRequest struct {
	OlderThanHours int    `json:"older_than_hours"`
	Owner          string `json:"owner,omitempty"` // optional scope, empty evicts across owners
}

// handleDescriptorsClean evicts cache entries not accessed within the
// given age. Admin only.
func (s *ElisServer) handleDescriptorsClean(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if !isAdmin(r) {
		writeError(w, http.StatusForbidden, "descriptor cleanup requires admin privileges")
		return
	}

	var req cleanupRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.OlderThanHours <= 0 {
		writeError(w, http.StatusBadRequest, "older_than_hours must be > 0")
		return
	}

	removed, err := s.cache.EvictOlderThan(time.Duration(req.OlderThanHours)*time.Hour, req.Owner)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Infow("Descriptor cache cleaned",
		"older_than_hours", req.OlderThanHours,
		"owner", req.Owner,
		"removed", removed,
	)

	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// precomputeRequest is the body of POST /api/descriptors/precompute
type precomputeRequest struct {
	ImageIDs []string `json:"image_ids"`
	Variant  string   `json:"variant"`
}

// handleDescriptorsPrecompute warms the descriptor cache for a batch of
// images. The population runs in the background; the request returns 202
// as soon as the batch is accepted.
func (s *ElisServer) handleDescriptorsPrecompute(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req precomputeRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if len(req.ImageIDs) == 0 {
		writeError(w, http.StatusBadRequest, "image_ids must not be empty")
		return
	}

	variant, err := descriptor.ParseVariant(req.Variant)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	owner := ownerFrom(r)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		computed, failed, err := s.cache.Precompute(s.baseCtx, req.ImageIDs, variant, owner)
		if err != nil {
			s.logger.Warnw("Descriptor precompute aborted",
				"owner", owner,
				"computed", computed,
				"failed", failed,
				"error", err,
			)
			return
		}
		s.logger.Infow("Descriptor precompute finished",
			"owner", owner,
			"computed", computed,
			"failed", failed,
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(req.ImageIDs)})
}

// handleDescriptorStats returns descriptor cache statistics
func (s *ElisServer) handleDescriptorStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.cache.GetStats()
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
