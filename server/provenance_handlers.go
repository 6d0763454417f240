package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/jobs"
	"github.com/researchintegrity/elis-backend/provenance"
)

// DefaultListLimit bounds analysis listings when no limit is given
const DefaultListLimit = 50

// submitAnalysisRequest is the body of POST /api/provenance/analyses.
// Omitted tuning fields fall back to the configured defaults.
type submitAnalysisRequest struct {
	Seeds             []string `json:"seeds"`
	Scope             string   `json:"scope,omitempty"`
	MaxDepth          *int     `json:"max_depth,omitempty"`
	MaxQueueSize      *int     `json:"max_queue_size,omitempty"`
	TopKRetrieval     *int     `json:"top_k_retrieval,omitempty"`
	VerificationQ     *int     `json:"verification_q,omitempty"`
	MinArea           *float64 `json:"min_area,omitempty"`
	MinKeypoints      *int     `json:"min_keypoints,omitempty"`
	CheckFlip         bool     `json:"check_flip,omitempty"`
	SameLabelOnly     bool     `json:"same_label_only,omitempty"`
	DescriptorVariant string   `json:"descriptor_variant,omitempty"`
}

// buildConfig overlays the request on the configured defaults
func (s *ElisServer) buildConfig(req *submitAnalysisRequest) provenance.AnalysisConfig {
	cfg := provenance.DefaultAnalysisConfig(s.cfg.Provenance)

	if req.Scope != "" {
		cfg.Scope = provenance.Scope(req.Scope)
	}
	if req.MaxDepth != nil {
		cfg.MaxDepth = *req.MaxDepth
	}
	if req.MaxQueueSize != nil {
		cfg.MaxQueueSize = *req.MaxQueueSize
	}
	if req.TopKRetrieval != nil {
		cfg.TopKRetrieval = *req.TopKRetrieval
	}
	if req.VerificationQ != nil {
		cfg.VerificationQ = *req.VerificationQ
	}
	if req.MinArea != nil {
		cfg.MinArea = *req.MinArea
	}
	if req.MinKeypoints != nil {
		cfg.MinKeypoints = *req.MinKeypoints
	}
	cfg.CheckFlip = req.CheckFlip
	cfg.SameLabelOnly = req.SameLabelOnly
	if req.DescriptorVariant != "" {
		cfg.DescriptorVariant = descriptor.Variant(req.DescriptorVariant)
	}

	return cfg
}

// handleAnalyses serves GET (list) and POST (submit) on the collection
func (s *ElisServer) handleAnalyses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listAnalyses(w, r)
	case http.MethodPost:
		s.submitAnalysis(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *ElisServer) submitAnalysis(w http.ResponseWriter, r *http.Request) {
	var req submitAnalysisRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	if len(req.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "seeds must not be empty")
		return
	}

	cfg := s.buildConfig(&req)
	if cfg.Scope == provenance.ScopeGlobal && !isAdmin(r) {
		writeError(w, http.StatusForbidden, "global scope requires admin privileges")
		return
	}
	if err := cfg.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}

	payload, err := json.Marshal(provenance.AnalyzePayload{Seeds: req.Seeds, Config: cfg})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job, err := jobs.NewJob(provenance.AnalyzeHandlerName, ownerFrom(r), payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Infow("Analysis submitted",
		"job_id", shortID(job.ID),
		"owner", job.Owner,
		"seeds", len(req.Seeds),
		"scope", cfg.Scope,
	)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *ElisServer) listAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	// admins see every owner's jobs
	owner := ownerFrom(r)
	if isAdmin(r) {
		owner = ""
	}

	var status *jobs.JobStatus
	if v := r.URL.Query().Get("status"); v != "" {
		parsed := jobs.JobStatus(v)
		status = &parsed
	}

	list, err := s.queue.ListJobs(status, owner, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": list,
		"count":    len(list),
	})
}

// handleAnalysis serves the item routes:
// GET /api/provenance/analyses/{id}, POST .../{id}/cancel, DELETE .../{id}
func (s *ElisServer) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	parts := extractPathParts(r.URL.Path, "/api/provenance/analyses/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "analysis id missing")
		return
	}
	id := parts[0]

	job, err := s.authorizedJob(r, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if len(parts) == 2 && parts[1] == "cancel" {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		s.cancelAnalysis(w, job)
		return
	}
	if len(parts) > 1 {
		writeError(w, http.StatusNotFound, "unknown analysis resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := s.queue.DeleteJob(job.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// authorizedJob loads a job and hides other owners' jobs behind 404
func (s *ElisServer) authorizedJob(r *http.Request, id string) (*jobs.Job, error) {
	job, err := s.queue.GetJob(id)
	if err != nil {
		return nil, err
	}
	if !isAdmin(r) && job.Owner != ownerFrom(r) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	return job, nil
}

// cancelAnalysis requests cooperative cancellation. Cancelling a job that
// is already terminal is a no-op, not an error.
func (s *ElisServer) cancelAnalysis(w http.ResponseWriter, job *jobs.Job) {
	err := s.queue.CancelJob(job.ID, "cancelled by user")
	if err != nil && !errors.Is(err, errors.ErrConflict) {
		writeDomainError(w, err)
		return
	}

	current, getErr := s.queue.GetJob(job.ID)
	if getErr != nil {
		writeDomainError(w, getErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": current.ID,
		"status": string(current.Status),
	})
}
