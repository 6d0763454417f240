package server

import (
	"net/http"
)

// indexImageRequest is the body of POST /api/index/images
type indexImageRequest struct {
	ImageID   string    `json:"image_id"`
	Labels    []string  `json:"labels,omitempty"`
	Embedding []float32 `json:"embedding"`
}

// handleIndexImages adds an image embedding to the corpus index
func (s *ElisServer) handleIndexImages(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req indexImageRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.ImageID == "" {
		writeError(w, http.StatusBadRequest, "image_id must not be empty")
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, http.StatusBadRequest, "embedding must not be empty")
		return
	}

	if err := s.index.Add(req.ImageID, ownerFrom(r), req.Labels, req.Embedding); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"image_id": req.ImageID})
}

// handleIndexImage serves DELETE /api/index/images/{id}.
// Only the owner or an admin may remove an indexed image; other owners'
// images are hidden behind 404.
func (s *ElisServer) handleIndexImage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/index/images/")
	if len(parts) != 1 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "image id missing")
		return
	}
	imageID := parts[0]

	if !isAdmin(r) {
		owner, err := s.index.GetOwner(imageID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if owner != ownerFrom(r) {
			writeError(w, http.StatusNotFound, "image not indexed: "+imageID)
			return
		}
	}

	if err := s.index.Remove(imageID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
