package server

import (
	"net/http"
	"strings"
)

// routes builds the ELIS API mux. Every handler goes through the CORS
// middleware.
func (s *ElisServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/provenance/analyses", s.corsMiddleware(s.handleAnalyses))                 // List (GET) / submit (POST)
	mux.HandleFunc("/api/provenance/analyses/", s.corsMiddleware(s.handleAnalysis))                // Status, cancel, delete
	mux.HandleFunc("/api/descriptors/stats", s.corsMiddleware(s.handleDescriptorStats))            // Cache statistics (GET)
	mux.HandleFunc("/api/descriptors/cleanup", s.corsMiddleware(s.handleDescriptorsClean))         // Age-based eviction (POST, admin)
	mux.HandleFunc("/api/descriptors/precompute", s.corsMiddleware(s.handleDescriptorsPrecompute)) // Background cache warm (POST)
	mux.HandleFunc("/api/index/images", s.corsMiddleware(s.handleIndexImages))                     // Add to corpus index (POST)
	mux.HandleFunc("/api/index/images/", s.corsMiddleware(s.handleIndexImage))                     // Remove from corpus index (DELETE)
	mux.HandleFunc("/health", s.corsMiddleware(s.handleHealth))
	mux.HandleFunc("/ws", s.corsMiddleware(s.handleWebSocket))

	return mux
}

// corsMiddleware sets CORS headers for allowed origins and answers
// preflight requests
func (s *ElisServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Elis-Owner, X-Elis-Admin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// originAllowed matches an Origin header against the configured allowed
// origins by prefix, so any port on an allowed host passes
func (s *ElisServer) originAllowed(origin string) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}
	for _, a := range allowed {
		if strings.HasPrefix(origin, a) {
			return true
		}
	}
	return false
}
