package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/config"
	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
)

func newTestMatcher(t *testing.T, handler http.Handler, rps float64) (*HTTPMatcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m := NewHTTPMatcher(config.MatcherConfig{
		BaseURL:           srv.URL,
		TimeoutSeconds:    5,
		RequestsPerSecond: rps,
	}, zap.NewNop().Sugar())
	return m, srv
}

func TestVerifyMatchAccepted(t *testing.T) {
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/match", r.URL.Path)

		var req matchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "img-a", req.ImageA)
		assert.Equal(t, "img-b", req.ImageB)
		assert.Equal(t, "cv_rsift", req.Variant)
		assert.True(t, req.CheckFlip)

		json.NewEncoder(w).Encode(MatchResult{
			Accepted:      true,
			Score:         0.91,
			SharedArea:    0.42,
			KeypointCount: 150,
			IsFlipped:     true,
		})
	}), 0)

	result, err := m.VerifyMatch(context.Background(), "img-a", "img-b", descriptor.VariantCVRootSIFT, true)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, 0.91, result.Score)
	assert.Equal(t, 0.42, result.SharedArea)
	assert.Equal(t, 150, result.KeypointCount)
	assert.True(t, result.IsFlipped)
}

func TestVerifyMatchRejected(t *testing.T) {
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MatchResult{Accepted: false})
	}), 0)

	result, err := m.VerifyMatch(context.Background(), "a", "b", descriptor.VariantCVSIFT, false)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestVerifyMatchNotFound(t *testing.T) {
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), 0)

	_, err := m.VerifyMatch(context.Background(), "a", "b", descriptor.VariantCVSIFT, false)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestVerifyMatchServerError(t *testing.T) {
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}), 0)

	_, err := m.VerifyMatch(context.Background(), "a", "b", descriptor.VariantCVSIFT, false)
	require.Error(t, err)
	assert.True(t, errors.IsCollaboratorUnavailableError(err))
}

func TestVerifyMatchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	m := NewHTTPMatcher(config.MatcherConfig{BaseURL: url, TimeoutSeconds: 1}, zap.NewNop().Sugar())
	_, err := m.VerifyMatch(context.Background(), "a", "b", descriptor.VariantCVSIFT, false)
	require.Error(t, err)
	assert.True(t, errors.IsCollaboratorUnavailableError(err))
}

func TestVerifyMatchRateLimited(t *testing.T) {
	var calls atomic.Int64
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(MatchResult{Accepted: true, Score: 0.5})
	}), 20) // 50ms between requests

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := m.VerifyMatch(context.Background(), "a", "b", descriptor.VariantCVSIFT, false)
		require.NoError(t, err)
	}

	// burst of 1, so requests 2 and 3 each wait ~50ms
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int64(3), calls.Load())
}

func TestVerifyMatchRateLimitCancelled(t *testing.T) {
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MatchResult{Accepted: true})
	}), 0.1) // one request per 10s after the initial burst

	_, err := m.VerifyMatch(context.Background(), "a", "b", descriptor.VariantCVSIFT, false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.VerifyMatch(ctx, "a", "b", descriptor.VariantCVSIFT, false)
	require.Error(t, err)
}

func TestMatcherHealth(t *testing.T) {
	m, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}), 0)
	assert.NoError(t, m.Health(context.Background()))

	down, _ := newTestMatcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), 0)
	err := down.Health(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCollaboratorUnavailableError(err))
}
