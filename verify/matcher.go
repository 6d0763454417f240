package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/researchintegrity/elis-backend/config"
	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/internal/httpclient"
)

// HTTPMatcher calls the external keypoint-matching service. Requests are
// rate-limited because each verification runs a full matching pipeline on
// the collaborator and traversals can generate bursts of pairs.
type HTTPMatcher struct {
	baseURL string
	client  *httpclient.SaferClient
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewHTTPMatcher creates a client for the verification collaborator.
// Private addresses are allowed, same as the descriptor client.
func NewHTTPMatcher(cfg config.MatcherConfig, logger *zap.SugaredLogger) *HTTPMatcher {
	blockPrivate := false

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HTTPMatcher{
		baseURL: cfg.BaseURL,
		client: httpclient.NewWithOptions(
			time.Duration(cfg.TimeoutSeconds)*time.Second,
			httpclient.Options{BlockPrivateIP: &blockPrivate},
		),
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.Named("matcher"),
	}
}

type matchRequest struct {
	ImageA    string `json:"image_a"`
	ImageB    string `json:"image_b"`
	Variant   string `json:"variant"`
	CheckFlip bool   `json:"check_flip"`
}

// VerifyMatch requests geometric verification of the pair (a, b)
func (m *HTTPMatcher) VerifyMatch(ctx context.Context, a, b string, variant descriptor.Variant, checkFlip bool) (*MatchResult, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter wait interrupted")
	}

	body, err := json.Marshal(matchRequest{
		ImageA:    a,
		ImageB:    b,
		Variant:   string(variant),
		CheckFlip: checkFlip,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal match request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/match", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build match request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCollaboratorUnavailable, "matcher service unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.NewNotFoundError("image pair not known to matcher service: %s, %s", a, b)
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Wrapf(errors.ErrCollaboratorUnavailable,
			"matcher service returned %d: %s", resp.StatusCode, string(payload))
	}

	var result MatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode match response")
	}

	m.log.Debugw("Verified pair",
		"image_a", a,
		"image_b", b,
		"variant", variant,
		"accepted", result.Accepted,
		"score", result.Score,
		"shared_area", result.SharedArea,
		"keypoints", result.KeypointCount,
	)

	return &result, nil
}

// Health checks the collaborator's health endpoint
func (m *HTTPMatcher) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to build health request")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrCollaboratorUnavailable, "matcher service unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrCollaboratorUnavailable, "matcher service health returned %d", resp.StatusCode)
	}

	return nil
}
