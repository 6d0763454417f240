package descriptor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/internal/httpclient"
)

// Computer produces descriptors for images that are not yet cached
type Computer interface {
	// Compute extracts descriptors for an image under the given variant
	Compute(ctx context.Context, imageID string, variant Variant) (*Descriptor, error)

	// Health reports whether the collaborator is reachable
	Health(ctx context.Context) error
}

// HTTPComputer calls the external descriptor extraction service
type HTTPComputer struct {
	baseURL string
	client  *httpclient.SaferClient
	log     *zap.SugaredLogger
}

// NewHTTPComputer creates a client for the descriptor collaborator.
// Private addresses are allowed: collaborators are operator-configured
// services, typically deployed on the same network.
func NewHTTPComputer(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *HTTPComputer {
	blockPrivate := false
	return &HTTPComputer{
		baseURL: baseURL,
		client:  httpclient.NewWithOptions(timeout, httpclient.Options{BlockPrivateIP: &blockPrivate}),
		log:     logger.Named("descriptor"),
	}
}

type computeRequest struct {
	ImageID string `json:"image_id"`
	Variant string `json:"variant"`
}

type computeResponse struct {
	Descriptor    string `json:"descriptor"` // base64-encoded descriptor matrix
	KeypointCount int    `json:"keypoint_count"`
}

// Compute requests descriptor extraction from the collaborator
func (c *HTTPComputer) Compute(ctx context.Context, imageID string, variant Variant) (*Descriptor, error) {
	body, err := json.Marshal(computeRequest{ImageID: imageID, Variant: string(variant)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal compute request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/descriptors", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build compute request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCollaboratorUnavailable, "descriptor service unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.NewNotFoundError("image not known to descriptor service: %s", imageID)
	default:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Wrapf(errors.ErrCollaboratorUnavailable,
			"descriptor service returned %d: %s", resp.StatusCode, string(payload))
	}

	var cr computeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, errors.Wrap(err, "failed to decode compute response")
	}

	data, err := base64.StdEncoding.DecodeString(cr.Descriptor)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode descriptor payload")
	}

	c.log.Debugw("Computed descriptor",
		"image_id", imageID,
		"variant", variant,
		"keypoints", cr.KeypointCount,
		"bytes", len(data),
	)

	return &Descriptor{
		ImageID:       imageID,
		Variant:       variant,
		Data:          data,
		KeypointCount: cr.KeypointCount,
	}, nil
}

// Health checks the collaborator's health endpoint
func (c *HTTPComputer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "failed to build health request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(errors.ErrCollaboratorUnavailable, "descriptor service unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(errors.ErrCollaboratorUnavailable, "descriptor service health returned %d", resp.StatusCode)
	}

	return nil
}
