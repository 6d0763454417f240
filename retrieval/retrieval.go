// Package retrieval finds images similar to a query image using embedding
// distance search.
package retrieval

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/researchintegrity/elis-backend/errors"
)

// Candidate is one retrieval result, ranked by similarity to the query image
type Candidate struct {
	ImageID    string  `json:"image_id"`
	Similarity float32 `json:"similarity"` // 1.0 - normalized L2 distance, clamped to [0, 1]
}

// Filter narrows the searchable corpus
type Filter struct {
	Owner  string   // Restrict to one owner's images; empty = all
	Labels []string // Restrict to images carrying at least one of these labels; empty = all
}

// Retriever returns the k most similar corpus images for a query image.
// The query image itself is never among the results.
type Retriever interface {
	RetrieveSimilar(ctx context.Context, imageID string, k int, filter Filter) ([]Candidate, error)
}

// SerializeEmbedding converts an embedding to FLOAT32_BLOB format for sqlite-vec
func SerializeEmbedding(embedding []float32) ([]byte, error) {
	if len(embedding) == 0 {
		return nil, errors.New("embedding cannot be empty")
	}

	// sqlite-vec expects a little-endian float32 array
	buf := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}

	return buf, nil
}

// DeserializeEmbedding converts a FLOAT32_BLOB back to []float32
func DeserializeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Newf("invalid embedding data length: %d", len(data))
	}

	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}

	return embedding, nil
}
