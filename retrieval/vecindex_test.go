package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/errors"
	elistesting "github.com/researchintegrity/elis-backend/internal/testing"
)

func newTestIndex(t *testing.T) *VecIndex {
	t.Helper()
	return NewVecIndex(elistesting.CreateTestDB(t), zap.NewNop().Sugar())
}

func TestSerializeRoundTrip(t *testing.T) {
	original := []float32{0.1, -0.5, 0.0, 1.0, -1.0}

	blob, err := SerializeEmbedding(original)
	require.NoError(t, err)
	assert.Len(t, blob, len(original)*4)

	decoded, err := DeserializeEmbedding(blob)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestSerializeEmpty(t *testing.T) {
	_, err := SerializeEmbedding(nil)
	assert.Error(t, err)

	_, err = DeserializeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRetrieveSimilarRanksbyDistance(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// Query at origin; near and far neighbors at increasing distance
	require.NoError(t, idx.Add("query", "alice", nil, []float32{0, 0, 0, 0}))
	require.NoError(t, idx.Add("near", "alice", nil, []float32{0.1, 0, 0, 0}))
	require.NoError(t, idx.Add("mid", "alice", nil, []float32{0.5, 0.5, 0, 0}))
	require.NoError(t, idx.Add("far", "alice", nil, []float32{1, 1, 1, 1}))

	candidates, err := idx.RetrieveSimilar(ctx, "query", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "near", candidates[0].ImageID)
	assert.Equal(t, "mid", candidates[1].ImageID)
	assert.Equal(t, "far", candidates[2].ImageID)

	// Similarity decreases with distance and stays within [0, 1]
	assert.Greater(t, candidates[0].Similarity, candidates[1].Similarity)
	assert.Greater(t, candidates[1].Similarity, candidates[2].Similarity)
	assert.GreaterOrEqual(t, candidates[2].Similarity, float32(0))
	assert.LessOrEqual(t, candidates[0].Similarity, float32(1))
}

func TestRetrieveSimilarExcludesQueryImage(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("query", "alice", nil, []float32{1, 2, 3}))
	require.NoError(t, idx.Add("other", "alice", nil, []float32{1, 2, 3.1}))

	candidates, err := idx.RetrieveSimilar(context.Background(), "query", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "other", candidates[0].ImageID)
}

func TestRetrieveSimilarRespectsK(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("query", "alice", nil, []float32{0, 0}))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, idx.Add(id, "alice", nil, []float32{1, 1}))
	}

	candidates, err := idx.RetrieveSimilar(context.Background(), "query", 2, Filter{})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)

	_, err = idx.RetrieveSimilar(context.Background(), "query", 0, Filter{})
	assert.Error(t, err)
}

func TestRetrieveSimilarOwnerFilter(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("query", "alice", nil, []float32{0, 0}))
	require.NoError(t, idx.Add("alice-img", "alice", nil, []float32{0.1, 0}))
	require.NoError(t, idx.Add("bob-img", "bob", nil, []float32{0.1, 0}))

	candidates, err := idx.RetrieveSimilar(context.Background(), "query", 10, Filter{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "alice-img", candidates[0].ImageID)
}

func TestRetrieveSimilarLabelFilter(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("query", "alice", nil, []float32{0, 0}))
	require.NoError(t, idx.Add("blot", "alice", []string{"western-blot"}, []float32{0.1, 0}))
	require.NoError(t, idx.Add("micrograph", "alice", []string{"microscopy"}, []float32{0.1, 0}))
	require.NoError(t, idx.Add("unlabeled", "alice", nil, []float32{0.1, 0}))

	candidates, err := idx.RetrieveSimilar(context.Background(), "query", 10, Filter{Labels: []string{"western-blot"}})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "blot", candidates[0].ImageID)

	candidates, err = idx.RetrieveSimilar(context.Background(), "query", 10,
		Filter{Labels: []string{"western-blot", "microscopy"}})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestGetLabels(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("blot", "alice", []string{"western-blot", "figure-2"}, []float32{1}))
	require.NoError(t, idx.Add("plain", "alice", nil, []float32{2}))

	labels, err := idx.GetLabels("blot")
	require.NoError(t, err)
	assert.Equal(t, []string{"western-blot", "figure-2"}, labels)

	labels, err = idx.GetLabels("plain")
	require.NoError(t, err)
	assert.Empty(t, labels)

	_, err = idx.GetLabels("missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRetrieveSimilarUnknownImage(t *testing.T) {
	idx := newTestIndex(t)

	_, err := idx.RetrieveSimilar(context.Background(), "no-such-image", 5, Filter{})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRemoveAndDeleteOwner(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", "alice", nil, []float32{1}))
	require.NoError(t, idx.Add("b", "alice", nil, []float32{2}))
	require.NoError(t, idx.Add("c", "bob", nil, []float32{3}))

	require.NoError(t, idx.Remove("a"))
	assert.True(t, errors.IsNotFoundError(idx.Remove("a")))

	removed, err := idx.DeleteOwner("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
