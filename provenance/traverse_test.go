package provenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/retrieval"
	"github.com/researchintegrity/elis-backend/verify"
)

// fakeRetriever serves canned candidate lists keyed by image ID
type fakeRetriever struct {
	neighbors map[string][]retrieval.Candidate
	calls     atomic.Int64
	err       error
}

func (f *fakeRetriever) RetrieveSimilar(ctx context.Context, imageID string, k int, filter retrieval.Filter) ([]retrieval.Candidate, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	candidates := f.neighbors[imageID]
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// fakeMatcher serves canned results keyed by ordered pair "a/b"
type fakeMatcher struct {
	results map[string]*verify.MatchResult
	calls   atomic.Int64
	err     error
}

func (f *fakeMatcher) VerifyMatch(ctx context.Context, a, b string, variant descriptor.Variant, checkFlip bool) (*verify.MatchResult, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[a+"/"+b]; ok {
		return r, nil
	}
	if r, ok := f.results[b+"/"+a]; ok {
		return r, nil
	}
	return &verify.MatchResult{Accepted: false}, nil
}

func (f *fakeMatcher) Health(ctx context.Context) error { return nil }

// fakeDescriptors always succeeds unless err is set
type fakeDescriptors struct {
	calls atomic.Int64
	err   error
}

func (f *fakeDescriptors) GetOrCompute(ctx context.Context, imageID string, variant descriptor.Variant, owner string) (*descriptor.Descriptor, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &descriptor.Descriptor{ImageID: imageID, Variant: variant, Owner: owner}, nil
}

type fakeLabels map[string][]string

func (f fakeLabels) GetLabels(imageID string) ([]string, error) {
	return f[imageID], nil
}

func testConfig() AnalysisConfig {
	return AnalysisConfig{
		MaxDepth:          1,
		MaxQueueSize:      100,
		TopKRetrieval:     10,
		MinArea:           0.02,
		MinKeypoints:      0,
		Scope:             ScopeOwner,
		DescriptorVariant: descriptor.VariantCVRootSIFT,
	}
}

func accepted(score, area float64, keypoints int) *verify.MatchResult {
	return &verify.MatchResult{Accepted: true, Score: score, SharedArea: area, KeypointCount: keypoints}
}

func TestRunSeedScenario(t *testing.T) {
	// retrieval(A) -> B (0.9), C (0.7); A-B accepted with area 0.5,
	// A-C rejected below min_area; C is neither a node nor enqueued
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {{ImageID: "B", Similarity: 0.9}, {ImageID: "C", Similarity: 0.7}},
	}}
	matcher := &fakeMatcher{results: map[string]*verify.MatchResult{
		"A/B": accepted(0.85, 0.5, 120),
		"A/C": {Accepted: false, SharedArea: 0.01},
	}}

	cfg := testConfig()
	cfg.TopKRetrieval = 2

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{})
	graph, stats, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)
	require.NoError(t, err)

	require.Len(t, graph.Nodes, 2)
	assert.True(t, graph.HasNode("A"))
	assert.True(t, graph.HasNode("B"))
	assert.False(t, graph.HasNode("C"))

	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "A", graph.Edges[0].A)
	assert.Equal(t, "B", graph.Edges[0].B)
	assert.Equal(t, 0.85, graph.Edges[0].Weight)

	// A expanded at depth 0, B at depth 1
	assert.Equal(t, 2, stats.ImagesProcessed)
	assert.Equal(t, 1, stats.MatchedPairs)

	s := Summarize(graph)
	require.Len(t, s.Components, 1)
	assert.Equal(t, []string{"A", "B"}, s.Components[0])
}

func TestRunUnboundedDepthReachesChain(t *testing.T) {
	// A - B - C - D chain; max_depth 0 traverses to natural exhaustion
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {{ImageID: "B", Similarity: 0.9}},
		"B": {{ImageID: "A", Similarity: 0.9}, {ImageID: "C", Similarity: 0.8}},
		"C": {{ImageID: "B", Similarity: 0.8}, {ImageID: "D", Similarity: 0.7}},
		"D": {{ImageID: "C", Similarity: 0.7}},
	}}
	matcher := &fakeMatcher{results: map[string]*verify.MatchResult{
		"A/B": accepted(0.9, 0.5, 100),
		"B/C": accepted(0.8, 0.4, 90),
		"C/D": accepted(0.7, 0.3, 80),
	}}

	cfg := testConfig()
	cfg.MaxDepth = 0

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{})
	graph, stats, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)
	require.NoError(t, err)

	assert.Len(t, graph.Nodes, 4)
	assert.Len(t, graph.Edges, 3)
	assert.Equal(t, 4, stats.ImagesProcessed)
	assert.False(t, stats.QueueCapReached)
}

func TestRunQueueCapHaltsExpansion(t *testing.T) {
	// star topology: the seed matches many candidates but only
	// max_queue_size images may ever be enqueued, seed included
	neighbors := []retrieval.Candidate{}
	results := map[string]*verify.MatchResult{}
	for _, id := range []string{"B", "C", "D", "E", "F", "G"} {
		neighbors = append(neighbors, retrieval.Candidate{ImageID: id, Similarity: 0.9})
		results["A/"+id] = accepted(0.9, 0.5, 100)
	}
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{"A": neighbors}}
	matcher := &fakeMatcher{results: results}

	cfg := testConfig()
	cfg.MaxQueueSize = 3

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{})
	graph, stats, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Enqueued)
	assert.True(t, stats.QueueCapReached)
	assert.Equal(t, 3, stats.ImagesProcessed)
	// edges are still recorded for verified pairs beyond the cap
	assert.Len(t, graph.Edges, 6)
}

func TestRunCancellationPreservesProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// cancel after the third expansion; the next iteration boundary
	// observes it
	var processed atomic.Int64
	progress := func(stats RunStats, message string) {
		if processed.Add(1) == 3 {
			cancel()
		}
	}

	neighbors := map[string][]retrieval.Candidate{}
	results := map[string]*verify.MatchResult{}
	prev := "img-0"
	for _, id := range []string{"img-1", "img-2", "img-3", "img-4", "img-5"} {
		neighbors[prev] = []retrieval.Candidate{{ImageID: id, Similarity: 0.9}}
		results[prev+"/"+id] = accepted(0.9, 0.5, 100)
		prev = id
	}
	retriever := &fakeRetriever{neighbors: neighbors}
	matcher := &fakeMatcher{results: results}

	cfg := testConfig()
	cfg.MaxDepth = 0

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{Progress: progress})
	graph, stats, err := engine.Run(ctx, []string{"img-0"}, "alice", cfg)

	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
	assert.Equal(t, 3, stats.ImagesProcessed)
	// the partial graph is returned for the caller to discard or keep
	require.NotNil(t, graph)
	assert.Len(t, graph.Edges, 3)
}

func TestRunProgressCarriesLiveCounters(t *testing.T) {
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {{ImageID: "B", Similarity: 0.9}},
	}}
	matcher := &fakeMatcher{results: map[string]*verify.MatchResult{
		"A/B": accepted(0.9, 0.5, 100),
	}}

	var snapshots []RunStats
	progress := func(stats RunStats, message string) {
		snapshots = append(snapshots, stats)
	}

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{Progress: progress})
	_, _, err := engine.Run(context.Background(), []string{"A"}, "alice", testConfig())
	require.NoError(t, err)

	// one snapshot per expanded image, each carrying the counters and
	// elapsed wall time as of that expansion
	require.Len(t, snapshots, 2)
	assert.Equal(t, 1, snapshots[0].ImagesProcessed)
	assert.Equal(t, 1, snapshots[0].MatchedPairs)
	assert.Greater(t, snapshots[0].Elapsed, time.Duration(0))
	assert.Equal(t, 2, snapshots[1].ImagesProcessed)
	assert.GreaterOrEqual(t, snapshots[1].Elapsed, snapshots[0].Elapsed)
}

func TestRunCollaboratorOutageEscalates(t *testing.T) {
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {{ImageID: "B", Similarity: 0.9}},
	}}
	matcher := &fakeMatcher{err: errors.Wrap(errors.ErrCollaboratorUnavailable, "matcher down")}

	cfg := testConfig()

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{FailureStreakThreshold: 1})
	graph, _, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)

	require.Error(t, err)
	assert.True(t, errors.IsCollaboratorUnavailableError(err))
	assert.Nil(t, graph)
}

func TestRunIsolatedFailuresAreSkipped(t *testing.T) {
	// one unavailable verification below the streak threshold does not
	// fail the run
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {{ImageID: "B", Similarity: 0.9}, {ImageID: "C", Similarity: 0.8}},
	}}
	matcher := &fakeMatcher{results: map[string]*verify.MatchResult{
		"A/C": accepted(0.8, 0.4, 90),
	}}
	matcher.err = errors.Wrap(errors.ErrCollaboratorUnavailable, "transient")

	// first call fails, then recover
	failing := &flakyMatcher{inner: matcher, failures: 1}

	cfg := testConfig()
	engine := NewEngine(retriever, failing, &fakeDescriptors{}, EngineOptions{FailureStreakThreshold: 5})
	graph, stats, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)

	require.NoError(t, err)
	assert.Equal(t, 1, stats.SkippedFailures)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "C", graph.Edges[0].B)
}

// flakyMatcher fails the first N calls, then delegates
type flakyMatcher struct {
	inner    *fakeMatcher
	failures int
	calls    atomic.Int64
}

func (f *flakyMatcher) VerifyMatch(ctx context.Context, a, b string, variant descriptor.Variant, checkFlip bool) (*verify.MatchResult, error) {
	if int(f.calls.Add(1)) <= f.failures {
		return nil, errors.Wrap(errors.ErrCollaboratorUnavailable, "transient")
	}
	f.inner.err = nil
	return f.inner.VerifyMatch(ctx, a, b, variant, checkFlip)
}

func (f *flakyMatcher) Health(ctx context.Context) error { return nil }

func TestRunVerificationQCapsPairs(t *testing.T) {
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {
			{ImageID: "B", Similarity: 0.9},
			{ImageID: "C", Similarity: 0.8},
			{ImageID: "D", Similarity: 0.7},
		},
	}}
	matcher := &fakeMatcher{results: map[string]*verify.MatchResult{
		"A/B": accepted(0.9, 0.5, 100),
		"A/C": accepted(0.8, 0.5, 100),
		"A/D": accepted(0.7, 0.5, 100),
	}}

	cfg := testConfig()
	cfg.VerificationQ = 2
	cfg.MaxDepth = 0 // B and C expand too, but have no neighbors

	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{})
	graph, _, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)
	require.NoError(t, err)

	// only the top two candidates were verified
	assert.Len(t, graph.Edges, 2)
	assert.False(t, graph.HasNode("D"))
}

func TestRunSameLabelFilterPassedToRetriever(t *testing.T) {
	var seenFilter retrieval.Filter
	retriever := &filterRecorder{onCall: func(f retrieval.Filter) { seenFilter = f }}
	matcher := &fakeMatcher{}

	cfg := testConfig()
	cfg.SameLabelOnly = true

	labels := fakeLabels{"A": {"western-blot"}}
	engine := NewEngine(retriever, matcher, &fakeDescriptors{}, EngineOptions{Labels: labels})
	_, _, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"western-blot"}, seenFilter.Labels)
	assert.Equal(t, "alice", seenFilter.Owner)
}

// filterRecorder captures the filter passed to retrieval
type filterRecorder struct {
	onCall func(retrieval.Filter)
}

func (f *filterRecorder) RetrieveSimilar(ctx context.Context, imageID string, k int, filter retrieval.Filter) ([]retrieval.Candidate, error) {
	f.onCall(filter)
	return nil, nil
}

func TestRunGlobalScopeOmitsOwnerFilter(t *testing.T) {
	var seenFilter retrieval.Filter
	retriever := &filterRecorder{onCall: func(f retrieval.Filter) { seenFilter = f }}

	cfg := testConfig()
	cfg.Scope = ScopeGlobal

	engine := NewEngine(retriever, &fakeMatcher{}, &fakeDescriptors{}, EngineOptions{})
	_, _, err := engine.Run(context.Background(), []string{"A"}, "admin", cfg)
	require.NoError(t, err)
	assert.Empty(t, seenFilter.Owner)
}

func TestRunRejectsEmptySeeds(t *testing.T) {
	engine := NewEngine(&fakeRetriever{}, &fakeMatcher{}, &fakeDescriptors{}, EngineOptions{})
	_, _, err := engine.Run(context.Background(), nil, "alice", testConfig())
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfigError(err))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	engine := NewEngine(&fakeRetriever{}, &fakeMatcher{}, &fakeDescriptors{}, EngineOptions{})

	cfg := testConfig()
	cfg.TopKRetrieval = 0
	_, _, err := engine.Run(context.Background(), []string{"A"}, "alice", cfg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfigError(err))
}

func TestRunDescriptorCacheWarmedPerImage(t *testing.T) {
	retriever := &fakeRetriever{neighbors: map[string][]retrieval.Candidate{
		"A": {{ImageID: "B", Similarity: 0.9}},
	}}
	matcher := &fakeMatcher{results: map[string]*verify.MatchResult{
		"A/B": accepted(0.9, 0.5, 100),
	}}
	descriptors := &fakeDescriptors{}

	engine := NewEngine(retriever, matcher, descriptors, EngineOptions{})
	_, _, err := engine.Run(context.Background(), []string{"A"}, "alice", testConfig())
	require.NoError(t, err)

	// one warm call per expanded image: A and B
	assert.Equal(t, int64(2), descriptors.calls.Load())
}
