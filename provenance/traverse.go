package provenance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/retrieval"
	"github.com/researchintegrity/elis-backend/verify"
)

// DescriptorProvider warms descriptors before an image is expanded.
// Satisfied by descriptor.Cache.
type DescriptorProvider interface {
	GetOrCompute(ctx context.Context, imageID string, variant descriptor.Variant, owner string) (*descriptor.Descriptor, error)
}

// LabelLookup resolves label metadata for the same-label filter.
// Satisfied by retrieval.VecIndex.
type LabelLookup interface {
	GetLabels(imageID string) ([]string, error)
}

// ProgressFunc receives a copy of the run counters after each expanded
// image, with Elapsed set to the wall time so far. Must not block.
type ProgressFunc func(stats RunStats, message string)

// RunStats are the bookkeeping counters of one traversal
type RunStats struct {
	ImagesProcessed int           `json:"images_processed"`
	MatchedPairs    int           `json:"matched_pairs"`
	Enqueued        int           `json:"enqueued"`
	SkippedFailures int           `json:"skipped_failures"` // isolated per-image/per-pair failures
	QueueCapReached bool          `json:"queue_cap_reached"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Engine runs one bounded breadth-first traversal per call. A single Engine
// may serve many sequential runs; each run owns a fresh Builder, so runs
// share nothing but the collaborators and the descriptor cache.
type Engine struct {
	retriever   retrieval.Retriever
	matcher     verify.Matcher
	descriptors DescriptorProvider
	labels      LabelLookup
	streakLimit int
	progress    ProgressFunc
	log         *zap.SugaredLogger
}

// EngineOptions configures the optional engine collaborators
type EngineOptions struct {
	// Labels is required when jobs use SameLabelOnly
	Labels LabelLookup

	// FailureStreakThreshold is the number of consecutive
	// collaborator-unavailable failures that escalates to run failure
	// (default 5)
	FailureStreakThreshold int

	// Progress, when set, is called after every expanded image
	Progress ProgressFunc

	Logger *zap.SugaredLogger
}

// NewEngine creates a traversal engine over the given collaborators
func NewEngine(retriever retrieval.Retriever, matcher verify.Matcher, descriptors DescriptorProvider, opts EngineOptions) *Engine {
	if opts.FailureStreakThreshold <= 0 {
		opts.FailureStreakThreshold = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Engine{
		retriever:   retriever,
		matcher:     matcher,
		descriptors: descriptors,
		labels:      opts.Labels,
		streakLimit: opts.FailureStreakThreshold,
		progress:    opts.Progress,
		log:         opts.Logger.Named("traversal"),
	}
}

// frontierItem is one queued image with its discovery depth
type frontierItem struct {
	imageID string
	depth   int
}

// Run traverses the corpus from the seed images and returns the resulting
// graph. On cancellation it returns the partial graph together with a
// wrapped ErrCancelled; on a systemic collaborator outage it returns a
// wrapped ErrCollaboratorUnavailable. Isolated per-image and per-pair
// failures are counted in RunStats and skipped.
func (e *Engine) Run(ctx context.Context, seeds []string, owner string, cfg AnalysisConfig) (*Graph, *RunStats, error) {
	if len(seeds) == 0 {
		return nil, nil, errors.NewInvalidConfigError("seed image list is empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	stats := &RunStats{}
	builder := NewBuilder()

	visited := make(map[string]bool)
	queue := make([]frontierItem, 0, len(seeds))

	enqueue := func(imageID string, depth int) {
		if stats.Enqueued >= cfg.MaxQueueSize {
			stats.QueueCapReached = true
			return
		}
		queue = append(queue, frontierItem{imageID: imageID, depth: depth})
		stats.Enqueued++
	}

	for _, seed := range seeds {
		builder.MarkQuery(seed)
		enqueue(seed, 0)
	}

	filter := retrieval.Filter{}
	if cfg.Scope == ScopeOwner {
		filter.Owner = owner
	}

	// consecutive collaborator-unavailable failures; any successful
	// collaborator call resets it
	streak := 0
	bump := func(err error) error {
		streak++
		if streak >= e.streakLimit {
			return errors.Wrapf(errors.ErrCollaboratorUnavailable,
				"%d consecutive collaborator failures, last: %v", streak, err)
		}
		return nil
	}

	for len(queue) > 0 {
		// cancellation is observed between dequeues only, never
		// mid-collaborator-call
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return builder.Snapshot(), stats, errors.Wrapf(errors.ErrCancelled,
				"traversal cancelled after %d images", stats.ImagesProcessed)
		}

		item := queue[0]
		queue = queue[1:]

		if visited[item.imageID] {
			continue
		}
		visited[item.imageID] = true

		if err := e.expand(ctx, builder, item, owner, cfg, filter, visited, enqueue, stats, &streak, bump); err != nil {
			stats.Elapsed = time.Since(start)
			return nil, stats, err
		}

		stats.ImagesProcessed++
		if e.progress != nil {
			snapshot := *stats
			snapshot.Elapsed = time.Since(start)
			e.progress(snapshot, "expanded "+item.imageID)
		}
	}

	stats.Elapsed = time.Since(start)
	e.log.Infow("Traversal finished",
		"images_processed", stats.ImagesProcessed,
		"matched_pairs", stats.MatchedPairs,
		"enqueued", stats.Enqueued,
		"skipped_failures", stats.SkippedFailures,
		"queue_cap_reached", stats.QueueCapReached,
		"elapsed", stats.Elapsed,
	)

	return builder.Snapshot(), stats, nil
}

// expand processes one dequeued image: warm its descriptors, retrieve
// candidates, verify unvisited ones, and enqueue accepted matches.
// A non-nil return escalates to run failure.
func (e *Engine) expand(
	ctx context.Context,
	builder *Builder,
	item frontierItem,
	owner string,
	cfg AnalysisConfig,
	filter retrieval.Filter,
	visited map[string]bool,
	enqueue func(string, int),
	stats *RunStats,
	streak *int,
	bump func(error) error,
) error {
	if _, err := e.descriptors.GetOrCompute(ctx, item.imageID, cfg.DescriptorVariant, owner); err != nil {
		if errors.IsCollaboratorUnavailableError(err) {
			if escalate := bump(err); escalate != nil {
				return escalate
			}
		}
		e.log.Warnw("Skipping image, descriptor computation failed",
			"image_id", item.imageID, "error", err)
		stats.SkippedFailures++
		return nil
	}
	*streak = 0

	if cfg.SameLabelOnly {
		labels, err := e.labels.GetLabels(item.imageID)
		if err != nil {
			e.log.Warnw("Skipping image, label lookup failed",
				"image_id", item.imageID, "error", err)
			stats.SkippedFailures++
			return nil
		}
		filter.Labels = labels
	}

	candidates, err := e.retriever.RetrieveSimilar(ctx, item.imageID, cfg.TopKRetrieval, filter)
	if err != nil {
		if errors.IsCollaboratorUnavailableError(err) {
			if escalate := bump(err); escalate != nil {
				return escalate
			}
		}
		e.log.Warnw("Skipping image, retrieval failed",
			"image_id", item.imageID, "error", err)
		stats.SkippedFailures++
		return nil
	}
	*streak = 0

	verified := 0
	for _, candidate := range candidates {
		if visited[candidate.ImageID] || builder.HasEdge(item.imageID, candidate.ImageID) {
			continue
		}
		if cfg.VerificationQ > 0 && verified >= cfg.VerificationQ {
			break
		}
		verified++

		result, err := e.matcher.VerifyMatch(ctx, item.imageID, candidate.ImageID, cfg.DescriptorVariant, cfg.CheckFlip)
		if err != nil {
			if errors.IsCollaboratorUnavailableError(err) {
				if escalate := bump(err); escalate != nil {
					return escalate
				}
			}
			e.log.Warnw("Skipping pair, verification failed",
				"image_a", item.imageID, "image_b", candidate.ImageID, "error", err)
			stats.SkippedFailures++
			continue
		}
		*streak = 0

		if !result.Accepted || result.SharedArea < cfg.MinArea || result.KeypointCount < cfg.MinKeypoints {
			continue
		}

		if err := builder.AddEdge(item.imageID, candidate.ImageID, result.Score, EdgeAttrs{
			SharedArea:    result.SharedArea,
			KeypointCount: result.KeypointCount,
			IsFlipped:     result.IsFlipped,
			Variant:       cfg.DescriptorVariant,
		}); err != nil {
			return errors.Wrap(err, "failed to record verified edge")
		}
		stats.MatchedPairs++

		if cfg.MaxDepth == 0 || item.depth < cfg.MaxDepth {
			enqueue(candidate.ImageID, item.depth+1)
		}
	}

	return nil
}
