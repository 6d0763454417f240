package provenance

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/jobs"
	"github.com/researchintegrity/elis-backend/retrieval"
	"github.com/researchintegrity/elis-backend/verify"
)

// AnalyzeHandlerName routes analysis jobs to the AnalyzeHandler
const AnalyzeHandlerName = "provenance.analyze"

// AnalyzePayload is the job payload for a provenance analysis
type AnalyzePayload struct {
	Seeds  []string       `json:"seeds"`
	Config AnalysisConfig `json:"config"`
}

// Result is the stored outcome of a completed analysis
type Result struct {
	Graph      *Graph     `json:"graph"`
	Forest     []Edge     `json:"forest"`
	Components [][]string `json:"components"`
	Stats      *RunStats  `json:"stats"`
}

// AnalyzeHandler executes provenance analysis jobs: it runs one traversal
// per job over a fresh graph builder, summarizes the result, and stores it
// on the job record. Cancelled jobs keep their progress counters but store
// no result.
type AnalyzeHandler struct {
	retriever   retrieval.Retriever
	matcher     verify.Matcher
	descriptors DescriptorProvider
	labels      LabelLookup
	queue       *jobs.Queue
	streakLimit int
	log         *zap.SugaredLogger
}

// NewAnalyzeHandler creates the analysis job handler
func NewAnalyzeHandler(
	retriever retrieval.Retriever,
	matcher verify.Matcher,
	descriptors DescriptorProvider,
	labels LabelLookup,
	queue *jobs.Queue,
	failureStreakThreshold int,
	logger *zap.SugaredLogger,
) *AnalyzeHandler {
	return &AnalyzeHandler{
		retriever:   retriever,
		matcher:     matcher,
		descriptors: descriptors,
		labels:      labels,
		queue:       queue,
		streakLimit: failureStreakThreshold,
		log:         logger.Named("analyze"),
	}
}

// Name implements jobs.JobHandler
func (h *AnalyzeHandler) Name() string {
	return AnalyzeHandlerName
}

// Execute implements jobs.JobHandler
func (h *AnalyzeHandler) Execute(ctx context.Context, job *jobs.Job) error {
	var payload AnalyzePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Wrap(err, "failed to decode analysis payload")
	}

	reporter := jobs.NewProgressReporter(job, h.queue, h.log)

	engine := NewEngine(h.retriever, h.matcher, h.descriptors, EngineOptions{
		Labels:                 h.labels,
		FailureStreakThreshold: h.streakLimit,
		Progress: func(stats RunStats, message string) {
			reporter.Report(jobs.Progress{
				Current:      stats.ImagesProcessed,
				Total:        stats.Enqueued,
				MatchedPairs: stats.MatchedPairs,
				ElapsedMS:    stats.Elapsed.Milliseconds(),
				Message:      message,
			})
		},
		Logger: h.log,
	})

	graph, stats, err := engine.Run(ctx, payload.Seeds, job.Owner, payload.Config)
	if err != nil {
		if errors.IsCancelledError(err) {
			// keep the progress counters, surface cancellation to
			// the worker
			return context.Canceled
		}
		return err
	}

	summary := Summarize(graph)

	result, err := json.Marshal(Result{
		Graph:      graph,
		Forest:     summary.Forest,
		Components: summary.Components,
		Stats:      stats,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode analysis result")
	}
	job.Result = result

	h.log.Infow("Analysis completed",
		"job_id", job.ID,
		"seeds", len(payload.Seeds),
		"nodes", len(graph.Nodes),
		"edges", len(graph.Edges),
		"components", len(summary.Components),
	)

	return nil
}
