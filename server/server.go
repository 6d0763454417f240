// Package server exposes the ELIS HTTP API: provenance analysis job
// submission and inspection, descriptor cache administration, corpus index
// management, health checks, and a WebSocket stream of job updates.
//
// Identity comes from the fronting gateway via the X-Elis-Owner and
// X-Elis-Admin headers. The server trusts them; authentication itself is
// out of scope here.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/researchintegrity/elis-backend/config"
	"github.com/researchintegrity/elis-backend/descriptor"
	"github.com/researchintegrity/elis-backend/errors"
	"github.com/researchintegrity/elis-backend/jobs"
	"github.com/researchintegrity/elis-backend/retrieval"
)

// HealthChecker reports reachability of an external collaborator
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ElisServer is the ELIS backend HTTP server
type ElisServer struct {
	cfg   *config.Config
	db    *sql.DB
	queue *jobs.Queue
	cache *descriptor.Cache
	index *retrieval.VecIndex

	descriptorSvc HealthChecker
	matcherSvc    HealthChecker

	httpServer *http.Server
	logger     *zap.SugaredLogger

	// baseCtx governs background work spawned by handlers; Shutdown
	// cancels it
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*wsClient]bool
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewServer creates an ELIS server. The worker pool is managed by the
// caller; the server only enqueues and inspects jobs.
func NewServer(
	cfg *config.Config,
	db *sql.DB,
	queue *jobs.Queue,
	cache *descriptor.Cache,
	index *retrieval.VecIndex,
	descriptorSvc HealthChecker,
	matcherSvc HealthChecker,
	logger *zap.SugaredLogger,
) *ElisServer {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &ElisServer{
		cfg:           cfg,
		db:            db,
		baseCtx:       baseCtx,
		baseCancel:    baseCancel,
		queue:         queue,
		cache:         cache,
		index:         index,
		descriptorSvc: descriptorSvc,
		matcherSvc:    matcherSvc,
		logger:        logger.Named("server"),
		clients:       make(map[*wsClient]bool),
		done:          make(chan struct{}),
	}
}

// Start binds the configured port and serves until Shutdown. Blocks.
func (s *ElisServer) Start() error {
	port := s.cfg.GetServerPort()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startJobBroadcaster()

	s.logger.Infow("ELIS server listening", "port", port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown stops the HTTP listener and disconnects WebSocket clients
func (s *ElisServer) Shutdown(ctx context.Context) error {
	close(s.done)
	s.baseCancel()

	s.mu.Lock()
	for client := range s.clients {
		client.close()
	}
	s.clients = make(map[*wsClient]bool)
	s.mu.Unlock()

	s.wg.Wait()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "http server shutdown failed")
		}
	}
	return nil
}

// ownerFrom extracts the caller identity set by the gateway.
// Empty means an unauthenticated internal caller; stores fall back
// to the "system" owner.
func ownerFrom(r *http.Request) string {
	return r.Header.Get("X-Elis-Owner")
}

// isAdmin reports whether the gateway marked the caller as privileged
func isAdmin(r *http.Request) bool {
	return r.Header.Get("X-Elis-Admin") == "true"
}
