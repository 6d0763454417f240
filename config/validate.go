package config

import "github.com/researchintegrity/elis-backend/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "server.port cannot be 0 (omit for default port 8650)")
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "server.port must be positive, got %d", *c.Server.Port)
	}

	// Worker count: 0 = no background workers, negative = invalid
	if c.Worker.Workers < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "worker.workers must be >= 0, got %d", c.Worker.Workers)
	}
	if c.Worker.TickerIntervalSeconds < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "worker.ticker_interval_seconds must be >= 0, got %d", c.Worker.TickerIntervalSeconds)
	}
	if c.Worker.RetentionDays < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "worker.retention_days must be >= 0, got %d", c.Worker.RetentionDays)
	}
	if c.Worker.MemoryWarnPercent < 0 || c.Worker.MemoryWarnPercent > 100 {
		return errors.Wrapf(errors.ErrInvalidConfig, "worker.memory_warn_percent must be in [0, 100], got %f", c.Worker.MemoryWarnPercent)
	}

	// Provenance limits all have to be positive to make any analysis possible
	if c.Provenance.DefaultRetrievalK <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "provenance.default_retrieval_k must be > 0, got %d", c.Provenance.DefaultRetrievalK)
	}
	if c.Provenance.DefaultVerificationQ <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "provenance.default_verification_q must be > 0, got %d", c.Provenance.DefaultVerificationQ)
	}
	if c.Provenance.DefaultMaxDepth < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "provenance.default_max_depth must be >= 0, got %d", c.Provenance.DefaultMaxDepth)
	}
	if c.Provenance.MaxQueueSize <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "provenance.max_queue_size must be > 0, got %d", c.Provenance.MaxQueueSize)
	}
	if c.Provenance.FailureStreakThreshold <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "provenance.failure_streak_threshold must be > 0, got %d", c.Provenance.FailureStreakThreshold)
	}

	// Collaborators need reachable endpoints
	if c.Collaborators.Descriptor.BaseURL == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "collaborators.descriptor.base_url cannot be empty")
	}
	if c.Collaborators.Descriptor.TimeoutSeconds <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "collaborators.descriptor.timeout_seconds must be > 0, got %d", c.Collaborators.Descriptor.TimeoutSeconds)
	}
	if c.Collaborators.Matcher.BaseURL == "" {
		return errors.Wrap(errors.ErrInvalidConfig, "collaborators.matcher.base_url cannot be empty")
	}
	if c.Collaborators.Matcher.TimeoutSeconds <= 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "collaborators.matcher.timeout_seconds must be > 0, got %d", c.Collaborators.Matcher.TimeoutSeconds)
	}
	if c.Collaborators.Matcher.RequestsPerSecond < 0 {
		return errors.Wrapf(errors.ErrInvalidConfig, "collaborators.matcher.requests_per_second must be >= 0, got %f", c.Collaborators.Matcher.RequestsPerSecond)
	}

	return nil
}
