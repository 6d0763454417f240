package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "elis.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})

	// Worker defaults
	v.SetDefault("worker.workers", 1)
	v.SetDefault("worker.ticker_interval_seconds", 1)
	v.SetDefault("worker.retention_days", 30)
	v.SetDefault("worker.memory_warn_percent", 85.0)

	// Provenance analysis defaults
	v.SetDefault("provenance.default_retrieval_k", 50)
	v.SetDefault("provenance.default_verification_q", 10)
	v.SetDefault("provenance.default_max_depth", 2)
	v.SetDefault("provenance.max_queue_size", 1000)
	v.SetDefault("provenance.failure_streak_threshold", 5)

	// Collaborator defaults
	v.SetDefault("collaborators.descriptor.base_url", "http://localhost:8651")
	v.SetDefault("collaborators.descriptor.timeout_seconds", 60)
	v.SetDefault("collaborators.matcher.base_url", "http://localhost:8652")
	v.SetDefault("collaborators.matcher.timeout_seconds", 60)
	v.SetDefault("collaborators.matcher.requests_per_second", 0.0)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "ELIS_DATABASE_PATH")
	v.BindEnv("collaborators.descriptor.base_url", "ELIS_COLLABORATORS_DESCRIPTOR_BASE_URL")
	v.BindEnv("collaborators.matcher.base_url", "ELIS_COLLABORATORS_MATCHER_BASE_URL")
}

// GetServerPort returns the configured server port, falling back to the default
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil || *c.Server.Port == 0 {
		return DefaultServerPort
	}
	return *c.Server.Port
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "elis.db"
	}
	return c.Database.Path
}
