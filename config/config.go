// Package config loads the layered ELIS configuration.
//
// Sources merge lowest to highest precedence: system (/etc/elis) < user
// (~/.elis) < project (elis.toml found by walking up from the working
// directory) < ELIS_* environment variables.
package config

// Config represents the core ELIS backend configuration
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Provenance    ProvenanceConfig    `mapstructure:"provenance"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the ELIS HTTP server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = default 8650, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 8650
)

// WorkerConfig configures the background analysis worker pool
type WorkerConfig struct {
	Workers               int     `mapstructure:"workers"`                 // concurrent analysis workers (default: 1)
	TickerIntervalSeconds int     `mapstructure:"ticker_interval_seconds"` // poll interval for pending jobs (default: 1)
	RetentionDays         int     `mapstructure:"retention_days"`          // terminal jobs older than this are cleaned up (default: 30)
	MemoryWarnPercent     float64 `mapstructure:"memory_warn_percent"`     // warn when system memory use exceeds this (default: 85)
}

// ProvenanceConfig configures analysis defaults and hard limits
type ProvenanceConfig struct {
	DefaultRetrievalK      int `mapstructure:"default_retrieval_k"`      // candidates fetched per expansion (default: 50)
	DefaultVerificationQ   int `mapstructure:"default_verification_q"`   // top candidates verified per expansion (default: 10)
	DefaultMaxDepth        int `mapstructure:"default_max_depth"`        // BFS depth limit, 0 = unbounded (default: 2)
	MaxQueueSize           int `mapstructure:"max_queue_size"`           // hard cap on total enqueued images (default: 1000)
	FailureStreakThreshold int `mapstructure:"failure_streak_threshold"` // consecutive collaborator failures before the job fails (default: 5)
}

// CollaboratorsConfig configures the external collaborator services
type CollaboratorsConfig struct {
	Descriptor CollaboratorConfig `mapstructure:"descriptor"`
	Matcher    MatcherConfig      `mapstructure:"matcher"`
}

// CollaboratorConfig configures a single HTTP collaborator
type CollaboratorConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// MatcherConfig configures the geometric verification collaborator
type MatcherConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // rate limit toward the matcher, 0 = unlimited
}

// Directory permissions for config directories
const DefaultDirPermissions = 0755
