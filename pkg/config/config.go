// Package config defines the configuration surface the orchestrator core
// reads. The core never touches files, environment variables, or CLI
// flags directly (spec.md §6) — a wrapper program is responsible for
// producing a *Config and handing it to the core already populated.
package config

import "time"

// Config is the configuration the core consumes. It is built and
// validated by a wrapper program (cmd/kopsyd), never by the core itself.
type Config struct {
	// Kubernetes context name the tool backend should target.
	KubeContext string `yaml:"kube_context" validate:"required"`

	// LLM is the set of providers the supervisor and specialists may use.
	LLM LLMConfig `yaml:"llm" validate:"required"`

	// Queue controls worker sizing for concurrent investigations.
	Queue QueueConfig `yaml:"queue" validate:"required"`

	// Features toggles optional observability backends. The core does not
	// interpret these beyond passing them to the tool registry.
	Features FeatureFlags `yaml:"features"`

	// DenyList names tools that must never execute, regardless of safety
	// class (an operator-level override on top of C2's own classification).
	DenyList []string `yaml:"deny_list,omitempty"`

	// TodoDir is the directory under which per-trace todo snapshots are
	// mirrored to disk (spec.md §6, "one directory for per-trace todo
	// snapshots").
	TodoDir string `yaml:"todo_dir" validate:"required"`
}

// LLMConfig names providers by role. Each entry resolves to an API key via
// an environment variable name (never the key itself) plus an optional
// base URL override, so secrets never pass through YAML.
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	// Supervisor/specialist/summarizer name which provider entry to use.
	SupervisorProvider string `yaml:"supervisor_provider" validate:"required"`
	SpecialistProvider string `yaml:"specialist_provider" validate:"required"`
	SummarizerProvider string `yaml:"summarizer_provider" validate:"required"`
}

type LLMProviderConfig struct {
	APIKeyEnvVar string `yaml:"api_key_env_var" validate:"required"`
	BaseURL      string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Model        string `yaml:"model" validate:"required"`
}

// QueueConfig sizes the worker pool that drives concurrent investigations.
type QueueConfig struct {
	WorkerCount             int           `yaml:"worker_count" validate:"min=1,max=50"`
	MaxConcurrentSessions   int           `yaml:"max_concurrent_sessions" validate:"min=1"`
	SessionTimeout          time.Duration `yaml:"session_timeout" validate:"required"`
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval" validate:"required"`
	OrphanThreshold         time.Duration `yaml:"orphan_threshold" validate:"required"`
}

// FeatureFlags toggles optional observability backends for the active
// Kubernetes context. Presence in this map does not imply a concrete
// client exists in this repository (spec.md Non-goals) — it only gates
// whether the corresponding tool descriptors are registered.
type FeatureFlags struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
	LogsEnabled    bool `yaml:"logs_enabled"`
	SlackEnabled   bool `yaml:"slack_enabled"`
}
