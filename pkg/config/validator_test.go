package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		KubeContext: "kind-kopsy",
		LLM: LLMConfig{
			Providers: map[string]LLMProviderConfig{
				"anthropic-default": {APIKeyEnvVar: "ANTHROPIC_API_KEY", Model: "claude-sonnet-4-5"},
			},
			SupervisorProvider: "anthropic-default",
			SpecialistProvider: "anthropic-default",
			SummarizerProvider: "anthropic-default",
		},
		Queue: QueueConfig{
			WorkerCount:             4,
			MaxConcurrentSessions:   4,
			SessionTimeout:          30 * time.Minute,
			OrphanDetectionInterval: time.Minute,
			OrphanThreshold:         10 * time.Minute,
		},
		TodoDir: "/tmp/kopsy/todos",
	}
}

func TestValidateAll_Valid(t *testing.T) {
	err := NewValidator(validConfig()).ValidateAll()
	require.NoError(t, err)
}

func TestValidateAll_MissingRequiredField(t *testing.T) {
	cfg := validConfig()
	cfg.KubeContext = ""
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
}

func TestValidateAll_OrphanThresholdNotGreaterThanInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.OrphanThreshold = time.Minute
	cfg.Queue.OrphanDetectionInterval = time.Minute
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue validation failed")
}

func TestValidateAll_UndefinedProviderReference(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.SpecialistProvider = "does-not-exist"
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM validation failed")
}

func TestValidateAll_DuplicateDenyListEntry(t *testing.T) {
	cfg := validConfig()
	cfg.DenyList = []string{"run_shell", "run_shell"}
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deny-list validation failed")
}

func TestValidateAll_WorkerCountOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.WorkerCount = 0
	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
}
