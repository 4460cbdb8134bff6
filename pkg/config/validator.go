package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates a Config comprehensively, stopping at the first
// failing sub-validator so the error message points at one concrete
// problem rather than a pile of unrelated ones.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll runs struct-tag validation first, then the ordered
// cross-field sub-validators: queue → LLM providers → deny-list → todo dir.
func (v *Validator) ValidateAll() error {
	if err := v.v.Struct(v.cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("LLM validation failed: %w", err)
	}
	if err := v.validateDenyList(); err != nil {
		return fmt.Errorf("deny-list validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.OrphanThreshold <= q.OrphanDetectionInterval {
		return fmt.Errorf("orphan_threshold must exceed orphan_detection_interval, got threshold=%v interval=%v",
			q.OrphanThreshold, q.OrphanDetectionInterval)
	}
	return nil
}

func (v *Validator) validateLLM() error {
	llm := v.cfg.LLM
	for _, name := range []string{llm.SupervisorProvider, llm.SpecialistProvider, llm.SummarizerProvider} {
		if _, ok := llm.Providers[name]; !ok {
			return fmt.Errorf("referenced provider %q is not defined in llm.providers", name)
		}
	}
	return nil
}

func (v *Validator) validateDenyList() error {
	seen := make(map[string]struct{}, len(v.cfg.DenyList))
	for _, name := range v.cfg.DenyList {
		if name == "" {
			return fmt.Errorf("deny_list contains an empty tool name")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("deny_list contains duplicate entry %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
