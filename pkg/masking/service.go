// Package masking redacts secret-shaped substrings from tool output before
// it is persisted or streamed, grounded on the teacher's pkg/masking but
// simplified: no per-MCP-server pattern-group configuration, just a fixed
// built-in pattern set plus caller-supplied custom patterns, since
// SPEC_FULL.md's supplemented masking feature is an ambient safety concern,
// not a per-server-configurable subsystem.
package masking

import (
	"log/slog"
	"regexp"
)

// Pattern is a named regex + replacement, compiled once at service
// construction.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Service applies compiled patterns to tool output. Stateless aside from
// the compiled pattern list; safe for concurrent use.
type Service struct {
	patterns []Pattern
}

// builtinPatterns mirrors the shape of the teacher's built-in masking
// config: bearer tokens, AWS access keys, generic long hex/base64 secrets.
func builtinPatterns() []CustomPattern {
	return []CustomPattern{
		{Name: "bearer_token", Pattern: `(?i)bearer\s+[a-z0-9._~+/=-]{10,}`, Replacement: "Bearer [REDACTED]"},
		{Name: "aws_access_key", Pattern: `AKIA[0-9A-Z]{16}`, Replacement: "[REDACTED-AWS-KEY]"},
		{Name: "generic_api_key", Pattern: `(?i)(api[_-]?key|secret|token)\s*[:=]\s*['"]?[a-z0-9_\-]{16,}['"]?`, Replacement: "$1=[REDACTED]"},
	}
}

// CustomPattern is the uncompiled form a caller supplies to New.
type CustomPattern struct {
	Name        string
	Pattern     string
	Replacement string
}

// New compiles the built-in patterns plus any caller-supplied custom
// patterns. Invalid regexes are logged and skipped rather than failing
// construction, matching the teacher's "compile eagerly, skip on error"
// discipline in pkg/masking/pattern.go.
func New(custom ...CustomPattern) *Service {
	s := &Service{}
	for _, p := range append(builtinPatterns(), custom...) {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("masking: failed to compile pattern, skipping", "pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, Pattern{Name: p.Name, Regex: compiled, Replacement: p.Replacement})
	}
	return s
}

// MaskToolResult applies every compiled pattern to content in order. serverID
// is accepted (rather than dropped) so a future per-server allow-list can
// slot in without changing callers — today every server gets the same
// pattern set.
func (s *Service) MaskToolResult(content string, serverID string) string {
	if content == "" {
		return content
	}
	masked := content
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
