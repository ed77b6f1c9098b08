// Package provider abstracts the code generator backend. The orchestrator
// talks to the Generator interface only; the concrete backends are an
// OpenAI-compatible chat client and a SQLite-backed cache that wraps any
// other Generator.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// GenerateRequest is one generation attempt for one unit.
type GenerateRequest struct {
	UnitID string
	Prompt string
	// Seed is forwarded to backends that support deterministic sampling.
	// Zero means unset.
	Seed int
	// Continuation is an opaque token from a previous GenerateResult for
	// the same unit. It lets a backend carry the prior exchange into the
	// next attempt. Empty means a fresh exchange.
	Continuation string
}

// GenerateResult is the cleaned candidate source plus the continuation
// token to pass into a follow-up attempt.
type GenerateResult struct {
	Code         string
	Continuation string
	Model        string
}

// Generator produces candidate source text for a unit. Implementations
// must honor ctx cancellation. Transient transport problems surface as
// *GeneratorError; this layer never retries.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// GeneratorError wraps a backend failure (transport, timeout, malformed
// response) for a specific unit.
type GeneratorError struct {
	UnitID string
	Err    error
}

func (e *GeneratorError) Error() string {
	return fmt.Sprintf("generator failed for unit %s: %v", e.UnitID, e.Err)
}

func (e *GeneratorError) Unwrap() error { return e.Err }

// IsGeneratorError reports whether err is (or wraps) a backend failure.
func IsGeneratorError(err error) bool {
	var ge *GeneratorError
	return errors.As(err, &ge)
}

// turn is one prompt/reply pair of a prior attempt, serialized into the
// continuation token.
type turn struct {
	Prompt string `json:"prompt"`
	Reply  string `json:"reply"`
}

func decodeContinuation(token string) ([]turn, error) {
	if token == "" {
		return nil, nil
	}
	var turns []turn
	if err := json.Unmarshal([]byte(token), &turns); err != nil {
		return nil, fmt.Errorf("malformed continuation token: %w", err)
	}
	return turns, nil
}

func encodeContinuation(turns []turn) string {
	if len(turns) == 0 {
		return ""
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return ""
	}
	return string(data)
}

// CleanCode normalizes a raw completion into storable source text: outer
// markdown fences are removed, trailing whitespace is stripped per line,
// and surrounding blank lines are dropped.
func CleanCode(raw string) string {
	lines := strings.Split(raw, "\n")

	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start < end && strings.HasPrefix(strings.TrimSpace(lines[start]), "```") {
		start++
	}
	if end > start && strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}

	lines = lines[start:end]
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.Trim(out, "\n")
}
