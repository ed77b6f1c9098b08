package resolve

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/codegen"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/provider"
	"github.com/specforge/specforge/internal/spec"
)

const (
	goodCode = "func multiply(a int, b int) int {\n\treturn a * b\n}"
	slowCode = "func multiply(a int, b int) int {\n\treturn 0\n}"
)

// scriptedGenerator replays canned completions; the last one repeats.
type scriptedGenerator struct {
	replies []string
	prompts []string
}

func (g *scriptedGenerator) Generate(_ context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	g.prompts = append(g.prompts, req.Prompt)
	i := len(g.prompts) - 1
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	return provider.GenerateResult{Code: g.replies[i], Model: "scripted"}, nil
}

/// codeLoader interprets checkpoint source just enough for tests: the
// well-known good body multiplies, anything else answers zero.
type codeLoader struct{}

func (codeLoader) Load(_ context.Context, _ spec.Unit, cp *checkpoint.Checkpoint) (spec.Implementation, error) {
	good := strings.Contains(cp.Code, "return a * b")
	return func(_ context.Context, args []string) (string, error) {
		if !good {
			return "0", nil
		}
		product := 1
		for _, arg := range args {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return "", err
			}
			product *= n
		}
		return strconv.Itoa(product), nil
	}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Checkpoints = filepath.Join(dir, "checkpoints")
	cfg.Paths.Index = filepath.Join(dir, "index.yaml")
	cfg.Paths.Cache = filepath.Join(dir, "cache.db")
	cfg.Gates = nil
	return cfg
}

func multiplyRegistry(t *testing.T) *spec.Registry {
	t.Helper()
	u, err := spec.NewUnit("app.math.ops/multiply").
		Signature("func multiply(a int, b int) int").
		Description("Multiply two integers.").
		Example([]string{"2", "3"}, "6", spec.MatchExact).
		Example([]string{"5", "7"}, "35", spec.MatchExact).
		Example([]string{"4", "4"}, "16", spec.MatchExact).
		Example([]string{"1", "9"}, "9", spec.MatchExact).
		Build()
	require.NoError(t, err)
	reg := spec.NewRegistry()
	_, err = reg.Register(u)
	require.NoError(t, err)
	return reg
}

func newTestEngine(t *testing.T, cfg *config.Config, gen provider.Generator, opts Options) *Engine {
	t.Helper()
	opts.Generator = gen
	opts.Loader = codeLoader{}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := NewEngine(cfg, multiplyRegistry(t), opts)
	require.NoError(t, err)
	return e
}

func TestResolveGeneratesOnFirstUse(t *testing.T) {
	cfg := testConfig(t)
	gen := &scriptedGenerator{replies: []string{goodCode}}
	e := newTestEngine(t, cfg, gen, Options{})

	impl, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)

	out, err := impl(context.Background(), []string{"6", "7"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, ok, err := e.Index().Lookup("app.math.ops/multiply")
	require.NoError(t, err)
	assert.True(t, ok, "successful generation activates the checkpoint")

	_, bound := e.Implementations().Lookup("app.math.ops/multiply")
	assert.True(t, bound)
}

func TestResolveServesActiveCheckpointWithoutGenerating(t *testing.T) {
	cfg := testConfig(t)
	first := &scriptedGenerator{replies: []string{goodCode}}
	e := newTestEngine(t, cfg, first, Options{})
	_, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)

	second := &scriptedGenerator{replies: []string{goodCode}}
	e2 := newTestEngine(t, cfg, second, Options{})
	_, err = e2.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)
	assert.Empty(t, second.prompts, "an intact in-sync checkpoint needs no generation")
}

func TestResolveUnknownUnit(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg, &scriptedGenerator{replies: []string{goodCode}}, Options{})

	_, err := e.Resolve(context.Background(), "app.math.ops/divide")
	assert.True(t, IsResolveError(err))
	assert.ErrorContains(t, err, "not registered")
}

func TestStrictModeNeverGenerates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Project.Env = string(config.ModeStrict)
	gen := &scriptedGenerator{replies: []string{goodCode}}
	e := newTestEngine(t, cfg, gen, Options{})

	_, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	assert.True(t, IsResolveError(err))
	assert.True(t, checkpoint.IsNotFound(err))
	assert.ErrorContains(t, err, "strict mode never generates")
	assert.Empty(t, gen.prompts)
}

func TestStrictModeZeroExamplesHint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Project.Env = string(config.ModeStrict)

	u, err := spec.NewUnit("app.math.ops/negate").
		Signature("func negate(a int) int").Build()
	require.NoError(t, err)
	reg := spec.NewRegistry()
	_, err = reg.Register(u)
	require.NoError(t, err)

	e, err := NewEngine(cfg, reg, Options{
		Generator: &scriptedGenerator{replies: []string{goodCode}},
		Loader:    codeLoader{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	_, err = e.Resolve(context.Background(), "app.math.ops/negate")
	assert.ErrorContains(t, err, "declares no examples")
}

func TestStrictModeDetectsTampering(t *testing.T) {
	cfg := testConfig(t)
	gen := &scriptedGenerator{replies: []string{goodCode}}
	e := newTestEngine(t, cfg, gen, Options{})
	_, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)

	entry, ok, err := e.Index().Lookup("app.math.ops/multiply")
	require.NoError(t, err)
	require.True(t, ok)
	cp, err := e.Store().Get("app.math.ops/multiply", entry.Active)
	require.NoError(t, err)
	tampered := strings.Replace(cp.Code, "a * b", "a + b", 1)
	require.NoError(t, os.WriteFile(cp.ImplPath, []byte(tampered), 0o644))

	cfg.Project.Env = string(config.ModeStrict)
	e2 := newTestEngine(t, cfg, &scriptedGenerator{replies: []string{goodCode}}, Options{})
	_, err = e2.Resolve(context.Background(), "app.math.ops/multiply")
	assert.True(t, checkpoint.IsHashMismatch(err), "tampered source must not load in strict mode")
}

func TestDriftTriggersRegeneration(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg, &scriptedGenerator{replies: []string{goodCode}}, Options{})
	_, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)

	// A provider model change shifts the spec fingerprint out from under
	// the recorded checkpoint.
	p := cfg.Providers["default"]
	p.Model = "gpt-4o"
	cfg.Providers["default"] = p

	gen := &scriptedGenerator{replies: []string{goodCode}}
	e2 := newTestEngine(t, cfg, gen, Options{})
	_, err = e2.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)
	assert.Len(t, gen.prompts, 1, "drifted checkpoint is regenerated")

	entry, _, err := e2.Index().Lookup("app.math.ops/multiply")
	require.NoError(t, err)
	u, _ := e2.Registry().Get("app.math.ops/multiply")
	assert.Equal(t, codegen.SpecFingerprint(cfg, u), entry.Active,
		"the index now points at the regenerated checkpoint")
}

func TestFailedChecksWithoutInteractiveIsFatal(t *testing.T) {
	cfg := testConfig(t)
	gen := &scriptedGenerator{replies: []string{slowCode}}
	e := newTestEngine(t, cfg, gen, Options{})

	_, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	assert.True(t, IsTestFailure(err))
	assert.Len(t, gen.prompts, 1, "non-interactive runs never take the outer retry")
}

func TestInteractiveOuterRetrySucceeds(t *testing.T) {
	cfg := testConfig(t)
	gen := &scriptedGenerator{replies: []string{slowCode, goodCode}}
	e := newTestEngine(t, cfg, gen, Options{Interactive: true})

	impl, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	require.NoError(t, err)
	require.Len(t, gen.prompts, 2, "exactly one behavioral retry")
	assert.Contains(t, gen.prompts[1], "expected 6, got 0",
		"test failures feed the regeneration prompt")

	out, err := impl(context.Background(), []string{"2", "3"})
	require.NoError(t, err)
	assert.Equal(t, "6", out)
}

func TestInteractiveOuterRetryIsBounded(t *testing.T) {
	cfg := testConfig(t)
	gen := &scriptedGenerator{replies: []string{slowCode}}
	e := newTestEngine(t, cfg, gen, Options{Interactive: true})

	_, err := e.Resolve(context.Background(), "app.math.ops/multiply")
	assert.True(t, IsTestFailure(err))
	assert.Len(t, gen.prompts, 2, "one retry, never more")
	assert.ErrorContains(t, err, "after regeneration")
}

func TestMergeDiagnosticsDeduplicates(t *testing.T) {
	merged := mergeDiagnostics(
		[]string{"a failed", "b failed"},
		[]string{"b failed", "c failed"},
	)
	assert.Equal(t, []string{"a failed", "b failed", "c failed"}, merged)
}
