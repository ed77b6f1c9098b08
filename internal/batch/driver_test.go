package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/provider"
	"github.com/specforge/specforge/internal/resolve"
	"github.com/specforge/specforge/internal/spec"
)

// mapGenerator answers each unit with its canned completion.
type mapGenerator struct {
	byUnit map[string]string
}

func (g *mapGenerator) Generate(_ context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{Code: g.byUnit[req.UnitID], Model: "map"}, nil
}

// productLoader interprets checkpoint source just enough for tests.
type productLoader struct{}

func (productLoader) Load(_ context.Context, _ spec.Unit, cp *checkpoint.Checkpoint) (spec.Implementation, error) {
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

func goodCodeFor(name string) string {
	return fmt.Sprintf("func %s(a int, b int) int {\n\treturn a * b\n}", name)
}

func badCodeFor(name string) string {
	return fmt.Sprintf("func %s(a int, b int) int {\n\treturn 0\n}", name)
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

var unitNames = []string{"scale", "area", "volume"}

func testRegistry(t *testing.T) (*spec.Registry, []string) {
	t.Helper()
	reg := spec.NewRegistry()
	ids := make([]string, 0, len(unitNames))
	for _, name := range unitNames {
		u, err := spec.NewUnit("app.geometry/"+name).
			Signature(fmt.Sprintf("func %s(a int, b int) int", name)).
			Example([]string{"2", "3"}, "6", spec.MatchExact).
			Build()
		require.NoError(t, err)
		_, err = reg.Register(u)
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return reg, ids
}

func newTestDriver(t *testing.T, cfg *config.Config, gen provider.Generator) (*Driver, []string) {
	t.Helper()
	reg, ids := testRegistry(t)
	engine, err := resolve.NewEngine(cfg, reg, resolve.Options{
		Generator: gen,
		Loader:    productLoader{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return NewDriver(engine, slog.New(slog.NewTextHandler(io.Discard, nil))), ids
}

func allGoodGenerator() *mapGenerator {
	byUnit := map[string]string{}
	for _, name := range unitNames {
		byUnit["app.geometry/"+name] = goodCodeFor(name)
	}
	return &mapGenerator{byUnit: byUnit}
}

func TestCompileAllReportsInSubmissionOrder(t *testing.T) {
	d, ids := newTestDriver(t, testConfig(t), allGoodGenerator())

	reports := d.CompileAll(context.Background(), ids, CompileOptions{Workers: 3})
	require.Len(t, reports, len(ids))
	for i, report := range reports {
		assert.Equal(t, ids[i], report.UnitID, "report order matches submission order")
		assert.NoError(t, report.Err)
		assert.True(t, report.Result.Passed)
		assert.False(t, report.Failed())
		assert.NotEmpty(t, report.SpecShort)
	}
}

func TestCompileAllOneFailureDoesNotStopOthers(t *testing.T) {
	gen := allGoodGenerator()
	gen.byUnit["app.geometry/area"] = badCodeFor("area")
	d, ids := newTestDriver(t, testConfig(t), gen)

	reports := d.CompileAll(context.Background(), ids, CompileOptions{})
	require.Len(t, reports, 3)
	assert.False(t, reports[0].Failed())
	assert.True(t, reports[1].Failed(), "area's checks fail")
	assert.False(t, reports[2].Failed())
	assert.Contains(t, reports[1].Result.Failures[0], "expected 6, got 0")
}

func TestCompileAllUnknownUnit(t *testing.T) {
	d, ids := newTestDriver(t, testConfig(t), allGoodGenerator())

	reports := d.CompileAll(context.Background(), append(ids, "app.geometry/missing"), CompileOptions{})
	last := reports[len(reports)-1]
	assert.True(t, last.Failed())
	assert.True(t, resolve.IsResolveError(last.Err))
}

func TestCompileAllSecondRunHitsCache(t *testing.T) {
	cfg := testConfig(t)
	d, ids := newTestDriver(t, cfg, allGoodGenerator())

	first := d.CompileAll(context.Background(), ids, CompileOptions{})
	for _, report := range first {
		require.False(t, report.Failed())
	}

	gen := &mapGenerator{byUnit: map[string]string{}} // would answer garbage
	d2, _ := newTestDriver(t, cfg, gen)
	second := d2.CompileAll(context.Background(), ids, CompileOptions{})
	for _, report := range second {
		assert.False(t, report.Failed(), "in-sync units are served from their slots")
	}
}

func TestStatusLifecycle(t *testing.T) {
	cfg := testConfig(t)
	d, ids := newTestDriver(t, cfg, allGoodGenerator())

	for _, report := range d.Status(ids) {
		assert.Equal(t, StateInactive, report.State)
		assert.Equal(t, 1, report.Examples)
	}

	d.CompileAll(context.Background(), ids, CompileOptions{})
	for _, report := range d.Status(ids) {
		assert.Equal(t, StateInSync, report.State)
		assert.Equal(t, report.CurrentShort, report.ActiveShort)
	}

	p := cfg.Providers["default"]
	p.Model = "gpt-4o"
	cfg.Providers["default"] = p
	d2, _ := newTestDriver(t, cfg, allGoodGenerator())
	for _, report := range d2.Status(ids) {
		assert.Equal(t, StateDrifted, report.State)
	}
}

func TestDiffReturnsOnlyOutOfSyncUnits(t *testing.T) {
	cfg := testConfig(t)
	d, ids := newTestDriver(t, cfg, allGoodGenerator())

	d.CompileAll(context.Background(), ids[:2], CompileOptions{})
	diff := d.Diff(ids)
	require.Len(t, diff, 1, "compiled units are in sync, the rest differ")
	assert.Equal(t, ids[2], diff[0].UnitID)
	assert.Equal(t, StateInactive, diff[0].State)
}
