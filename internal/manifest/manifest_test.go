package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/spec"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const multiplyManifest = `package specs

unit: "app.math.ops/multiply": {
	signature:   "func multiply(a int, b int) int"
	description: "Multiply two integers."
	examples: [
		{input: ["2", "3"], expect: "6"},
		{input: ["5", "7"], expect: "35"},
		{input: ["-3", "4"], expect: "-12"},
		{input: ["0", "10"], expect: "0"},
	]
}
`

func TestLoadSingleUnit(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "math.cue", multiplyManifest)

	result, errs := Load(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.FileCount)
	require.Len(t, result.Units, 1)

	u := result.Units[0]
	assert.Equal(t, "app.math.ops/multiply", u.ID)
	assert.Equal(t, "multiply", u.Name())
	assert.Equal(t, spec.KindFunction, u.Kind)
	require.Len(t, u.Examples, 4)
	assert.Equal(t, []string{"2", "3"}, u.Examples[0].Input)
	assert.Equal(t, "6", u.Examples[0].Expected)
	assert.Equal(t, spec.MatchExact, u.Examples[0].Match)
}

func TestLoadEndpointWithDependenciesAndEllipsis(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "api.cue", `package specs

unit: "app.api/sum_endpoint": {
	signature:   "func sum_endpoint(ctx context.Context, a int, b int) string"
	description: "Returns a JSON object with the sum."
	kind:        "endpoint"
	method:      "POST"
	path:        "/sum"
	provider:    "fast"
	examples: [
		{input: ["2", "3"], expect: "{\"sum\":5...", ellipsis: true},
	]
	dependencies: {
		clamp: "func clamp(x int) int { return x }"
	}
}
`)

	result, errs := Load(dir, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, result.Units, 1)

	u := result.Units[0]
	assert.Equal(t, spec.KindEndpoint, u.Kind)
	assert.Equal(t, "POST", u.Method)
	assert.Equal(t, "/sum", u.Path)
	assert.Equal(t, "fast", u.Provider)
	assert.Equal(t, spec.MatchEllipsis, u.Examples[0].Match)
	assert.Contains(t, u.Dependencies, "clamp")
}

func TestLoadSortsUnitsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b.cue", `package specs

unit: "app.z/last": {signature: "func last(a int) int", examples: [{input: ["1"], expect: "1"}]}
`)
	writeManifest(t, dir, "a.cue", `package specs

unit: "app.a/first": {signature: "func first(a int) int", examples: [{input: ["1"], expect: "1"}]}
`)

	result, errs := Load(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.Len(t, result.Units, 2)
	assert.Equal(t, "app.a/first", result.Units[0].ID)
	assert.Equal(t, "app.z/last", result.Units[1].ID)
	assert.Equal(t, 2, result.FileCount)
}

func TestLoadMissingDirectory(t *testing.T) {
	_, errs := Load(filepath.Join(t.TempDir(), "absent"), LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, errs := Load(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.ErrorAs(t, errs[0], &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoadCollectAllGathersEveryError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.cue", `package specs

unit: "app.bad/missing_sig": {
	description: "no signature here"
}
unit: "app.bad/no_expect": {
	signature: "func f(a int) int"
	examples: [{input: ["1"]}]
}
unit: "app.ok/fine": {
	signature: "func fine(a int) int"
	examples: [{input: ["1"], expect: "1"}]
}
`)

	result, errs := Load(dir, LoadModeCollectAll)
	assert.Len(t, errs, 2)
	require.Len(t, result.Units, 1)
	assert.Equal(t, "app.ok/fine", result.Units[0].ID)

	for _, err := range errs {
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, ErrCodeInvalidUnit, loadErr.Code)
	}
}

func TestLoadFailFastStopsEarly(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "bad.cue", `package specs

unit: "app.a/broken": {description: "no signature"}
unit: "app.b/broken": {description: "no signature"}
`)

	_, errs := Load(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}
