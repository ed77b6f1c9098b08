package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, inner Generator) *CachedGenerator {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"), "openai-compatible:fake-1", inner)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheServesRepeatedRequest(t *testing.T) {
	fake := &fakeGenerator{code: "func f() int { return 1 }"}
	cache := openTestCache(t, fake)
	req := GenerateRequest{UnitID: "app.m/f", Prompt: "write f", Seed: 42}

	first, err := cache.Generate(context.Background(), req)
	require.NoError(t, err)
	second, err := cache.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.calls, "second request must not reach the backend")
}

func TestCacheDistinguishesPrompt(t *testing.T) {
	fake := &fakeGenerator{code: "func f() int { return 1 }"}
	cache := openTestCache(t, fake)

	_, err := cache.Generate(context.Background(), GenerateRequest{UnitID: "app.m/f", Prompt: "write f"})
	require.NoError(t, err)
	_, err = cache.Generate(context.Background(), GenerateRequest{UnitID: "app.m/f", Prompt: "write f\nfeedback: wrong name"})
	require.NoError(t, err)

	assert.Equal(t, 2, fake.calls, "a changed prompt is a distinct cache entry")
}

func TestCacheDistinguishesSeedAndContinuation(t *testing.T) {
	fake := &fakeGenerator{code: "func f() int { return 1 }"}
	cache := openTestCache(t, fake)
	ctx := context.Background()

	_, err := cache.Generate(ctx, GenerateRequest{UnitID: "app.m/f", Prompt: "write f", Seed: 1})
	require.NoError(t, err)
	_, err = cache.Generate(ctx, GenerateRequest{UnitID: "app.m/f", Prompt: "write f", Seed: 2})
	require.NoError(t, err)
	_, err = cache.Generate(ctx, GenerateRequest{UnitID: "app.m/f", Prompt: "write f", Seed: 1, Continuation: `[{"prompt":"p","reply":"r"}]`})
	require.NoError(t, err)

	assert.Equal(t, 3, fake.calls)
}

func TestCacheDoesNotRecordFailures(t *testing.T) {
	fake := &fakeGenerator{err: &GeneratorError{UnitID: "app.m/f", Err: errors.New("boom")}}
	cache := openTestCache(t, fake)
	req := GenerateRequest{UnitID: "app.m/f", Prompt: "write f"}

	_, err := cache.Generate(context.Background(), req)
	assert.True(t, IsGeneratorError(err))

	fake.err = nil
	fake.code = "func f() int { return 1 }"
	res, err := cache.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "func f() int { return 1 }", res.Code)
	assert.Equal(t, 2, fake.calls, "the failed attempt must not poison the cache")
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	fake := &fakeGenerator{code: "func f() int { return 1 }"}
	req := GenerateRequest{UnitID: "app.m/f", Prompt: "write f"}

	cache, err := OpenCache(path, "openai-compatible:fake-1", fake)
	require.NoError(t, err)
	_, err = cache.Generate(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	reopened, err := OpenCache(path, "openai-compatible:fake-1", fake)
	require.NoError(t, err)
	defer reopened.Close()

	res, err := reopened.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "func f() int { return 1 }", res.Code)
	assert.Equal(t, 1, fake.calls)
}
