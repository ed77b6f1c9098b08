package provider

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const cacheKeyDomain = "specforge/completion/v1"

// CachedGenerator wraps any Generator with a durable SQLite cache. A
// request is served from the cache when an earlier request with the same
// provider identity, prompt, seed, and continuation was answered. Feedback
// changes the prompt, so retry attempts never collide with the original.
type CachedGenerator struct {
	db       *sql.DB
	inner    Generator
	identity string
}

// OpenCache creates or opens the completion cache at path. identity is
// the provider provenance string ("kind:model"); it keeps completions
// from different backends apart in a shared cache file.
func OpenCache(path string, identity string, inner Generator) (*CachedGenerator, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening completion cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to completion cache: %w", err)
	}

	// SQLite allows a single writer; a second connection would only
	// produce SQLITE_BUSY errors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying cache schema: %w", err)
	}
	return &CachedGenerator{db: db, inner: inner, identity: identity}, nil
}

// Close releases the cache database.
func (c *CachedGenerator) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Generate serves the request from the cache when possible, otherwise
// delegates to the wrapped generator and records the answer. Backend
// failures are never cached.
func (c *CachedGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	key := c.cacheKey(req)

	var res GenerateResult
	err := c.db.QueryRowContext(ctx,
		`SELECT code, continuation, model FROM completions WHERE key = ?`, key,
	).Scan(&res.Code, &res.Continuation, &res.Model)
	if err == nil {
		return res, nil
	}
	if err != sql.ErrNoRows {
		return GenerateResult{}, fmt.Errorf("querying completion cache: %w", err)
	}

	res, err = c.inner.Generate(ctx, req)
	if err != nil {
		return GenerateResult{}, err
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO completions (key, unit_id, model, code, continuation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, req.UnitID, res.Model, res.Code, res.Continuation,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("recording completion: %w", err)
	}
	return res, nil
}

// cacheKey digests every request field that influences the completion.
// Fields are length-prefixed so no two field sequences share an encoding.
func (c *CachedGenerator) cacheKey(req GenerateRequest) string {
	h := sha256.New()
	h.Write([]byte(cacheKeyDomain))
	h.Write([]byte{0})
	for _, part := range []string{c.identity, req.Prompt, strconv.Itoa(req.Seed), req.Continuation} {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(part)))
		h.Write(length[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
