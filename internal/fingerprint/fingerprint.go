package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EngineVersion participates in every spec fingerprint so that a change to
// the generation engine invalidates cached checkpoints.
const EngineVersion = "0.3.0"

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSpec       = "specforge/spec/v1"
	DomainPrompt     = "specforge/prompt/v1"
	DomainCheckpoint = "specforge/checkpoint/v1"
	DomainDeps       = "specforge/deps/v1"
	DomainCode       = "specforge/code/v1"
)

// SlotKeyLen is the number of fingerprint hex characters used as a
// checkpoint slot directory name.
const SlotKeyLen = 16

// SpecInput carries every spec-defining dimension that feeds the spec
// fingerprint. Two SpecInputs that differ in any single field produce
// different fingerprints.
type SpecInput struct {
	Signature        string
	Description      string
	PreMarkerCode    string
	TemplateID       string
	ModelID          string
	Params           Params
	DependencyDigest string
}

// hashWithDomain computes SHA-256 over length-prefixed components with
// domain separation. Format: SHA256(domain + 0x00 + len(p0) + p0 + ...).
// The length prefix makes the concatenation injective: no two distinct
// component lists collapse to the same byte stream.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeSpecFingerprint computes the deterministic cache key for a spec.
// Identical inputs yield a bit-identical digest; changing any one field
// changes the digest. Description text is normalized first so cosmetic
// re-indentation does not invalidate the cache.
func ComputeSpecFingerprint(in SpecInput) string {
	return hashWithDomain(DomainSpec,
		[]byte(in.Signature),
		[]byte(NormalizeDescription(in.Description)),
		[]byte(strings.TrimSpace(in.PreMarkerCode)),
		[]byte(EngineVersion),
		[]byte(in.TemplateID),
		[]byte(in.ModelID),
		in.Params.Canonical(),
		[]byte(in.DependencyDigest),
	)
}

// ComputePromptFingerprint hashes the exact rendered instruction text sent
// to the generator. No normalization: exact bytes matter, so appended
// feedback always produces a new fingerprint.
func ComputePromptFingerprint(rendered string) string {
	return hashWithDomain(DomainPrompt, []byte(rendered))
}

// ComputeCheckpointFingerprint binds a generated artifact to the spec and
// prompt that produced it.
func ComputeCheckpointFingerprint(specFp, promptFp, code string) string {
	return hashWithDomain(DomainCheckpoint,
		[]byte(specFp),
		[]byte(promptFp),
		[]byte(code),
	)
}

// ComputeDependencyDigest hashes named auxiliary sources a spec references.
// Dependencies are sorted by name before concatenation, so map iteration
// order never affects the result. An empty map digests to the empty string.
func ComputeDependencyDigest(deps map[string]string) string {
	if len(deps) == 0 {
		return ""
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([][]byte, 0, 2*len(names))
	for _, name := range names {
		parts = append(parts, []byte(name), []byte(deps[name]))
	}
	return hashWithDomain(DomainDeps, parts...)
}

// HashCode computes the digest of an arbitrary source string. Used for the
// per-field sub-digests recorded in checkpoint metadata.
func HashCode(code string) string {
	return hashWithDomain(DomainCode, []byte(code))
}

// ShortHash truncates a fingerprint for display. n <= 0 defaults to 8.
func ShortHash(full string, n int) string {
	if n <= 0 {
		n = 8
	}
	if len(full) <= n {
		return full
	}
	return full[:n]
}

// SlotKey returns the fingerprint prefix used as a storage directory name.
func SlotKey(full string) string {
	return ShortHash(full, SlotKeyLen)
}

// NormalizeDescription prepares description text for hashing: NFC
// normalization, common leading indentation removed from every line after
// the first, trailing whitespace stripped per line, surrounding blank
// space trimmed. Cosmetic re-indentation of a spec therefore does not
// change its fingerprint.
func NormalizeDescription(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	lines := strings.Split(s, "\n")

	// The first line follows the opening quote and carries no indentation
	// of its own; the common indent is computed from the rest.
	margin := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}

	out := make([]string, 0, len(lines))
	out = append(out, strings.TrimSpace(lines[0]))
	for _, line := range lines[1:] {
		if margin > 0 && len(line) >= margin {
			line = line[margin:]
		}
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}
