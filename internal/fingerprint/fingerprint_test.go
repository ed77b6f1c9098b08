package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseInput() SpecInput {
	return SpecInput{
		Signature:     "func multiply(a int, b int) int",
		Description:   "Multiply two integers.",
		PreMarkerCode: "a = clamp(a)",
		TemplateID:    "function.tmpl",
		ModelID:       "gpt-4o-mini",
		Params: Params{
			"temperature": Float(0.0),
			"seed":        Int(42),
			"timeout":     Int(60),
		},
		DependencyDigest: "",
	}
}

func TestSpecFingerprintDeterministic(t *testing.T) {
	a := ComputeSpecFingerprint(baseInput())
	b := ComputeSpecFingerprint(baseInput())
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "sha256 hex digest")
}

func TestSpecFingerprintSensitivity(t *testing.T) {
	base := ComputeSpecFingerprint(baseInput())

	mutations := map[string]func(*SpecInput){
		"signature":   func(in *SpecInput) { in.Signature = "func multiply(a int, b int) int64" },
		"description": func(in *SpecInput) { in.Description = "Multiply two numbers." },
		"pre-marker":  func(in *SpecInput) { in.PreMarkerCode = "b = clamp(b)" },
		"template":    func(in *SpecInput) { in.TemplateID = "endpoint.tmpl" },
		"model":       func(in *SpecInput) { in.ModelID = "gpt-4o" },
		"param value": func(in *SpecInput) {
			in.Params = Params{"temperature": Float(0.7), "seed": Int(42), "timeout": Int(60)}
		},
		"extra param": func(in *SpecInput) {
			in.Params = Params{"temperature": Float(0.0), "seed": Int(42), "timeout": Int(60), "top_p": Float(1.0)}
		},
		"dependency": func(in *SpecInput) {
			in.DependencyDigest = ComputeDependencyDigest(map[string]string{"clamp": "func clamp(x int) int { return x }"})
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := baseInput()
			mutate(&in)
			assert.NotEqual(t, base, ComputeSpecFingerprint(in))
		})
	}
}

func TestSpecFingerprintFieldBoundaries(t *testing.T) {
	// Length-prefixed framing: moving bytes across a component boundary
	// must not collide.
	a := baseInput()
	a.Signature = "func f(a int)"
	a.Description = "x"
	b := baseInput()
	b.Signature = "func f(a int)x"
	b.Description = ""
	assert.NotEqual(t, ComputeSpecFingerprint(a), ComputeSpecFingerprint(b))
}

func TestDescriptionNormalizationInvariance(t *testing.T) {
	a := baseInput()
	a.Description = "Multiply two integers.\n\n    Handles negatives.\n    Returns the product."
	b := baseInput()
	b.Description = "  Multiply two integers.\n\n        Handles negatives.\n        Returns the product.  "
	assert.Equal(t, ComputeSpecFingerprint(a), ComputeSpecFingerprint(b),
		"cosmetic re-indentation must not invalidate the cache")
}

func TestNormalizeDescription(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "hello", "hello"},
		{"trim", "  hello  ", "hello"},
		{
			"collapse indent",
			"Summary.\n    Detail one.\n      Nested.\n    Detail two.",
			"Summary.\nDetail one.\n  Nested.\nDetail two.",
		},
		{
			"blank lines ignored for margin",
			"Summary.\n\n    Detail.",
			"Summary.\n\nDetail.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeDescription(tc.in))
		})
	}
}

func TestDependencyDigestOrderIndependent(t *testing.T) {
	// Maps iterate in random order; the digest must not care.
	deps := map[string]string{"a": "X", "b": "Y", "c": "Z"}
	first := ComputeDependencyDigest(deps)
	for i := 0; i < 16; i++ {
		assert.Equal(t, first, ComputeDependencyDigest(map[string]string{"c": "Z", "a": "X", "b": "Y"}))
	}
}

func TestDependencyDigestEmpty(t *testing.T) {
	assert.Equal(t, "", ComputeDependencyDigest(nil))
	assert.Equal(t, "", ComputeDependencyDigest(map[string]string{}))
}

func TestDependencyDigestNameSourceBoundary(t *testing.T) {
	a := ComputeDependencyDigest(map[string]string{"ab": "c"})
	b := ComputeDependencyDigest(map[string]string{"a": "bc"})
	assert.NotEqual(t, a, b)
}

func TestPromptFingerprintExactBytes(t *testing.T) {
	base := ComputePromptFingerprint("implement multiply")
	assert.Equal(t, base, ComputePromptFingerprint("implement multiply"))
	assert.NotEqual(t, base, ComputePromptFingerprint("implement multiply "),
		"no normalization: exact bytes matter")
	assert.NotEqual(t, base, ComputePromptFingerprint("implement multiply\n\nFeedback: wrong param name"))
}

func TestCheckpointFingerprintRoundTrip(t *testing.T) {
	specFp := ComputeSpecFingerprint(baseInput())
	promptFp := ComputePromptFingerprint("prompt")
	code := "func multiply(a int, b int) int { return a * b }\n"

	chk := ComputeCheckpointFingerprint(specFp, promptFp, code)
	require.Equal(t, chk, ComputeCheckpointFingerprint(specFp, promptFp, code))

	// A single flipped byte in the code must change the fingerprint.
	flipped := []byte(code)
	flipped[0] ^= 0x01
	assert.NotEqual(t, chk, ComputeCheckpointFingerprint(specFp, promptFp, string(flipped)))
}

func TestDomainSeparation(t *testing.T) {
	assert.NotEqual(t, ComputePromptFingerprint("x"), HashCode("x"))
}

func TestParamsCanonicalTyped(t *testing.T) {
	a := Params{"seed": Int(1)}
	b := Params{"seed": String("1")}
	assert.NotEqual(t, string(a.Canonical()), string(b.Canonical()))
}

func TestParamsCanonicalSorted(t *testing.T) {
	p := Params{"b": Int(2), "a": Int(1)}
	assert.Equal(t, "1=a=3=i:1;1=b=3=i:2;", string(p.Canonical()))
}

func TestShortHash(t *testing.T) {
	full := ComputePromptFingerprint("x")
	assert.Equal(t, full[:8], ShortHash(full, 0))
	assert.Equal(t, full[:16], SlotKey(full))
	assert.Equal(t, "abc", ShortHash("abc", 8))
}
