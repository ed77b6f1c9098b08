// Package spec defines the unit model: one human-authored spec under
// management, its examples, and the registries that make registration and
// implementation lookup explicit.
package spec

import (
	"context"
	"fmt"
	"strings"

	"github.com/specforge/specforge/internal/fingerprint"
)

// Kind distinguishes plain functions from network-exposed endpoints.
type Kind string

const (
	KindFunction Kind = "function"
	KindEndpoint Kind = "endpoint"
)

// MatchMode controls how an example's expected output is compared.
type MatchMode string

const (
	// MatchExact requires structural equality of the rendered output.
	MatchExact MatchMode = "exact"
	// MatchEllipsis treats "..." in the expected output as a wildcard
	// matching any substring, for outputs that are intentionally partial.
	MatchEllipsis MatchMode = "ellipsis"
)

// Example is one declared input/output pair. Inputs are Go expression
// literals passed positionally to the unit's symbol.
type Example struct {
	Input    []string
	Expected string
	Match    MatchMode
}

// Unit is one spec under management. Identity is a stable string id
// (module path + "/" + local name). Units are immutable for the life of
// the process; re-registration with different content is a new logical
// spec version and requires a fresh Engine.
type Unit struct {
	ID            string
	Signature     string
	Description   string
	PreMarkerCode string
	Examples      []Example
	Dependencies  map[string]string
	Kind          Kind

	// Endpoint-only routing attributes.
	Method string
	Path   string

	// Generator selection. Empty values fall back to config defaults.
	Provider string
	Template string
}

// Name returns the local symbol name, the part of the id after the last "/".
func (u Unit) Name() string {
	if i := strings.LastIndex(u.ID, "/"); i >= 0 {
		return u.ID[i+1:]
	}
	return u.ID
}

// StoragePath converts the unit id into a slash-separated path segment for
// checkpoint slots: "app.math.ops/multiply" -> "app/math/ops/multiply".
func (u Unit) StoragePath() string {
	return strings.ReplaceAll(u.ID, ".", "/")
}

// DefaultTemplate returns the prompt template id for the unit's kind when
// none was declared.
func (u Unit) DefaultTemplate() string {
	if u.Template != "" {
		return u.Template
	}
	if u.Kind == KindEndpoint {
		return "endpoint.tmpl"
	}
	return "function.tmpl"
}

// Implementation is a callable produced for a unit. Call sites reach
// implementations through the ImplRegistry rather than any rebound
// identifier.
type Implementation func(ctx context.Context, args []string) (string, error)

// Builder constructs Units. Construction is explicit rather than
// reflective: setup code declares each field and Build validates the
// result.
type Builder struct {
	u    Unit
	errs []string
}

// NewUnit starts a builder for the given unit id.
func NewUnit(id string) *Builder {
	return &Builder{u: Unit{ID: id, Kind: KindFunction}}
}

func (b *Builder) Signature(sig string) *Builder {
	b.u.Signature = sig
	return b
}

func (b *Builder) Description(text string) *Builder {
	b.u.Description = text
	return b
}

func (b *Builder) PreMarker(code string) *Builder {
	b.u.PreMarkerCode = code
	return b
}

func (b *Builder) Kind(k Kind) *Builder {
	b.u.Kind = k
	return b
}

func (b *Builder) Route(method, path string) *Builder {
	b.u.Method = method
	b.u.Path = path
	return b
}

func (b *Builder) Provider(name string) *Builder {
	b.u.Provider = name
	return b
}

func (b *Builder) Template(id string) *Builder {
	b.u.Template = id
	return b
}

func (b *Builder) Example(input []string, expected string, mode MatchMode) *Builder {
	if mode == "" {
		mode = MatchExact
	}
	b.u.Examples = append(b.u.Examples, Example{Input: input, Expected: expected, Match: mode})
	return b
}

func (b *Builder) Dependency(name, source string) *Builder {
	if b.u.Dependencies == nil {
		b.u.Dependencies = map[string]string{}
	}
	b.u.Dependencies[name] = source
	return b
}

// Build validates and returns the unit. The description is normalized at
// construction time so every consumer sees the same text that was hashed.
func (b *Builder) Build() (Unit, error) {
	u := b.u
	if u.ID == "" {
		b.errs = append(b.errs, "unit id is required")
	} else if !strings.Contains(u.ID, "/") {
		b.errs = append(b.errs, fmt.Sprintf("unit id %q must be module/name", u.ID))
	}
	if u.Signature == "" {
		b.errs = append(b.errs, "signature is required")
	}
	switch u.Kind {
	case KindFunction, KindEndpoint:
	default:
		b.errs = append(b.errs, fmt.Sprintf("unknown kind %q", u.Kind))
	}
	if u.Kind == KindEndpoint && u.Path == "" {
		b.errs = append(b.errs, "endpoint units require a route path")
	}
	for i, ex := range u.Examples {
		if len(ex.Input) == 0 {
			b.errs = append(b.errs, fmt.Sprintf("example %d has no input", i))
		}
	}
	if len(b.errs) > 0 {
		return Unit{}, fmt.Errorf("invalid unit %q: %s", u.ID, strings.Join(b.errs, "; "))
	}
	u.Description = fingerprint.NormalizeDescription(u.Description)
	return u, nil
}
