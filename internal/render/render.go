// Package render turns a unit into the instruction text sent to the
// generator. Rendering is deterministic for identical inputs; appended
// feedback changes the text and therefore the prompt fingerprint.
package render

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/specforge/specforge/internal/fingerprint"
	"github.com/specforge/specforge/internal/spec"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer renders prompt templates for units.
type Renderer struct {
	templates *template.Template
}

// promptContext is the data visible to prompt templates.
type promptContext struct {
	UnitID        string
	Name          string
	Signature     string
	Description   string
	PreMarkerCode string
	Examples      []spec.Example
	Dependencies  []dependency
	Method        string
	Path          string
	EngineVersion string
	Feedback      []string
}

type dependency struct {
	Name   string
	Source string
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing prompt templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

// Render produces the instruction text for one generation attempt.
// Feedback from prior attempts is appended in declaration order. An
// unknown template id is a configuration error, fatal and not retried.
func (r *Renderer) Render(u spec.Unit, feedback []string) (string, error) {
	name := u.DefaultTemplate()
	t := r.templates.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("prompt template not found: %s", name)
	}

	deps := make([]dependency, 0, len(u.Dependencies))
	for _, depName := range sortedKeys(u.Dependencies) {
		deps = append(deps, dependency{Name: depName, Source: u.Dependencies[depName]})
	}

	var buf strings.Builder
	err := t.Execute(&buf, promptContext{
		UnitID:        u.ID,
		Name:          u.Name(),
		Signature:     u.Signature,
		Description:   u.Description,
		PreMarkerCode: u.PreMarkerCode,
		Examples:      u.Examples,
		Dependencies:  deps,
		Method:        u.Method,
		Path:          u.Path,
		EngineVersion: fingerprint.EngineVersion,
		Feedback:      feedback,
	})
	if err != nil {
		return "", fmt.Errorf("rendering prompt for unit %s: %w", u.ID, err)
	}
	return buf.String(), nil
}

// sortedKeys returns dependency names in sorted order so identical specs
// always produce identical prompts.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
