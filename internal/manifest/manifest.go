// Package manifest loads unit declarations from CUE files. Manifests are
// the shipped Reflector: they yield each unit's signature, description,
// examples, and dependencies without the core ever parsing target source
// text.
//
// A manifest declares units under a top-level "unit" struct:
//
//	unit: "app.math.ops/multiply": {
//		signature:   "func multiply(a int, b int) int"
//		description: "Multiply two integers."
//		examples: [
//			{input: ["2", "3"], expect: "6"},
//		]
//	}
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/specforge/specforge/internal/spec"
)

// LoadMode controls how errors are handled during manifest loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes surfaced to the CLI.
const (
	ErrCodeNotFound    = "MANIFEST_DIR_NOT_FOUND"
	ErrCodeNoFiles     = "NO_MANIFEST_FILES"
	ErrCodeLoadFailed  = "MANIFEST_LOAD_FAILED"
	ErrCodeBuildFailed = "MANIFEST_BUILD_FAILED"
	ErrCodeInvalidUnit = "INVALID_UNIT"
)

// LoadError is an error that occurred while loading manifests.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result contains the units loaded from a manifest directory.
type Result struct {
	Units     []spec.Unit
	FileCount int
}

// Load reads every .cue file in dir and builds the declared units.
func Load(dir string, mode LoadMode) (*Result, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &Result{FileCount: len(files)}
	var errs []error

	unitsVal := value.LookupPath(cue.ParsePath("unit"))
	if !unitsVal.Exists() {
		return result, nil
	}
	iter, iterErr := unitsVal.Fields()
	if iterErr != nil {
		return result, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating units: %v", iterErr)}}
	}
	for iter.Next() {
		id := unquoteLabel(iter.Selector().String())
		u, err := compileUnit(id, iter.Value())
		if err != nil {
			errs = append(errs, err)
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Units = append(result.Units, u)
	}

	sort.Slice(result.Units, func(i, j int) bool { return result.Units[i].ID < result.Units[j].ID })
	return result, errs
}

// compileUnit parses one unit declaration into a spec.Unit via the builder.
func compileUnit(id string, v cue.Value) (spec.Unit, error) {
	if err := v.Err(); err != nil {
		return spec.Unit{}, &LoadError{Code: ErrCodeInvalidUnit, Message: err.Error(), Pos: v.Pos()}
	}

	b := spec.NewUnit(id)

	sig, err := requiredString(v, "signature")
	if err != nil {
		return spec.Unit{}, err
	}
	b.Signature(sig)

	if desc, ok, err := optionalString(v, "description"); err != nil {
		return spec.Unit{}, err
	} else if ok {
		b.Description(desc)
	}
	if pre, ok, err := optionalString(v, "premarker"); err != nil {
		return spec.Unit{}, err
	} else if ok {
		b.PreMarker(pre)
	}
	if prov, ok, err := optionalString(v, "provider"); err != nil {
		return spec.Unit{}, err
	} else if ok {
		b.Provider(prov)
	}
	if tmpl, ok, err := optionalString(v, "template"); err != nil {
		return spec.Unit{}, err
	} else if ok {
		b.Template(tmpl)
	}

	if kind, ok, err := optionalString(v, "kind"); err != nil {
		return spec.Unit{}, err
	} else if ok {
		b.Kind(spec.Kind(kind))
		if kind == string(spec.KindEndpoint) {
			method, _, err := optionalString(v, "method")
			if err != nil {
				return spec.Unit{}, err
			}
			if method == "" {
				method = "GET"
			}
			path, err := requiredString(v, "path")
			if err != nil {
				return spec.Unit{}, err
			}
			b.Route(method, path)
		}
	}

	if err := parseExamples(v, b); err != nil {
		return spec.Unit{}, err
	}
	if err := parseDependencies(v, b); err != nil {
		return spec.Unit{}, err
	}

	u, buildErr := b.Build()
	if buildErr != nil {
		return spec.Unit{}, &LoadError{Code: ErrCodeInvalidUnit, Message: buildErr.Error(), Pos: v.Pos()}
	}
	return u, nil
}

func parseExamples(v cue.Value, b *spec.Builder) error {
	exVal := v.LookupPath(cue.ParsePath("examples"))
	if !exVal.Exists() {
		return nil
	}
	iter, err := exVal.List()
	if err != nil {
		return &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("examples must be a list: %v", err), Pos: exVal.Pos()}
	}
	for iter.Next() {
		ev := iter.Value()

		inputVal := ev.LookupPath(cue.ParsePath("input"))
		if !inputVal.Exists() {
			return &LoadError{Code: ErrCodeInvalidUnit, Message: "example input is required", Pos: ev.Pos()}
		}
		inputIter, err := inputVal.List()
		if err != nil {
			return &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("example input must be a list: %v", err), Pos: inputVal.Pos()}
		}
		var input []string
		for inputIter.Next() {
			s, err := inputIter.Value().String()
			if err != nil {
				return &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("example input values must be strings: %v", err), Pos: inputVal.Pos()}
			}
			input = append(input, s)
		}

		expect, expectErr := requiredString(ev, "expect")
		if expectErr != nil {
			return expectErr
		}

		mode := spec.MatchExact
		ellipsisVal := ev.LookupPath(cue.ParsePath("ellipsis"))
		if ellipsisVal.Exists() {
			ellipsis, err := ellipsisVal.Bool()
			if err != nil {
				return &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("ellipsis must be a bool: %v", err), Pos: ellipsisVal.Pos()}
			}
			if ellipsis {
				mode = spec.MatchEllipsis
			}
		}
		b.Example(input, expect, mode)
	}
	return nil
}

func parseDependencies(v cue.Value, b *spec.Builder) error {
	depsVal := v.LookupPath(cue.ParsePath("dependencies"))
	if !depsVal.Exists() {
		return nil
	}
	iter, err := depsVal.Fields()
	if err != nil {
		return &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("dependencies must be a struct: %v", err), Pos: depsVal.Pos()}
	}
	for iter.Next() {
		source, err := iter.Value().String()
		if err != nil {
			return &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("dependency sources must be strings: %v", err), Pos: depsVal.Pos()}
		}
		b.Dependency(unquoteLabel(iter.Selector().String()), source)
	}
	return nil
}

func requiredString(v cue.Value, field string) (string, *LoadError) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &LoadError{Code: ErrCodeInvalidUnit, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("%s must be a string: %v", field, err), Pos: fv.Pos()}
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, bool, *LoadError) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, &LoadError{Code: ErrCodeInvalidUnit, Message: fmt.Sprintf("%s must be a string: %v", field, err), Pos: fv.Pos()}
	}
	return s, true, nil
}

// unquoteLabel strips the quotes CUE adds around string labels like
// "app.math.ops/multiply".
func unquoteLabel(label string) string {
	return strings.Trim(label, `"`)
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
