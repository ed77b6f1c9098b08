package codegen

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/specforge/specforge/internal/spec"
)

// param is one declared parameter: its name and whether it is variadic.
type param struct {
	name     string
	variadic bool
}

// validate checks a candidate against the unit's declared contract: the
// expected function exists, its parameter shape matches the spec
// signature, and an endpoint handler takes a context first. Failures
// return a message suitable as generator feedback.
func validate(u spec.Unit, code string) error {
	want, specFn, err := parseDeclaredSignature(u)
	if err != nil {
		return err
	}

	fn, err := findCandidateFunc(u.Name(), code)
	if err != nil {
		return err
	}
	got := collectParams(fn.Type.Params)

	if len(got) != len(want) {
		return fmt.Errorf("function %s must declare %d parameter(s) (%s), got %d",
			u.Name(), len(want), paramNames(want), len(got))
	}
	for i := range want {
		if got[i].name != want[i].name {
			return fmt.Errorf("parameter %d of %s must be named %q, got %q",
				i+1, u.Name(), want[i].name, got[i].name)
		}
		if got[i].variadic != want[i].variadic {
			if want[i].variadic {
				return fmt.Errorf("parameter %q of %s must be variadic", want[i].name, u.Name())
			}
			return fmt.Errorf("parameter %q of %s must not be variadic", want[i].name, u.Name())
		}
	}

	if u.Kind == spec.KindEndpoint {
		if len(fn.Type.Params.List) == 0 || !isContextType(fn.Type.Params.List[0].Type) {
			return fmt.Errorf("endpoint handler %s must take context.Context as its first parameter",
				u.Name())
		}
	} else if len(specFn.Type.Params.List) > 0 &&
		!isContextType(specFn.Type.Params.List[0].Type) &&
		len(fn.Type.Params.List) > 0 && isContextType(fn.Type.Params.List[0].Type) {
		return fmt.Errorf("function %s must not take a context parameter; the declared signature has none",
			u.Name())
	}
	return nil
}

// parseDeclaredSignature parses the unit's own signature into the expected
// parameter list. A signature that does not parse is a spec authoring
// error, not generator feedback.
func parseDeclaredSignature(u spec.Unit) ([]param, *ast.FuncDecl, error) {
	if !strings.HasPrefix(strings.TrimSpace(u.Signature), "func ") {
		return nil, nil, fmt.Errorf("unit %s: signature must start with \"func\": %q", u.ID, u.Signature)
	}
	src := "package p\n\n" + u.Signature + " { panic(\"declaration only\") }\n"
	file, err := parser.ParseFile(token.NewFileSet(), "signature.go", src, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("unit %s: signature does not parse: %w", u.ID, err)
	}
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			if fn.Name.Name != u.Name() {
				return nil, nil, fmt.Errorf("unit %s: signature declares %q, want %q",
					u.ID, fn.Name.Name, u.Name())
			}
			return collectParams(fn.Type.Params), fn, nil
		}
	}
	return nil, nil, fmt.Errorf("unit %s: signature contains no function declaration", u.ID)
}

// findCandidateFunc parses generated source and locates the expected
// function. Generated code usually arrives without a package clause; one
// is supplied before parsing.
func findCandidateFunc(name, code string) (*ast.FuncDecl, error) {
	src := code
	if !hasPackageClause(code) {
		src = "package candidate\n\n" + code
	}
	file, err := parser.ParseFile(token.NewFileSet(), "candidate.go", src, 0)
	if err != nil {
		return nil, fmt.Errorf("generated code does not parse as Go: %v", err)
	}
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == name && fn.Recv == nil {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("generated code is missing definition 'func %s'", name)
}

func hasPackageClause(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		return strings.HasPrefix(trimmed, "package ")
	}
	return false
}

// collectParams flattens a parameter field list: a field declaring several
// names ("a, b int") yields one entry per name.
func collectParams(fields *ast.FieldList) []param {
	if fields == nil {
		return nil
	}
	var out []param
	for _, field := range fields.List {
		_, variadic := field.Type.(*ast.Ellipsis)
		if len(field.Names) == 0 {
			out = append(out, param{name: "_", variadic: variadic})
			continue
		}
		for _, ident := range field.Names {
			out = append(out, param{name: ident.Name, variadic: variadic})
		}
	}
	return out
}

func paramNames(params []param) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.name
	}
	return strings.Join(names, ", ")
}

func isContextType(expr ast.Expr) bool {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "context" && sel.Sel.Name == "Context"
}
