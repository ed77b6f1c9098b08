package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/spec"
)

// GoRunLoader executes checkpoint source through the Go toolchain: each
// example invocation is compiled into a throwaway main package and run as
// a subprocess, so generated code never links into this process.
type GoRunLoader struct{}

// Load returns an Implementation backed by "go run". The toolchain must
// be on PATH; a missing toolchain surfaces at load time, not per example.
func (GoRunLoader) Load(_ context.Context, u spec.Unit, cp *checkpoint.Checkpoint) (spec.Implementation, error) {
	if _, err := exec.LookPath("go"); err != nil {
		return nil, fmt.Errorf("go toolchain not found on PATH: %w", err)
	}
	code := cp.Code
	return func(ctx context.Context, args []string) (string, error) {
		return runExample(ctx, u, code, args)
	}, nil
}

func runExample(ctx context.Context, u spec.Unit, code string, args []string) (string, error) {
	dir, err := os.MkdirTemp("", "specforge-run-")
	if err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := harnessSource(u, code, args)
	mainPath := filepath.Join(dir, "main.go")
	if err := os.WriteFile(mainPath, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("writing scratch program: %w", err)
	}
	modFile := "module specforge.scratch/harness\n\ngo 1.21\n"
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte(modFile), 0o644); err != nil {
		return "", fmt.Errorf("writing scratch go.mod: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "run", ".")
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("running example: %s", detail)
	}
	return stdout.String(), nil
}

// harnessSource assembles the throwaway program: the generated code plus
// a main that applies the example arguments, which are Go expression
// literals, and prints the result.
func harnessSource(u spec.Unit, code string, args []string) string {
	body := strings.TrimSpace(code)
	if strings.HasPrefix(body, "package ") {
		if i := strings.Index(body, "\n"); i >= 0 {
			body = strings.TrimSpace(body[i+1:])
		}
	}

	callArgs := strings.Join(args, ", ")
	var b strings.Builder
	b.WriteString("package main\n\n")
	b.WriteString("import (\n\t\"fmt\"\n")
	if u.Kind == spec.KindEndpoint {
		b.WriteString("\t\"context\"\n")
	}
	b.WriteString(")\n\n")
	b.WriteString(body)
	b.WriteString("\n\nfunc main() {\n")
	if u.Kind == spec.KindEndpoint {
		fmt.Fprintf(&b, "\tfmt.Print(%s(context.Background(), %s))\n", u.Name(), callArgs)
	} else {
		fmt.Fprintf(&b, "\tfmt.Print(%s(%s))\n", u.Name(), callArgs)
	}
	b.WriteString("}\n")
	return b.String()
}
