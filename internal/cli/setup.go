package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/specforge/specforge/internal/batch"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/manifest"
	"github.com/specforge/specforge/internal/provider"
	"github.com/specforge/specforge/internal/resolve"
	"github.com/specforge/specforge/internal/spec"
)

// session is the shared command context: loaded config, registered units,
// and the engine wired over them.
type session struct {
	cfg    *config.Config
	engine *resolve.Engine
	driver *batch.Driver
}

type sessionOptions struct {
	// needsGenerator selects a real provider backend; inspection commands
	// leave it false and work without an API key.
	needsGenerator       bool
	interactive          bool
	allowMissingExamples bool
}

// inertGenerator backs commands that never generate; reaching it is a bug
// surfaced as a generator failure rather than a silent fallback.
type inertGenerator struct{}

func (inertGenerator) Generate(_ context.Context, req provider.GenerateRequest) (provider.GenerateResult, error) {
	return provider.GenerateResult{}, &provider.GeneratorError{
		UnitID: req.UnitID,
		Err:    errors.New("this command does not generate code"),
	}
}

func openSession(formatter *OutputFormatter, opts sessionOptions) (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "resolving working directory", err)
	}
	cfg, err := config.Find(cwd)
	if err != nil {
		_ = formatter.Error("CONFIG_INVALID", err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "loading configuration", err)
	}

	manifestDir := cfg.ResolvePath(cfg.Paths.Manifests)
	result, errs := manifest.Load(manifestDir, manifest.LoadModeCollectAll)
	if len(errs) > 0 {
		return nil, reportManifestErrors(formatter, errs)
	}
	formatter.VerboseLog("Loaded %d unit(s) from %d manifest file(s) in %s",
		len(result.Units), result.FileCount, manifestDir)

	registry := spec.NewRegistry()
	for _, u := range result.Units {
		if _, err := registry.Register(u); err != nil {
			_ = formatter.Error(manifest.ErrCodeInvalidUnit, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "registering units", err)
		}
	}

	engineOpts := resolve.Options{
		Interactive:          opts.interactive,
		AllowMissingExamples: opts.allowMissingExamples,
		Logger:               slog.Default(),
	}
	if !opts.needsGenerator {
		engineOpts.Generator = inertGenerator{}
	}
	engine, err := resolve.NewEngine(cfg, registry, engineOpts)
	if err != nil {
		_ = formatter.Error("ENGINE_SETUP_FAILED", err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "building engine", err)
	}

	return &session{
		cfg:    cfg,
		engine: engine,
		driver: batch.NewDriver(engine, slog.Default()),
	}, nil
}

// matchTargets resolves the --target flag to unit ids. An empty target
// means every registered unit.
func (s *session) matchTargets(target string) ([]string, error) {
	if target == "" {
		units := s.engine.Registry().List()
		ids := make([]string, len(units))
		for i, u := range units {
			ids[i] = u.ID
		}
		return ids, nil
	}
	ids := s.engine.Registry().Match(target)
	if len(ids) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no units match target %q", target))
	}
	return ids, nil
}

func reportManifestErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		payload := make([]ResponseErr, len(errs))
		for i, err := range errs {
			payload[i] = manifestResponseErr(err)
		}
		first := payload[0]
		enc := Response{Status: "error", Error: &first, Data: payload}
		_ = formatter.JSONRaw(enc)
		return NewExitError(ExitCommandError, fmt.Sprintf("manifest loading failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Manifest loading failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		var loadErr *manifest.LoadError
		if errors.As(err, &loadErr) {
			if loadErr.Pos.IsValid() {
				fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
					loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", loadErr.Code, loadErr.Message)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %v\n\n", err)
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("manifest loading failed with %d error(s)", len(errs)))
}

func manifestResponseErr(err error) ResponseErr {
	var loadErr *manifest.LoadError
	if errors.As(err, &loadErr) {
		return ResponseErr{Code: loadErr.Code, Message: loadErr.Message}
	}
	return ResponseErr{Code: "LOAD_FAILED", Message: err.Error()}
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
