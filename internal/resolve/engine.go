// Package resolve owns the auto-resolve loop: given a unit id, return a
// working Implementation, generating and verifying a checkpoint first when
// the durable state does not already provide one.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/codegen"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/index"
	"github.com/specforge/specforge/internal/provider"
	"github.com/specforge/specforge/internal/render"
	"github.com/specforge/specforge/internal/runner"
	"github.com/specforge/specforge/internal/spec"
)

// Options adjusts engine construction. Zero values select production
// defaults; tests inject fake generators and loaders.
type Options struct {
	// Interactive permits the single test-driven regeneration retry.
	Interactive bool
	// AllowMissingExamples lifts the zero-examples generation guard.
	AllowMissingExamples bool
	// MaxAttempts bounds the generate/validate loop; <= 0 selects the
	// default.
	MaxAttempts int

	Generator provider.Generator
	Loader    runner.Loader
	Logger    *slog.Logger
}

// Engine wires every component around one config and one registry. Build
// one per process; a changed spec set needs a fresh Engine.
type Engine struct {
	cfg      *config.Config
	registry *spec.Registry
	impls    *spec.ImplRegistry
	store    *checkpoint.Store
	idx      *index.Index
	orch     *codegen.Orchestrator
	runner   *runner.Runner
	loader   runner.Loader
	logger   *slog.Logger

	interactive          bool
	allowMissingExamples bool
}

// NewEngine builds an engine. Without an injected Generator the OpenAI
// provider is constructed from config and wrapped in the SQLite completion
// cache; a missing API key then fails construction, not the first call.
func NewEngine(cfg *config.Config, registry *spec.Registry, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		return nil, err
	}

	gen := opts.Generator
	if gen == nil {
		key, err := cfg.APIKey("")
		if err != nil {
			return nil, err
		}
		providerCfg := cfg.Provider("")
		cached, err := provider.OpenCache(cfg.ResolvePath(cfg.Paths.Cache),
			providerCfg.Identity(), provider.NewOpenAIProvider(providerCfg, key))
		if err != nil {
			return nil, err
		}
		gen = cached
	}

	loader := opts.Loader
	if loader == nil {
		loader = runner.GoRunLoader{}
	}

	store := checkpoint.NewStore(cfg.ResolvePath(cfg.Paths.Checkpoints))
	return &Engine{
		cfg:                  cfg,
		registry:             registry,
		impls:                spec.NewImplRegistry(),
		store:                store,
		idx:                  index.New(cfg.ResolvePath(cfg.Paths.Index)),
		orch:                 codegen.NewOrchestrator(cfg, renderer, gen, store, logger, opts.MaxAttempts),
		runner:               runner.New(cfg, loader, logger),
		loader:               loader,
		logger:               logger,
		interactive:          opts.Interactive,
		allowMissingExamples: opts.AllowMissingExamples,
	}, nil
}

// Config exposes the engine's configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Registry exposes the unit registry for CLI target matching.
func (e *Engine) Registry() *spec.Registry { return e.registry }

// Implementations exposes the binding table call sites resolve through.
func (e *Engine) Implementations() *spec.ImplRegistry { return e.impls }

// Store exposes the checkpoint store for read-only inspection commands.
func (e *Engine) Store() *checkpoint.Store { return e.store }

// Index exposes the active-checkpoint index.
func (e *Engine) Index() *index.Index { return e.idx }

// Resolve returns a working implementation for the unit: the active
// checkpoint when it is intact and in sync with the current spec,
// otherwise (permissive mode only) a freshly generated and verified one.
func (e *Engine) Resolve(ctx context.Context, unitID string) (spec.Implementation, error) {
	u, ok := e.registry.Get(unitID)
	if !ok {
		return nil, &ResolveError{UnitID: unitID, Reason: "unit is not registered"}
	}

	currentFp := codegen.SpecFingerprint(e.cfg, u)
	cond := e.checkActive(unitID, currentFp)
	if cond == nil {
		cp, err := e.activeCheckpoint(unitID)
		if err != nil {
			return nil, &ResolveError{UnitID: unitID, Reason: "loading active checkpoint", Err: err}
		}
		return e.bind(ctx, u, cp)
	}

	if e.cfg.Mode() != config.ModePermissive {
		reason := "no usable checkpoint and strict mode never generates"
		if len(u.Examples) == 0 {
			reason += "; the unit also declares no examples, so a generated " +
				"implementation could not be verified"
		}
		return nil, &ResolveError{UnitID: unitID, Reason: reason, Err: cond}
	}

	e.logger.Info("auto-generating", "unit", unitID, "cause", cond.Error())
	cp, res, err := e.CompileUnit(ctx, u, false)
	if err != nil {
		return nil, &ResolveError{UnitID: unitID, Reason: "generation failed", Err: err}
	}
	if !res.Passed {
		if !e.interactive {
			return nil, &ResolveError{
				UnitID: unitID,
				Reason: "generated implementation failed its checks",
				Err:    &TestFailureError{UnitID: unitID, Result: res},
			}
		}
		// One behavioral retry: regenerate with the observed failures as
		// feedback. This counter is separate from the validation attempts
		// inside the orchestrator.
		e.logger.Info("regenerating after failed checks", "unit", unitID, "failures", len(res.Failures))
		cp2, res2, err := e.compileAndTest(ctx, u, true, res.Failures)
		if err != nil {
			return nil, &ResolveError{UnitID: unitID, Reason: "regeneration failed", Err: err}
		}
		if !res2.Passed {
			merged := runner.Result{
				Checks:   res2.Checks,
				Failures: mergeDiagnostics(res.Failures, res2.Failures),
			}
			return nil, &ResolveError{
				UnitID: unitID,
				Reason: "implementation still failing after regeneration",
				Err:    &TestFailureError{UnitID: unitID, Result: merged},
			}
		}
		cp = cp2
	}
	return e.bind(ctx, u, cp)
}

// checkActive reports why the currently indexed checkpoint cannot be used,
// or nil when it can. Integrity is enforced in strict mode; drift is
// checked in every mode.
func (e *Engine) checkActive(unitID, currentFp string) error {
	entry, ok, err := e.idx.Lookup(unitID)
	if err != nil {
		return err
	}
	if !ok {
		return &checkpoint.NotFoundError{UnitID: unitID, SpecFingerprint: currentFp}
	}
	cp, err := e.store.Get(unitID, entry.Active)
	if err != nil {
		return err
	}
	if e.cfg.Mode() == config.ModeStrict {
		if err := checkpoint.VerifyIntegrity(cp); err != nil {
			return err
		}
	}
	return checkpoint.CheckDrift(unitID, currentFp, cp.SpecFingerprint)
}

func (e *Engine) activeCheckpoint(unitID string) (*checkpoint.Checkpoint, error) {
	entry, ok, err := e.idx.Lookup(unitID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &checkpoint.NotFoundError{UnitID: unitID}
	}
	return e.store.Get(unitID, entry.Active)
}

// CompileUnit is the shared generate-index-test path used by Resolve and
// by the batch driver: produce a checkpoint, activate it in the index,
// then verify it. The checkpoint stays active even when checks fail so
// the failure is inspectable; callers decide what a failure means.
func (e *Engine) CompileUnit(ctx context.Context, u spec.Unit, force bool) (*checkpoint.Checkpoint, runner.Result, error) {
	return e.compileAndTest(ctx, u, force, nil)
}

func (e *Engine) compileAndTest(ctx context.Context, u spec.Unit, force bool, feedback []string) (*checkpoint.Checkpoint, runner.Result, error) {
	out, err := e.orch.Generate(ctx, u, codegen.GenerateOptions{
		Force:                force,
		AllowMissingExamples: e.allowMissingExamples,
		Feedback:             feedback,
	})
	if err != nil {
		return nil, runner.Result{}, err
	}
	if err := e.idx.SetActive(u.ID, out.Checkpoint.SpecFingerprint, time.Now()); err != nil {
		return nil, runner.Result{}, fmt.Errorf("activating checkpoint for %s: %w", u.ID, err)
	}
	res := e.runner.Run(ctx, u, out.Checkpoint)
	return out.Checkpoint, res, nil
}

// TestUnit runs the unit's checks against its stored checkpoint without
// generating: the slot for the current spec fingerprint when it exists,
// otherwise the indexed active one.
func (e *Engine) TestUnit(ctx context.Context, u spec.Unit) (runner.Result, error) {
	cp, err := e.currentOrActive(u)
	if err != nil {
		return runner.Result{}, err
	}
	return e.runner.Run(ctx, u, cp), nil
}

// SaveUnit activates the checkpoint matching the current spec after its
// checks pass. Failing checks leave the index untouched.
func (e *Engine) SaveUnit(ctx context.Context, u spec.Unit) (runner.Result, error) {
	currentFp := codegen.SpecFingerprint(e.cfg, u)
	cp, err := e.store.Get(u.ID, currentFp)
	if err != nil {
		return runner.Result{}, err
	}
	res := e.runner.Run(ctx, u, cp)
	if !res.Passed {
		return res, &TestFailureError{UnitID: u.ID, Result: res}
	}
	if err := e.idx.SetActive(u.ID, cp.SpecFingerprint, time.Now()); err != nil {
		return res, fmt.Errorf("activating checkpoint for %s: %w", u.ID, err)
	}
	return res, nil
}

func (e *Engine) currentOrActive(u spec.Unit) (*checkpoint.Checkpoint, error) {
	currentFp := codegen.SpecFingerprint(e.cfg, u)
	if e.store.Exists(u.ID, currentFp) {
		return e.store.Get(u.ID, currentFp)
	}
	return e.activeCheckpoint(u.ID)
}

func (e *Engine) bind(ctx context.Context, u spec.Unit, cp *checkpoint.Checkpoint) (spec.Implementation, error) {
	impl, err := e.loader.Load(ctx, u, cp)
	if err != nil {
		return nil, &ResolveError{UnitID: u.ID, Reason: "loading implementation", Err: err}
	}
	e.impls.Bind(u.ID, impl)
	return impl, nil
}
