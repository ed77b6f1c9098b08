// Package codegen drives one unit through the generation pipeline:
// fingerprint, cache check, prompt rendering, bounded generate/validate
// attempts, and checkpoint persistence. It never touches the index; the
// caller activates a checkpoint only after gating.
package codegen

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/fingerprint"
	"github.com/specforge/specforge/internal/provider"
	"github.com/specforge/specforge/internal/render"
	"github.com/specforge/specforge/internal/spec"
)

// DefaultMaxAttempts bounds the generate/validate loop. Every attempt
// costs one generator call; the bound is exact, never exceeded.
const DefaultMaxAttempts = 3

// GenerateOptions adjusts a single orchestration run.
type GenerateOptions struct {
	// Force regenerates even when the slot for the current spec
	// fingerprint is occupied, and overwrites it.
	Force bool
	// AllowMissingExamples lifts the zero-examples guard.
	AllowMissingExamples bool
	// Feedback seeds the first prompt with diagnostics from an earlier
	// run, such as test failures driving a forced regeneration.
	Feedback []string
}

// Outcome reports how a unit's checkpoint was obtained.
type Outcome struct {
	Checkpoint *checkpoint.Checkpoint
	// CacheHit is true when the checkpoint was served from an existing
	// slot without calling the generator.
	CacheHit bool
	// Attempts counts generator calls made by this run.
	Attempts int
}

// Orchestrator owns the generation pipeline for units.
type Orchestrator struct {
	cfg         *config.Config
	renderer    *render.Renderer
	generator   provider.Generator
	store       *checkpoint.Store
	logger      *slog.Logger
	maxAttempts int
}

// NewOrchestrator wires the pipeline. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func NewOrchestrator(cfg *config.Config, renderer *render.Renderer, generator provider.Generator,
	store *checkpoint.Store, logger *slog.Logger, maxAttempts int) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		renderer:    renderer,
		generator:   generator,
		store:       store,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// SpecFingerprint computes the unit's cache identity under the given
// configuration. Model identity and sampling parameters participate, so a
// provider change invalidates cached checkpoints.
func SpecFingerprint(cfg *config.Config, u spec.Unit) string {
	p := cfg.Provider(u.Provider)
	return fingerprint.ComputeSpecFingerprint(fingerprint.SpecInput{
		Signature:     u.Signature,
		Description:   u.Description,
		PreMarkerCode: u.PreMarkerCode,
		TemplateID:    u.DefaultTemplate(),
		ModelID:       p.Identity(),
		Params: fingerprint.Params{
			"temperature": fingerprint.Float(p.Temperature),
			"seed":        fingerprint.Int(p.Seed),
			"timeout":     fingerprint.Int(p.Timeout),
		},
		DependencyDigest: fingerprint.ComputeDependencyDigest(u.Dependencies),
	})
}

// Generate produces a checkpoint for the unit. Cache hits return the
// stored checkpoint without any generator call. Otherwise the pipeline
// renders the prompt, generates, validates, and on validation failure
// retries with the failure appended as feedback, up to the attempt bound.
// Generator transport failures are fatal and consume no further attempts.
func (o *Orchestrator) Generate(ctx context.Context, u spec.Unit, opts GenerateOptions) (Outcome, error) {
	if len(u.Examples) == 0 && !opts.AllowMissingExamples {
		return Outcome{}, &MissingExamplesError{UnitID: u.ID}
	}

	specFp := SpecFingerprint(o.cfg, u)
	log := o.logger.With("unit", u.ID, "spec_sha", fingerprint.ShortHash(specFp, 0))

	if !opts.Force && o.store.Exists(u.ID, specFp) {
		cp, err := o.store.Get(u.ID, specFp)
		if err != nil {
			return Outcome{}, err
		}
		log.Debug("checkpoint cache hit")
		return Outcome{Checkpoint: cp, CacheHit: true}, nil
	}

	providerCfg := o.cfg.Provider(u.Provider)
	feedback := append([]string(nil), opts.Feedback...)
	continuation := ""
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		prompt, err := o.renderer.Render(u, feedback)
		if err != nil {
			return Outcome{}, err
		}
		promptFp := fingerprint.ComputePromptFingerprint(prompt)

		log.Debug("generating", "attempt", attempt, "prompt_sha", fingerprint.ShortHash(promptFp, 0))
		res, err := o.generator.Generate(ctx, provider.GenerateRequest{
			UnitID:       u.ID,
			Prompt:       prompt,
			Seed:         providerCfg.Seed,
			Continuation: continuation,
		})
		if err != nil {
			return Outcome{Attempts: attempt}, err
		}
		continuation = res.Continuation

		if err := validate(u, res.Code); err != nil {
			log.Debug("validation failed", "attempt", attempt, "reason", err)
			lastErr = err
			feedback = append(feedback, err.Error())
			continue
		}

		cp, err := o.persist(u, specFp, promptFp, res, opts.Force)
		if err != nil {
			return Outcome{Attempts: attempt}, err
		}
		log.Info("checkpoint written", "chk_sha", fingerprint.ShortHash(cp.CheckpointFingerprint, 0),
			"attempts", attempt)
		return Outcome{Checkpoint: cp, Attempts: attempt}, nil
	}

	return Outcome{Attempts: o.maxAttempts}, &ValidationError{
		UnitID:   u.ID,
		Attempts: o.maxAttempts,
		Last:     lastErr,
	}
}

func (o *Orchestrator) persist(u spec.Unit, specFp, promptFp string, res provider.GenerateResult, force bool) (*checkpoint.Checkpoint, error) {
	p := o.cfg.Provider(u.Provider)
	return o.store.Put(u.ID, specFp, res.Code, checkpoint.Provenance{
		Created:       time.Now(),
		EngineVersion: fingerprint.EngineVersion,
		Env:           string(o.cfg.Mode()),
		Provider:      p.Identity(),
		Template:      u.DefaultTemplate(),
		Params: map[string]string{
			"temperature": strconv.FormatFloat(p.Temperature, 'g', -1, 64),
			"seed":        strconv.Itoa(p.Seed),
			"timeout":     strconv.Itoa(p.Timeout),
		},
		SpecFingerprint:   specFp,
		PromptFingerprint: promptFp,
		SignatureSHA:      fingerprint.HashCode(u.Signature),
		DescriptionSHA:    fingerprint.HashCode(u.Description),
		PreMarkerSHA:      fingerprint.HashCode(u.PreMarkerCode),
		DependencyDigest:  fingerprint.ComputeDependencyDigest(u.Dependencies),
		Signature:         u.Signature,
		Description:       u.Description,
		Force:             force,
	})
}
