// Package batch compiles and inspects many units at once. Work runs on a
// bounded worker pool; reports always come back in submission order.
package batch

import (
	"context"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/codegen"
	"github.com/specforge/specforge/internal/fingerprint"
	"github.com/specforge/specforge/internal/resolve"
	"github.com/specforge/specforge/internal/runner"
)

// State classifies a unit's durable condition without generating.
type State string

const (
	// StateInSync means the active checkpoint matches the current spec.
	StateInSync State = "in-sync"
	// StateDrifted means an active checkpoint exists but was generated
	// for a different spec fingerprint.
	StateDrifted State = "drifted"
	// StateInactive means the index has no usable checkpoint for the unit.
	StateInactive State = "inactive"
)

// UnitReport is the outcome of compiling one unit.
type UnitReport struct {
	UnitID   string
	CacheHit bool
	Attempts int
	Result   runner.Result
	Err      error

	// SpecShort and CheckpointShort are display-length fingerprints,
	// empty when generation failed before a checkpoint existed.
	SpecShort       string
	CheckpointShort string
}

// Failed reports whether the unit ended up without a verified checkpoint.
func (r UnitReport) Failed() bool {
	return r.Err != nil || !r.Result.Passed
}

// StatusReport is the inspection record for one unit.
type StatusReport struct {
	UnitID   string
	State    State
	Examples int

	// ActiveShort and CurrentShort are display-length fingerprints.
	ActiveShort  string
	CurrentShort string
}

// CompileOptions adjusts a batch run.
type CompileOptions struct {
	// Force regenerates every targeted unit even when in sync.
	Force bool
	// Workers bounds parallelism; <= 0 selects max(1, GOMAXPROCS-1).
	Workers int
}

// Driver fans unit work out over the engine.
type Driver struct {
	engine *resolve.Engine
	logger *slog.Logger
}

func NewDriver(engine *resolve.Engine, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{engine: engine, logger: logger}
}

// CompileAll generates, activates, and tests every listed unit. Units are
// processed concurrently; the returned reports are ordered exactly as the
// ids were submitted. One unit's failure never stops the others.
func (d *Driver) CompileAll(ctx context.Context, unitIDs []string, opts CompileOptions) []UnitReport {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0) - 1
		if workers < 1 {
			workers = 1
		}
	}

	reports := make([]UnitReport, len(unitIDs))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, id := range unitIDs {
		g.Go(func() error {
			reports[i] = d.compileOne(ctx, id, opts.Force)
			return nil
		})
	}
	g.Wait()
	return reports
}

func (d *Driver) compileOne(ctx context.Context, unitID string, force bool) UnitReport {
	report := UnitReport{UnitID: unitID}
	u, ok := d.engine.Registry().Get(unitID)
	if !ok {
		report.Err = &resolve.ResolveError{UnitID: unitID, Reason: "unit is not registered"}
		return report
	}

	cp, res, err := d.engine.CompileUnit(ctx, u, force)
	if err != nil {
		report.Err = err
		return report
	}
	report.Result = res
	report.SpecShort = fingerprint.ShortHash(cp.SpecFingerprint, 0)
	report.CheckpointShort = fingerprint.ShortHash(cp.CheckpointFingerprint, 0)
	if !res.Passed {
		d.logger.Warn("unit failed checks", "unit", unitID, "failures", len(res.Failures))
	}
	return report
}

// Status inspects each unit's index and checkpoint state. Pure
// comparison: nothing is generated or modified.
func (d *Driver) Status(unitIDs []string) []StatusReport {
	reports := make([]StatusReport, 0, len(unitIDs))
	for _, id := range unitIDs {
		reports = append(reports, d.statusOne(id))
	}
	return reports
}

// Diff returns only the units whose durable state no longer matches the
// current spec set.
func (d *Driver) Diff(unitIDs []string) []StatusReport {
	var out []StatusReport
	for _, report := range d.Status(unitIDs) {
		if report.State != StateInSync {
			out = append(out, report)
		}
	}
	return out
}

func (d *Driver) statusOne(unitID string) StatusReport {
	report := StatusReport{UnitID: unitID, State: StateInactive}
	u, ok := d.engine.Registry().Get(unitID)
	if !ok {
		return report
	}
	report.Examples = len(u.Examples)
	current := codegen.SpecFingerprint(d.engine.Config(), u)
	report.CurrentShort = fingerprint.ShortHash(current, 0)

	entry, ok, err := d.engine.Index().Lookup(unitID)
	if err != nil || !ok {
		return report
	}
	cp, err := d.engine.Store().Get(unitID, entry.Active)
	if err != nil {
		return report
	}
	report.ActiveShort = fingerprint.ShortHash(cp.SpecFingerprint, 0)

	if err := checkpoint.CheckDrift(unitID, current, cp.SpecFingerprint); err != nil {
		report.State = StateDrifted
	} else {
		report.State = StateInSync
	}
	return report
}
