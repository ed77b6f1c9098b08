// Package runner verifies a checkpoint against its unit's declared
// examples and the configured external quality gates. Results are
// ephemeral: they gate index activation but are never persisted.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/spec"
)

// Result is the outcome of one verification run. Failures are flat
// human-readable strings, directly usable as generator feedback.
type Result struct {
	Passed   bool
	Checks   int
	Failures []string
}

// Loader turns a checkpoint into a callable Implementation. The concrete
// loader executes the stored source; tests inject fakes.
type Loader interface {
	Load(ctx context.Context, u spec.Unit, cp *checkpoint.Checkpoint) (spec.Implementation, error)
}

// Runner runs example checks and quality gates for one checkpoint.
type Runner struct {
	cfg    *config.Config
	loader Loader
	logger *slog.Logger

	// inChild disables sandbox re-execution; set inside the sandbox
	// child process so it runs the checks directly.
	inChild bool
}

// New builds a runner. loader must not be nil.
func New(cfg *config.Config, loader Loader, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, loader: loader, logger: logger}
}

// Run verifies the checkpoint: every declared example, then every
// configured quality gate. With the sandbox enabled the same checks run
// in a resource-limited child process instead.
func (r *Runner) Run(ctx context.Context, u spec.Unit, cp *checkpoint.Checkpoint) Result {
	if r.cfg.Sandbox.Enabled && !r.inChild {
		return r.runSandboxed(ctx, u, cp)
	}

	var res Result
	r.runExamples(ctx, u, cp, &res)
	r.runGates(ctx, cp, &res)
	res.Passed = len(res.Failures) == 0
	return res
}

func (r *Runner) runExamples(ctx context.Context, u spec.Unit, cp *checkpoint.Checkpoint, res *Result) {
	if len(u.Examples) == 0 {
		return
	}
	impl, err := r.loader.Load(ctx, u, cp)
	if err != nil {
		res.Failures = append(res.Failures,
			fmt.Sprintf("loading implementation for %s: %v", u.ID, err))
		return
	}
	for _, ex := range u.Examples {
		res.Checks++
		call := fmt.Sprintf("%s(%s)", u.Name(), strings.Join(ex.Input, ", "))
		actual, err := impl(ctx, ex.Input)
		if err != nil {
			res.Failures = append(res.Failures, fmt.Sprintf("example %s: %v", call, err))
			continue
		}
		if !matches(ex, actual) {
			res.Failures = append(res.Failures,
				fmt.Sprintf("example %s expected %s, got %s", call, ex.Expected, actual))
		}
	}
}

// runGates executes each configured gate against the stored source file.
// A missing gate binary is recorded but is not by itself a failure; the
// run fails on that account only when no gate could run at all.
func (r *Runner) runGates(ctx context.Context, cp *checkpoint.Checkpoint, res *Result) {
	if len(r.cfg.Gates) == 0 {
		return
	}
	unavailable := 0
	for _, gate := range r.cfg.Gates {
		if len(gate.Command) == 0 {
			continue
		}
		if _, err := exec.LookPath(gate.Command[0]); err != nil {
			unavailable++
			r.logger.Debug("quality gate unavailable", "gate", gate.Name, "binary", gate.Command[0])
			continue
		}
		res.Checks++
		args := append(append([]string(nil), gate.Command[1:]...), cp.ImplPath)
		cmd := exec.CommandContext(ctx, gate.Command[0], args...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		err := cmd.Run()
		output := strings.TrimSpace(out.String())
		// Listing-style gates (gofmt -l) report problems on stdout with a
		// zero exit status.
		if err != nil || output != "" {
			res.Failures = append(res.Failures,
				fmt.Sprintf("gate %s failed: %s", gate.Name, gateDetail(err, output)))
		}
	}
	if unavailable == len(r.cfg.Gates) {
		res.Failures = append(res.Failures,
			"no quality gates could run: all configured gate binaries are unavailable")
	}
}

func gateDetail(err error, output string) string {
	switch {
	case output != "" && err != nil:
		return fmt.Sprintf("%s (%v)", output, err)
	case output != "":
		return output
	default:
		return err.Error()
	}
}

// matches compares actual output to the example's expectation. Ellipsis
// mode treats each "..." in the expected text as a wildcard for any
// substring; the segments around it stay anchored and ordered.
func matches(ex spec.Example, actual string) bool {
	if ex.Match != spec.MatchEllipsis {
		return actual == ex.Expected
	}
	segments := strings.Split(ex.Expected, "...")
	if len(segments) == 1 {
		return actual == ex.Expected
	}

	rest := actual
	if segments[0] != "" {
		if !strings.HasPrefix(rest, segments[0]) {
			return false
		}
		rest = rest[len(segments[0]):]
	}
	last := segments[len(segments)-1]
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		i := strings.Index(rest, seg)
		if i < 0 {
			return false
		}
		rest = rest[i+len(seg):]
	}
	if last == "" {
		return true
	}
	return strings.HasSuffix(rest, last) && len(rest) >= len(last)
}
