package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/specforge/specforge/internal/checkpoint"
	"github.com/specforge/specforge/internal/config"
	"github.com/specforge/specforge/internal/spec"
)

// SandboxChildCommand is the hidden CLI command the parent re-executes
// itself with to run checks inside resource limits.
const SandboxChildCommand = "__sandbox-child"

// sandboxRequest is what the parent hands the child on stdin.
type sandboxRequest struct {
	Unit     spec.Unit `json:"unit"`
	Code     string    `json:"code"`
	ImplPath string    `json:"impl_path"`
}

// ApplyLimits caps the current process address space. Called by the
// sandbox child before running any checks. memoryMB <= 0 leaves the
// limit untouched.
func ApplyLimits(memoryMB int) error {
	if memoryMB <= 0 {
		return nil
	}
	limit := uint64(memoryMB) * 1024 * 1024
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: limit, Max: limit}); err != nil {
		return fmt.Errorf("setting address space limit: %w", err)
	}
	return nil
}

// runSandboxed re-executes the current binary as a sandbox child and
// reads the result back. Exceeding the wall clock is its own failure
// kind, distinct from any assertion failure.
func (r *Runner) runSandboxed(ctx context.Context, u spec.Unit, cp *checkpoint.Checkpoint) Result {
	timeout := time.Duration(r.cfg.Sandbox.Timeout) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	exe, err := os.Executable()
	if err != nil {
		return Result{Failures: []string{fmt.Sprintf("locating sandbox binary: %v", err)}}
	}
	reqBytes, err := json.Marshal(sandboxRequest{Unit: u, Code: cp.Code, ImplPath: cp.ImplPath})
	if err != nil {
		return Result{Failures: []string{fmt.Sprintf("encoding sandbox request: %v", err)}}
	}

	cmd := exec.CommandContext(ctx, exe, SandboxChildCommand)
	cmd.Stdin = bytes.NewReader(reqBytes)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Failures: []string{
			fmt.Sprintf("sandbox timeout: checks for %s exceeded %s", u.ID, timeout),
		}}
	}
	if err != nil {
		return Result{Failures: []string{
			fmt.Sprintf("sandbox child failed for %s: %v: %s", u.ID, err, stderr.String()),
		}}
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return Result{Failures: []string{fmt.Sprintf("decoding sandbox result: %v", err)}}
	}
	return res
}

// RunChild is the sandbox child entry point: it decodes the request from
// in, applies the configured resource limits, runs the checks directly,
// and writes the Result as JSON to out.
func RunChild(ctx context.Context, cfg *config.Config, loader Loader, in io.Reader, out io.Writer) error {
	var req sandboxRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decoding sandbox request: %w", err)
	}
	if err := ApplyLimits(cfg.Sandbox.MemoryMB); err != nil {
		return err
	}

	r := New(cfg, loader, nil)
	r.inChild = true
	res := r.Run(ctx, req.Unit, &checkpoint.Checkpoint{
		UnitID:   req.Unit.ID,
		Code:     req.Code,
		ImplPath: req.ImplPath,
	})
	return json.NewEncoder(out).Encode(res)
}
