package resolve

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specforge/specforge/internal/runner"
)

// ResolveError is the boundary error for a unit that could not be
// resolved to a working implementation. It names the unit and the
// condition and chains the upstream cause.
type ResolveError struct {
	UnitID string
	Reason string
	Err    error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("cannot resolve unit %s: %s", e.UnitID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error { return e.Err }

// IsResolveError reports whether err is (or wraps) a resolution failure.
func IsResolveError(err error) bool {
	var re *ResolveError
	return errors.As(err, &re)
}

// TestFailureError carries the check results of a checkpoint that did not
// pass verification.
type TestFailureError struct {
	UnitID string
	Result runner.Result
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("unit %s failed %d of %d checks:\n  - %s",
		e.UnitID, len(e.Result.Failures), e.Result.Checks,
		strings.Join(e.Result.Failures, "\n  - "))
}

// IsTestFailure reports whether err is (or wraps) a failed check run.
func IsTestFailure(err error) bool {
	var te *TestFailureError
	return errors.As(err, &te)
}

// mergeDiagnostics concatenates failure lists in order, dropping exact
// duplicates so repeated runs do not double-report the same problem.
func mergeDiagnostics(lists ...[]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range lists {
		for _, d := range list {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
