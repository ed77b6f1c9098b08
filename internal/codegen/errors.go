package codegen

import (
	"errors"
	"fmt"
)

// ValidationError reports that every generation attempt produced code that
// failed structural validation. Last carries the final attempt's reason.
type ValidationError struct {
	UnitID   string
	Attempts int
	Last     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("unit %s: generated code failed validation after %d attempts: %v",
		e.UnitID, e.Attempts, e.Last)
}

func (e *ValidationError) Unwrap() error { return e.Last }

// IsValidationError reports whether err is (or wraps) an exhausted
// validation retry loop.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MissingExamplesError blocks generation of a unit that declares no
// examples. Overridable by explicit intent, never silently.
type MissingExamplesError struct {
	UnitID string
}

func (e *MissingExamplesError) Error() string {
	return fmt.Sprintf("unit %s declares no examples; generated code would be unverifiable "+
		"(pass --allow-missing-examples to generate anyway)", e.UnitID)
}

// IsMissingExamples reports whether err is (or wraps) the zero-examples
// guard.
func IsMissingExamples(err error) bool {
	var me *MissingExamplesError
	return errors.As(err, &me)
}
