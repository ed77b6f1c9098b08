package checkpoint

import (
	"errors"
	"fmt"
)

// NotFoundError indicates no checkpoint exists for a (unit, fingerprint)
// slot. Recoverable by generating.
type NotFoundError struct {
	UnitID          string
	SpecFingerprint string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no checkpoint for unit %s (spec %s)", e.UnitID, short(e.SpecFingerprint))
}

// HashMismatchError indicates the stored artifact no longer reproduces its
// recorded checkpoint fingerprint: tampered with or corrupted. Fatal,
// never auto-healed.
type HashMismatchError struct {
	UnitID string
	Want   string
	Got    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("checkpoint hash mismatch for unit %s: stored %s, recomputed %s",
		e.UnitID, short(e.Want), short(e.Got))
}

// SpecDriftError indicates the unit's current spec fingerprint no longer
// matches the checkpoint's recorded one. A signal, not necessarily fatal;
// callers decide whether to regenerate.
type SpecDriftError struct {
	UnitID   string
	Current  string
	Recorded string
}

func (e *SpecDriftError) Error() string {
	return fmt.Sprintf("spec drift for unit %s: checkpoint was generated for %s, spec is now %s",
		e.UnitID, short(e.Recorded), short(e.Current))
}

// SlotExistsError is returned by Put when the slot is already occupied and
// the write was not forced. Overwrite happens by intent only.
type SlotExistsError struct {
	UnitID          string
	SpecFingerprint string
}

func (e *SlotExistsError) Error() string {
	return fmt.Sprintf("checkpoint slot for unit %s (spec %s) already exists; use force to overwrite",
		e.UnitID, short(e.SpecFingerprint))
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsHashMismatch(err error) bool {
	var e *HashMismatchError
	return errors.As(err, &e)
}

func IsSpecDrift(err error) bool {
	var e *SpecDriftError
	return errors.As(err, &e)
}

func IsSlotExists(err error) bool {
	var e *SlotExistsError
	return errors.As(err, &e)
}

func short(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
