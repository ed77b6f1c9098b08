package checkpoint

import (
	"github.com/specforge/specforge/internal/fingerprint"
)

// VerifyIntegrity recomputes the checkpoint fingerprint from the stored
// spec fingerprint, prompt fingerprint, and source bytes and compares it
// to the recorded value. A mismatch means the artifact was tampered with
// or corrupted. Pure given the loaded data; callers enforce it in strict
// mode.
func VerifyIntegrity(cp *Checkpoint) error {
	got := fingerprint.ComputeCheckpointFingerprint(cp.SpecFingerprint, cp.PromptFingerprint, cp.Code)
	if got != cp.CheckpointFingerprint {
		return &HashMismatchError{UnitID: cp.UnitID, Want: cp.CheckpointFingerprint, Got: got}
	}
	return nil
}

// CheckDrift compares the unit's current spec fingerprint against the one
// a checkpoint was generated for. Equal means in sync; unequal is a
// SpecDriftError signal.
//
// A prefix-tolerant comparison applies when exactly one side is a
// truncated slot key; whenever both values are full-length, full equality
// is required.
func CheckDrift(unitID, current, recorded string) error {
	if fingerprintsEqual(current, recorded) {
		return nil
	}
	return &SpecDriftError{UnitID: unitID, Current: current, Recorded: recorded}
}

func fingerprintsEqual(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) == fingerprint.SlotKeyLen && len(b) > fingerprint.SlotKeyLen {
		return fingerprint.SlotKey(b) == a
	}
	if len(b) == fingerprint.SlotKeyLen && len(a) > fingerprint.SlotKeyLen {
		return fingerprint.SlotKey(a) == b
	}
	return false
}
