// Package checkpoint persists generated artifacts content-addressed by
// (unit id, spec fingerprint) and verifies their integrity on read.
//
// A slot is a directory <root>/<unit-path>/<specfp[:16]>/ holding the
// generated source (impl.go, verbatim, newline-terminated) and its
// provenance metadata (meta.yaml). Checkpoints are immutable once written:
// a retry writes a new slot, never mutates an existing one.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/specforge/specforge/internal/fingerprint"
)

const (
	implFile = "impl.go"
	metaFile = "meta.yaml"
)

// Provenance records how a checkpoint came to be. Everything needed to
// debug "which field caused drift" is captured as per-field sub-digests.
type Provenance struct {
	Created       time.Time
	EngineVersion string
	Env           string
	Provider      string // "kind:model"
	Template      string
	RunID         string
	Params        map[string]string

	SpecFingerprint   string
	PromptFingerprint string

	SignatureSHA     string
	DescriptionSHA   string
	PreMarkerSHA     string
	DependencyDigest string

	Signature   string
	Description string

	// Force permits overwriting an occupied slot. Overwrite-by-intent,
	// never implicit.
	Force bool
}

// Meta is the on-disk metadata record. Round-trippable: re-reading it and
// recomputing the checkpoint fingerprint from the sibling source file must
// reproduce CheckpointSHA when integrity holds.
type Meta struct {
	Created       string            `yaml:"created"`
	EngineVersion string            `yaml:"engine_version"`
	Env           string            `yaml:"env"`
	Provider      string            `yaml:"provider"`
	Template      string            `yaml:"template"`
	RunID         string            `yaml:"run_id"`
	Params        map[string]string `yaml:"params,omitempty"`

	SpecSHA       string `yaml:"spec_sha"`
	CheckpointSHA string `yaml:"chk_sha"`
	PromptSHA     string `yaml:"prompt_sha"`

	HashInputs struct {
		SignatureSHA     string `yaml:"signature_sha"`
		DescriptionSHA   string `yaml:"description_sha"`
		PreMarkerSHA     string `yaml:"premarker_sha"`
		DependencyDigest string `yaml:"dependency_digest"`
	} `yaml:"hash_inputs"`

	Signature   string `yaml:"signature"`
	Description string `yaml:"description"`
}

// Checkpoint is one generated artifact loaded from its slot.
type Checkpoint struct {
	UnitID                string
	SpecFingerprint       string
	PromptFingerprint     string
	CheckpointFingerprint string
	Code                  string
	Meta                  Meta

	// Dir and ImplPath locate the slot for quality gates and debugging.
	Dir      string
	ImplPath string
}

// Store is the content-addressed checkpoint store rooted at one directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// slotDir constructs the storage key directly from the unit id and the
// fingerprint prefix; existence checks never scan directories.
func (s *Store) slotDir(unitID, specFp string) string {
	unitPath := strings.ReplaceAll(unitID, ".", "/")
	return filepath.Join(s.root, filepath.FromSlash(unitPath), fingerprint.SlotKey(specFp))
}

// Exists reports whether a slot is occupied. O(1): one stat on the
// directly constructed key.
func (s *Store) Exists(unitID, specFp string) bool {
	_, err := os.Stat(filepath.Join(s.slotDir(unitID, specFp), metaFile))
	return err == nil
}

// Put writes a new checkpoint slot atomically (temp dir + rename) and
// returns the loaded checkpoint. Writing to an occupied slot fails with
// SlotExistsError unless prov.Force is set.
func (s *Store) Put(unitID, specFp, code string, prov Provenance) (*Checkpoint, error) {
	dir := s.slotDir(unitID, specFp)

	if s.Exists(unitID, specFp) && !prov.Force {
		return nil, &SlotExistsError{UnitID: unitID, SpecFingerprint: specFp}
	}

	// Source bytes are stored verbatim, newline-terminated.
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	chkFp := fingerprint.ComputeCheckpointFingerprint(specFp, prov.PromptFingerprint, code)

	if prov.RunID == "" {
		prov.RunID = uuid.NewString()
	}
	meta := Meta{
		Created:       prov.Created.UTC().Format(time.RFC3339),
		EngineVersion: prov.EngineVersion,
		Env:           prov.Env,
		Provider:      prov.Provider,
		Template:      prov.Template,
		RunID:         prov.RunID,
		Params:        prov.Params,
		SpecSHA:       specFp,
		CheckpointSHA: chkFp,
		PromptSHA:     prov.PromptFingerprint,
		Signature:     prov.Signature,
		Description:   prov.Description,
	}
	meta.HashInputs.SignatureSHA = prov.SignatureSHA
	meta.HashInputs.DescriptionSHA = prov.DescriptionSHA
	meta.HashInputs.PreMarkerSHA = prov.PreMarkerSHA
	meta.HashInputs.DependencyDigest = prov.DependencyDigest

	metaBytes, err := yaml.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling checkpoint metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint parent: %w", err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dir), filepath.Base(dir)+".tmp-")
	if err != nil {
		return nil, fmt.Errorf("creating checkpoint temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := os.WriteFile(filepath.Join(tmp, implFile), []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", implFile, err)
	}
	if err := os.WriteFile(filepath.Join(tmp, metaFile), metaBytes, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", metaFile, err)
	}

	// Readers never observe a partially written slot: the populated temp
	// dir replaces the target in one rename.
	if prov.Force {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("removing old checkpoint slot: %w", err)
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return nil, fmt.Errorf("publishing checkpoint slot: %w", err)
	}

	return &Checkpoint{
		UnitID:                unitID,
		SpecFingerprint:       specFp,
		PromptFingerprint:     prov.PromptFingerprint,
		CheckpointFingerprint: chkFp,
		Code:                  code,
		Meta:                  meta,
		Dir:                   dir,
		ImplPath:              filepath.Join(dir, implFile),
	}, nil
}

// Get loads the checkpoint for (unitID, specFp). specFp may be a full
// fingerprint or an already truncated slot key. Absent slots return
// NotFoundError; I/O errors are surfaced, not retried here.
func (s *Store) Get(unitID, specFp string) (*Checkpoint, error) {
	dir := s.slotDir(unitID, specFp)

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{UnitID: unitID, SpecFingerprint: specFp}
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint metadata: %w", err)
	}
	var meta Meta
	if err := yaml.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("parsing checkpoint metadata for unit %s: %w", unitID, err)
	}

	implPath := filepath.Join(dir, implFile)
	code, err := os.ReadFile(implPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{UnitID: unitID, SpecFingerprint: specFp}
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint source: %w", err)
	}

	return &Checkpoint{
		UnitID:                unitID,
		SpecFingerprint:       meta.SpecSHA,
		PromptFingerprint:     meta.PromptSHA,
		CheckpointFingerprint: meta.CheckpointSHA,
		Code:                  string(code),
		Meta:                  meta,
		Dir:                   dir,
		ImplPath:              implPath,
	}, nil
}
