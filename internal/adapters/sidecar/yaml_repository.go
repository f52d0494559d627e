// Package sidecar persists fingerprint records as YAML files next to the
// artifacts they describe.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/acornos/acornbuild/internal/domain/fingerprint"
)

// Suffix is appended to an artifact path to name its sidecar.
const Suffix = ".fingerprint"

// formatVersion is bumped when the record layout changes; older records
// are then treated as corrupt and the artifact is rebuilt.
const formatVersion = 1

// ErrRecordNotFound is returned by Load when no sidecar exists.
var ErrRecordNotFound = fingerprint.ErrRecordNotFound

type recordDTO struct {
	Version  int       `yaml:"version"`
	Kind     string    `yaml:"kind"`
	Digest   string    `yaml:"digest"`
	BuildID  string    `yaml:"build_id,omitempty"`
	BuiltAt  time.Time `yaml:"built_at"`
	Inputs   []string  `yaml:"inputs,omitempty"`
	Restored bool      `yaml:"restored,omitempty"`
}

// YAMLRepository implements fingerprint.Repository using YAML files.
type YAMLRepository struct{}

// NewYAMLRepository creates a new YAML sidecar repository.
func NewYAMLRepository() *YAMLRepository {
	return &YAMLRepository{}
}

// Path returns the sidecar path for artifact.
func Path(artifact string) string {
	return artifact + Suffix
}

// Load reads the sidecar of artifact.
func (r *YAMLRepository) Load(_ context.Context, artifact string) (fingerprint.Record, error) {
	data, err := os.ReadFile(Path(artifact))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fingerprint.Record{}, ErrRecordNotFound
		}
		return fingerprint.Record{}, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var dto recordDTO
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return fingerprint.Record{}, fmt.Errorf("%w: %w", fingerprint.ErrRecordCorrupt, err)
	}
	if dto.Version != formatVersion {
		return fingerprint.Record{}, fmt.Errorf("%w: version %d", fingerprint.ErrRecordCorrupt, dto.Version)
	}
	digest := fingerprint.Digest(dto.Digest)
	if !digest.Valid() {
		return fingerprint.Record{}, fmt.Errorf("%w: bad digest %q", fingerprint.ErrRecordCorrupt, dto.Digest)
	}

	return fingerprint.Record{
		Kind:     dto.Kind,
		Digest:   digest,
		BuildID:  dto.BuildID,
		BuiltAt:  dto.BuiltAt,
		Inputs:   dto.Inputs,
		Restored: dto.Restored,
	}, nil
}

// Save writes the sidecar of artifact through a temp file and rename.
func (r *YAMLRepository) Save(_ context.Context, artifact string, rec fingerprint.Record) error {
	dto := recordDTO{
		Version:  formatVersion,
		Kind:     rec.Kind,
		Digest:   string(rec.Digest),
		BuildID:  rec.BuildID,
		BuiltAt:  rec.BuiltAt.UTC(),
		Inputs:   rec.Inputs,
		Restored: rec.Restored,
	}

	data, err := yaml.Marshal(&dto)
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}

	path := Path(artifact)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing sidecar: %w", err)
	}
	return nil
}

// Remove deletes the sidecar of artifact, if any.
func (r *YAMLRepository) Remove(_ context.Context, artifact string) error {
	if err := os.Remove(Path(artifact)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Ensure YAMLRepository implements fingerprint.Repository.
var _ fingerprint.Repository = (*YAMLRepository)(nil)
