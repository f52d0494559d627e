package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/domain/fingerprint"
	"github.com/acornos/acornbuild/internal/ports"
)

// ArtifactStatus describes the on-disk state of one kind.
type ArtifactStatus struct {
	Kind     Kind
	Path     string
	Exists   bool
	Size     int64
	ModTime  time.Time
	Digest   fingerprint.Digest
	BuildID  string
	BuiltAt  time.Time
	Restored bool
	Rebuild  bool
	Reason   fingerprint.Reason
	Detail   string
}

// Status reports every kind without building anything.
func (a *App) Status(ctx context.Context) ([]ArtifactStatus, error) {
	oracle := fingerprint.NewOracle(a.fs, a.sidecars, a.logger)

	out := make([]ArtifactStatus, 0, len(Kinds))
	for _, kind := range Kinds {
		spec := a.Spec(kind)
		st := ArtifactStatus{Kind: kind, Path: spec.Artifact}

		if info, err := a.fs.GetFileInfo(spec.Artifact); err == nil {
			st.Exists = true
			st.Size = info.Size
			st.ModTime = info.ModTime
		}

		rec, err := oracle.Lookup(ctx, spec.Artifact)
		switch {
		case err == nil:
			st.Digest = rec.Digest
			st.BuildID = rec.BuildID
			st.BuiltAt = rec.BuiltAt
			st.Restored = rec.Restored
		case !errors.Is(err, fingerprint.ErrRecordNotFound):
			st.Detail = err.Error()
		}

		decision, err := oracle.NeedsRebuild(ctx, spec)
		if err != nil {
			return nil, err
		}
		st.Rebuild = decision.Rebuild
		st.Reason = decision.Reason
		if decision.Detail != "" {
			st.Detail = decision.Detail
		}
		out = append(out, st)
	}
	return out, nil
}

// Clean removes interrupted work paths and parked old artifacts from the
// output directory, keeping a parked artifact whose final is missing, or the whole output directory when all is set. It
// returns the removed paths.
func (a *App) Clean(ctx context.Context, all bool) ([]string, error) {
	output := a.cfg.OutputDir()
	if !a.fs.Exists(output) {
		return nil, nil
	}
	if all {
		if err := a.fs.RemoveAll(output); err != nil {
			return nil, fmt.Errorf("removing %s: %w", output, err)
		}
		a.logger.Info(ctx, "output directory removed")
		return []string{output}, nil
	}

	entries, err := a.fs.ReadDir(output)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", output, err)
	}
	var removed []string
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(output, name)
		switch {
		case strings.HasSuffix(name, artifact.WorkSuffix):
		case strings.HasSuffix(name, artifact.ParkedSuffix):
			// A parked artifact without its final is the last good copy.
			if !a.fs.Exists(strings.TrimSuffix(p, artifact.ParkedSuffix)) {
				a.logger.Warn(ctx, "keeping parked artifact whose final is missing", ports.F("path", p))
				continue
			}
		default:
			continue
		}
		if err := a.fs.RemoveAll(p); err != nil {
			return removed, fmt.Errorf("removing %s: %w", p, err)
		}
		removed = append(removed, p)
	}
	sort.Strings(removed)
	return removed, nil
}
