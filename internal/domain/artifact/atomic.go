// Package artifact promotes produced output from a work path to its final
// path only after the producer and a sanity check both succeed.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/ports"
)

// WorkSuffix is appended to a final path to form its work path.
const WorkSuffix = ".work"

// ParkedSuffix is appended to a final directory while its replacement is
// renamed into place.
const ParkedSuffix = ".old"

// WorkPath returns the conventional work path for final.
func WorkPath(final string) string {
	return final + WorkSuffix
}

// ParkedPath returns where a previous final directory is parked during
// promotion.
func ParkedPath(final string) string {
	return final + ParkedSuffix
}

// Producer writes an artifact at work. work does not exist when it is called.
type Producer func(ctx context.Context, work string) error

// Job is one work/final swap.
type Job struct {
	Stage   string
	Work    string
	Final   string
	Produce Producer
	Check   Check
}

// Builder runs Jobs.
type Builder struct {
	fs     ports.FileSystem
	logger ports.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(fs ports.FileSystem, logger ports.Logger) *Builder {
	return &Builder{fs: fs, logger: logger}
}

// BuildAtomic removes a stale work path, runs the producer, checks the
// result and renames work onto final. On any failure work is removed and
// final is left exactly as it was.
func (b *Builder) BuildAtomic(ctx context.Context, job Job) error {
	if job.Work == "" || job.Final == "" || job.Work == job.Final {
		return fmt.Errorf("%s: work and final paths must be distinct and non-empty", job.Stage)
	}
	logger := b.logger.With(ports.F("stage", job.Stage))

	if _, err := b.Recover(ctx, job.Final); err != nil {
		return stageError(job.Stage, err)
	}

	if b.fs.Exists(job.Work) {
		logger.Debug(ctx, "removing stale work path", ports.F("path", job.Work))
		if err := b.fs.RemoveAll(job.Work); err != nil {
			return fmt.Errorf("%s: removing stale %s: %w", job.Stage, job.Work, err)
		}
	}

	if err := job.Produce(ctx, job.Work); err != nil {
		b.discard(ctx, logger, job.Work)
		return stageError(job.Stage, err)
	}

	if job.Check != nil {
		if err := job.Check(b.fs, job.Work); err != nil {
			b.discard(ctx, logger, job.Work)
			return stageError(job.Stage, err)
		}
	}

	if err := b.promote(job.Work, job.Final); err != nil {
		b.discard(ctx, logger, job.Work)
		return stageError(job.Stage, err)
	}
	logger.Info(ctx, "artifact promoted", ports.F("path", job.Final))
	return nil
}

// Recover puts back a previous final that an interrupted promotion left
// parked. It reports whether anything was moved.
func (b *Builder) Recover(ctx context.Context, final string) (bool, error) {
	parked := ParkedPath(final)
	if b.fs.Exists(final) || !b.fs.Exists(parked) {
		return false, nil
	}
	if err := b.fs.Rename(parked, final); err != nil {
		return false, fmt.Errorf("recovering %s from %s: %w", final, parked, err)
	}
	b.logger.Warn(ctx, "recovered artifact parked by an interrupted promotion", ports.F("path", final))
	return true, nil
}

// promote swaps work into place. Files are renamed straight over final.
// A previous final directory cannot be replaced by rename, so it is parked
// beside it and put back if the second rename fails.
func (b *Builder) promote(work, final string) error {
	if !b.fs.Exists(final) || (!b.fs.IsDir(final) && !b.fs.IsDir(work)) {
		return b.fs.Rename(work, final)
	}

	parked := ParkedPath(final)
	if err := b.fs.RemoveAll(parked); err != nil {
		return fmt.Errorf("clearing %s: %w", parked, err)
	}
	if err := b.fs.Rename(final, parked); err != nil {
		return fmt.Errorf("moving previous artifact aside: %w", err)
	}
	if err := b.fs.Rename(work, final); err != nil {
		if restoreErr := b.fs.Rename(parked, final); restoreErr != nil {
			return fmt.Errorf("promoting %s: %w (restoring previous artifact also failed: %v)", work, err, restoreErr)
		}
		return fmt.Errorf("promoting %s: %w", work, err)
	}
	return b.fs.RemoveAll(parked)
}

func (b *Builder) discard(ctx context.Context, logger ports.Logger, work string) {
	if err := b.fs.RemoveAll(work); err != nil {
		logger.Warn(ctx, "could not remove work path", ports.F("path", work), ports.F("error", err))
	}
}

func stageError(stage string, err error) error {
	var be *builderr.BuildError
	if errors.As(err, &be) {
		if be.Stage == "" {
			return be.WithStage(stage)
		}
		return err
	}
	return fmt.Errorf("stage %s: %w", stage, err)
}
