package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/acornos/acornbuild/internal/adapters/licensedb"
	"github.com/acornos/acornbuild/internal/distro/acorn"
	"github.com/acornos/acornbuild/internal/domain/artifact"
	"github.com/acornos/acornbuild/internal/domain/fingerprint"
	"github.com/acornos/acornbuild/internal/ports"
)

// Kind is an artifact kind the pipeline builds.
type Kind string

// Artifact kinds.
const (
	KindRootfs    Kind = "rootfs"
	KindInitramfs Kind = "initramfs"
	KindISO       Kind = "iso"
)

// Kinds lists every kind in build order.
var Kinds = []Kind{KindRootfs, KindInitramfs, KindISO}

// ParseTarget maps a build target name to the kinds it builds.
func ParseTarget(target string) ([]Kind, error) {
	switch t := strings.ToLower(strings.TrimSpace(target)); t {
	case "", "all":
		return append([]Kind(nil), Kinds...), nil
	case string(KindRootfs), string(KindInitramfs), string(KindISO):
		return []Kind{Kind(t)}, nil
	default:
		return nil, fmt.Errorf("unknown build target %q (want all, rootfs, initramfs or iso)", target)
	}
}

// BuildOptions controls a pipeline run.
type BuildOptions struct {
	// Force rebuilds every kind regardless of its fingerprint and skips
	// the artifact store.
	Force bool
}

// Outcome is what happened to one kind during a pipeline run.
type Outcome struct {
	Kind     Kind
	State    artifact.State
	Reason   fingerprint.Reason
	Detail   string
	Artifact string
	Digest   fingerprint.Digest
	BuildID  string
	Duration time.Duration
	History  []artifact.Transition
	Err      error
}

// Spec returns the fingerprint declaration of kind.
func (a *App) Spec(kind Kind) fingerprint.Spec {
	opts := a.Options()
	switch kind {
	case KindRootfs:
		source := a.cfg.SourceDir()
		inputs := []string{
			filepath.Join(source, "bin/busybox"),
			filepath.Join(source, licensedb.InstalledPath),
		}
		if a.cfg.File != "" && a.fs.Exists(a.cfg.File) {
			inputs = append(inputs, a.cfg.File)
		}
		inputs = append(inputs, a.moduleIndexes(opts.KernelModules)...)
		return fingerprint.Spec{
			Kind:     string(kind),
			Artifact: opts.RootfsImage,
			Inputs:   inputs,
			Salt:     acorn.Rootfs().Describe() + strings.Join(a.erofsArgs("", ""), " "),
		}

	case KindInitramfs:
		var inputs []string
		if a.fs.Exists(opts.InitTemplate) {
			inputs = append(inputs, opts.InitTemplate)
		}
		inputs = append(inputs, opts.Busybox)
		inputs = append(inputs, a.moduleIndexes(opts.KernelModules)...)
		salt := acorn.Initramfs().Describe() +
			"modules " + strings.Join(opts.BootModules, ",") + "\n" +
			"devices " + strings.Join(opts.BootDevices, ",") + "\n" +
			"label " + opts.ISOLabel + "\n"
		return fingerprint.Spec{
			Kind:     string(kind),
			Artifact: opts.Initramfs,
			Inputs:   inputs,
			Salt:     salt,
		}

	default:
		upstream := []string{opts.RootfsImage, opts.Initramfs, opts.KernelImage}
		return fingerprint.Spec{
			Kind:     string(KindISO),
			Artifact: a.ISOPath(),
			Inputs:   upstream,
			Salt:     acorn.ISORoot().Describe() + "label " + opts.ISOLabel + "\n",
			Upstream: upstream,
		}
	}
}

// moduleIndexes returns the modules.dep of every installed kernel version.
func (a *App) moduleIndexes(modules string) []string {
	entries, err := a.fs.ReadDir(modules)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		dep := filepath.Join(modules, e.Name(), "modules.dep")
		if e.IsDir() && a.fs.Exists(dep) {
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}

// Build runs kinds in order and stops at the first failure.
func (a *App) Build(ctx context.Context, kinds []Kind, opts BuildOptions) ([]Outcome, error) {
	oracle := fingerprint.NewOracle(a.fs, a.sidecars, a.logger)

	outcomes := make([]Outcome, 0, len(kinds))
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out := a.buildKind(ctx, oracle, kind, opts)
		outcomes = append(outcomes, out)
		if out.Err != nil {
			return outcomes, out.Err
		}
	}
	return outcomes, nil
}

func (a *App) buildKind(ctx context.Context, oracle *fingerprint.Oracle, kind Kind, opts BuildOptions) (out Outcome) {
	start := a.now()
	spec := a.Spec(kind)
	out = Outcome{Kind: kind, Artifact: spec.Artifact}
	logger := a.logger.With(ports.F("kind", kind))
	ctx = ports.ContextWithLogger(ctx, logger)

	lc, err := artifact.NewLifecycle(string(kind))
	if err != nil {
		out.Err = err
		return out
	}
	defer func() {
		out.State = lc.State()
		out.History = lc.History()
		out.Duration = a.now().Sub(start)
		lc.Stop()
	}()
	fail := func(err error) Outcome {
		_ = lc.Fail(err)
		out.Err = err
		logger.Error(ctx, "build failed", ports.F("error", err))
		return out
	}
	stage := func(event string) {
		if err := lc.Fire(event); err != nil {
			logger.Warn(ctx, "lifecycle", ports.F("error", err))
			return
		}
		logger.Info(ctx, "stage", ports.F("stage", lc.State()))
	}

	stage(artifact.EventCheck)
	if _, err := a.builder().Recover(ctx, spec.Artifact); err != nil {
		return fail(err)
	}
	decision, err := oracle.NeedsRebuild(ctx, spec)
	if err != nil {
		return fail(err)
	}
	if opts.Force {
		decision.Rebuild = true
		decision.Reason = fingerprint.ReasonForced
	}
	out.Reason = decision.Reason
	out.Detail = decision.Detail
	out.Digest = decision.Digest

	if !decision.Rebuild {
		if decision.Previous != nil {
			out.BuildID = decision.Previous.BuildID
		}
		stage(artifact.EventSkip)
		return out
	}
	logger.Info(ctx, "rebuild needed", ports.F("reason", decision.Reason), ports.F("detail", decision.Detail))

	out.BuildID = a.newID()
	useStore := a.store != nil && decision.Digest != "" && !opts.Force

	if useStore {
		stage(artifact.EventRestore)
		hit, meta, err := a.restore(ctx, kind, spec.Artifact, decision.Digest)
		if err != nil {
			logger.Warn(ctx, "artifact store restore failed, building", ports.F("error", err))
		}
		if hit {
			if meta.BuildID != "" {
				out.BuildID = meta.BuildID
			}
			if err := a.record(ctx, oracle, spec, decision.Digest, out.BuildID, true); err != nil {
				return fail(err)
			}
			stage(artifact.EventHit)
			return out
		}
		stage(artifact.EventMiss)
	} else {
		stage(artifact.EventProduce)
	}

	if err := a.produce(ctx, kind); err != nil {
		return fail(err)
	}

	digest := decision.Digest
	if digest == "" {
		if digest, err = fingerprint.Compute(a.fs, spec.Inputs, spec.Salt); err != nil {
			return fail(fmt.Errorf("fingerprinting %s after build: %w", kind, err))
		}
		out.Digest = digest
	}

	if a.store != nil {
		a.save(ctx, logger, kind, spec.Artifact, digest, out.BuildID)
	}
	if err := a.record(ctx, oracle, spec, digest, out.BuildID, false); err != nil {
		return fail(err)
	}
	stage(artifact.EventPromote)
	return out
}

func (a *App) produce(ctx context.Context, kind Kind) error {
	switch kind {
	case KindRootfs:
		return a.BuildRootfs(ctx)
	case KindInitramfs:
		return a.BuildInitramfs(ctx)
	case KindISO:
		return a.BuildISO(ctx)
	default:
		return fmt.Errorf("unknown artifact kind %q", kind)
	}
}

func restoreCheck(kind Kind) artifact.Check {
	switch kind {
	case KindRootfs:
		return artifact.MinSize(minRootfsImage)
	case KindInitramfs:
		return artifact.MinSize(minInitramfs)
	default:
		return artifact.MinSize(minISO)
	}
}

// restore materializes the stored artifact for digest at final. The ISO
// checksum is regenerated from the restored image.
func (a *App) restore(ctx context.Context, kind Kind, final string, digest fingerprint.Digest) (bool, artifact.Metadata, error) {
	job := artifact.Job{
		Stage: string(kind) + "-restore",
		Work:  artifact.WorkPath(final),
		Final: final,
		Check: restoreCheck(kind),
	}
	hit, meta, err := a.builder().TryRestore(ctx, a.store, job, string(kind), string(digest))
	if err != nil || !hit {
		return false, artifact.Metadata{}, err
	}
	if kind == KindISO {
		if _, err := a.builder().WriteChecksum(ctx, "iso-checksum", final); err != nil {
			return false, artifact.Metadata{}, err
		}
	}
	return true, meta, nil
}

// save copies a promoted artifact into the store. A failure only costs
// the next checkout a rebuild, so it is logged and dropped.
func (a *App) save(ctx context.Context, logger ports.Logger, kind Kind, path string, digest fingerprint.Digest, buildID string) {
	host, _ := os.Hostname()
	meta := artifact.Metadata{
		Kind:      string(kind),
		Key:       string(digest),
		BuildID:   buildID,
		CreatedAt: a.now(),
		Host:      host,
	}
	if err := a.store.Save(ctx, string(kind), string(digest), path, meta); err != nil {
		logger.Warn(ctx, "could not save artifact to store", ports.F("error", err))
		return
	}
	logger.Debug(ctx, "artifact saved to store", ports.F("key", digest.Short()))
}

func (a *App) record(ctx context.Context, oracle *fingerprint.Oracle, spec fingerprint.Spec, digest fingerprint.Digest, buildID string, restored bool) error {
	return oracle.Record(ctx, spec, fingerprint.Record{
		Digest:   digest,
		BuildID:  buildID,
		BuiltAt:  a.now(),
		Restored: restored,
	})
}
