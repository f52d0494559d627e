package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acornos/acornbuild/internal/ports"
)

// Repository errors.
var (
	ErrRecordNotFound = errors.New("fingerprint record not found")
	ErrRecordCorrupt  = errors.New("fingerprint record is corrupt")
)

// Record is what is persisted next to an artifact after a successful build.
type Record struct {
	Kind     string
	Digest   Digest
	BuildID  string
	BuiltAt  time.Time
	Inputs   []string
	Restored bool
}

// Repository persists one Record per artifact path.
type Repository interface {
	Load(ctx context.Context, artifact string) (Record, error)
	Save(ctx context.Context, artifact string, rec Record) error
}

// Spec declares what one artifact kind depends on.
type Spec struct {
	Kind     string
	Artifact string
	Inputs   []string
	Salt     string
	// Upstream artifacts that must not be newer than Artifact.
	Upstream []string
}

// Reason explains a Decision.
type Reason string

// Decision reasons.
const (
	ReasonUpToDate        Reason = "up to date"
	ReasonArtifactMissing Reason = "artifact missing"
	ReasonSidecarMissing  Reason = "no fingerprint recorded"
	ReasonSidecarCorrupt  Reason = "fingerprint record unreadable"
	ReasonInputMissing    Reason = "declared input missing"
	ReasonDigestChanged   Reason = "inputs changed"
	ReasonUpstreamNewer   Reason = "upstream artifact is newer"
	ReasonUpstreamMissing Reason = "upstream artifact missing"
	ReasonForced          Reason = "rebuild forced"
)

// Decision is the outcome of NeedsRebuild.
type Decision struct {
	Rebuild bool
	Reason  Reason
	// Digest of the current inputs. Empty when an input is missing.
	Digest Digest
	// Previous is the recorded state, if any.
	Previous *Record
	Detail   string
}

// Oracle answers whether an artifact kind must be rebuilt.
type Oracle struct {
	fs     ports.FileSystem
	repo   Repository
	logger ports.Logger
}

// NewOracle creates an Oracle.
func NewOracle(fs ports.FileSystem, repo Repository, logger ports.Logger) *Oracle {
	return &Oracle{fs: fs, repo: repo, logger: logger}
}

// NeedsRebuild applies the content rule, then the freshness rule for
// specs with upstream artifacts. Any doubt resolves to a rebuild.
func (o *Oracle) NeedsRebuild(ctx context.Context, spec Spec) (Decision, error) {
	digest, err := Compute(o.fs, spec.Inputs, spec.Salt)
	if errors.Is(err, ErrInputMissing) {
		return Decision{Rebuild: true, Reason: ReasonInputMissing, Detail: err.Error()}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("fingerprinting %s: %w", spec.Kind, err)
	}

	d := Decision{Rebuild: true, Digest: digest}

	if !o.fs.Exists(spec.Artifact) {
		d.Reason = ReasonArtifactMissing
		return d, nil
	}

	rec, err := o.repo.Load(ctx, spec.Artifact)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		d.Reason = ReasonSidecarMissing
		return d, nil
	case err != nil:
		o.logger.Warn(ctx, "ignoring unreadable fingerprint record", ports.F("kind", spec.Kind), ports.F("error", err))
		d.Reason = ReasonSidecarCorrupt
		return d, nil
	}
	d.Previous = &rec

	if rec.Digest != digest {
		d.Reason = ReasonDigestChanged
		d.Detail = fmt.Sprintf("%s -> %s", rec.Digest.Short(), digest.Short())
		return d, nil
	}

	if len(spec.Upstream) > 0 {
		if fresh := CheckFreshness(o.fs, spec.Artifact, spec.Upstream); !fresh.UpToDate {
			d.Reason = fresh.Reason
			d.Detail = fresh.Path
			return d, nil
		}
	}

	d.Rebuild = false
	d.Reason = ReasonUpToDate
	return d, nil
}

// Record persists digest for spec. Callers invoke it only after the
// artifact has been promoted.
func (o *Oracle) Record(ctx context.Context, spec Spec, rec Record) error {
	if !o.fs.Exists(spec.Artifact) {
		return fmt.Errorf("refusing to record fingerprint for absent artifact %s", spec.Artifact)
	}
	rec.Kind = spec.Kind
	rec.Inputs = append([]string(nil), spec.Inputs...)
	if err := o.repo.Save(ctx, spec.Artifact, rec); err != nil {
		return fmt.Errorf("recording fingerprint for %s: %w", spec.Kind, err)
	}
	o.logger.Debug(ctx, "fingerprint recorded", ports.F("kind", spec.Kind), ports.F("digest", rec.Digest.Short()))
	return nil
}

// Lookup returns the recorded state of an artifact.
func (o *Oracle) Lookup(ctx context.Context, artifact string) (Record, error) {
	return o.repo.Load(ctx, artifact)
}
