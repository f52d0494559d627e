package fingerprint

import "github.com/acornos/acornbuild/internal/ports"

// Freshness is the result of the modification-time rule.
type Freshness struct {
	UpToDate bool
	Reason   Reason
	// Path is the upstream artifact that made downstream stale.
	Path string
}

// CheckFreshness compares the modification time of downstream with each
// upstream artifact. A missing or newer upstream makes downstream stale.
// This catches upstreams restored from a cache with a fresh mtime even
// though their fingerprint did not change.
func CheckFreshness(fs ports.FileSystem, downstream string, upstream []string) Freshness {
	down, err := fs.GetFileInfo(downstream)
	if err != nil {
		return Freshness{Reason: ReasonArtifactMissing, Path: downstream}
	}

	for _, p := range upstream {
		up, err := fs.GetFileInfo(p)
		if err != nil {
			return Freshness{Reason: ReasonUpstreamMissing, Path: p}
		}
		if up.ModTime.After(down.ModTime) {
			return Freshness{Reason: ReasonUpstreamNewer, Path: p}
		}
	}
	return Freshness{UpToDate: true, Reason: ReasonUpToDate}
}
