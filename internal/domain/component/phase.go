package component

// Phase orders components. Components run in registry order and the
// registry must be non-decreasing in Phase.
type Phase int

const (
	PhaseFilesystem Phase = iota
	PhaseBinaries
	PhaseInit
	PhaseServices
	PhaseConfig
	PhaseFirmware
	PhaseFinal
)

var phaseNames = [...]string{
	PhaseFilesystem: "filesystem",
	PhaseBinaries:   "binaries",
	PhaseInit:       "init",
	PhaseServices:   "services",
	PhaseConfig:     "config",
	PhaseFirmware:   "firmware",
	PhaseFinal:      "final",
}

// String returns the lower-case phase name.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Valid reports whether p is one of the declared phases.
func (p Phase) Valid() bool {
	return p >= PhaseFilesystem && p <= PhaseFinal
}
