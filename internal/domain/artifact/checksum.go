package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/acornos/acornbuild/internal/ports"
)

// ChecksumSuffix names the detached checksum beside an artifact.
const ChecksumSuffix = ".sha256"

// FileSHA256 returns the hex SHA-256 of path.
func FileSHA256(fs ports.FileSystem, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChecksumLine formats one line in sha256sum(1) format.
func ChecksumLine(sum, name string) string {
	return sum + "  " + name + "\n"
}

// ParseChecksum reads the first sha256sum line and returns its digest and name.
func ParseChecksum(data []byte) (sum, name string, err error) {
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) != 2 || len(fields[0]) != sha256.Size*2 {
		return "", "", fmt.Errorf("malformed checksum line %q", line)
	}
	if _, err := hex.DecodeString(fields[0]); err != nil {
		return "", "", fmt.Errorf("malformed checksum digest: %w", err)
	}
	return fields[0], strings.TrimPrefix(fields[1], "*"), nil
}

// WriteChecksum produces artifact+".sha256" through its own work/final swap.
func (b *Builder) WriteChecksum(ctx context.Context, stage, artifact string) (string, error) {
	sum, err := FileSHA256(b.fs, artifact)
	if err != nil {
		return "", err
	}
	final := artifact + ChecksumSuffix
	line := ChecksumLine(sum, filepath.Base(artifact))

	err = b.BuildAtomic(ctx, Job{
		Stage: stage,
		Work:  WorkPath(final),
		Final: final,
		Produce: func(_ context.Context, work string) error {
			return b.fs.WriteFile(work, []byte(line), 0o644)
		},
		Check: MinSize(int64(len(line))),
	})
	if err != nil {
		return "", err
	}
	return sum, nil
}

// VerifyChecksum reports whether the detached checksum beside artifact matches it.
func VerifyChecksum(fs ports.FileSystem, artifact string) (bool, error) {
	data, err := fs.ReadFile(artifact + ChecksumSuffix)
	if err != nil {
		return false, err
	}
	want, _, err := ParseChecksum(data)
	if err != nil {
		return false, err
	}
	got, err := FileSHA256(fs, artifact)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
