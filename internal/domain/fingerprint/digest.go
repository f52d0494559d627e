// Package fingerprint decides whether an artifact must be rebuilt by
// comparing a content digest over its declared inputs with the digest
// recorded after the last successful build.
package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/acornos/acornbuild/internal/ports"
)

// Digest is a hex-encoded BLAKE3-256 digest.
type Digest string

// Short returns the first 12 hex characters.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

// Valid reports whether d looks like a full digest.
func (d Digest) Valid() bool {
	if len(d) != 64 {
		return false
	}
	_, err := hex.DecodeString(string(d))
	return err == nil
}

// ErrInputMissing is returned by Compute when a declared input does not exist.
var ErrInputMissing = errors.New("declared input missing")

// Compute hashes each declared input file in the given order and then
// hashes the sequence of per-file digests together with salt. Paths do
// not contribute to the result, only their position and content, so the
// same inputs in a different checkout produce the same digest.
func Compute(fsys ports.FileSystem, paths []string, salt string) (Digest, error) {
	outer := blake3.New()
	fmt.Fprintf(outer, "acornos-fingerprint-v1\x00salt %d\x00%s\x00", len(salt), salt)

	for i, p := range paths {
		sum, err := hashFile(fsys, p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(outer, "input %d\x00", i)
		_, _ = outer.Write(sum)
	}

	return Digest(hex.EncodeToString(outer.Sum(nil))), nil
}

func hashFile(fsys ports.FileSystem, path string) ([]byte, error) {
	if !fsys.Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, path)
	}
	if fsys.IsDir(path) {
		return nil, fmt.Errorf("fingerprint input %s is a directory", path)
	}

	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint input: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", path, err)
	}
	return h.Sum(nil), nil
}
