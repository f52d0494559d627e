// Package artifactstore is a content-addressed, cross-run cache of build
// artifacts keyed by fingerprint digest.
//
// Layout:
//
//	<root>/<kind>/<key[:2]>/<key>.blob   compressed file or tar stream
//	<root>/<kind>/<key[:2]>/<key>.meta   CBOR metadata (core deterministic)
//
// The metadata file is written after the blob, so a blob without
// metadata is invisible and is overwritten by the next Save.
package artifactstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/acornos/acornbuild/internal/domain/artifact"
)

// ErrNotFound is returned by Restore for keys the store does not hold.
var ErrNotFound = artifact.ErrCacheMiss

// ErrCorrupt is returned when a stored blob does not match its metadata.
var ErrCorrupt = errors.New("artifact store entry is corrupt")

const metaVersion = 1

var (
	keyPattern  = regexp.MustCompile(`^[0-9a-f]{16,128}$`)
	kindPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("artifactstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("artifactstore: CBOR decoder initialization failed: " + err.Error())
	}
}

type metaRecord struct {
	Version     int       `json:"version"`
	Kind        string    `json:"kind"`
	Key         string    `json:"key"`
	BuildID     string    `json:"build_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Size        int64     `json:"size"`
	Dir         bool      `json:"dir,omitempty"`
	Host        string    `json:"host,omitempty"`
	Compression string    `json:"compression"`
	Content     string    `json:"content"`
}

// Store is a filesystem-backed artifact.Store.
type Store struct {
	root        string
	compression Compression
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCompression selects the blob codec for new entries.
func WithCompression(c Compression) Option {
	return func(s *Store) { s.compression = c }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (creating if needed) a store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{root: root, compression: CompressionZstd, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}
	return s, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) entryPath(kind, key, ext string) (string, error) {
	if !kindPattern.MatchString(kind) {
		return "", fmt.Errorf("invalid artifact kind %q", kind)
	}
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.root, kind, key[:2], key+ext), nil
}

// Lookup returns the metadata stored for (kind, key).
func (s *Store) Lookup(kind, key string) (artifact.Metadata, error) {
	rec, err := s.readMeta(kind, key)
	if err != nil {
		return artifact.Metadata{}, err
	}
	return rec.metadata(), nil
}

func (s *Store) readMeta(kind, key string) (metaRecord, error) {
	path, err := s.entryPath(kind, key, ".meta")
	if err != nil {
		return metaRecord{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return metaRecord{}, ErrNotFound
	}
	if err != nil {
		return metaRecord{}, fmt.Errorf("reading store metadata: %w", err)
	}

	var rec metaRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return metaRecord{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if rec.Version != metaVersion || rec.Key != key || rec.Kind != kind {
		return metaRecord{}, fmt.Errorf("%w: metadata does not describe %s/%s", ErrCorrupt, kind, key)
	}
	return rec, nil
}

func (r metaRecord) metadata() artifact.Metadata {
	return artifact.Metadata{
		Kind:      r.Kind,
		Key:       r.Key,
		BuildID:   r.BuildID,
		CreatedAt: r.CreatedAt,
		Size:      r.Size,
		Dir:       r.Dir,
		Host:      r.Host,
	}
}

// Save stores source (a file or a directory) under (kind, key). An
// existing entry for the same key is left as is.
func (s *Store) Save(ctx context.Context, kind, key, source string, meta artifact.Metadata) error {
	blobPath, err := s.entryPath(kind, key, ".blob")
	if err != nil {
		return err
	}
	if _, err := s.readMeta(kind, key); err == nil {
		return nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}

	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return fmt.Errorf("creating store shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(blobPath), "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	content, size, err := s.writeBlob(ctx, tmp, source, info.IsDir())
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing blob for %s/%s: %w", kind, key, err)
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		return fmt.Errorf("renaming blob: %w", err)
	}
	success = true

	rec := metaRecord{
		Version:     metaVersion,
		Kind:        kind,
		Key:         key,
		BuildID:     meta.BuildID,
		CreatedAt:   s.now().UTC(),
		Size:        size,
		Dir:         info.IsDir(),
		Host:        meta.Host,
		Compression: s.compression.String(),
		Content:     content,
	}
	return s.writeMeta(kind, key, rec)
}

func (s *Store) writeBlob(ctx context.Context, w io.Writer, source string, dir bool) (string, int64, error) {
	cw, err := s.compression.newWriter(w)
	if err != nil {
		return "", 0, err
	}

	h := blake3.New()
	counter := &countingWriter{w: io.MultiWriter(cw, h)}

	if dir {
		err = writeTar(ctx, counter, source)
	} else {
		err = copyFileTo(counter, source)
	}
	if closeErr := cw.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), counter.n, nil
}

func (s *Store) writeMeta(kind, key string, rec metaRecord) error {
	path, err := s.entryPath(kind, key, ".meta")
	if err != nil {
		return err
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding store metadata: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing store metadata: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming store metadata: %w", err)
	}
	return nil
}

// Restore materializes (kind, key) at dest, which must not exist. The
// decompressed stream is verified against the recorded content digest.
func (s *Store) Restore(ctx context.Context, kind, key, dest string) (artifact.Metadata, error) {
	rec, err := s.readMeta(kind, key)
	if err != nil {
		return artifact.Metadata{}, err
	}
	blobPath, err := s.entryPath(kind, key, ".blob")
	if err != nil {
		return artifact.Metadata{}, err
	}

	codec, err := ParseCompression(rec.Compression)
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	f, err := os.Open(blobPath)
	if errors.Is(err, os.ErrNotExist) {
		return artifact.Metadata{}, ErrNotFound
	}
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("opening blob: %w", err)
	}
	defer func() { _ = f.Close() }()

	cr, err := codec.newReader(f)
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer func() { _ = cr.Close() }()

	h := blake3.New()
	r := io.TeeReader(cr, h)

	if rec.Dir {
		err = readTar(ctx, r, dest)
	} else {
		err = writeFileFrom(r, dest)
	}
	if err != nil {
		return artifact.Metadata{}, fmt.Errorf("restoring %s/%s: %w", kind, key, err)
	}
	// Drain trailing tar padding so the digest covers the whole stream.
	if _, err := io.Copy(io.Discard, r); err != nil {
		return artifact.Metadata{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != rec.Content {
		return artifact.Metadata{}, fmt.Errorf("%w: content digest mismatch for %s/%s", ErrCorrupt, kind, key)
	}
	return rec.metadata(), nil
}

// Remove deletes (kind, key) from the store.
func (s *Store) Remove(kind, key string) error {
	for _, ext := range []string{".meta", ".blob"} {
		path, err := s.entryPath(kind, key, ext)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func copyFileTo(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(w, f)
	return err
}

func writeFileFrom(r io.Reader, dest string) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Ensure Store implements artifact.Store.
var _ artifact.Store = (*Store)(nil)
