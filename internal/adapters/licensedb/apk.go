// Package licensedb answers ownership and license questions about an
// Alpine source tree from its apk installed database.
package licensedb

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/acornos/acornbuild/internal/domain/license"
	"github.com/acornos/acornbuild/internal/ports"
)

// InstalledPath is the apk database location relative to the source root.
const InstalledPath = "lib/apk/db/installed"

var binDirs = map[string]bool{"bin": true, "sbin": true, "usr/bin": true, "usr/sbin": true}

// Package is one record of the installed database.
type Package struct {
	Name    string
	Version string
	License string
	Files   []string
}

// DB implements license.Source over a source tree.
type DB struct {
	fs       ports.FileSystem
	source   string
	packages map[string]Package
	owners   map[string]string
}

// Open reads the installed database of the tree at source.
func Open(fs ports.FileSystem, source string) (*DB, error) {
	data, err := fs.ReadFile(filepath.Join(source, InstalledPath))
	if err != nil {
		return nil, fmt.Errorf("reading apk database: %w", err)
	}
	pkgs, err := Parse(data)
	if err != nil {
		return nil, err
	}

	db := &DB{
		fs:       fs,
		source:   source,
		packages: make(map[string]Package, len(pkgs)),
		owners:   make(map[string]string),
	}
	for _, p := range pkgs {
		db.packages[p.Name] = p
		for _, f := range p.Files {
			dir, name := filepath.Split(f)
			if binDirs[strings.TrimSuffix(dir, "/")] {
				if _, taken := db.owners[name]; !taken {
					db.owners[name] = p.Name
				}
			}
		}
	}
	return db, nil
}

// Parse decodes the apk installed database: blank-line separated records
// of "X:value" lines where P names the package, F a directory and R a file
// inside the most recent F.
func Parse(data []byte) ([]Package, error) {
	var (
		pkgs []Package
		cur  Package
		dir  string
	)
	flush := func() {
		if cur.Name != "" {
			pkgs = append(pkgs, cur)
		}
		cur, dir = Package{}, ""
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			flush()
			continue
		}
		if len(text) < 2 || text[1] != ':' {
			return nil, fmt.Errorf("apk database line %d: malformed entry %q", line, text)
		}
		value := text[2:]
		switch text[0] {
		case 'P':
			cur.Name = value
		case 'V':
			cur.Version = value
		case 'L':
			cur.License = value
		case 'F':
			dir = value
		case 'R':
			cur.Files = append(cur.Files, filepath.Join(dir, value))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading apk database: %w", err)
	}
	flush()
	return pkgs, nil
}

// Package returns the record for name.
func (db *DB) Package(name string) (Package, bool) {
	p, ok := db.packages[name]
	return p, ok
}

// Len returns the number of installed packages.
func (db *DB) Len() int {
	return len(db.packages)
}

// Owner returns the package installing the named binary in a bin directory.
func (db *DB) Owner(binary string) (string, bool) {
	pkg, ok := db.owners[binary]
	return pkg, ok
}

// License returns the files under usr/share/licenses/<pkg> in the source
// tree, concatenated in name order.
func (db *DB) License(pkg string) ([]byte, error) {
	dir := filepath.Join(db.source, license.LicenseDir, pkg)
	if !db.fs.IsDir(dir) {
		return nil, license.ErrNoLicense
	}
	entries, err := db.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		data, err := db.fs.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading license %s/%s: %w", pkg, name, err)
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.Write(data)
	}
	if buf.Len() == 0 {
		return nil, license.ErrNoLicense
	}
	return buf.Bytes(), nil
}

// Empty is a license.Source with no packages, used when the source tree
// has no apk database.
type Empty struct{}

// Owner always reports no owner.
func (Empty) Owner(string) (string, bool) { return "", false }

// License always returns license.ErrNoLicense.
func (Empty) License(string) ([]byte, error) { return nil, license.ErrNoLicense }

// OpenOrEmpty is Open, falling back to Empty when the database is absent.
func OpenOrEmpty(fs ports.FileSystem, source string) (license.Source, error) {
	if !fs.Exists(filepath.Join(source, InstalledPath)) {
		return Empty{}, nil
	}
	db, err := Open(fs, source)
	if err != nil {
		return nil, err
	}
	return db, nil
}

var (
	_ license.Source = (*DB)(nil)
	_ license.Source = Empty{}
)
