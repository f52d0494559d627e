package component

import (
	"fmt"
	"io/fs"
	"strings"
)

// Default permission bits for operations that do not name one.
const (
	DefaultDirMode  fs.FileMode = 0o755
	DefaultFileMode fs.FileMode = 0o644
	ExecutableMode  fs.FileMode = 0o755

	// ModeSticky is OR-ed into a DirMode mode for sticky directories.
	ModeSticky = fs.ModeSticky
)

// Operation is one declarative staging mutation. The set of operation
// types is closed; the executor switches over it exhaustively.
type Operation interface {
	// String describes the operation for logs and error messages.
	String() string
	operation()
}

// CustomTag names a handler in a distro's custom operation table.
type CustomTag string

// DirOp creates a directory if it is missing.
type DirOp struct {
	Path string
}

// DirModeOp creates a directory if missing and re-applies Mode every run.
type DirModeOp struct {
	Path string
	Mode fs.FileMode
}

// DirsOp creates several directories if missing.
type DirsOp struct {
	Paths []string
}

// WriteFileOp writes Content to Path, always overwriting.
type WriteFileOp struct {
	Path    string
	Content string
	Mode    fs.FileMode
}

// SymlinkOp creates Link pointing at Target, replacing whatever occupies Link.
type SymlinkOp struct {
	Link   string
	Target string
}

// CopyFileOp copies one file from source to the same relative path in
// staging. The source must exist.
type CopyFileOp struct {
	Path string
}

// CopyTreeOp copies a directory tree from source, recreating symlinks.
// An absent source is logged and skipped.
type CopyTreeOp struct {
	Path string
}

// BinaryOp copies executables and their shared libraries.
type BinaryOp struct {
	Names []string
	// System searches sbin locations first.
	System bool
}

// OpenrcEnableOp links an init script into a runlevel.
type OpenrcEnableOp struct {
	Script   string
	Runlevel string
}

// OpenrcScriptsOp copies init scripts from source etc/init.d.
type OpenrcScriptsOp struct {
	Scripts []string
}

// OpenrcConfOp writes etc/conf.d/<Service>.
type OpenrcConfOp struct {
	Service string
	Content string
}

// UserOp appends a passwd (and shadow) entry unless Name already exists.
type UserOp struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// GroupOp appends a group entry unless Name already exists.
type GroupOp struct {
	Name string
	GID  int
}

// CustomOp dispatches to a named handler.
type CustomOp struct {
	Tag CustomTag
}

func (DirOp) operation()           {}
func (DirModeOp) operation()       {}
func (DirsOp) operation()          {}
func (WriteFileOp) operation()     {}
func (SymlinkOp) operation()       {}
func (CopyFileOp) operation()      {}
func (CopyTreeOp) operation()      {}
func (BinaryOp) operation()        {}
func (OpenrcEnableOp) operation()  {}
func (OpenrcScriptsOp) operation() {}
func (OpenrcConfOp) operation()    {}
func (UserOp) operation()          {}
func (GroupOp) operation()         {}
func (CustomOp) operation()        {}

func (o DirOp) String() string { return fmt.Sprintf("dir %q", o.Path) }

func (o DirModeOp) String() string {
	return fmt.Sprintf("dir %q mode %04o", o.Path, UnixMode(o.Mode))
}

func (o DirsOp) String() string { return fmt.Sprintf("dirs [%d]", len(o.Paths)) }

func (o WriteFileOp) String() string { return fmt.Sprintf("write %q", o.Path) }

func (o SymlinkOp) String() string { return fmt.Sprintf("symlink %q -> %q", o.Link, o.Target) }

func (o CopyFileOp) String() string { return fmt.Sprintf("copy %q", o.Path) }

func (o CopyTreeOp) String() string { return fmt.Sprintf("copy tree %q", o.Path) }

func (o BinaryOp) String() string {
	verb := "bin"
	if o.System {
		verb = "sbin"
	}
	if len(o.Names) == 1 {
		return fmt.Sprintf("%s %q", verb, o.Names[0])
	}
	return fmt.Sprintf("%ss [%s]", verb, strings.Join(o.Names, " "))
}

func (o OpenrcEnableOp) String() string {
	return fmt.Sprintf("openrc enable %q in %q", o.Script, o.Runlevel)
}

func (o OpenrcScriptsOp) String() string {
	return fmt.Sprintf("openrc scripts [%s]", strings.Join(o.Scripts, " "))
}

func (o OpenrcConfOp) String() string { return fmt.Sprintf("openrc conf %q", o.Service) }

func (o UserOp) String() string { return fmt.Sprintf("user %q", o.Name) }

func (o GroupOp) String() string { return fmt.Sprintf("group %q", o.Name) }

func (o CustomOp) String() string { return fmt.Sprintf("custom %s", o.Tag) }

// UnixMode renders m as the octal value chmod(1) would use.
func UnixMode(m fs.FileMode) uint32 {
	v := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		v |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		v |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		v |= 0o1000
	}
	return v
}

// Dir creates path if missing.
func Dir(path string) Operation { return DirOp{Path: path} }

// DirMode creates path if missing and always applies mode.
func DirMode(path string, mode fs.FileMode) Operation { return DirModeOp{Path: path, Mode: mode} }

// Dirs creates every path if missing.
func Dirs(paths ...string) Operation { return DirsOp{Paths: paths} }

// WriteFile writes content with mode 0644.
func WriteFile(path, content string) Operation {
	return WriteFileOp{Path: path, Content: content, Mode: DefaultFileMode}
}

// WriteFileMode writes content with an explicit mode.
func WriteFileMode(path, content string, mode fs.FileMode) Operation {
	return WriteFileOp{Path: path, Content: content, Mode: mode}
}

// Symlink links link to target.
func Symlink(link, target string) Operation { return SymlinkOp{Link: link, Target: target} }

// CopyFile copies a required file.
func CopyFile(path string) Operation { return CopyFileOp{Path: path} }

// CopyTree copies an optional directory tree.
func CopyTree(path string) Operation { return CopyTreeOp{Path: path} }

// Bin copies one user binary.
func Bin(name string) Operation { return BinaryOp{Names: []string{name}} }

// Sbin copies one system binary.
func Sbin(name string) Operation { return BinaryOp{Names: []string{name}, System: true} }

// Bins copies several user binaries, reporting all missing names together.
func Bins(names ...string) Operation { return BinaryOp{Names: names} }

// Sbins copies several system binaries, reporting all missing names together.
func Sbins(names ...string) Operation { return BinaryOp{Names: names, System: true} }

// OpenrcEnable enables script in runlevel.
func OpenrcEnable(script, runlevel string) Operation {
	return OpenrcEnableOp{Script: script, Runlevel: runlevel}
}

// OpenrcScripts copies init scripts.
func OpenrcScripts(scripts ...string) Operation { return OpenrcScriptsOp{Scripts: scripts} }

// OpenrcConf writes a service configuration file.
func OpenrcConf(service, content string) Operation {
	return OpenrcConfOp{Service: service, Content: content}
}

// User upserts a system account.
func User(name string, uid, gid int, home, shell string) Operation {
	return UserOp{Name: name, UID: uid, GID: gid, Home: home, Shell: shell}
}

// Group upserts a system group.
func Group(name string, gid int) Operation { return GroupOp{Name: name, GID: gid} }

// Custom dispatches to the handler registered for tag.
func Custom(tag CustomTag) Operation { return CustomOp{Tag: tag} }
