package execution

import (
	"bytes"
	"fmt"
	"io/fs"

	"github.com/acornos/acornbuild/internal/domain/component"
)

const (
	passwdFile = "etc/passwd"
	shadowFile = "etc/shadow"
	groupFile  = "etc/group"

	shadowMode fs.FileMode = 0o640
)

// upsertUser adds passwd and shadow lines for o unless the name is present.
// Existing lines are never rewritten.
func (e *Executor) upsertUser(bc BuildContext, o component.UserOp) error {
	entry := fmt.Sprintf("%s:x:%d:%d:%s:%s:%s", o.Name, o.UID, o.GID, o.Name, o.Home, o.Shell)
	if err := e.appendAccount(bc.StagingPath(passwdFile), o.Name, entry, component.DefaultFileMode); err != nil {
		return err
	}
	return e.appendAccount(bc.StagingPath(shadowFile), o.Name, o.Name+":!::0:::::", shadowMode)
}

func (e *Executor) upsertGroup(bc BuildContext, o component.GroupOp) error {
	entry := fmt.Sprintf("%s:x:%d:", o.Name, o.GID)
	return e.appendAccount(bc.StagingPath(groupFile), o.Name, entry, component.DefaultFileMode)
}

// appendAccount appends line to the colon-separated database at path when
// no existing line names the same account. The file is created if absent.
func (e *Executor) appendAccount(path, name, line string, mode fs.FileMode) error {
	var data []byte
	if e.fs.Exists(path) {
		existing, err := e.fs.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if hasAccount(existing, name) {
			return nil
		}
		data = existing
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	data = append(data, line...)
	data = append(data, '\n')

	return e.writeFile(path, data, mode)
}

func hasAccount(db []byte, name string) bool {
	prefix := []byte(name + ":")
	for _, l := range bytes.Split(db, []byte("\n")) {
		if bytes.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}
