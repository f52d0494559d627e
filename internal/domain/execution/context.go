package execution

import (
	"path/filepath"
)

// BuildContext names the trees one registry pass works with. Source is
// read-only; Staging is owned exclusively by the pass.
type BuildContext struct {
	Source  string
	Staging string
	BaseDir string
	Output  string
}

// SourcePath joins rel onto the source tree.
func (c BuildContext) SourcePath(rel string) string {
	return filepath.Join(c.Source, rel)
}

// StagingPath joins rel onto the staging tree.
func (c BuildContext) StagingPath(rel string) string {
	return filepath.Join(c.Staging, rel)
}

// BasePath joins rel onto the project directory.
func (c BuildContext) BasePath(rel string) string {
	return filepath.Join(c.BaseDir, rel)
}

// OutputPath joins rel onto the output directory.
func (c BuildContext) OutputPath(rel string) string {
	return filepath.Join(c.Output, rel)
}

// WithStaging returns a copy that stages into dir.
func (c BuildContext) WithStaging(dir string) BuildContext {
	c.Staging = dir
	return c
}

// WithSource returns a copy that reads from dir.
func (c BuildContext) WithSource(dir string) BuildContext {
	c.Source = dir
	return c
}
