package execution

import (
	"context"
	"path"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/ports"
)

const initDir = "etc/init.d"

func (e *Executor) openrcEnable(ctx context.Context, env Env, o component.OpenrcEnableOp) error {
	bc := env.Build
	script := path.Join(initDir, o.Script)
	if !e.fs.Exists(bc.StagingPath(script)) {
		env.Logger.Warn(ctx, "enabling service without init script", ports.F("script", o.Script), ports.F("runlevel", o.Runlevel))
	}

	link := bc.StagingPath(path.Join("etc/runlevels", o.Runlevel, o.Script))
	return e.symlink(ctx, link, "/"+script)
}

// openrcScripts copies every named init script and reports all absent ones together.
func (e *Executor) openrcScripts(bc BuildContext, o component.OpenrcScriptsOp) error {
	var missing []string
	for _, s := range o.Scripts {
		rel := path.Join(initDir, s)
		src := bc.SourcePath(rel)
		if !e.fs.Exists(src) {
			missing = append(missing, s)
			continue
		}
		dst := bc.StagingPath(rel)
		if err := e.copyEntry(src, dst); err != nil {
			return err
		}
		if isLink, _ := e.fs.IsSymlink(dst); !isLink {
			if err := e.fs.Chmod(dst, component.ExecutableMode); err != nil {
				return err
			}
		}
	}

	if len(missing) > 0 {
		err := builderr.NewMissingInput(bc.SourcePath(initDir))
		err.Missing = missing
		return err
	}
	return nil
}
