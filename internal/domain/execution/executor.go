package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acornos/acornbuild/internal/domain/builderr"
	"github.com/acornos/acornbuild/internal/domain/component"
	"github.com/acornos/acornbuild/internal/domain/license"
	"github.com/acornos/acornbuild/internal/ports"
)

// Library is one shared-library dependency reported by a DependencyLister.
type Library struct {
	Name string
	Path string // absolute path
}

// DependencyLister discovers the runtime libraries of a binary. A
// statically linked binary yields no libraries and no error.
type DependencyLister interface {
	Libraries(ctx context.Context, binary string) ([]Library, error)
}

// Dispatcher resolves custom tags to handlers. Implementations switch
// over a closed set of tags and reject unknown ones.
type Dispatcher interface {
	Dispatch(ctx context.Context, tag component.CustomTag, env Env) error
}

// Env is what a custom handler receives.
type Env struct {
	// Component is the name of the component being applied.
	Component string
	Build     BuildContext
	Tracker   *license.Tracker
	FS        ports.FileSystem
	Runner    ports.CommandRunner
	Logger    ports.Logger

	exec *Executor
}

// Apply runs a declarative operation from inside a custom handler.
func (e Env) Apply(ctx context.Context, op component.Operation) error {
	return e.exec.apply(ctx, e, op)
}

// WithStaging returns an Env whose operations resolve staging paths under dir.
func (e Env) WithStaging(dir string) Env {
	e.Build = e.Build.WithStaging(dir)
	return e
}

// CopyTree copies src to dst recreating symlinks. It reports false without
// error when src does not exist.
func (e Env) CopyTree(ctx context.Context, src, dst string) (bool, error) {
	return e.exec.copyTree(ctx, src, dst)
}

// Executor applies registries one operation at a time. It is sequential
// and stops at the first failure; it never rolls back partial work.
type Executor struct {
	fs         ports.FileSystem
	runner     ports.CommandRunner
	lister     DependencyLister
	dispatcher Dispatcher
	licenses   license.Source
	logger     ports.Logger
}

// NewExecutor creates an Executor over fs.
func NewExecutor(fs ports.FileSystem, logger ports.Logger) *Executor {
	return &Executor{fs: fs, logger: logger}
}

// loggerFor prefers a logger attached to ctx, so callers can scope every
// line of a pass with their own fields.
func (e *Executor) loggerFor(ctx context.Context) ports.Logger {
	if l := ports.LoggerFromContext(ctx); l != nil {
		return l
	}
	return e.logger
}

func (e *Executor) clone() *Executor {
	c := *e
	return &c
}

// WithRunner returns an Executor whose custom handlers may run child processes.
func (e *Executor) WithRunner(runner ports.CommandRunner) *Executor {
	c := e.clone()
	c.runner = runner
	return c
}

// WithLister returns an Executor that copies shared libraries of binaries.
func (e *Executor) WithLister(lister DependencyLister) *Executor {
	c := e.clone()
	c.lister = lister
	return c
}

// WithDispatcher returns an Executor that resolves custom tags through d.
func (e *Executor) WithDispatcher(d Dispatcher) *Executor {
	c := e.clone()
	c.dispatcher = d
	return c
}

// WithLicenses returns an Executor that flushes the tracker into staging
// through src after a successful pass.
func (e *Executor) WithLicenses(src license.Source) *Executor {
	c := e.clone()
	c.licenses = src
	return c
}

// Run applies every component of reg in order. The tracker is flushed only
// if every component succeeds.
func (e *Executor) Run(ctx context.Context, bc BuildContext, reg *component.Registry, tracker *license.Tracker) ([]ComponentResult, error) {
	results := make([]ComponentResult, 0, reg.Len())
	logger := e.loggerFor(ctx).With(ports.F("registry", reg.Name()))

	for _, c := range reg.Components() {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("registry %s cancelled before %s: %w", reg.Name(), c.Name, err)
		}

		start := time.Now()
		applied, err := e.ExecuteComponent(ctx, bc, c, tracker)
		result := NewComponentResult(c, applied, err).WithDuration(time.Since(start))
		results = append(results, result)

		if err != nil {
			logger.Error(ctx, "component failed", ports.F("component", c.Name), ports.F("error", err))
			return results, err
		}
		logger.Info(ctx, "component applied", ports.F("component", c.Name), ports.F("phase", c.Phase), ports.F("ops", applied))
	}

	if e.licenses != nil && tracker != nil {
		if _, err := tracker.Flush(ctx, e.fs, e.licenses, bc.Staging, logger); err != nil {
			return results, fmt.Errorf("flushing licenses: %w", err)
		}
	}

	return results, nil
}

// ExecuteComponent applies the operations of c in list order and returns
// how many completed.
func (e *Executor) ExecuteComponent(ctx context.Context, bc BuildContext, c component.Component, tracker *license.Tracker) (int, error) {
	env := Env{
		Component: c.Name,
		Build:     bc,
		Tracker:   tracker,
		FS:        e.fs,
		Runner:    e.runner,
		Logger:    e.loggerFor(ctx).With(ports.F("component", c.Name)),
		exec:      e,
	}

	for i, op := range c.Ops {
		env.Logger.Debug(ctx, "applying", ports.F("op", op.String()))
		if err := e.apply(ctx, env, op); err != nil {
			return i, scope(c.Name, op, err)
		}
	}
	return len(c.Ops), nil
}

// scope attaches the owning component and operation to err.
func scope(name string, op component.Operation, err error) error {
	var be *builderr.BuildError
	if errors.As(err, &be) && be.Component == "" {
		return be.WithComponent(name, op.String())
	}
	if be != nil {
		return err
	}
	return builderr.NewOperationFailed(name, op.String(), err)
}

func (e *Executor) apply(ctx context.Context, env Env, op component.Operation) error {
	bc := env.Build

	switch o := op.(type) {
	case component.DirOp:
		return e.mkdir(bc.StagingPath(o.Path))
	case component.DirModeOp:
		return e.mkdirMode(bc.StagingPath(o.Path), o.Mode)
	case component.DirsOp:
		for _, p := range o.Paths {
			if err := e.mkdir(bc.StagingPath(p)); err != nil {
				return err
			}
		}
		return nil
	case component.WriteFileOp:
		return e.writeFile(bc.StagingPath(o.Path), []byte(o.Content), o.Mode)
	case component.SymlinkOp:
		return e.symlink(ctx, bc.StagingPath(o.Link), o.Target)
	case component.CopyFileOp:
		return e.copyRequired(bc.SourcePath(o.Path), bc.StagingPath(o.Path))
	case component.CopyTreeOp:
		copied, err := e.copyTree(ctx, bc.SourcePath(o.Path), bc.StagingPath(o.Path))
		if err == nil && !copied {
			env.Logger.Info(ctx, "optional tree absent, skipped", ports.F("path", o.Path))
		}
		return err
	case component.BinaryOp:
		return e.copyBinaries(ctx, env, o)
	case component.OpenrcEnableOp:
		return e.openrcEnable(ctx, env, o)
	case component.OpenrcScriptsOp:
		return e.openrcScripts(bc, o)
	case component.OpenrcConfOp:
		return e.writeFile(bc.StagingPath("etc/conf.d/"+o.Service), []byte(o.Content), component.DefaultFileMode)
	case component.UserOp:
		return e.upsertUser(bc, o)
	case component.GroupOp:
		return e.upsertGroup(bc, o)
	case component.CustomOp:
		return e.custom(ctx, env, o)
	default:
		return fmt.Errorf("unsupported operation %T", op)
	}
}

func (e *Executor) custom(ctx context.Context, env Env, o component.CustomOp) error {
	if e.dispatcher == nil {
		return builderr.NewCustomOpFailed(env.Component, string(o.Tag), errors.New("no custom operation table configured"))
	}
	if err := e.dispatcher.Dispatch(ctx, o.Tag, env); err != nil {
		return builderr.NewCustomOpFailed(env.Component, string(o.Tag), err)
	}
	return nil
}
