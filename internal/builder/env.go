package builder

import (
	"context"
	"strings"

	"kiln/internal/artifact"
	"kiln/internal/frontend"
	"kiln/internal/trace"
	"kiln/internal/workspace"
)

// location is an output folder searched for compiled types: the
// project's own outputs first, then those of its prerequisites.
type location struct {
	fs  workspace.FileSystem
	dir string
}

// nameEnv answers front-end lookups over the units pending in this pass
// and the artifacts already on disk.
type nameEnv struct {
	fs        workspace.FileSystem
	sourceDir []string
	binaries  []location

	// incremental is set during incremental builds; a lookup of a type
	// that one of the compiled units was expected to define aborts them.
	incremental bool

	initialTypeNames map[string]struct{}
	additional       map[string]*frontend.SourceUnit
}

var _ frontend.NameEnvironment = (*nameEnv)(nil)

func (e *nameEnv) setNames(units, additional []*frontend.SourceUnit) {
	e.initialTypeNames = make(map[string]struct{}, len(units))
	for _, u := range units {
		e.initialTypeNames[u.InitialTypeName] = struct{}{}
	}
	e.additional = make(map[string]*frontend.SourceUnit, len(additional))
	for _, u := range additional {
		e.additional[u.InitialTypeName] = u
	}
}

func (e *nameEnv) FindType(ctx context.Context, typeName string) (frontend.Answer, error) {
	if err := ctx.Err(); err != nil {
		return frontend.Answer{}, err
	}
	if _, ok := e.initialTypeNames[typeName]; ok {
		if e.incremental {
			// a type inside a compiled unit was renamed but other
			// artifacts still look for it
			return frontend.Answer{}, abort("type no longer defined by its unit", typeName)
		}
		return frontend.Answer{}, nil
	}
	if len(e.additional) > 0 {
		// only enclosing types are keyed; a secondary type search never
		// answers a pending unit
		outer := typeName
		if i := strings.IndexByte(outer, '$'); i > 0 {
			outer = outer[:i]
		}
		if u, ok := e.additional[outer]; ok {
			trace.Log(ctx, trace.ScopeNode, "env.source", typeName)
			return frontend.Answer{Source: u}, nil
		}
	}
	for _, loc := range e.binaries {
		data, err := loc.fs.ReadFile(artifact.PathFor(loc.dir, typeName))
		if err != nil {
			if workspace.IsNotExist(err) {
				continue
			}
			return frontend.Answer{}, &InternalError{Op: "read artifact " + typeName, Err: err, InCompiler: true}
		}
		cf, err := artifact.Decode(data)
		if err != nil || cf.Name != typeName {
			// unreadable artifacts are treated as missing
			continue
		}
		trace.Log(ctx, trace.ScopeNode, "env.binary", typeName)
		return frontend.Answer{Binary: cf}, nil
	}
	return frontend.Answer{}, nil
}

func (e *nameEnv) IsPackage(ctx context.Context, pkg string) bool {
	if ctx.Err() != nil {
		return false
	}
	for _, dir := range e.sourceDir {
		if isDir(e.fs, workspace.Join(dir, pkg)) {
			return true
		}
	}
	for _, loc := range e.binaries {
		if isDir(loc.fs, workspace.Join(loc.dir, pkg)) {
			return true
		}
	}
	return false
}

func (e *nameEnv) ReadSource(u *frontend.SourceUnit) ([]byte, error) {
	data, err := e.fs.ReadFile(u.Locator)
	if err != nil {
		return nil, &InternalError{Op: "read " + u.Locator, Err: err, InCompiler: true}
	}
	return data, nil
}

func isDir(fsys workspace.FileSystem, p string) bool {
	info, err := fsys.Stat(p)
	return err == nil && info.IsDir()
}
