// Package kilnc is the embedded compiler front-end for kiln source. It
// parses units, resolves type names, checks the shape of type
// hierarchies and emits one artifact per declared type. Method bodies
// are not compiled; only the type names they mention are resolved.
package kilnc

import (
	"context"
	"fmt"

	"kiln/internal/diag"
	"kiln/internal/frontend"
	"kiln/internal/project"
)

// Options configure the front-end. The zero value reports no tasks and
// reports undefined types in code as errors.
type Options struct {
	TaskTags          []string
	TaskPriorities    []diag.Priority
	TaskCaseSensitive bool
	// BodyTypeSeverity is used for unresolved types in method bodies
	// and initializers.
	BodyTypeSeverity diag.Severity
}

// OptionBodyTypes is the [compiler] options key for BodyTypeSeverity.
const OptionBodyTypes = "undefined_body_type"

// OptionsFor derives options from a project's manifest.
func OptionsFor(p *project.Project) (Options, error) {
	opts := Options{
		TaskTags:          p.Tasks.Tags,
		TaskCaseSensitive: p.Tasks.CaseSensitive,
		BodyTypeSeverity:  diag.SevError,
	}
	for _, s := range p.Tasks.Priorities {
		prio, err := diag.ParsePriority(s)
		if err != nil {
			return Options{}, err
		}
		opts.TaskPriorities = append(opts.TaskPriorities, prio)
	}
	if v, ok := p.CompilerOptions[OptionBodyTypes]; ok {
		sev, err := diag.ParseSeverity(v)
		if err != nil {
			return Options{}, fmt.Errorf("compiler option %s: %w", OptionBodyTypes, err)
		}
		opts.BodyTypeSeverity = sev
	}
	return opts, nil
}

type Compiler struct {
	opts Options
}

var _ frontend.Compiler = (*Compiler)(nil)

func New(opts Options) *Compiler {
	return &Compiler{opts: opts}
}

// Compile compiles req.Units and every additional unit the environment
// hands back while resolving them. Results are accepted in load order.
func (c *Compiler) Compile(ctx context.Context, req *frontend.Request) error {
	if req.Env == nil || req.Accept == nil {
		return fmt.Errorf("kilnc: request needs an environment and an accept callback")
	}
	s := newSession(ctx, c.opts, req)
	for _, src := range req.Units {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.load(src)
		if s.err != nil {
			return s.err
		}
	}

	// headers of the requested units first, so hierarchy checks see
	// every supertype declared in this call
	for i := 0; i < len(s.units); i++ {
		s.resolveImports(s.units[i])
		for _, t := range s.units[i].file.Types {
			s.resolveHeader(t)
		}
		if s.err != nil {
			return s.err
		}
	}

	for i := 0; i < len(s.units); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		u := s.units[i]
		s.resolveImports(u)
		s.resolveBodies(u)
		s.check(u)
		if s.err != nil {
			return s.err
		}
	}

	for _, u := range s.units {
		res, err := s.emit(u)
		if err != nil {
			return fmt.Errorf("kilnc: %w", err)
		}
		if err := req.Accept(res); err != nil {
			return err
		}
	}
	return nil
}
