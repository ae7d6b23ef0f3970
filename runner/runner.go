// Package runner executes one module against an environment, either in
// process or through isolated workers.
package runner

import (
	"context"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/compiler"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/parse"
	"github.com/quill-lang/quill/stdlib"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
)

type Module struct {
	Name string `msgpack:"name"`
	Code string `msgpack:"code"`
}

// RunParams is one unit of work. AST may be supplied to skip parsing; it is
// only honored by in-process runners.
type RunParams struct {
	Module      Module
	AST         *ast.Program
	Environment vm.Environment
	Externals   map[string]vm.Value
}

// Runner executes a module and returns its output or a taxonomy error.
type Runner interface {
	Run(ctx context.Context, p RunParams) (*interp.Output, error)
}

// Embedded runs synchronously on the calling goroutine.
type Embedded struct {
	lib *stdlib.Library
}

func NewEmbedded() *Embedded {
	return &Embedded{lib: stdlib.New()}
}

// Library is the standard library this runner compiles against.
func (e *Embedded) Library() *stdlib.Library {
	return e.lib
}

func (e *Embedded) Run(ctx context.Context, p RunParams) (*interp.Output, error) {
	env := p.Environment.WithDefaults()
	if err := env.Validate(); err != nil {
		return nil, errs.Wrap(err)
	}
	tree := p.AST
	if tree == nil {
		var err error
		if tree, err = parse.Parse(p.Module.Name, p.Module.Code); err != nil {
			return nil, err
		}
	}
	externals := compiler.Layers{e.lib, compiler.MapExternals{p.Externals}}
	prog, err := compiler.Compile(tree, p.Module.Name, externals)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("module", p.Module.Name).
		Int("exprs", len(prog.Exprs)).
		Int("externals", len(p.Externals)).
		Msg("embedded run")
	return interp.RunProgram(ctx, prog, env)
}
