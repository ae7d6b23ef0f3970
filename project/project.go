package project

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/cas"
	"github.com/quill-lang/quill/errs"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/parse"
	"github.com/quill-lang/quill/runner"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNotRun is returned by the accessors for a module without a current output.
var ErrNotRun = errors.New("module has not been run")

type Options struct {
	// Linker resolves imports. Without one, any import is a compile error.
	Linker Linker
	// Runner defaults to an embedded runner.
	Runner      runner.Runner
	Environment vm.Environment
	// CacheSize bounds the output cache. Defaults to cas.DefaultLRUSize.
	CacheSize int
	// Store, if set, keeps every encoded output so it survives cache
	// eviction and can be reused by other projects sharing the store.
	Store  cas.Store
	Logger *zerolog.Logger
}

type entry struct {
	key  cas.Hash
	out  *interp.Output
	err  error
	deps []string
}

// Project owns every module, their dependency edges and the output cache.
// Modules run one at a time in dependency order.
type Project struct {
	mu     sync.Mutex
	opts   Options
	env    vm.Environment
	log    zerolog.Logger
	runner runner.Runner

	modules   map[string]*Module
	loaded    map[string]*Module
	continues map[string][]string
	current   map[string]*entry
	runs      map[string]int

	asts     *cas.LRU[cas.Hash, *ast.Program]
	outputs  *cas.LRU[cas.Hash, *interp.Output]
	failures *cas.LRU[cas.Hash, error]
	store    *outputStore
}

func New(opts Options) *Project {
	if opts.CacheSize <= 0 {
		opts.CacheSize = cas.DefaultLRUSize
	}
	p := &Project{
		opts:      opts,
		env:       opts.Environment.WithDefaults(),
		runner:    opts.Runner,
		modules:   make(map[string]*Module),
		loaded:    make(map[string]*Module),
		continues: make(map[string][]string),
		current:   make(map[string]*entry),
		runs:      make(map[string]int),
		asts:      cas.NewLRU[cas.Hash, *ast.Program](opts.CacheSize),
		outputs:   cas.NewLRU[cas.Hash, *interp.Output](opts.CacheSize),
		failures:  cas.NewLRU[cas.Hash, error](opts.CacheSize),
	}
	if p.runner == nil {
		p.runner = runner.NewEmbedded()
	}
	if opts.Logger != nil {
		p.log = *opts.Logger
	} else {
		p.log = log.Logger
	}
	if opts.Store != nil {
		p.store = newOutputStore(opts.Store)
	}
	stored := p.store != nil
	p.outputs.OnEvict(func(key cas.Hash, _ *interp.Output) {
		p.log.Debug().Stringer("key", key).Bool("stored", stored).Msg("output evicted from cache")
	})
	return p
}

func (p *Project) Environment() vm.Environment {
	return p.env
}

// SetSource registers or replaces a module. The module and everything that
// imports or continues it become stale.
func (p *Project) SetSource(name, code string) {
	p.SetModule(&Module{Name: name, Code: code})
}

func (p *Project) SetModule(m *Module) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modules[m.Name] = m
	delete(p.loaded, m.Name)
	p.invalidate(m.Name)
	p.log.Debug().Str("module", m.Name).Stringer("hash", m.Hash()).Msg("set source")
}

// SetContinues makes name see every binding of deps, in order, as if they
// were defined before its first line.
func (p *Project) SetContinues(name string, deps []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.continues[name] = slices.Clone(deps)
	p.invalidate(name)
}

func (p *Project) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.modules, name)
	delete(p.loaded, name)
	delete(p.continues, name)
	delete(p.runs, name)
	p.invalidate(name)
}

// Names lists registered modules in sorted order.
func (p *Project) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.modules))
}

// invalidate drops the current output of name and of every module that
// depended on it when it last ran. Cached outputs stay in the LRU.
func (p *Project) invalidate(name string) {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		delete(p.current, n)
		for other, e := range p.current {
			if slices.Contains(e.deps, n) {
				walk(other)
			}
		}
	}
	walk(name)
	if len(seen) > 1 {
		p.log.Debug().Str("module", name).Int("invalidated", len(seen)).Msg("invalidated dependents")
	}
}

// Run ensures name and everything it depends on have a current output.
func (p *Project) Run(ctx context.Context, name string) (*interp.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.run(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	return e.out, e.err
}

// RunAll runs every registered module. A failing module does not stop the
// others; the failures are returned together.
func (p *Project) RunAll(ctx context.Context) error {
	var result *multierror.Error
	for _, name := range p.Names() {
		if _, err := p.Run(ctx, name); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func (p *Project) Output(name string) (*interp.Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.current[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRun)
	}
	return e.out, e.err
}

func (p *Project) Result(name string) (vm.Value, error) {
	out, err := p.Output(name)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (p *Project) Bindings(name string) (*vm.Dict, error) {
	out, err := p.Output(name)
	if err != nil {
		return nil, err
	}
	return out.Bindings, nil
}

func (p *Project) Exports(name string) (*vm.Dict, error) {
	out, err := p.Output(name)
	if err != nil {
		return nil, err
	}
	return out.Exports, nil
}

// IsStale reports whether name has no current output.
func (p *Project) IsStale(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.current[name]
	return !ok
}

// RunCount is how many times name was handed to the runner.
func (p *Project) RunCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[name]
}

// run returns a non-nil error only for failures that are not cached:
// cancellation and infrastructure errors. Compile and runtime errors are
// stored in the entry, and errors reported by the runner are also cached
// under the output key.
func (p *Project) run(ctx context.Context, name string, stack []string) (*entry, error) {
	if e, ok := p.current[name]; ok {
		return e, nil
	}
	stack = append(stack, name)
	fail := func(err error, deps []string) (*entry, error) {
		e := &entry{err: err, deps: deps}
		p.current[name] = e
		return e, nil
	}

	mod, err := p.module(ctx, name)
	if err != nil {
		if errors.Is(err, ErrModuleNotFound) {
			return fail(errs.NewCompileError(ast.Location{Source: name}, "Module %s not found", name), nil)
		}
		return nil, err
	}
	tree, err := p.parse(mod)
	if err != nil {
		return fail(err, nil)
	}

	deps := slices.Clone(p.continues[name])
	var depKeys []cas.Hash
	externals := map[string]vm.Value{}

	for _, dep := range p.continues[name] {
		if slices.Contains(stack, dep) {
			return fail(circular(ast.Location{Source: name}, stack, dep), deps)
		}
		de, err := p.run(ctx, dep, stack)
		if err != nil {
			return nil, err
		}
		if de.err != nil {
			return fail(&errs.CompileError{Msg: fmt.Sprintf("Failed to run %s", dep), Location: ast.Location{Source: name}, Cause: de.err}, deps)
		}
		depKeys = append(depKeys, de.key)
		for _, k := range de.out.Bindings.Keys() {
			v, _ := de.out.Bindings.Get(k)
			externals[k] = v
		}
	}

	if len(tree.Imports) > 0 && p.opts.Linker == nil {
		return fail(errs.NewCompileError(tree.Imports[0].Location, "Can't use imports when linker is not configured"), deps)
	}
	resolved := make([]string, len(tree.Imports))
	for i, imp := range tree.Imports {
		target, err := p.opts.Linker.Resolve(imp.Path, name)
		if err != nil {
			return fail(&errs.CompileError{Msg: fmt.Sprintf("Can't resolve import %q", imp.Path), Location: imp.Location, Cause: err}, deps)
		}
		resolved[i] = target
		deps = append(deps, target)
	}
	if err := p.preload(ctx, resolved); err != nil {
		return nil, err
	}
	for i, imp := range tree.Imports {
		target := resolved[i]
		if slices.Contains(stack, target) {
			return fail(circular(imp.Location, stack, target), deps)
		}
		depMod, err := p.module(ctx, target)
		if err != nil {
			if errors.Is(err, ErrModuleNotFound) {
				return fail(errs.NewCompileError(imp.Location, "Unknown import %q", imp.Path), deps)
			}
			return nil, err
		}
		if pin, ok := mod.Pins[target]; ok && pin != depMod.Hash() {
			return fail(errs.NewCompileError(imp.Location, "Import %q: pinned hash mismatch, expected %s, got %s", imp.Path, pin, depMod.Hash()), deps)
		}
		de, err := p.run(ctx, target, stack)
		if err != nil {
			return nil, err
		}
		if de.err != nil {
			return fail(&errs.CompileError{Msg: fmt.Sprintf("Failed to import %q", imp.Path), Location: imp.Location, Cause: de.err}, deps)
		}
		depKeys = append(depKeys, de.key)
		externals[imp.Variable] = de.out.Exports
	}

	key := cas.Combine(append([]cas.Hash{mod.Hash(), environmentHash(p.env)}, depKeys...)...)
	if out, ok := p.cached(key); ok {
		p.log.Debug().Str("module", name).Stringer("key", key).Msg("output cache hit")
		e := &entry{key: key, out: out, deps: deps}
		p.current[name] = e
		return e, nil
	}
	if ferr, ok := p.failures.Get(key); ok {
		p.log.Debug().Str("module", name).Stringer("key", key).Msg("failure cache hit")
		e := &entry{key: key, err: ferr, deps: deps}
		p.current[name] = e
		return e, nil
	}

	p.runs[name]++
	p.log.Debug().Str("module", name).Strs("deps", deps).Int("run", p.runs[name]).Msg("running module")
	out, err := p.runner.Run(ctx, runner.RunParams{
		Module:      runner.Module{Name: name, Code: mod.Code},
		AST:         tree,
		Environment: p.env,
		Externals:   externals,
	})
	if err != nil {
		if errs.IsCancelled(err) || isProtocol(err) {
			return nil, err
		}
		p.failures.Put(key, err)
		e := &entry{key: key, err: err, deps: deps}
		p.current[name] = e
		return e, nil
	}
	p.outputs.Put(key, out)
	if p.store != nil {
		if err := p.store.put(key, out); err != nil {
			p.log.Warn().Err(err).Str("module", name).Msg("storing output")
		}
	}
	e := &entry{key: key, out: out, deps: deps}
	p.current[name] = e
	return e, nil
}

func (p *Project) cached(key cas.Hash) (*interp.Output, bool) {
	if out, ok := p.outputs.Get(key); ok {
		return out, true
	}
	if p.store == nil {
		return nil, false
	}
	out, err := p.store.get(key)
	if err != nil {
		p.log.Warn().Err(err).Stringer("key", key).Msg("restoring stored output")
		return nil, false
	}
	if out == nil {
		return nil, false
	}
	p.outputs.Put(key, out)
	return out, true
}

func (p *Project) module(ctx context.Context, name string) (*Module, error) {
	if m, ok := p.modules[name]; ok {
		return m, nil
	}
	if m, ok := p.loaded[name]; ok {
		return m, nil
	}
	if p.opts.Linker == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	m, err := p.opts.Linker.LoadModule(ctx, name)
	if err != nil {
		return nil, linkError(name, err)
	}
	p.loaded[name] = m
	return m, nil
}

// preload fetches every import that is not yet known in parallel.
func (p *Project) preload(ctx context.Context, names []string) error {
	var missing []string
	for _, n := range names {
		_, registered := p.modules[n]
		_, loaded := p.loaded[n]
		if !registered && !loaded && !slices.Contains(missing, n) {
			missing = append(missing, n)
		}
	}
	if len(missing) < 2 {
		return nil
	}
	mods := make([]*Module, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range missing {
		g.Go(func() error {
			m, err := p.opts.Linker.LoadModule(gctx, n)
			if errors.Is(err, ErrModuleNotFound) {
				return nil
			}
			mods[i] = m
			if err != nil {
				return linkError(n, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, m := range mods {
		if m != nil {
			p.loaded[m.Name] = m
		}
	}
	return nil
}

func (p *Project) parse(m *Module) (*ast.Program, error) {
	h := m.Hash()
	if tree, ok := p.asts.Get(h); ok {
		return tree, nil
	}
	tree, err := parse.Parse(m.Name, m.Code)
	if err != nil {
		return nil, err
	}
	p.asts.Put(h, tree)
	return tree, nil
}

func circular(loc ast.Location, stack []string, target string) error {
	i := slices.Index(stack, target)
	cycle := append(slices.Clone(stack[i:]), target)
	return errs.NewCompileError(loc, "Circular import: %s", strings.Join(cycle, " -> "))
}

// linkError keeps ErrModuleNotFound and cancellation recognizable and lifts
// any other linker failure into a ProtocolError.
func linkError(name string, err error) error {
	switch {
	case errors.Is(err, ErrModuleNotFound):
		return err
	case errs.IsCancelled(err):
		return errs.CancelledError(err, nil)
	}
	return errs.NewProtocolError(err, "loading module %s", name)
}

func isProtocol(err error) bool {
	var perr *errs.ProtocolError
	return errors.As(err, &perr)
}
