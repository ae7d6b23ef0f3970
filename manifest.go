// Package quill loads quill.toml project manifests and builds the project
// and runner they describe.
package quill

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/quill-lang/quill/cas"
	"github.com/quill-lang/quill/project"
	"github.com/quill-lang/quill/runner"
	"github.com/quill-lang/quill/vm"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const ManifestName = "quill.toml"

const (
	RunnerEmbedded = "embedded"
	RunnerWorker   = "worker"
	RunnerProcess  = "process"
	RunnerPool     = "pool"
)

type Manifest struct {
	Project     ProjectSection        `toml:"project"`
	Environment vm.Environment        `toml:"environment"`
	Runner      RunnerSection         `toml:"runner"`
	Modules     map[string]ModuleSpec `toml:"modules"`

	// dir is the directory the manifest was loaded from.
	dir string
}

type ProjectSection struct {
	Entry string `toml:"entry,omitempty"`
	// Root is where imports are looked up, relative to the manifest.
	Root string `toml:"root,omitempty"`
	// Store is a directory, relative to the manifest, that keeps module
	// outputs between runs. Empty disables it.
	Store string `toml:"store,omitempty"`
}

type RunnerSection struct {
	Kind       string `toml:"kind,omitempty"`
	Threads    int    `toml:"threads,omitempty"`
	QueueLimit int    `toml:"queue_limit,omitempty"`
	// Process makes pool threads subprocesses instead of goroutines.
	Process bool `toml:"process,omitempty"`
	// Worker is the binary started for process workers. Defaults to the
	// running executable.
	Worker string `toml:"worker,omitempty"`
}

type ModuleSpec struct {
	File      string            `toml:"file,omitempty"`
	Continues []string          `toml:"continues,omitempty"`
	Pins      map[string]string `toml:"pins,omitempty"`
}

func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Project.Entry == "" {
		m.Project.Entry = "main"
	}
	if m.Project.Root == "" {
		m.Project.Root = "."
	}
	if m.Runner.Kind == "" {
		m.Runner.Kind = RunnerEmbedded
	}
	m.Environment = m.Environment.WithDefaults()
	for name, entry := range m.Modules {
		if entry.File == "" {
			entry.File = name + project.FileExtension
			m.Modules[name] = entry
		}
	}
}

func (m *Manifest) Validate() error {
	if !slices.Contains([]string{RunnerEmbedded, RunnerWorker, RunnerProcess, RunnerPool}, m.Runner.Kind) {
		return fmt.Errorf("unknown runner kind %q", m.Runner.Kind)
	}
	if m.Runner.Threads < 0 {
		return fmt.Errorf("runner threads must not be negative, got %d", m.Runner.Threads)
	}
	if err := m.Environment.Validate(); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	for name, entry := range m.Modules {
		for _, dep := range entry.Continues {
			if _, ok := m.Modules[dep]; !ok {
				return fmt.Errorf("module %s continues unknown module %s", name, dep)
			}
		}
		for dep, pin := range entry.Pins {
			if _, err := parseHash(pin); err != nil {
				return fmt.Errorf("module %s: pin for %s: %w", name, dep, err)
			}
		}
	}
	return nil
}

func parseHash(s string) (cas.Hash, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q", s)
	}
	return cas.Hash(v), nil
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.dir, p)
}

// BuildRunner creates the runner the manifest asks for. The returned
// function releases any workers it started.
func (m *Manifest) BuildRunner() (runner.Runner, func() error, error) {
	noop := func() error { return nil }
	worker := m.Runner.Worker
	if worker == "" && (m.Runner.Kind == RunnerProcess || m.Runner.Process) {
		exe, err := os.Executable()
		if err != nil {
			return nil, nil, fmt.Errorf("locating worker binary: %w", err)
		}
		worker = exe
	}
	switch m.Runner.Kind {
	case RunnerEmbedded:
		return runner.NewEmbedded(), noop, nil
	case RunnerWorker:
		w := runner.NewWorker()
		return w, w.Close, nil
	case RunnerProcess:
		w, err := runner.NewProcessWorker(worker, "worker")
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	case RunnerPool:
		opts := runner.PoolOptions{Threads: m.Runner.Threads, QueueLimit: m.Runner.QueueLimit}
		if m.Runner.Process {
			opts.NewThread = func() (runner.ThreadRunner, error) {
				return runner.NewProcessWorker(worker, "worker")
			}
		}
		pool := runner.NewPool(opts)
		return pool, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown runner kind %q", m.Runner.Kind)
}

// BuildProject registers every listed module and wires imports to an
// FSLinker rooted at Project.Root. With Project.Store set, outputs are kept
// in a FileCAS and reused by later builds of the same manifest.
func (m *Manifest) BuildProject(fs afero.Fs, r runner.Runner) (*project.Project, error) {
	opts := project.Options{
		Linker:      project.NewFSLinker(fs, m.path(m.Project.Root)),
		Runner:      r,
		Environment: m.Environment,
	}
	if m.Project.Store != "" {
		store, err := cas.NewFileCAS(fs, m.path(m.Project.Store))
		if err != nil {
			return nil, err
		}
		opts.Store = store
		log.Debug().Str("store", m.path(m.Project.Store)).Msg("using output store")
	}
	p := project.New(opts)
	names := make([]string, 0, len(m.Modules))
	for name := range m.Modules {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		entry := m.Modules[name]
		code, err := afero.ReadFile(fs, m.path(entry.File))
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", name, err)
		}
		mod := &project.Module{Name: name, Code: string(code)}
		for dep, pin := range entry.Pins {
			h, _ := parseHash(pin)
			if mod.Pins == nil {
				mod.Pins = map[string]cas.Hash{}
			}
			mod.Pins[dep] = h
		}
		p.SetModule(mod)
		if len(entry.Continues) > 0 {
			p.SetContinues(name, entry.Continues)
		}
		log.Debug().Str("module", name).Str("file", entry.File).Msg("registered module")
	}
	return p, nil
}
