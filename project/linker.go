package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrModuleNotFound is returned by a Linker that has no source for a name.
var ErrModuleNotFound = errors.New("module not found")

// Linker maps import paths to module names and module names to sources.
type Linker interface {
	// Resolve turns an import path written in module from into a module name.
	Resolve(importPath, from string) (string, error)
	LoadModule(ctx context.Context, name string) (*Module, error)
}

// resolvePath joins relative paths against the importer's directory.
// Anything else is taken as a module name as written.
func resolvePath(importPath, from string) (string, error) {
	if importPath == "" {
		return "", errors.New("empty import path")
	}
	name := importPath
	if strings.HasPrefix(importPath, "./") || strings.HasPrefix(importPath, "../") {
		name = path.Join(path.Dir(from), importPath)
	}
	name = strings.TrimSuffix(path.Clean(name), FileExtension)
	if strings.HasPrefix(name, "../") || name == ".." {
		return "", fmt.Errorf("import %q escapes the project root", importPath)
	}
	return name, nil
}

// MapLinker serves modules from memory.
type MapLinker struct {
	mu      sync.RWMutex
	sources map[string]string
}

func NewMapLinker(sources map[string]string) *MapLinker {
	l := &MapLinker{sources: make(map[string]string, len(sources))}
	for k, v := range sources {
		l.sources[k] = v
	}
	return l
}

func (l *MapLinker) Set(name, code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[name] = code
}

func (l *MapLinker) Resolve(importPath, from string) (string, error) {
	return resolvePath(importPath, from)
}

func (l *MapLinker) LoadModule(_ context.Context, name string) (*Module, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	code, ok := l.sources[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
	}
	return &Module{Name: name, Code: code}, nil
}

const FileExtension = ".quill"

// FSLinker loads `<root>/<name>.quill` from an afero filesystem.
type FSLinker struct {
	Fs   afero.Fs
	Root string
}

func NewFSLinker(fs afero.Fs, root string) *FSLinker {
	return &FSLinker{Fs: fs, Root: root}
}

func (l *FSLinker) Resolve(importPath, from string) (string, error) {
	return resolvePath(importPath, from)
}

func (l *FSLinker) LoadModule(_ context.Context, name string) (*Module, error) {
	file := filepath.Join(l.Root, filepath.FromSlash(name)+FileExtension)
	data, err := afero.ReadFile(l.Fs, file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrModuleNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return &Module{Name: name, Code: string(data)}, nil
}
