package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/quill-lang/quill"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/project"
	"github.com/quill-lang/quill/report"
	"github.com/quill-lang/quill/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	runnerFlag   string
	threadsFlag  int
	seedFlag     string
	samplesFlag  int
	entryFlag    string
	allFlag      bool
	bindingsFlag bool
	statsFlag    bool
	storeFlag    string
)

var runCmd = &cobra.Command{
	Use:   "run PATH",
	Short: "Run a .quill file or a project directory containing quill.toml",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommand,
}

func init() {
	runCmd.Flags().StringVar(&runnerFlag, "runner", "", "Runner to use (embedded, worker, process, pool)")
	runCmd.Flags().IntVar(&threadsFlag, "threads", 0, "Number of pool threads")
	runCmd.Flags().StringVar(&seedFlag, "seed", "", "Random seed")
	runCmd.Flags().IntVar(&samplesFlag, "sample-count", 0, "Samples per distribution")
	runCmd.Flags().StringVar(&entryFlag, "module", "", "Module to run instead of the manifest entry")
	runCmd.Flags().BoolVar(&allFlag, "all", false, "Run every module of the project")
	runCmd.Flags().BoolVar(&bindingsFlag, "bindings", false, "Print all bindings, not only exports")
	runCmd.Flags().BoolVar(&statsFlag, "stats", false, "Print pool thread statistics after the run")
	runCmd.Flags().StringVar(&storeFlag, "store", "", "Directory that keeps module outputs between runs")
}

// loadManifest reads quill.toml from a directory, or wraps a single file in
// a one-module manifest.
func loadManifest(fs afero.Fs, path string) (*quill.Manifest, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return quill.LoadManifest(fs, filepath.Join(path, quill.ManifestName))
	}
	if filepath.Base(path) == quill.ManifestName {
		return quill.LoadManifest(fs, path)
	}
	name := strings.TrimSuffix(filepath.Base(path), project.FileExtension)
	text := fmt.Sprintf("[project]\nentry = %q\nroot = %q\n\n[modules.%q]\nfile = %q\n",
		name, filepath.Dir(path), name, path)
	return quill.ParseManifest(strings.NewReader(text))
}

func applyFlags(m *quill.Manifest) error {
	if runnerFlag != "" {
		m.Runner.Kind = runnerFlag
	}
	if threadsFlag > 0 {
		m.Runner.Threads = threadsFlag
	}
	if seedFlag != "" {
		m.Environment.Seed = seedFlag
	}
	if samplesFlag > 0 {
		m.Environment.SampleCount = samplesFlag
	}
	if entryFlag != "" {
		m.Project.Entry = entryFlag
	}
	if storeFlag != "" {
		dir, err := filepath.Abs(storeFlag)
		if err != nil {
			return fmt.Errorf("store directory: %w", err)
		}
		m.Project.Store = dir
	}
	return m.Validate()
}

func runCommand(cmd *cobra.Command, args []string) error {
	fs := afero.NewOsFs()
	m, err := loadManifest(fs, args[0])
	if err != nil {
		return fmt.Errorf("couldn't load project: %w", err)
	}
	if err := applyFlags(m); err != nil {
		return err
	}
	r, closeRunner, err := m.BuildRunner()
	if err != nil {
		return fmt.Errorf("couldn't start runner: %w", err)
	}
	defer closeRunner()
	p, err := m.BuildProject(fs, r)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	log.Debug().Str("runner", m.Runner.Kind).Stringer("environment", m.Environment).Msg("running project")
	if statsFlag {
		if pool, ok := r.(*runner.Pool); ok {
			defer func() { fmt.Fprint(os.Stderr, report.FormatPoolStats(pool.Stats())) }()
		}
	}
	if allFlag {
		return runAll(ctx, p)
	}
	out, err := p.Run(ctx, m.Project.Entry)
	if err != nil {
		printError(m.Project.Entry, err)
		return errors.New("run failed")
	}
	printOutput(m.Project.Entry, out)
	return nil
}

func runAll(ctx context.Context, p *project.Project) error {
	err := p.RunAll(ctx)
	for _, name := range p.Names() {
		out, oerr := p.Output(name)
		if oerr != nil {
			printError(name, oerr)
			continue
		}
		printOutput(name, out)
	}
	if err != nil {
		return errors.New("some modules failed")
	}
	return nil
}

func printOutput(name string, out *interp.Output) {
	fmt.Print(report.FormatOutput(name, out, bindingsFlag))
}

func printError(name string, err error) {
	fmt.Fprint(os.Stderr, report.FormatError(name, err))
}
