package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quill-lang/quill"
	"github.com/quill-lang/quill/interp"
	"github.com/quill-lang/quill/runner"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const errorPrefix = "error: "

type runnerCase struct {
	name  string
	build func() (runner.Runner, func() error)
}

var runners = []runnerCase{
	{"embedded", func() (runner.Runner, func() error) {
		return runner.NewEmbedded(), func() error { return nil }
	}},
	{"worker", func() (runner.Runner, func() error) {
		w := runner.NewWorker()
		return w, w.Close
	}},
	{"pool", func() (runner.Runner, func() error) {
		p := runner.NewPool(runner.PoolOptions{Threads: 2})
		return p, p.Close
	}},
}

// errorChain joins the messages of err and everything it wraps.
func errorChain(err error) string {
	var parts []string
	for ; err != nil; err = errors.Unwrap(err) {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "\n")
}

func outcome(out *interp.Output, err error) string {
	if err != nil {
		return errorPrefix + errorChain(err)
	}
	return out.Result.String()
}

// TestProjects runs every project under testdata with each runner kind and
// checks the entry module against the project's expected.txt.
func TestProjects(t *testing.T) {
	testdataDir := filepath.Join("..", "testdata")
	fs := afero.NewOsFs()

	err := filepath.Walk(testdataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Name() != quill.ManifestName {
			return nil
		}
		dir := filepath.Dir(path)
		testName, _ := filepath.Rel(testdataDir, dir)
		testName = strings.ReplaceAll(testName, string(filepath.Separator), "/")

		expected, err := os.ReadFile(filepath.Join(dir, "expected.txt"))
		if err != nil {
			return err
		}
		want := strings.TrimSpace(string(expected))

		for _, rc := range runners {
			t.Run(testName+"/"+rc.name, func(t *testing.T) {
				m, err := quill.LoadManifest(fs, path)
				require.NoError(t, err, "Failed to load manifest")

				r, closeRunner := rc.build()
				defer closeRunner()
				p, err := m.BuildProject(fs, r)
				require.NoError(t, err, "Failed to build project")

				got := outcome(p.Run(context.Background(), m.Project.Entry))
				if strings.HasPrefix(want, errorPrefix) {
					require.True(t, strings.HasPrefix(got, errorPrefix), "expected an error, got %s", got)
					assert.Contains(t, got, strings.TrimPrefix(want, errorPrefix))
					return
				}
				assert.Equal(t, want, got)
			})
		}
		return nil
	})
	require.NoError(t, err, "Error walking testdata directory")
}

// TestProjectRerunIsCached checks that rerunning an unchanged project is
// served from the output cache.
func TestProjectRerunIsCached(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewOsFs()
	m, err := quill.LoadManifest(fs, filepath.Join("..", "testdata", "imports", quill.ManifestName))
	require.NoError(t, err)
	p, err := m.BuildProject(fs, runner.NewEmbedded())
	require.NoError(t, err)

	out, err := p.Run(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "0.005", out.Result.String())
	names := []string{"main", "lib/geometry", "lib/units"}
	for _, name := range names {
		assert.Equal(t, 1, p.RunCount(name), name)
	}

	p.SetSource("main", mustRead(t, "imports", "src", "main.quill"))
	assert.True(t, p.IsStale("main"))
	out, err = p.Run(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "0.005", out.Result.String())
	for _, name := range names {
		assert.Equal(t, 1, p.RunCount(name), name)
	}

	p.SetSource("main", "import \"./lib/units\" as units\nunits.km(2500)")
	out, err = p.Run(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "2.5", out.Result.String())
	assert.Equal(t, 2, p.RunCount("main"))
	assert.Equal(t, 1, p.RunCount("lib/units"))
}

func mustRead(t *testing.T, parts ...string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(append([]string{"..", "testdata"}, parts...)...))
	require.NoError(t, err)
	return string(data)
}
