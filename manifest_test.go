package quill

import (
	"context"
	"strings"
	"testing"

	"github.com/quill-lang/quill/runner"
	"github.com/quill-lang/quill/vm"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const manifestText = `
[project]
entry = "main"
root = "src"

[environment]
sample_count = 500
seed = "fixed"

[runner]
kind = "pool"
threads = 2

[modules.prelude]
file = "src/prelude.quill"

[modules.main]
file = "src/main.quill"
continues = ["prelude"]
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(manifestText))
	require.NoError(t, err)
	assert.Equal(t, "main", m.Project.Entry)
	assert.Equal(t, "src", m.Project.Root)
	assert.Equal(t, 500, m.Environment.SampleCount)
	assert.Equal(t, vm.DefaultXYPointLength, m.Environment.XYPointLength)
	assert.Equal(t, "fixed", m.Environment.Seed)
	assert.Equal(t, RunnerPool, m.Runner.Kind)
	assert.Equal(t, 2, m.Runner.Threads)
	assert.Equal(t, []string{"prelude"}, m.Modules["main"].Continues)
}

func TestManifestDefaults(t *testing.T) {
	m, err := ParseManifest(strings.NewReader("[modules.util]\n"))
	require.NoError(t, err)
	assert.Equal(t, "main", m.Project.Entry)
	assert.Equal(t, RunnerEmbedded, m.Runner.Kind)
	assert.Equal(t, "util.quill", m.Modules["util"].File)
	assert.Equal(t, vm.DefaultEnvironment(), m.Environment)
}

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name string
		text string
		msg  string
	}{
		{"bad kind", "[runner]\nkind = \"cluster\"", "unknown runner kind"},
		{"bad threads", "[runner]\nthreads = -1", "threads"},
		{"bad env", "[environment]\nsample_count = 0\nxy_point_length = 3", "xy point length"},
		{"bad continues", "[modules.a]\ncontinues = [\"b\"]", "continues unknown module b"},
		{"bad pin", "[modules.a]\npins = { b = \"zz\" }", "invalid hash"},
		{"bad toml", "[runner", "parsing manifest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.text))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBuildProjectFromManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/quill.toml", []byte(manifestText), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/src/prelude.quill", []byte("base = 10"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/src/main.quill", []byte("import \"./lib/twice\" as t\nexport total = t.twice(base)\ntotal"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/src/lib/twice.quill", []byte("export twice(x) = x * 2"), 0o644))

	m, err := LoadManifest(fs, "/work/quill.toml")
	require.NoError(t, err)
	r, closeRunner, err := m.BuildRunner()
	require.NoError(t, err)
	defer closeRunner()
	_, ok := r.(*runner.Pool)
	assert.True(t, ok)

	p, err := m.BuildProject(fs, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "prelude"}, p.Names())
	out, err := p.Run(context.Background(), m.Project.Entry)
	require.NoError(t, err)
	assert.Equal(t, 20.0, out.Result.(*vm.Number).V)
	assert.Equal(t, "fixed", p.Environment().Seed)
}

func TestStoreIsReusedAcrossBuilds(t *testing.T) {
	fs := afero.NewMemMapFs()
	text := "[project]\nstore = \".quill-cache\"\n\n[modules.main]\n"
	require.NoError(t, afero.WriteFile(fs, "/work/quill.toml", []byte(text), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/work/main.quill", []byte("f(x) = x * 3\nexport k = f(4)\nk + 1"), 0o644))

	m, err := LoadManifest(fs, "/work/quill.toml")
	require.NoError(t, err)
	assert.Equal(t, ".quill-cache", m.Project.Store)

	first, err := m.BuildProject(fs, runner.NewEmbedded())
	require.NoError(t, err)
	out, err := first.Run(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 13.0, out.Result.(*vm.Number).V)
	assert.Equal(t, 1, first.RunCount("main"))
	exists, err := afero.DirExists(fs, "/work/.quill-cache/objects")
	require.NoError(t, err)
	assert.True(t, exists)

	second, err := m.BuildProject(fs, runner.NewEmbedded())
	require.NoError(t, err)
	out, err = second.Run(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, 13.0, out.Result.(*vm.Number).V)
	assert.Equal(t, 0, second.RunCount("main"), "output should come from the store")
	k, ok := out.Exports.Get("k")
	require.True(t, ok)
	assert.Equal(t, 12.0, k.(*vm.Number).V)
}
