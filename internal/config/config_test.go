package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffrsp/internal/core"
	"diffrsp/internal/tool"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "diffrsp.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
tools:
  select: /opt/st/bin/gtselect
  response: /opt/st/bin/gtdiffrsp
  chatter: 1
cuts:
  emin: 100
  emax: 300000
  zmax: 90
  convtype: 0
run:
  parallelism: 8
  temp_dir: /scratch
  keep_temp: true
  on_failure: partial
  cleanup_on_failure: true
  metrics_file: /var/lib/node_exporter/diffrsp.prom
logging:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "/opt/st/bin/gtselect", cfg.Tools.Select)
	assert.Equal(t, tool.Cuts{EMin: 100, EMax: 300000, ZMax: 90, ConvType: 0}, cfg.ToolCuts())
	assert.Equal(t, 8, cfg.Run.Parallelism)
	assert.True(t, cfg.Run.KeepTemp)
	assert.Equal(t, core.PolicyPartial, cfg.Policy())
	assert.Equal(t, "json", cfg.Logging.Format)

	s := cfg.Suite()
	assert.Equal(t, "/opt/st/bin/gtdiffrsp", s.ResponseTool)
	assert.Equal(t, 1, s.Chatter)
}

func TestLoad_ResolvesPathsAgainstConfigDir(t *testing.T) {
	path := writeConfig(t, `
tools:
  env_file: st.env
run:
  temp_dir: scratch
  state_dir: ../ledger
  metrics_file: metrics/diffrsp.prom
`)
	dir := filepath.Dir(path)
	t.Chdir(t.TempDir())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "st.env"), cfg.Tools.EnvFile)
	assert.Equal(t, filepath.Join(dir, "scratch"), cfg.Run.TempDir)
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "ledger"), cfg.Run.StateDir)
	assert.Equal(t, filepath.Join(dir, "metrics", "diffrsp.prom"), cfg.Run.MetricsFile)

	abs, err := Load(writeConfig(t, "run:\n  temp_dir: /scratch\n"))
	require.NoError(t, err)
	assert.Equal(t, "/scratch", abs.Run.TempDir)
	assert.Empty(t, abs.Run.StateDir)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "run:\n  parallelism: 2\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultSelectTool, cfg.Tools.Select)
	assert.Equal(t, DefaultResponseTool, cfg.Tools.Response)
	assert.Equal(t, DefaultChatter, cfg.Tools.Chatter)
	assert.Equal(t, tool.DefaultCuts(), cfg.ToolCuts())
	assert.Equal(t, core.PolicyFail, cfg.Policy())

	empty, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
	assert.NoError(t, empty.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "tools: [unclosed"))
	assert.Error(t, err)

	cases := map[string]string{
		"policy":      "run:\n  on_failure: retry\n",
		"parallelism": "run:\n  parallelism: -2\n",
		"cuts":        "cuts:\n  emin: 10\n  emax: 5\n",
		"zmax":        "cuts:\n  zmax: 200\n",
		"convtype":    "cuts:\n  convtype: 3\n",
		"select":      "tools:\n  select: \"\"\n",
		"chatter":     "tools:\n  chatter: 9\n",
		"log level":   "logging:\n  level: loud\n",
		"env name":    "tools:\n  env:\n    \"A=B\": x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestEnvironment_MergesDotenvAndOverrides(t *testing.T) {
	p := writeConfig(t, `
tools:
  env_file: tools.env
  env:
    CALDB: /override/caldb
    PFILES: /tmp/pfiles
`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(p), "tools.env"),
		[]byte("# science tools\nFERMI_DIR=/opt/fermi\nCALDB=/opt/caldb\n"), 0o644))

	cfg, err := Load(p)
	require.NoError(t, err)

	env, err := cfg.Environment()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CALDB=/override/caldb",
		"FERMI_DIR=/opt/fermi",
		"PFILES=/tmp/pfiles",
	}, env)
}

func TestEnvironment_MissingEnvFile(t *testing.T) {
	cfg := Default()
	cfg.Tools.EnvFile = filepath.Join(t.TempDir(), "nope.env")
	_, err := cfg.Environment()
	assert.Error(t, err)

	cfg.Tools.EnvFile = ""
	env, err := cfg.Environment()
	require.NoError(t, err)
	assert.Empty(t, env)
}
