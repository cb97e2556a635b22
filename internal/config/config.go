// Package config loads the run configuration: tool locations and their
// environment, selection cuts, run policy and logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"diffrsp/internal/core"
	"diffrsp/internal/logging"
	"diffrsp/internal/tool"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSelectTool   = "gtselect"
	DefaultResponseTool = "gtdiffrsp"
	DefaultChatter      = 3
)

// Config is the top-level configuration.
type Config struct {
	Tools   ToolsConfig    `yaml:"tools"`
	Cuts    CutsConfig     `yaml:"cuts"`
	Run     RunConfig      `yaml:"run"`
	Logging logging.Config `yaml:"logging"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// ToolsConfig locates the external tools.
type ToolsConfig struct {
	Select   string `yaml:"select"`
	Response string `yaml:"response"`

	// EnvFile is a dotenv file merged into the tools' environment
	// (FERMI_DIR, CALDB and friends).
	EnvFile string `yaml:"env_file"`

	// Env entries win over EnvFile entries.
	Env map[string]string `yaml:"env"`

	// Chatter is the verbosity passed to worker invocations.
	Chatter int `yaml:"chatter"`
}

// CutsConfig holds the event cuts every select call applies.
type CutsConfig struct {
	EMin     float64 `yaml:"emin"`
	EMax     float64 `yaml:"emax"`
	ZMax     float64 `yaml:"zmax"`
	ConvType int     `yaml:"convtype"`
}

// RunConfig holds the execution policy.
type RunConfig struct {
	// Parallelism bounds concurrent workers. Zero means one per interval.
	Parallelism int `yaml:"parallelism"`

	// TempDir holds worker outputs. Empty means the system temp dir.
	TempDir string `yaml:"temp_dir"`

	KeepTemp         bool   `yaml:"keep_temp"`
	OnFailure        string `yaml:"on_failure"`
	CleanupOnFailure bool   `yaml:"cleanup_on_failure"`

	// StateDir holds run ledgers. Empty means .diffrsp next to the output.
	StateDir string `yaml:"state_dir"`

	// MetricsFile, if set, receives a Prometheus text exposition of the run.
	MetricsFile string `yaml:"metrics_file"`
}

// Load reads and parses the YAML config file at path. An empty path yields
// the defaults. Relative env_file, temp_dir, state_dir and metrics_file
// entries resolve against the directory of the file, not the working
// directory.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.dir = filepath.Dir(path)
	for _, p := range []*string{&cfg.Tools.EnvFile, &cfg.Run.TempDir, &cfg.Run.StateDir, &cfg.Run.MetricsFile} {
		if *p != "" {
			*p = cfg.resolve(*p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	cuts := tool.DefaultCuts()
	return &Config{
		Tools: ToolsConfig{
			Select:   DefaultSelectTool,
			Response: DefaultResponseTool,
			Chatter:  DefaultChatter,
		},
		Cuts: CutsConfig{
			EMin:     cuts.EMin,
			EMax:     cuts.EMax,
			ZMax:     cuts.ZMax,
			ConvType: cuts.ConvType,
		},
		Run: RunConfig{
			OnFailure: string(core.PolicyFail),
		},
		Logging: logging.Config{Level: "info", Format: logging.FormatConsole},
	}
}

// Validate checks required fields and structural constraints. Call it again
// after applying command-line overrides.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Tools.Select) == "" {
		return fmt.Errorf("tools.select is required")
	}
	if strings.TrimSpace(c.Tools.Response) == "" {
		return fmt.Errorf("tools.response is required")
	}
	if c.Tools.Chatter < 0 || c.Tools.Chatter > 4 {
		return fmt.Errorf("tools.chatter must be between 0 and 4")
	}
	for k := range c.Tools.Env {
		if k == "" || strings.ContainsAny(k, "= ") {
			return fmt.Errorf("tools.env: invalid variable name %q", k)
		}
	}
	if c.Cuts.EMin < 0 || c.Cuts.EMax <= c.Cuts.EMin {
		return fmt.Errorf("cuts: need 0 <= emin < emax")
	}
	if c.Cuts.ZMax <= 0 || c.Cuts.ZMax > 180 {
		return fmt.Errorf("cuts.zmax must be in (0, 180]")
	}
	if c.Cuts.ConvType < -1 || c.Cuts.ConvType > 1 {
		return fmt.Errorf("cuts.convtype must be -1, 0 or 1")
	}
	if c.Run.Parallelism < 0 {
		return fmt.Errorf("run.parallelism must be >= 0")
	}
	if _, err := core.ParseFailurePolicy(c.Run.OnFailure); err != nil {
		return fmt.Errorf("run.on_failure: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Policy returns the parsed failure policy.
func (c *Config) Policy() core.FailurePolicy {
	p, err := core.ParseFailurePolicy(c.Run.OnFailure)
	if err != nil {
		return core.PolicyFail
	}
	return p
}

// ToolCuts converts the cuts for the tool layer.
func (c *Config) ToolCuts() tool.Cuts {
	return tool.Cuts{EMin: c.Cuts.EMin, EMax: c.Cuts.EMax, ZMax: c.Cuts.ZMax, ConvType: c.Cuts.ConvType}
}

// Suite returns the tool suite described by the config.
func (c *Config) Suite() tool.Suite {
	return tool.Suite{
		SelectTool:   c.Tools.Select,
		ResponseTool: c.Tools.Response,
		Cuts:         c.ToolCuts(),
		Chatter:      c.Tools.Chatter,
	}
}

// Environment returns the extra KEY=VALUE entries for tool processes,
// sorted by key.
func (c *Config) Environment() ([]string, error) {
	vars := map[string]string{}
	if c.Tools.EnvFile != "" {
		path := c.resolve(c.Tools.EnvFile)
		fileVars, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("config: read env file %s: %w", path, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for k, v := range c.Tools.Env {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out, nil
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}
