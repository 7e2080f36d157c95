package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for cmdagent.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Provider ProviderConfig `json:"provider"`
	Tools    ToolsConfig    `json:"tools"`
	Audit    AuditConfig    `json:"audit"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"` // commands run and snapshots are taken here
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"`
}

// ProviderConfig configures the OpenAI-compatible model endpoint.
type ProviderConfig struct {
	Name           string  `json:"name"`
	APIBase        string  `json:"apiBase"`
	APIKey         string  `json:"apiKey,omitempty"`
	Model          string  `json:"model"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
}

type ToolsConfig struct {
	Shell    ShellToolConfig    `json:"shell"`
	Snapshot SnapshotToolConfig `json:"snapshot"`
}

type ShellToolConfig struct {
	Timeout int `json:"timeout"` // seconds per command, 0 = no limit
}

type SnapshotToolConfig struct {
	Output           string   `json:"output"`
	Exclude          string   `json:"exclude"`
	Include          []string `json:"include"`
	RespectGitignore bool     `json:"respectGitignore"`
}

type AuditConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// DefaultConfigDir returns the default config directory (~/.cmdagent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cmdagent"
	}
	return filepath.Join(home, ".cmdagent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON config, or a YAML one when the file ends in .yaml/.yml.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.normalize()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Resolve expands environment references and ~/ paths in a config that did
// not come from Load, such as Defaults().
func Resolve(cfg *Config) *Config {
	cfg.Provider.APIKey = ExpandEnvVars(cfg.Provider.APIKey)
	cfg.normalize()
	return cfg
}

func (c *Config) normalize() {
	c.General.Workspace = ExpandPath(c.General.Workspace)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Audit.DBPath = ExpandPath(c.Audit.DBPath)
	if envVarPattern.MatchString(c.Provider.APIKey) {
		// unresolved reference, e.g. OPENAI_API_KEY not set
		c.Provider.APIKey = ""
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON, or as YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if isYAML(path) {
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(tree); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.Workspace == "" {
		errs = append(errs, "general.workspace is required")
	}

	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, "provider.model is required")
	}
	if cfg.Provider.TimeoutSeconds < 1 {
		errs = append(errs, "provider.timeoutSeconds must be >= 1")
	}
	if cfg.Provider.MaxTokens < 0 {
		errs = append(errs, "provider.maxTokens must be >= 0")
	}

	if cfg.Tools.Shell.Timeout < 0 {
		errs = append(errs, "tools.shell.timeout must be >= 0")
	}
	if cfg.Tools.Snapshot.Output == "" {
		errs = append(errs, "tools.snapshot.output is required")
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.DBPath == "" {
			errs = append(errs, "audit.dbPath is required when audit is enabled")
		}
		if cfg.Audit.RetentionDays < 1 {
			errs = append(errs, "audit.retentionDays must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so the json tags on Config
// stay the single source of key names.
func yamlToJSON(data []byte) ([]byte, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(tree)
}
