// Package config handles configuration loading from TOML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	DefaultProvider string                    `toml:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers"`
	MCP             MCPConfig                 `toml:"mcp"`
	Cache           CacheConfig               `toml:"cache"`
	UI              UIConfig                  `toml:"ui"`
	Engine          EngineConfig              `toml:"engine"`
}

// EngineConfig holds the turn-execution engine's own settings: where exec
// policy rules live, what sandbox/approval posture new sessions start
// with, and how many tool-calling rounds one turn may take before the
// no-tools fallback kicks in.
type EngineConfig struct {
	// ExecPolicyDir holds *.symbpolicy rule files loaded via execpolicy.LoadFromDir.
	// Empty means no rules are loaded (every command falls back to the
	// dangerous-command heuristic).
	ExecPolicyDir string `toml:"exec_policy_dir"`

	// ApprovalPolicy is one of protocol.AskForApproval's string values:
	// "untrusted", "on-failure", "on-request", "never".
	ApprovalPolicy string `toml:"approval_policy"`

	// SandboxPolicy is one of "read-only", "workspace-write",
	// "danger-full-access".
	SandboxPolicy          string   `toml:"sandbox_policy"`
	WorkspaceWritableRoots []string `toml:"workspace_writable_roots"`
	WorkspaceNetworkAccess bool     `toml:"workspace_network_access"`

	MaxToolRounds int `toml:"max_tool_rounds"`

	// HistoryDBPath, if set, wires a sqlitesink.Sink for turn persistence.
	// Left empty, history is kept in memory only for the process lifetime.
	HistoryDBPath string `toml:"history_db_path"`

	// HubMaxAgents/HubMaxDepth bound the Cross-Session Hub's spawn tree;
	// zero means hub.DefaultLimits() applies.
	HubMaxAgents int `toml:"hub_max_agents"`
	HubMaxDepth  int `toml:"hub_max_depth"`
}

// ApprovalPolicyOrDefault returns the configured approval policy, or
// "on-request" if unset.
func (e EngineConfig) ApprovalPolicyOrDefault() string {
	if e.ApprovalPolicy == "" {
		return "on-request"
	}
	return e.ApprovalPolicy
}

// SandboxPolicyOrDefault returns the configured sandbox policy, or
// "workspace-write" if unset.
func (e EngineConfig) SandboxPolicyOrDefault() string {
	if e.SandboxPolicy == "" {
		return "workspace-write"
	}
	return e.SandboxPolicy
}

// MaxToolRoundsOrDefault returns the configured round limit, or 60 if unset.
func (e EngineConfig) MaxToolRoundsOrDefault() int {
	if e.MaxToolRounds <= 0 {
		return 60
	}
	return e.MaxToolRounds
}

// UIConfig holds user-interface settings.
type UIConfig struct {
	// SyntaxTheme is the Chroma syntax highlighting theme used across the TUI.
	// UI chrome colors are derived from this theme via highlight.ThemePalette.
	// Defaults to "vulcan" if unset.
	SyntaxTheme string `toml:"syntax_theme"`
}

// SyntaxThemeOrDefault returns the configured syntax theme or "vulcan" if unset.
func (u UIConfig) SyntaxThemeOrDefault() string {
	if u.SyntaxTheme == "" {
		return "vulcan"
	}
	return u.SyntaxTheme
}

// CacheConfig holds web cache settings.
type CacheConfig struct {
	TTLHours int `toml:"ttl_hours"`
}

// CacheTTLOrDefault returns the configured TTL or 24 hours if unset.
func (c CacheConfig) CacheTTLOrDefault() int {
	if c.TTLHours <= 0 {
		return 24
	}
	return c.TTLHours
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	Temperature float64 `toml:"temperature"`
	// Dialect selects the wire format transport.Transport speaks to this
	// provider: "responses", "chat_completions", or "anthropic". Defaults
	// to "chat_completions", the most widely compatible dialect among
	// locally-hosted and third-party-compatible endpoints.
	Dialect string `toml:"dialect"`
}

// DialectOrDefault returns the configured dialect, or "chat_completions"
// if unset.
func (p ProviderConfig) DialectOrDefault() string {
	if p.Dialect == "" {
		return "chat_completions"
	}
	return p.Dialect
}

// MCPConfig holds MCP proxy settings.
type MCPConfig struct {
	Upstream string `toml:"upstream"`
}

// Load reads configuration from a TOML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Providers: make(map[string]ProviderConfig),
	}

	// Config file is required
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	// File must exist
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Load from file
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("providers: at least one provider must be configured"))
	} else {
		for name, providerCfg := range c.Providers {
			errs = append(errs, validateProviderConfig(name, providerCfg)...)
		}
	}

	// Validate default provider if specified
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			errs = append(errs, fmt.Errorf("default_provider=%q does not exist in providers", c.DefaultProvider))
		}
	}

	errs = append(errs, validateEngineConfig(c.Engine)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateEngineConfig(e EngineConfig) []error {
	var errs []error
	switch e.ApprovalPolicyOrDefault() {
	case "untrusted", "on-failure", "on-request", "never":
	default:
		errs = append(errs, fmt.Errorf("engine.approval_policy=%q must be one of untrusted, on-failure, on-request, never", e.ApprovalPolicy))
	}
	switch e.SandboxPolicyOrDefault() {
	case "read-only", "workspace-write", "danger-full-access":
	default:
		errs = append(errs, fmt.Errorf("engine.sandbox_policy=%q must be one of read-only, workspace-write, danger-full-access", e.SandboxPolicy))
	}
	return errs
}

func validateProviderConfig(name string, cfg ProviderConfig) []error {
	var errs []error
	if cfg.Endpoint == "" {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint is required", name))
	} else if err := validateEndpoint(cfg.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("providers.%s.endpoint=%q is invalid: %v", name, cfg.Endpoint, err))
	}

	if cfg.Model == "" {
		errs = append(errs, fmt.Errorf("providers.%s.model is required", name))
	}

	if cfg.Temperature < 0.0 || cfg.Temperature > 2.0 {
		errs = append(errs, fmt.Errorf("providers.%s.temperature=%v must be between 0.0 and 2.0", name, cfg.Temperature))
	}

	return errs
}

func validateEndpoint(value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("missing scheme or host")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	for _, setter := range []struct {
		env   string
		apply func(string)
	}{
		{"SYMB_MCP_ENDPOINT", func(v string) {
			if v != "" {
				cfg.MCP.Upstream = v
			}
		}},
		{"SYMB_EXEC_POLICY_DIR", func(v string) {
			if v != "" {
				cfg.Engine.ExecPolicyDir = v
			}
		}},
		{"SYMB_APPROVAL_POLICY", func(v string) {
			if v != "" {
				cfg.Engine.ApprovalPolicy = v
			}
		}},
		{"SYMB_SANDBOX_POLICY", func(v string) {
			if v != "" {
				cfg.Engine.SandboxPolicy = v
			}
		}},
		{"SYMB_HISTORY_DB_PATH", func(v string) {
			if v != "" {
				cfg.Engine.HistoryDBPath = v
			}
		}},
	} {
		setter.apply(os.Getenv(setter.env))
	}
}

// DataDir returns the path to the Symb data directory (~/.config/symb).
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "symb"), nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", err
	}
	return dir, nil
}
