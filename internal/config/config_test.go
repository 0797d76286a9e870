package config

import "testing"

func validConfig() *Config {
	return &Config{
		DefaultProvider: "openai",
		Providers: map[string]ProviderConfig{
			"openai": {Endpoint: "https://api.openai.com/v1", Model: "gpt-5", Temperature: 0.2},
		},
	}
}

func TestEngineConfigDefaults(t *testing.T) {
	var e EngineConfig
	if got := e.ApprovalPolicyOrDefault(); got != "on-request" {
		t.Errorf("ApprovalPolicyOrDefault() = %q, want on-request", got)
	}
	if got := e.SandboxPolicyOrDefault(); got != "workspace-write" {
		t.Errorf("SandboxPolicyOrDefault() = %q, want workspace-write", got)
	}
	if got := e.MaxToolRoundsOrDefault(); got != 60 {
		t.Errorf("MaxToolRoundsOrDefault() = %d, want 60", got)
	}
}

func TestEngineConfigOverridesDefaults(t *testing.T) {
	e := EngineConfig{ApprovalPolicy: "never", SandboxPolicy: "read-only", MaxToolRounds: 5}
	if got := e.ApprovalPolicyOrDefault(); got != "never" {
		t.Errorf("ApprovalPolicyOrDefault() = %q, want never", got)
	}
	if got := e.SandboxPolicyOrDefault(); got != "read-only" {
		t.Errorf("SandboxPolicyOrDefault() = %q, want read-only", got)
	}
	if got := e.MaxToolRoundsOrDefault(); got != 5 {
		t.Errorf("MaxToolRoundsOrDefault() = %d, want 5", got)
	}
}

func TestProviderConfigDialectDefault(t *testing.T) {
	var p ProviderConfig
	if got := p.DialectOrDefault(); got != "chat_completions" {
		t.Errorf("DialectOrDefault() = %q, want chat_completions", got)
	}
	p.Dialect = "anthropic"
	if got := p.DialectOrDefault(); got != "anthropic" {
		t.Errorf("DialectOrDefault() = %q, want anthropic", got)
	}
}

func TestValidateAcceptsValidEngineConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Engine = EngineConfig{ApprovalPolicy: "on-failure", SandboxPolicy: "danger-full-access"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() returned unexpected error: %v", err)
	}
}

func TestValidateAcceptsZeroValueEngineConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() returned unexpected error for zero-value engine config: %v", err)
	}
}

func TestValidateRejectsUnknownApprovalPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.ApprovalPolicy = "yolo"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected an error for an unknown approval_policy, got nil")
	}
}

func TestValidateRejectsUnknownSandboxPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.SandboxPolicy = "full-yolo"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected an error for an unknown sandbox_policy, got nil")
	}
}

func TestApplyEnvOverridesSetsEngineFields(t *testing.T) {
	t.Setenv("SYMB_EXEC_POLICY_DIR", "/etc/symb/policies")
	t.Setenv("SYMB_APPROVAL_POLICY", "never")
	t.Setenv("SYMB_SANDBOX_POLICY", "read-only")
	t.Setenv("SYMB_HISTORY_DB_PATH", "/tmp/history.db")

	cfg := validConfig()
	applyEnvOverrides(cfg)

	if cfg.Engine.ExecPolicyDir != "/etc/symb/policies" {
		t.Errorf("ExecPolicyDir = %q, want /etc/symb/policies", cfg.Engine.ExecPolicyDir)
	}
	if cfg.Engine.ApprovalPolicy != "never" {
		t.Errorf("ApprovalPolicy = %q, want never", cfg.Engine.ApprovalPolicy)
	}
	if cfg.Engine.SandboxPolicy != "read-only" {
		t.Errorf("SandboxPolicy = %q, want read-only", cfg.Engine.SandboxPolicy)
	}
	if cfg.Engine.HistoryDBPath != "/tmp/history.db" {
		t.Errorf("HistoryDBPath = %q, want /tmp/history.db", cfg.Engine.HistoryDBPath)
	}
}

func TestApplyEnvOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.ApprovalPolicy = "on-failure"
	applyEnvOverrides(cfg)
	if cfg.Engine.ApprovalPolicy != "on-failure" {
		t.Errorf("ApprovalPolicy = %q, expected unchanged on-failure", cfg.Engine.ApprovalPolicy)
	}
}
