package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestSyncConfig_RequiresGit(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Git.Enabled = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("sync without git should fail")
	}
	cfg.Sync.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("git and sync both off should pass: %v", err)
	}
}

func TestSyncConfig_Interval(t *testing.T) {
	cfg := SyncConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("enabled sync without interval should fail")
	}
	cfg.Interval = time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("sub-second interval should fail")
	}
	cfg = SyncConfig{Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled sync needs no interval: %v", err)
	}
}

func TestRebuildConfig_Required(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Rebuild.RunningTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero running ttl should fail")
	}
}

func TestMCPConfig_UserRequired(t *testing.T) {
	cfg := MCPConfig{}
	if err := cfg.Validate(); err == nil {
		t.Error("missing mcp user should fail")
	}
}

func TestAuthConfig_NegativeDefaultUser(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeDisabled, DefaultUser: -1}
	if err := cfg.Validate(); err == nil {
		t.Error("negative default user should fail")
	}
}
