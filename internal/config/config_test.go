package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Orchestrator.OrphanExitPolicy != "failed" {
		t.Errorf("Orchestrator.OrphanExitPolicy = %q, want %q", cfg.Orchestrator.OrphanExitPolicy, "failed")
	}
	if cfg.Orchestrator.MaxParallel != 0 {
		t.Errorf("Orchestrator.MaxParallel = %d, want 0 (auto)", cfg.Orchestrator.MaxParallel)
	}
	if cfg.Merge.Mode != "merge" {
		t.Errorf("Merge.Mode = %q, want %q", cfg.Merge.Mode, "merge")
	}
	if cfg.Merge.Prefer != "theirs" {
		t.Errorf("Merge.Prefer = %q, want %q", cfg.Merge.Prefer, "theirs")
	}
	if cfg.Merge.PushOnSuccess {
		t.Error("Merge.PushOnSuccess should be false by default")
	}
	if !cfg.CopilotCLI.EnforceInJobs {
		t.Error("CopilotCLI.EnforceInJobs should be true by default")
	}
	if !cfg.Plan.CleanUpSuccessfulWork {
		t.Error("Plan.CleanUpSuccessfulWork should be true by default")
	}
	if cfg.Plan.ReclaimSubPlanBranches {
		t.Error("Plan.ReclaimSubPlanBranches should be false by default")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}

	cfg.Merge.Mode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an invalid merge.mode")
	}

	cfg = Default()
	cfg.Merge.Prefer = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an invalid merge.prefer")
	}

	cfg = Default()
	cfg.Orchestrator.OrphanExitPolicy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an invalid orphan_exit_policy")
	}

	cfg = Default()
	cfg.Orchestrator.MaxParallel = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a negative max_parallel")
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/conductor"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		original := os.Getenv("XDG_CONFIG_HOME")
		defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

		_ = os.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "conductor")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	original := os.Getenv("XDG_CONFIG_HOME")
	defer func() { _ = os.Setenv("XDG_CONFIG_HOME", original) }()

	_ = os.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/conductor/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func TestGet(t *testing.T) {
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Merge.Mode != "merge" {
		t.Errorf("Get().Merge.Mode = %q, want %q", cfg.Merge.Mode, "merge")
	}
}

func TestIsValidMergeMode(t *testing.T) {
	for _, m := range ValidMergeModes() {
		if !IsValidMergeMode(m) {
			t.Errorf("IsValidMergeMode(%q) = false, want true", m)
		}
	}
	if IsValidMergeMode("bogus") {
		t.Error("IsValidMergeMode(\"bogus\") = true, want false")
	}
}
