package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/klutch-io/klutch-controller/pkg/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	yaml := `
common:
  duration: 5m
  reconcile_interval: 15s
`

	tmp, err := os.CreateTemp("", "valid-config*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	tmp.WriteString(yaml)
	tmp.Close()

	cfg, err := config.Load(tmp.Name())
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Common.Duration != 5*time.Minute {
		t.Errorf("expected Duration to be 5m, got %v", cfg.Common.Duration)
	}
	if cfg.Common.ReconcileInterval != 15*time.Second {
		t.Errorf("expected ReconcileInterval to be 15s, got %v", cfg.Common.ReconcileInterval)
	}
	if cfg.Common.EnabledKey != "klutch.it/enabled" {
		t.Errorf("expected default EnabledKey, got %v", cfg.Common.EnabledKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got none")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmp, err := os.CreateTemp("", "invalid-config*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	tmp.WriteString("{this: is, not: valid yaml") // missing closing }
	tmp.Close()

	_, err = config.Load(tmp.Name())
	if err == nil {
		t.Fatal("expected YAML parse error, got none")
	}
	if !strings.Contains(err.Error(), "yaml") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyDefaultsAndValidate_DefaultsApplied(t *testing.T) {
	cfg := &config.Config{}
	if err := cfg.ApplyDefaultsAndValidate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Common.Duration != 300*time.Second {
		t.Errorf("expected default Duration to be 300s, got %v", cfg.Common.Duration)
	}
	if cfg.Common.ReconcileInterval != 10*time.Second {
		t.Errorf("expected default ReconcileInterval to be 10s, got %v", cfg.Common.ReconcileInterval)
	}
	if cfg.TriggerWebHook.Port != 8123 {
		t.Errorf("expected default webhook port 8123, got %v", cfg.TriggerWebHook.Port)
	}
}

func TestApplyDefaultsAndValidate_ReconcileLargerThanDuration(t *testing.T) {
	cfg := &config.Config{
		Common: config.CommonConfig{
			Duration:          10 * time.Second,
			ReconcileInterval: 20 * time.Second,
		},
	}
	err := cfg.ApplyDefaultsAndValidate()
	if err == nil {
		t.Fatal("expected error when reconcile_interval > duration, got none")
	}
	if !strings.Contains(err.Error(), "reconcile_interval") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyDefaultsAndValidate_AggregatesMultipleProblems(t *testing.T) {
	cfg := &config.Config{
		Common: config.CommonConfig{
			Duration:            10 * time.Second,
			ReconcileInterval:   20 * time.Second,
			ScanOrphansInterval: -1,
		},
	}
	err := cfg.ApplyDefaultsAndValidate()
	if err == nil {
		t.Fatal("expected error, got none")
	}
	if !strings.Contains(err.Error(), "reconcile_interval") || !strings.Contains(err.Error(), "scan_orphans_interval") {
		t.Errorf("expected both problems joined, got: %v", err)
	}
}

func TestValidateNamespace(t *testing.T) {
	cfg := &config.Config{}
	if err := cfg.ValidateNamespace(""); err == nil {
		t.Fatal("expected error when no namespace configured or discovered")
	}

	cfg2 := &config.Config{}
	if err := cfg2.ValidateNamespace("discovered-ns"); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg2.Common.Namespace != "discovered-ns" {
		t.Errorf("expected discovered namespace to be adopted, got %v", cfg2.Common.Namespace)
	}

	cfg3 := &config.Config{Common: config.CommonConfig{Namespace: "explicit-ns"}}
	if err := cfg3.ValidateNamespace(""); err != nil {
		t.Fatalf("expected no error when namespace set explicitly, got: %v", err)
	}
}
