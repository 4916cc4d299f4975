// Package config loads and validates the controller's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CommonConfig holds settings shared by the engine, the ConfigMap trigger
// source and the orphan sweeper.
type CommonConfig struct {
	Debug bool `yaml:"debug"`

	// Duration is the length of a scaling sequence.
	Duration time.Duration `yaml:"duration"`
	// ReconcileInterval is the tick between reconcile passes during an active sequence.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// ScanOrphansInterval enables the standalone orphan sweep when non-zero.
	ScanOrphansInterval time.Duration `yaml:"scan_orphans_interval"`

	// Namespace overrides in-cluster namespace discovery. Required out-of-cluster.
	Namespace string `yaml:"namespace"`

	EnabledKey      string `yaml:"hpa_annotation_enabled_key"`
	EnabledValue    string `yaml:"hpa_annotation_enabled_value"`
	ScalePercentKey string `yaml:"hpa_annotation_scale_percent_key"`
	StatusAnnotKey  string `yaml:"hpa_annotation_status_key"`

	StatusConfigMapName     string `yaml:"cm_status_name"`
	StatusLabelKey          string `yaml:"cm_status_label_key"`
	StatusLabelValue        string `yaml:"cm_status_label_value"`
	TriggerMarkerLabelKey   string `yaml:"cm_trigger_label_key"`
	TriggerMarkerLabelValue string `yaml:"cm_trigger_label_value"`
}

// TriggerWebHookConfig configures the HTTP webhook trigger source.
type TriggerWebHookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// TriggerConfigMapConfig configures the ConfigMap-poller trigger source.
type TriggerConfigMapConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	MaxAge       time.Duration `yaml:"max_age"`
}

// Config is the root configuration object with its common /
// trigger_web_hook / trigger_config_map sections.
type Config struct {
	Common           CommonConfig           `yaml:"common"`
	TriggerWebHook   TriggerWebHookConfig   `yaml:"trigger_web_hook"`
	TriggerConfigMap TriggerConfigMapConfig `yaml:"trigger_config_map"`
}

// Load reads path, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing yaml config: %w", err)
	}

	if err := cfg.ApplyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaultsAndValidate fills in zero-valued fields with defaults and then
// validates the result, joining every problem found rather than stopping at
// the first.
func (cfg *Config) ApplyDefaultsAndValidate() error {
	cfg.applyDefaults()

	var problems []error

	if cfg.Common.ReconcileInterval > cfg.Common.Duration {
		problems = append(problems, fmt.Errorf(
			"common.reconcile_interval (%s) cannot be larger than common.duration (%s)",
			cfg.Common.ReconcileInterval, cfg.Common.Duration))
	}

	if cfg.Common.ScanOrphansInterval < 0 {
		problems = append(problems, errors.New("common.scan_orphans_interval cannot be negative"))
	}

	if cfg.TriggerWebHook.Enabled && cfg.TriggerWebHook.Port <= 0 {
		problems = append(problems, errors.New("trigger_web_hook.port must be set when trigger_web_hook.enabled"))
	}

	if cfg.TriggerConfigMap.Enabled && cfg.TriggerConfigMap.ScanInterval <= 0 {
		problems = append(problems, errors.New("trigger_config_map.scan_interval must be positive when trigger_config_map.enabled"))
	}

	return errors.Join(problems...)
}

func (cfg *Config) applyDefaults() {
	if cfg.Common.Duration == 0 {
		cfg.Common.Duration = 300 * time.Second
	}
	if cfg.Common.ReconcileInterval == 0 {
		cfg.Common.ReconcileInterval = 10 * time.Second
	}
	if cfg.Common.EnabledKey == "" {
		cfg.Common.EnabledKey = "klutch.it/enabled"
	}
	if cfg.Common.EnabledValue == "" {
		cfg.Common.EnabledValue = "true"
	}
	if cfg.Common.ScalePercentKey == "" {
		cfg.Common.ScalePercentKey = "klutch.it/scale-percentage-of-actual"
	}
	if cfg.Common.StatusAnnotKey == "" {
		cfg.Common.StatusAnnotKey = "klutch.it/status"
	}
	if cfg.Common.StatusConfigMapName == "" {
		cfg.Common.StatusConfigMapName = "klutch-status"
	}
	if cfg.Common.StatusLabelKey == "" {
		cfg.Common.StatusLabelKey = "klutch.it/status"
	}
	if cfg.Common.StatusLabelValue == "" {
		cfg.Common.StatusLabelValue = "1"
	}
	if cfg.Common.TriggerMarkerLabelKey == "" {
		cfg.Common.TriggerMarkerLabelKey = "klutch.it/trigger"
	}
	if cfg.Common.TriggerMarkerLabelValue == "" {
		cfg.Common.TriggerMarkerLabelValue = "1"
	}

	if cfg.TriggerWebHook.Address == "" {
		cfg.TriggerWebHook.Address = "127.0.0.1"
	}
	if cfg.TriggerWebHook.Port == 0 {
		cfg.TriggerWebHook.Port = 8123
	}

	if cfg.TriggerConfigMap.ScanInterval == 0 {
		cfg.TriggerConfigMap.ScanInterval = 10 * time.Second
	}
	if cfg.TriggerConfigMap.MaxAge == 0 {
		cfg.TriggerConfigMap.MaxAge = 60 * time.Second
	}
}

// ValidateNamespace fails if running out-of-cluster without an explicit
// namespace — discoveredNamespace is whatever kubeclient.DiscoverNamespace
// found on the service-account mount, empty if not running in-cluster.
func (cfg *Config) ValidateNamespace(discoveredNamespace string) error {
	if cfg.Common.Namespace == "" && discoveredNamespace == "" {
		return errors.New("common.namespace must be set when running out of cluster")
	}
	if cfg.Common.Namespace == "" {
		cfg.Common.Namespace = discoveredNamespace
	}
	return nil
}
