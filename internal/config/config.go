package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models okrbrain.yml.
type Config struct {
	Brain struct {
		DedupWindowHours      int `yaml:"dedup_window_hours"`
		ActivityWindowHours   int `yaml:"activity_window_hours"`
		LowWatermark          int `yaml:"low_watermark"`
		TargetStock           int `yaml:"target_stock"`
		ReplenishBatchSize    int `yaml:"replenish_batch_size"`
		KrSaturation          int `yaml:"kr_saturation"`
		MaxDecompositionDepth int `yaml:"max_decomposition_depth"`
		MaxActiveInitiatives  int `yaml:"max_active_initiatives"`
		WipCeiling            int `yaml:"wip_ceiling"`
		SlotBudget            int `yaml:"slot_budget"`
	} `yaml:"brain"`
	Quality struct {
		MinDescriptionLength int `yaml:"min_description_length"`
	} `yaml:"quality"`
}

// DedupWindow returns the dedup window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Brain.DedupWindowHours) * time.Hour
}

// ActivityWindow returns the execution-frontier activity window.
func (c *Config) ActivityWindow() time.Duration {
	return time.Duration(c.Brain.ActivityWindowHours) * time.Hour
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Brain.DedupWindowHours <= 0 {
		return fmt.Errorf("config.brain.dedup_window_hours must be positive")
	}
	if c.Brain.ActivityWindowHours <= 0 {
		return fmt.Errorf("config.brain.activity_window_hours must be positive")
	}
	if c.Brain.LowWatermark <= 0 {
		return fmt.Errorf("config.brain.low_watermark must be positive")
	}
	if c.Brain.TargetStock < c.Brain.LowWatermark {
		return fmt.Errorf("config.brain.target_stock must be >= low_watermark")
	}
	if c.Brain.ReplenishBatchSize <= 0 {
		return fmt.Errorf("config.brain.replenish_batch_size must be positive")
	}
	if c.Brain.ReplenishBatchSize > c.Brain.TargetStock {
		return fmt.Errorf("config.brain.replenish_batch_size must not exceed target_stock")
	}
	if c.Brain.KrSaturation <= 0 {
		return fmt.Errorf("config.brain.kr_saturation must be positive")
	}
	if c.Brain.MaxDecompositionDepth < 0 {
		return fmt.Errorf("config.brain.max_decomposition_depth must not be negative")
	}
	if c.Brain.MaxActiveInitiatives <= 0 {
		return fmt.Errorf("config.brain.max_active_initiatives must be positive")
	}
	if c.Brain.WipCeiling <= 0 {
		return fmt.Errorf("config.brain.wip_ceiling must be positive")
	}
	if c.Brain.SlotBudget <= 0 {
		return fmt.Errorf("config.brain.slot_budget must be positive")
	}
	if c.Quality.MinDescriptionLength < 0 {
		return fmt.Errorf("config.quality.min_description_length must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "okrbrain.yml")
}

// Load reads and validates config from workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `brain:
  dedup_window_hours: 24
  activity_window_hours: 72
  low_watermark: 2
  target_stock: 5
  replenish_batch_size: 3
  kr_saturation: 3
  max_decomposition_depth: 2
  max_active_initiatives: 10
  wip_ceiling: 12
  slot_budget: 40

quality:
  min_description_length: 40
`
