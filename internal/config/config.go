package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml.
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`
	Deadlines struct {
		MonitoringWorkingDays              int `yaml:"monitoring_working_days"`
		EliminationWorkingDays             int `yaml:"elimination_working_days"`
		EliminationNoViolationsWorkingDays int `yaml:"elimination_no_violations_working_days"`
	} `yaml:"deadlines"`
	Calendar struct {
		// Holidays are non-working dates in YYYY-MM-DD form, on top of
		// weekends.
		Holidays []string `yaml:"holidays"`
	} `yaml:"calendar"`
	Restricted struct {
		// ProcuringEntityKinds marks which procuring-entity kinds make a
		// case restricted at creation. The flag never changes afterwards.
		ProcuringEntityKinds []string `yaml:"procuring_entity_kinds"`
	} `yaml:"restricted"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		AllowDevHeaders bool   `yaml:"allow_dev_headers"`
	} `yaml:"auth"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run with defaults or create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
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

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Deadlines.MonitoringWorkingDays <= 0 {
		return fmt.Errorf("config.deadlines.monitoring_working_days must be positive")
	}
	if c.Deadlines.EliminationWorkingDays <= 0 {
		return fmt.Errorf("config.deadlines.elimination_working_days must be positive")
	}
	if c.Deadlines.EliminationNoViolationsWorkingDays <= 0 {
		return fmt.Errorf("config.deadlines.elimination_no_violations_working_days must be positive")
	}
	for _, h := range c.Calendar.Holidays {
		if len(h) != len("2006-01-02") {
			return fmt.Errorf("config.calendar.holidays: %q is not a YYYY-MM-DD date", h)
		}
	}
	for _, k := range c.Restricted.ProcuringEntityKinds {
		if k == "" {
			return fmt.Errorf("config.restricted.procuring_entity_kinds contains an empty kind")
		}
	}
	return nil
}

// RestrictedKind reports whether cases for this procuring-entity kind carry
// the restricted flag.
func (c *Config) RestrictedKind(kind string) bool {
	for _, k := range c.Restricted.ProcuringEntityKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `service:
  name: caseline

deadlines:
  monitoring_working_days: 15
  elimination_working_days: 10
  elimination_no_violations_working_days: 3

calendar:
  holidays:
    - "2018-01-01"
    - "2018-01-05"
    - "2018-03-08"
    - "2018-05-01"
    - "2018-05-09"
    - "2018-06-28"
    - "2018-08-24"
    - "2018-10-14"
    - "2018-12-25"

restricted:
  procuring_entity_kinds:
    - defense
    - special

auth:
  jwt_secret: ""
  allow_dev_headers: true
`
