package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPacingDelay    = 2 * time.Second
	defaultExhaustPenalty = 10 * time.Minute
	defaultMaxRetries     = 10
	defaultConnectWindow  = 30 * time.Second
	defaultAbortAfter     = 30 * time.Second
	defaultLookbackDays   = 10
	defaultCronSpec       = "*/5 * * * * *"
	defaultTolerance      = 0.001
)

// Account is one gateway login the dispatcher can round-robin over.
type Account struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Security is one instrument to preload and monitor.
type Security struct {
	Symbol     string  `yaml:"symbol"`
	ContractID int64   `yaml:"contract_id"`
	MinPivot   float64 `yaml:"min_pivot"`
}

// Queue tunes the dispatcher.
type Queue struct {
	PacingDelay    time.Duration `yaml:"pacing_delay"`
	ExhaustPenalty time.Duration `yaml:"exhaust_penalty"`
	MaxRetries     int           `yaml:"max_retries"`
}

// Task tunes data-task deadlines.
type Task struct {
	ConnectWindow time.Duration `yaml:"connect_window"`
	AbortAfter    time.Duration `yaml:"abort_after"`
}

// Preload tunes the historical fan-out.
type Preload struct {
	LookbackDays       int           `yaml:"lookback_days"`
	AbortAfter         time.Duration `yaml:"abort_after"`
	FineWindow         time.Duration `yaml:"fine_window"`
	HighPointTolerance float64       `yaml:"high_point_tolerance"`
}

// Rules tunes the evaluation loop.
type Rules struct {
	CronSpec      string  `yaml:"cron_spec"`
	Proximity     float64 `yaml:"proximity"`
	LineTolerance float64 `yaml:"line_tolerance"`
	EscalationCap int     `yaml:"escalation_cap"`
}

// Archive points at the bar store.
type Archive struct {
	DSN string `yaml:"dsn"`
}

// Config is the full monitor configuration.
type Config struct {
	Accounts   []Account  `yaml:"accounts"`
	Securities []Security `yaml:"securities"`
	Queue      Queue      `yaml:"queue"`
	Task       Task       `yaml:"task"`
	Preload    Preload    `yaml:"preload"`
	Rules      Rules      `yaml:"rules"`
	Archive    Archive    `yaml:"archive"`

	// Simulate swaps the gateway for the deterministic simulator.
	Simulate bool `yaml:"simulate"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c = c.withDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) withDefaults() Config {
	if c.Queue.PacingDelay <= 0 {
		c.Queue.PacingDelay = defaultPacingDelay
	}
	if c.Queue.ExhaustPenalty <= 0 {
		c.Queue.ExhaustPenalty = defaultExhaustPenalty
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = defaultMaxRetries
	}
	if c.Task.ConnectWindow <= 0 {
		c.Task.ConnectWindow = defaultConnectWindow
	}
	if c.Task.AbortAfter <= 0 {
		c.Task.AbortAfter = defaultAbortAfter
	}
	if c.Preload.LookbackDays <= 0 {
		c.Preload.LookbackDays = defaultLookbackDays
	}
	if c.Preload.AbortAfter <= 0 {
		c.Preload.AbortAfter = time.Hour
	}
	if c.Preload.FineWindow <= 0 {
		c.Preload.FineWindow = 30 * time.Minute
	}
	if c.Preload.HighPointTolerance <= 0 {
		c.Preload.HighPointTolerance = defaultTolerance
	}
	if c.Rules.CronSpec == "" {
		c.Rules.CronSpec = defaultCronSpec
	}
	if c.Rules.Proximity <= 0 {
		c.Rules.Proximity = 0.002
	}
	if c.Rules.LineTolerance <= 0 {
		c.Rules.LineTolerance = defaultTolerance
	}
	if c.Rules.EscalationCap <= 0 {
		c.Rules.EscalationCap = 4
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if !c.Simulate && len(c.Accounts) == 0 {
		return fmt.Errorf("invalid config: no accounts")
	}
	if len(c.Securities) == 0 {
		return fmt.Errorf("invalid config: no securities")
	}
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("invalid config: accounts[%d] has no name", i)
		}
		if a.Host == "" {
			return fmt.Errorf("invalid config: accounts[%d] has no host", i)
		}
		if a.Port <= 0 {
			return fmt.Errorf("invalid config: accounts[%d] has no port", i)
		}
	}
	for i, s := range c.Securities {
		if s.Symbol == "" {
			return fmt.Errorf("invalid config: securities[%d] has no symbol", i)
		}
		if s.ContractID <= 0 {
			return fmt.Errorf("invalid config: securities[%d] has no contract id", i)
		}
		if s.MinPivot < 0 {
			return fmt.Errorf("invalid config: securities[%d] min_pivot must be >= 0", i)
		}
	}
	return nil
}
