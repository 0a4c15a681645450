package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrReadConfig is returned when the config file cannot be read.
	ErrReadConfig = errors.New("config: failed to read config file")

	// ErrParseConfig is returned when the config file is not valid YAML.
	ErrParseConfig = errors.New("config: failed to parse config file")

	// ErrInvalidConfig is returned when the config is structurally invalid.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config is the full runner configuration.
type Config struct {
	Scheduler Scheduler          `yaml:"scheduler"`
	Database  Databases          `yaml:"database"`
	Redis     Redis              `yaml:"redis"`
	Sentry    Sentry             `yaml:"sentry"`
	Logging   Logging            `yaml:"logging"`
	Handlers  map[string]Handler `yaml:"handlers"`
}

// Scheduler configures the daily wake-up and the ordered handler list.
type Scheduler struct {
	// StartTime is the daily wall-clock start in HH:MM. Default "02:00".
	StartTime string `yaml:"start_time"`

	// Handlers is the ordered list of handler names to run each day.
	Handlers []string `yaml:"handlers"`
}

// Databases holds the source store (cleaned up in place) and the optional
// target store (migration destination).
type Databases struct {
	Source Database `yaml:"source"`
	Target Database `yaml:"target"`
}

// Database is one Postgres connection target.
type Database struct {
	// DSN is a postgres:// connection URL.
	DSN string `yaml:"dsn"`

	MaxConns int32 `yaml:"max_conns"`
	MinConns int32 `yaml:"min_conns"`
}

// Redis configures the optional single-run lock. Empty Addr disables it.
type Redis struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	LockTTL  Duration `yaml:"lock_ttl"`
}

// Sentry configures optional error reporting. Empty DSN disables it.
type Sentry struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Logging configures log output.
type Logging struct {
	// Level is debug, info, warn or error. Default info.
	Level string `yaml:"level"`
}

// Handler is one handler's configuration section. Zero values mean "use the
// handler's built-in default"; fields a handler does not know are ignored.
type Handler struct {
	BatchSize     int      `yaml:"batch_size"`
	CutOffTime    string   `yaml:"cut_off_time"`
	RetentionDays int      `yaml:"retention_days"`
	Pause         Duration `yaml:"pause"`

	// Migration-specific parameters.
	SourceTable string `yaml:"source_table"`
	TargetTable string `yaml:"target_table"`
	KeyColumn   string `yaml:"key_column"`
	WhereClause string `yaml:"where_clause"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("%w: duration must be a string", ErrParseConfig)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: invalid duration %q", ErrParseConfig, s)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, parses and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrReadConfig, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Join(ErrParseConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.StartTime == "" {
		c.Scheduler.StartTime = "02:00"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = "production"
	}
	if c.Redis.LockTTL == 0 {
		// Long enough to cover a full day's run up to the latest cut-off.
		c.Redis.LockTTL = Duration(4 * time.Hour)
	}
	if c.Database.Source.MaxConns == 0 {
		c.Database.Source.MaxConns = 5
	}
	if c.Database.Target.MaxConns == 0 {
		c.Database.Target.MaxConns = 5
	}
}

func (c *Config) validate() error {
	if c.Database.Source.DSN == "" {
		return fmt.Errorf("%w: database.source.dsn is required", ErrInvalidConfig)
	}
	if len(c.Scheduler.Handlers) == 0 {
		return fmt.Errorf("%w: scheduler.handlers must list at least one handler", ErrInvalidConfig)
	}
	if _, _, err := ParseStartTime(c.Scheduler.StartTime); err != nil {
		return err
	}
	for name, h := range c.Handlers {
		if h.BatchSize < 0 {
			return fmt.Errorf("%w: handlers.%s.batch_size must be positive", ErrInvalidConfig, name)
		}
		if h.RetentionDays < 0 {
			return fmt.Errorf("%w: handlers.%s.retention_days must not be negative", ErrInvalidConfig, name)
		}
		if h.Pause < 0 {
			return fmt.Errorf("%w: handlers.%s.pause must not be negative", ErrInvalidConfig, name)
		}
	}
	return nil
}

// HandlerConfig returns the section for name, or a zero-value section when
// the file has none, leaving every choice to the handler's defaults.
func (c *Config) HandlerConfig(name string) Handler {
	return c.Handlers[name]
}

// ParseStartTime parses the scheduler start time "HH:MM".
func ParseStartTime(s string) (hour, minute int, err error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid start time %q", ErrInvalidConfig, s)
	}
	return parsed.Hour(), parsed.Minute(), nil
}
