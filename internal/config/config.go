// Package config loads yaha-bot settings from defaults, an optional YAML file
// and YAHA_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"yaha-bot/internal/classifier"
	"yaha-bot/internal/persistence"
	"yaha-bot/internal/pipeline"
	"yaha-bot/internal/retry"
)

const envPrefix = "YAHA_"

// Backend selects where records, entries and sessions live.
type Backend string

const (
	BackendDynamoDB Backend = "dynamodb"
	BackendREST     Backend = "rest"
	BackendSQLite   Backend = "sqlite"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Params    ParamsConfig    `koanf:"params"`
	Reasoning ReasoningConfig `koanf:"reasoning"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ParamsConfig locates secrets in SSM Parameter Store.
type ParamsConfig struct {
	Prefix string `koanf:"prefix"`
}

type ReasoningConfig struct {
	Enabled bool   `koanf:"enabled"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

type PipelineConfig struct {
	AmbiguityThreshold float64       `koanf:"ambiguity_threshold"`
	ReplyRetries       int           `koanf:"reply_retries"`
	ClassifyAttempts   int           `koanf:"classify_attempts"`
	PersistAttempts    int           `koanf:"persist_attempts"`
	BackoffBase        time.Duration `koanf:"backoff_base"`
	BackoffMax         time.Duration `koanf:"backoff_max"`
	CallTimeout        time.Duration `koanf:"call_timeout"`
	SessionTTL         time.Duration `koanf:"session_ttl"`
	TimeZone           string        `koanf:"time_zone"`
}

type StoreConfig struct {
	Backend      Backend            `koanf:"backend"`
	Tables       persistence.Tables `koanf:"tables"`
	SessionTable string             `koanf:"session_table"`
	RestURL      string             `koanf:"rest_url"`
	SQLitePath   string             `koanf:"sqlite_path"`
}

type ServerConfig struct {
	Addr        string        `koanf:"addr"`
	ExpireEvery time.Duration `koanf:"expire_every"`
}

func DefaultConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "json"},
		Params:    ParamsConfig{Prefix: "/yaha"},
		Reasoning: ReasoningConfig{Enabled: true, Model: "gpt-4o-mini"},
		Pipeline: PipelineConfig{
			AmbiguityThreshold: classifier.DefaultThreshold,
			ReplyRetries:       2,
			ClassifyAttempts:   3,
			PersistAttempts:    3,
			BackoffBase:        250 * time.Millisecond,
			BackoffMax:         4 * time.Second,
			CallTimeout:        10 * time.Second,
			SessionTTL:         30 * time.Minute,
			TimeZone:           "UTC",
		},
		Store: StoreConfig{
			Backend:      BackendDynamoDB,
			Tables:       persistence.DefaultTables(),
			SessionTable: "sessions",
			SQLitePath:   "data/yaha.db",
		},
		Server: ServerConfig{Addr: ":8080", ExpireEvery: time.Minute},
	}
}

// envKey maps YAHA_PIPELINE_SESSION_TTL to pipeline.session_ttl. The first
// underscore after the prefix separates the section; a double underscore
// nests further, as in YAHA_STORE_TABLES__FOOD.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + strings.ReplaceAll(rest, "__", ".")
}

// Load reads path when it exists, then overlays YAHA_* variables. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: access %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env overrides: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validBackends = map[Backend]bool{
	BackendDynamoDB: true,
	BackendREST:     true,
	BackendSQLite:   true,
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	var errs []error
	p := c.Pipeline
	if p.AmbiguityThreshold <= 0 || p.AmbiguityThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.ambiguity_threshold must be in (0,1], got %v", p.AmbiguityThreshold))
	}
	if p.ReplyRetries < 0 {
		errs = append(errs, errors.New("pipeline.reply_retries must be non-negative"))
	}
	if p.ClassifyAttempts < 1 || p.PersistAttempts < 1 {
		errs = append(errs, errors.New("pipeline.classify_attempts and pipeline.persist_attempts must be at least 1"))
	}
	if p.SessionTTL <= 0 {
		errs = append(errs, errors.New("pipeline.session_ttl must be positive"))
	}
	if _, err := time.LoadLocation(p.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.time_zone: %w", err))
	}

	if !validBackends[c.Store.Backend] {
		errs = append(errs, fmt.Errorf("store.backend %q must be one of dynamodb, rest, sqlite", c.Store.Backend))
	}
	t := c.Store.Tables
	if t.Food == "" || t.Sleep == "" || t.Exercise == "" || t.Entries == "" {
		errs = append(errs, errors.New("store.tables must name food, sleep, exercise and entries"))
	}
	switch c.Store.Backend {
	case BackendDynamoDB:
		if c.Store.SessionTable == "" {
			errs = append(errs, errors.New("store.session_table is required for dynamodb"))
		}
	case BackendREST:
		if c.Store.RestURL == "" {
			errs = append(errs, errors.New("store.rest_url is required for rest"))
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for sqlite"))
		}
	}

	needsParams := c.Reasoning.Enabled || c.Store.Backend == BackendREST
	if needsParams && strings.Trim(c.Params.Prefix, "/ ") == "" {
		errs = append(errs, errors.New("params.prefix is required for reasoning and the rest store"))
	}
	if c.Reasoning.Enabled && c.Reasoning.Model == "" {
		errs = append(errs, errors.New("reasoning.model is required when reasoning is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the time zone entry dates are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Pipeline.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PipelineOptions converts the pipeline section into pipeline.Options.
func (c *Config) PipelineOptions() pipeline.Options {
	p := c.Pipeline
	return pipeline.Options{
		ReplyRetries:    p.ReplyRetries,
		ClassifyRetry:   retry.Policy{MaxAttempts: p.ClassifyAttempts, Base: p.BackoffBase, Max: p.BackoffMax},
		PersistRetry:    retry.Policy{MaxAttempts: p.PersistAttempts, Base: p.BackoffBase, Max: p.BackoffMax},
		SessionTTL:      p.SessionTTL,
		EstimateTimeout: p.CallTimeout,
		Location:        c.Location(),
	}
}

// SupabaseKeyParam is the parameter holding the REST store service key.
func (c *Config) SupabaseKeyParam() string {
	return strings.TrimRight(c.Params.Prefix, "/") + "/supabase-key"
}
