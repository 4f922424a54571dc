package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Graph     GraphConfig     `mapstructure:"graph"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Health    HealthConfig    `mapstructure:"health"`
}

// GraphConfig selects and configures the graph store.
type GraphConfig struct {
	Store     string `mapstructure:"store"` // neo4j or memory
	URI       string `mapstructure:"uri"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	BatchSize int    `mapstructure:"batch_size"`
}

// ArtifactsConfig selects where artifacts are read from.
type ArtifactsConfig struct {
	Source string `mapstructure:"source"` // file or postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

type ExtractConfig struct {
	Vocabulary string `mapstructure:"vocabulary"` // empty means the embedded list
	Workers    int    `mapstructure:"workers"`
	CacheSize  int    `mapstructure:"cache_size"`
}

// AnalysisConfig bounds the analyzer and describes the migration layers.
type AnalysisConfig struct {
	EntryPointPrefixes []string       `mapstructure:"entry_point_prefixes"`
	EntryPoints        []string       `mapstructure:"entry_points"`
	MaxImpactDepth     int            `mapstructure:"max_impact_depth"`
	MaxPathHops        int            `mapstructure:"max_path_hops"`
	MaxPaths           int            `mapstructure:"max_paths"`
	QueryTimeout       time.Duration  `mapstructure:"query_timeout"`
	SnapshotCacheSize  int            `mapstructure:"snapshot_cache_size"`
	SnapshotTTL        time.Duration  `mapstructure:"snapshot_ttl"`
	Layers             map[string]int `mapstructure:"layers"` // node kind -> rank
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type HealthConfig struct {
	Addr    string `mapstructure:"addr"`
	Version string `mapstructure:"version"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Graph: GraphConfig{
			Store:     "neo4j",
			URI:       "bolt://localhost:7687",
			Username:  "neo4j",
			Database:  "neo4j",
			BatchSize: 500,
		},
		Artifacts: ArtifactsConfig{
			Source: "file",
			Path:   "artifacts.json",
		},
		Extract: ExtractConfig{
			Workers:   8,
			CacheSize: 4096,
		},
		Analysis: AnalysisConfig{
			EntryPointPrefixes: []string{"API_", "Task_", "WS_", "Event_", "Main"},
			MaxImpactDepth:     10,
			MaxPathHops:        12,
			MaxPaths:           64,
			QueryTimeout:       30 * time.Second,
			SnapshotCacheSize:  16,
			SnapshotTTL:        5 * time.Minute,
		},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "wxcode-sync",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			SampleRate:  1.0,
			Environment: "development",
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		Health:  HealthConfig{Addr: ":8081", Version: "dev"},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	switch c.Graph.Store {
	case "", "neo4j", "memory":
	default:
		warnings = append(warnings, fmt.Sprintf("graph store '%s' is unknown; expected neo4j or memory", c.Graph.Store))
	}
	if c.Graph.Store == "neo4j" && c.Graph.URI == "" {
		warnings = append(warnings, "graph store is neo4j but graph.uri is empty")
	}
	if c.Graph.BatchSize < 0 {
		warnings = append(warnings, fmt.Sprintf("graph batch_size %d is negative", c.Graph.BatchSize))
	}

	switch c.Artifacts.Source {
	case "", "file":
	case "postgres":
		if c.Artifacts.DSN == "" {
			warnings = append(warnings, "artifact source is postgres but artifacts.dsn is empty")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("artifact source '%s' is unknown; expected file or postgres", c.Artifacts.Source))
	}

	if c.Extract.Workers < 0 {
		warnings = append(warnings, fmt.Sprintf("extract workers %d is negative", c.Extract.Workers))
	}
	if c.Analysis.MaxPathHops < 0 || c.Analysis.MaxPaths < 0 || c.Analysis.MaxImpactDepth < 0 {
		warnings = append(warnings, "analysis limits must not be negative")
	}
	for kind, rank := range c.Analysis.Layers {
		if rank < 0 {
			warnings = append(warnings, fmt.Sprintf("layer rank for '%s' is negative", kind))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from an optional .env file, the config file at
// path (skipped when empty) and WXCODE_* environment variables, on top of
// Default().
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("WXCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// setDefaults registers every default key so AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("graph.store", d.Graph.Store)
	v.SetDefault("graph.uri", d.Graph.URI)
	v.SetDefault("graph.username", d.Graph.Username)
	v.SetDefault("graph.password", d.Graph.Password)
	v.SetDefault("graph.database", d.Graph.Database)
	v.SetDefault("graph.batch_size", d.Graph.BatchSize)

	v.SetDefault("artifacts.source", d.Artifacts.Source)
	v.SetDefault("artifacts.path", d.Artifacts.Path)
	v.SetDefault("artifacts.dsn", d.Artifacts.DSN)

	v.SetDefault("extract.vocabulary", d.Extract.Vocabulary)
	v.SetDefault("extract.workers", d.Extract.Workers)
	v.SetDefault("extract.cache_size", d.Extract.CacheSize)

	v.SetDefault("analysis.entry_point_prefixes", d.Analysis.EntryPointPrefixes)
	v.SetDefault("analysis.entry_points", d.Analysis.EntryPoints)
	v.SetDefault("analysis.max_impact_depth", d.Analysis.MaxImpactDepth)
	v.SetDefault("analysis.max_path_hops", d.Analysis.MaxPathHops)
	v.SetDefault("analysis.max_paths", d.Analysis.MaxPaths)
	v.SetDefault("analysis.query_timeout", d.Analysis.QueryTimeout)
	v.SetDefault("analysis.snapshot_cache_size", d.Analysis.SnapshotCacheSize)
	v.SetDefault("analysis.snapshot_ttl", d.Analysis.SnapshotTTL)

	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.environment", d.Tracing.Environment)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.path", d.Audit.Path)
	v.SetDefault("health.addr", d.Health.Addr)
	v.SetDefault("health.version", d.Health.Version)
}
