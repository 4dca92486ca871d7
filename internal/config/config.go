package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/dvloznov/bank-batch-pipeline/internal/logger"
	"github.com/dvloznov/bank-batch-pipeline/internal/pipeline"
)

// Source kinds.
const (
	SourceGCS   = "gcs"
	SourceLocal = "local"
)

// Sink kinds.
const (
	SinkBigQuery = "bigquery"
	SinkPostgres = "postgres"
	SinkMemory   = "memory"
)

// Config is the application configuration. It is loaded once at startup
// and not changed afterwards.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Source   SourceConfig   `yaml:"source"`
	Sink     SinkConfig     `yaml:"sink"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	API      APIConfig      `yaml:"api"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SourceConfig says where raw batches are read from.
type SourceConfig struct {
	Kind   string `yaml:"kind"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Dir    string `yaml:"dir"`
	// Format is csv or ndjson.
	Format string `yaml:"format"`
}

// SinkConfig says where results are written.
type SinkConfig struct {
	Kind        string `yaml:"kind"`
	ProjectID   string `yaml:"project_id"`
	Dataset     string `yaml:"dataset"`
	DatabaseURL string `yaml:"database_url"`
}

// RedisConfig configures the partition lock. An empty address disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// WorkerConfig configures the queue consumer and the daily trigger.
type WorkerConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	Schedule   string        `yaml:"schedule"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port   string `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// PipelineConfig is the file form of pipeline.Config.
type PipelineConfig struct {
	MinAmount         float64   `yaml:"min_amount"`
	MaxAmount         float64   `yaml:"max_amount"`
	CurrencyPrecision int32     `yaml:"currency_precision"`
	BankIDPattern     string    `yaml:"bank_id_pattern"`
	RequiredFields    []string  `yaml:"required_fields"`
	ZThresholds       []float64 `yaml:"z_thresholds"`
	MinSamples        int       `yaml:"min_samples"`
	HistoryDays       int       `yaml:"history_days"`
	Granularity       string    `yaml:"granularity"`
	AnomalyPenalty    float64   `yaml:"anomaly_penalty"`
	LevelCutPoints    []float64 `yaml:"level_cut_points"`
	PartialFloor      float64   `yaml:"partial_floor"`
	MinAvgQuality     float64   `yaml:"min_average_quality"`

	WriteMaxAttempts     int           `yaml:"write_max_attempts"`
	WriteInitialInterval time.Duration `yaml:"write_initial_interval"`
	WriteMaxInterval     time.Duration `yaml:"write_max_interval"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	p := pipeline.DefaultConfig()
	return &Config{
		Log:    LogConfig{Level: "info"},
		Source: SourceConfig{Kind: SourceLocal, Dir: "data", Prefix: "raw", Format: "csv"},
		Sink:   SinkConfig{Kind: SinkMemory, Dataset: "banking"},
		Redis:  RedisConfig{LockTTL: 30 * time.Minute},
		Worker: WorkerConfig{
			Workers:    4,
			QueueSize:  100,
			Schedule:   "0 2 * * *",
			MaxRetries: 2,
			RetryDelay: 5 * time.Minute,
			RunTimeout: 30 * time.Minute,
		},
		API: APIConfig{Port: "8080"},
		Pipeline: PipelineConfig{
			MinAmount:            p.MinAmount.InexactFloat64(),
			MaxAmount:            p.MaxAmount.InexactFloat64(),
			CurrencyPrecision:    p.CurrencyPrecision,
			BankIDPattern:        p.BankIDPattern,
			RequiredFields:       p.RequiredFields,
			ZThresholds:          []float64{p.Thresholds.Medium, p.Thresholds.High, p.Thresholds.Critical},
			MinSamples:           p.MinSamples,
			HistoryDays:          p.HistoryDays,
			Granularity:          string(p.Granularity),
			AnomalyPenalty:       p.AnomalyPenalty,
			LevelCutPoints:       []float64{p.Levels.Excellent, p.Levels.Good, p.Levels.Acceptable},
			PartialFloor:         p.PartialFloor,
			MinAvgQuality:        pipeline.DefaultMinAverageQuality,
			WriteMaxAttempts:     p.WriteRetry.MaxAttempts,
			WriteInitialInterval: p.WriteRetry.InitialInterval,
			WriteMaxInterval:     p.WriteRetry.MaxInterval,
		},
	}
}

// Load reads the YAML file at path (if not empty) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &pipeline.ConfigError{Field: "file", Reason: err.Error()}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the application settings and the pipeline settings.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceGCS:
		if c.Source.Bucket == "" {
			return &pipeline.ConfigError{Field: "source.bucket", Reason: "required for gcs source"}
		}
	case SourceLocal:
		if c.Source.Dir == "" {
			return &pipeline.ConfigError{Field: "source.dir", Reason: "required for local source"}
		}
	default:
		return &pipeline.ConfigError{Field: "source.kind", Reason: fmt.Sprintf("unknown source %q", c.Source.Kind)}
	}
	if c.Source.Format != "csv" && c.Source.Format != "ndjson" {
		return &pipeline.ConfigError{Field: "source.format", Reason: fmt.Sprintf("unknown format %q", c.Source.Format)}
	}
	switch c.Sink.Kind {
	case SinkBigQuery:
		if c.Sink.ProjectID == "" || c.Sink.Dataset == "" {
			return &pipeline.ConfigError{Field: "sink.project_id", Reason: "project and dataset required for bigquery sink"}
		}
	case SinkPostgres:
		if c.Sink.DatabaseURL == "" {
			return &pipeline.ConfigError{Field: "sink.database_url", Reason: "required for postgres sink"}
		}
	case SinkMemory:
	default:
		return &pipeline.ConfigError{Field: "sink.kind", Reason: fmt.Sprintf("unknown sink %q", c.Sink.Kind)}
	}
	if c.Worker.Workers < 1 {
		return &pipeline.ConfigError{Field: "worker.workers", Reason: "must be at least 1"}
	}
	_, err := c.PipelineConfig()
	return err
}

// PipelineConfig converts the file form into a validated pipeline.Config.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	p := c.Pipeline
	if len(p.ZThresholds) != 3 {
		return pipeline.Config{}, &pipeline.ConfigError{Field: "z_thresholds", Reason: "need exactly three values: medium, high, critical"}
	}
	if len(p.LevelCutPoints) != 3 {
		return pipeline.Config{}, &pipeline.ConfigError{Field: "quality_levels", Reason: "need exactly three values: excellent, good, acceptable"}
	}
	out := pipeline.Config{
		MinAmount:         decimal.NewFromFloat(p.MinAmount),
		MaxAmount:         decimal.NewFromFloat(p.MaxAmount),
		CurrencyPrecision: p.CurrencyPrecision,
		BankIDPattern:     p.BankIDPattern,
		RequiredFields:    p.RequiredFields,
		Thresholds: pipeline.ZThresholds{
			Medium:   p.ZThresholds[0],
			High:     p.ZThresholds[1],
			Critical: p.ZThresholds[2],
		},
		MinSamples:     p.MinSamples,
		HistoryDays:    p.HistoryDays,
		Granularity:    pipeline.Granularity(p.Granularity),
		AnomalyPenalty: p.AnomalyPenalty,
		Levels: pipeline.LevelCutPoints{
			Excellent:  p.LevelCutPoints[0],
			Good:       p.LevelCutPoints[1],
			Acceptable: p.LevelCutPoints[2],
		},
		PartialFloor: p.PartialFloor,
		WriteRetry: pipeline.RetryConfig{
			MaxAttempts:     p.WriteMaxAttempts,
			InitialInterval: p.WriteInitialInterval,
			MaxInterval:     p.WriteMaxInterval,
		},
	}
	if err := out.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return out, nil
}

// LoggerOptions returns the options for logger.NewWithOptions.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, JSON: c.Log.JSON}
}

func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Source.Kind = getEnv("SOURCE_KIND", c.Source.Kind)
	c.Source.Bucket = getEnv("GCS_BUCKET", c.Source.Bucket)
	c.Source.Prefix = getEnv("GCS_PREFIX", c.Source.Prefix)
	c.Source.Dir = getEnv("SOURCE_DIR", c.Source.Dir)
	c.Source.Format = getEnv("SOURCE_FORMAT", c.Source.Format)
	c.Sink.Kind = getEnv("SINK_KIND", c.Sink.Kind)
	c.Sink.ProjectID = getEnv("BQ_PROJECT", c.Sink.ProjectID)
	c.Sink.Dataset = getEnv("BQ_DATASET", c.Sink.Dataset)
	c.Sink.DatabaseURL = getEnv("DATABASE_URL", c.Sink.DatabaseURL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Worker.Schedule = getEnv("SCHEDULE", c.Worker.Schedule)
	c.API.Port = getEnv("API_PORT", c.API.Port)
	c.API.APIKey = getEnv("API_KEY", c.API.APIKey)
	c.Pipeline.BankIDPattern = getEnv("PIPELINE_BANK_ID_PATTERN", c.Pipeline.BankIDPattern)
	c.Pipeline.Granularity = getEnv("PIPELINE_GRANULARITY", c.Pipeline.Granularity)

	var err error
	set := func(key string, apply func(string) error) {
		if err != nil {
			return
		}
		if v := os.Getenv(key); v != "" {
			if e := apply(v); e != nil {
				err = &pipeline.ConfigError{Field: key, Reason: e.Error()}
			}
		}
	}
	set("LOG_JSON", func(v string) (e error) { c.Log.JSON, e = cast.ToBoolE(v); return })
	set("REDIS_DB", func(v string) (e error) { c.Redis.DB, e = cast.ToIntE(v); return })
	set("WORKER_COUNT", func(v string) (e error) { c.Worker.Workers, e = cast.ToIntE(v); return })
	set("PIPELINE_MAX_AMOUNT", func(v string) (e error) { c.Pipeline.MaxAmount, e = cast.ToFloat64E(v); return })
	set("PIPELINE_MIN_SAMPLES", func(v string) (e error) { c.Pipeline.MinSamples, e = cast.ToIntE(v); return })
	set("PIPELINE_HISTORY_DAYS", func(v string) (e error) { c.Pipeline.HistoryDays, e = cast.ToIntE(v); return })
	set("PIPELINE_ANOMALY_PENALTY", func(v string) (e error) { c.Pipeline.AnomalyPenalty, e = cast.ToFloat64E(v); return })
	set("PIPELINE_PARTIAL_FLOOR", func(v string) (e error) { c.Pipeline.PartialFloor, e = cast.ToFloat64E(v); return })
	set("WORKER_RUN_TIMEOUT", func(v string) (e error) { c.Worker.RunTimeout, e = cast.ToDurationE(v); return })
	return err
}

// getEnv retrieves an environment variable or returns a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
