package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/govern/export"
	"github.com/hupe1980/govern/policy"
)

// Environment overrides.
const (
	envLogLevel = "GOVERND_LOG_LEVEL"
	envListen   = "GOVERND_LISTEN"
)

// Config is the server configuration file.
type Config struct {
	Listen string `yaml:"listen"`

	// PolicyFile replaces the inline policy when set.
	PolicyFile string        `yaml:"policy_file"`
	Policy     policy.Policy `yaml:"policy"`

	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
	Export  ExportConfig  `yaml:"export"`

	// MaxBodyMB bounds uploads. 0 uses the middleware default.
	MaxBodyMB int64 `yaml:"max_body_mb"`

	// TempDir holds uploads and outputs. Defaults to os.TempDir.
	TempDir string `yaml:"temp_dir"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Tools []ToolConfig `yaml:"tools"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// File receives spans; empty writes to stdout.
	File string `yaml:"file"`
}

// ExportConfig configures report snapshots. An empty Sink disables export.
type ExportConfig struct {
	Sink     string        `yaml:"sink"` // memory, local, s3, minio or redis
	Interval time.Duration `yaml:"interval"`
	Codec    string        `yaml:"codec"`
	Keep     int           `yaml:"keep"`
	Prefix   string        `yaml:"prefix"`

	Local LocalSinkConfig `yaml:"local"`
	S3    S3SinkConfig    `yaml:"s3"`
	MinIO MinIOSinkConfig `yaml:"minio"`
	Redis RedisSinkConfig `yaml:"redis"`
}

type LocalSinkConfig struct {
	Dir string `yaml:"dir"`
}

type S3SinkConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

type MinIOSinkConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

type RedisSinkConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// ToolConfig exposes an external converter as POST /api/<name>.
//
// Args may contain the placeholders {input} and {output}, which are replaced
// with the uploaded file and the expected output file.
type ToolConfig struct {
	Name        string          `yaml:"name"`
	Category    policy.Category `yaml:"category"`
	Command     string          `yaml:"command"`
	Args        []string        `yaml:"args"`
	OutputExt   string          `yaml:"output_ext"`
	ContentType string          `yaml:"content_type"`
	Timeout     time.Duration   `yaml:"timeout"`

	// Probe is a command run by /api/health, e.g. ["ffmpeg", "-version"].
	Probe []string `yaml:"probe"`
}

func defaultConfig() Config {
	return Config{
		Listen:          ":8080",
		Policy:          policy.Default(),
		Log:             LogConfig{Level: "info", Format: "json"},
		ShutdownTimeout: 30 * time.Second,
		Export: ExportConfig{
			Interval: time.Minute,
			Codec:    "zstd",
			Keep:     100,
			Prefix:   export.DefaultPrefix,
		},
	}
}

// parseConfig decodes YAML on top of the defaults and applies env overrides.
func parseConfig(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.PolicyFile != "" {
		p, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Policy = p
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envListen); v != "" {
		cfg.Listen = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadConfig reads path. An empty path yields the defaults without tools.
func loadConfig(path string) (Config, error) {
	if path == "" {
		return parseConfig(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return parseConfig(data)
}

// Validate returns an aggregated error describing invalid settings or nil.
func (c Config) Validate() error {
	var errs []error
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxBodyMB < 0 {
		errs = append(errs, fmt.Errorf("max_body_mb must be >= 0, got %d", c.MaxBodyMB))
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	switch c.Export.Sink {
	case "", "memory":
	case "local":
		if c.Export.Local.Dir == "" {
			errs = append(errs, errors.New("export.local.dir is required"))
		}
	case "s3":
		if c.Export.S3.Bucket == "" {
			errs = append(errs, errors.New("export.s3.bucket is required"))
		}
	case "minio":
		if c.Export.MinIO.Endpoint == "" || c.Export.MinIO.Bucket == "" {
			errs = append(errs, errors.New("export.minio.endpoint and export.minio.bucket are required"))
		}
	case "redis":
		if c.Export.Redis.Addr == "" {
			errs = append(errs, errors.New("export.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown export.sink %q", c.Export.Sink))
	}
	if c.Export.Sink != "" && c.Export.Interval <= 0 {
		errs = append(errs, fmt.Errorf("export.interval must be > 0, got %s", c.Export.Interval))
	}
	if _, err := export.ParseCodec(c.Export.Codec); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("tools[%d]: name is required", i))
		case strings.ContainsAny(t.Name, "/ "):
			errs = append(errs, fmt.Errorf("tools[%d]: name %q must not contain '/' or spaces", i, t.Name))
		case t.Name == "health" || t.Name == "metrics":
			errs = append(errs, fmt.Errorf("tools[%d]: name %q is reserved", i, t.Name))
		case seen[t.Name]:
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
		if !t.Category.Valid() {
			errs = append(errs, fmt.Errorf("tools[%d]: unknown category %q", i, t.Category))
		}
		if t.Command == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: command is required", i))
		}
	}

	return errors.Join(errs...)
}
