package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server
	ServerPort    string        `yaml:"port"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	CORSOrigins   string        `yaml:"cors_allowed_origins"`

	// Layout
	WebDir    string `yaml:"web_dir"`
	UploadDir string `yaml:"upload_dir"`
	OutputDir string `yaml:"output_dir"`

	// Merge tools
	MergeTimeout       time.Duration `yaml:"merge_timeout"`
	RenderBinary       string        `yaml:"render_binary"`
	SameTemplateBinary string        `yaml:"same_template_binary"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text | json

	// Artifacts (optional S3 copy of finished decks)
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// ArtifactsConfig configures artifact publishing
type ArtifactsConfig struct {
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	AWSRegion string `yaml:"aws_region"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ServerPort:         "8080",
		ShutdownGrace:      15 * time.Second,
		CORSOrigins:        "",
		WebDir:             "web",
		UploadDir:          "uploads",
		OutputDir:          "output",
		MergeTimeout:       600 * time.Second,
		RenderBinary:       "kjandoc",
		SameTemplateBinary: "kjandoc-st",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration from defaults, an optional yaml file and
// environment variables, in that order. A .env file is read if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
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

func (c *Config) applyEnv() error {
	c.ServerPort = getEnv("DEMOWARE_PORT", c.ServerPort)
	c.CORSOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.CORSOrigins)
	c.WebDir = getEnv("DEMOWARE_WEB_DIR", c.WebDir)
	c.UploadDir = getEnv("DEMOWARE_UPLOAD_DIR", c.UploadDir)
	c.OutputDir = getEnv("DEMOWARE_OUTPUT_DIR", c.OutputDir)
	c.RenderBinary = getEnv("DEMOWARE_RENDER_BINARY", c.RenderBinary)
	c.SameTemplateBinary = getEnv("DEMOWARE_SAME_TEMPLATE_BINARY", c.SameTemplateBinary)
	c.LogLevel = getEnv("DEMOWARE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("DEMOWARE_LOG_FORMAT", c.LogFormat)
	c.Artifacts.S3Bucket = getEnv("DEMOWARE_S3_BUCKET", c.Artifacts.S3Bucket)
	c.Artifacts.S3Prefix = getEnv("DEMOWARE_S3_PREFIX", c.Artifacts.S3Prefix)
	c.Artifacts.AWSRegion = getEnv("AWS_REGION", c.Artifacts.AWSRegion)

	var err error
	if c.MergeTimeout, err = getEnvDuration("DEMOWARE_MERGE_TIMEOUT", c.MergeTimeout); err != nil {
		return err
	}
	if c.ShutdownGrace, err = getEnvDuration("DEMOWARE_SHUTDOWN_GRACE", c.ShutdownGrace); err != nil {
		return err
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.ServerPort == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.UploadDir == "" || c.OutputDir == "" || c.WebDir == "" {
		errs = append(errs, errors.New("web_dir, upload_dir and output_dir are required"))
	}
	if c.MergeTimeout <= 0 {
		errs = append(errs, errors.New("merge_timeout must be positive"))
	}
	if c.RenderBinary == "" || c.SameTemplateBinary == "" {
		errs = append(errs, errors.New("render_binary and same_template_binary are required"))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
