package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

type Config struct {
	RunloopAPIURL      string
	RunloopAPIKey      string
	RunloopHTTPTimeout time.Duration

	OutputDir           string
	BaseImage           string
	PollInterval        time.Duration
	BuildTimeout        time.Duration
	MaxPolls            int
	MaxConcurrentBuilds int
	SkipExisting        bool
	ListLimit           int
	FailFast            bool
	MaxDockerfileSize   datasize.ByteSize

	LogLevel  string
	LogFormat string

	OtelEndpoint    string
	OtelServiceName string
	OtelInsecure    bool
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	cfg := &Config{
		RunloopAPIURL:      getEnv("RUNLOOP_API_URL", "https://api.runloop.ai"),
		RunloopAPIKey:      getEnv("RUNLOOP_API_KEY", ""),
		RunloopHTTPTimeout: getEnvDuration("RUNLOOP_HTTP_TIMEOUT", 30*time.Second),

		OutputDir:           getEnv("OUTPUT_DIR", "./runloop_output"),
		BaseImage:           getEnv("BLUEPRINT_BASE_IMAGE", "ubuntu:22.04"),
		PollInterval:        getEnvDuration("BLUEPRINT_POLL_INTERVAL", 20*time.Second),
		BuildTimeout:        getEnvDuration("BLUEPRINT_BUILD_TIMEOUT", 2*time.Hour),
		MaxPolls:            getEnvInt("BLUEPRINT_MAX_POLLS", 0),
		MaxConcurrentBuilds: getEnvInt("MAX_CONCURRENT_BUILDS", 1),
		SkipExisting:        getEnvBool("BLUEPRINT_SKIP_EXISTING", false),
		ListLimit:           getEnvInt("BLUEPRINT_LIST_LIMIT", 300),
		FailFast:            getEnvBool("BLUEPRINT_FAIL_FAST", false),
		MaxDockerfileSize:   getEnvSize("MAX_DOCKERFILE_SIZE", 1*datasize.MB),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		OtelEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		OtelServiceName: getEnv("OTEL_SERVICE_NAME", "swebench-blueprints"),
		OtelInsecure:    getEnvBool("OTEL_INSECURE", false),
	}

	return cfg
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	var errs []error
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.BuildTimeout < 0 {
		errs = append(errs, fmt.Errorf("build timeout must not be negative, got %s", c.BuildTimeout))
	}
	if c.MaxConcurrentBuilds < 1 {
		errs = append(errs, fmt.Errorf("max concurrent builds must be at least 1, got %d", c.MaxConcurrentBuilds))
	}
	if c.ListLimit < 1 {
		errs = append(errs, fmt.Errorf("list limit must be at least 1, got %d", c.ListLimit))
	}
	return errors.Join(errs...)
}

// ValidateAPI checks the settings needed to talk to the Runloop API
func (c *Config) ValidateAPI() error {
	if c.RunloopAPIKey == "" {
		return errors.New("RUNLOOP_API_KEY must be set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSize(key string, defaultValue datasize.ByteSize) datasize.ByteSize {
	if value := os.Getenv(key); value != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(value)); err == nil {
			return size
		}
	}
	return defaultValue
}
