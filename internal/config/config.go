package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the indexmigrate configuration.
type Config struct {
	Search   SearchConfig   `yaml:"search"`
	Database DatabaseConfig `yaml:"database"`
	Index    IndexConfig    `yaml:"index"`
	Reindex  ReindexConfig  `yaml:"reindex"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Indexes  []IndexDef     `yaml:"indexes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// SearchConfig holds search engine connection settings.
type SearchConfig struct {
	Driver     string `yaml:"driver"` // elasticsearch, bleve (default: elasticsearch)
	Endpoint   string `yaml:"endpoint"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Path       string `yaml:"path"` // bleve index root directory
	TimeoutSec int    `yaml:"timeout_sec"`
}

// DatabaseConfig holds registry database connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds index naming settings.
type IndexConfig struct {
	EnvironmentPrefix string `yaml:"environment_prefix"` // e.g. "test_" for test isolation
	KeyPrefix         string `yaml:"key_prefix"`         // registry storage key namespace
}

// ReindexConfig holds bulk reindex defaults.
type ReindexConfig struct {
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`
}

// HTTPConfig holds admin HTTP server settings (serve subcommand).
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

/// IndexDef declares a managed logical index for the standalone binary:
// a schema file and an optional NDJSON data file serving as its data source.
type IndexDef struct {
	Name       string `yaml:"name"`
	SchemaFile string `yaml:"schema_file"`
	DataFile   string `yaml:"data_file"`
	BatchSize  int    `yaml:"batch_size"` // 0 = reindex.batch_size default
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad is Load that panics on error, for wiring paths where a missing
// config is unrecoverable anyway.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Search.Driver == "" {
		c.Search.Driver = "elasticsearch"
	}
	if c.Search.Endpoint == "" {
		c.Search.Endpoint = "http://localhost:9200"
	}
	if c.Search.Path == "" {
		c.Search.Path = "./bleve-indexes"
	}
	if c.Search.TimeoutSec <= 0 {
		c.Search.TimeoutSec = 30
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "indexmigrate:"
	}
	if c.Reindex.BatchSize <= 0 {
		c.Reindex.BatchSize = 1000
	}
	if c.Reindex.MaxRetries <= 0 {
		c.Reindex.MaxRetries = 5
	}
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Search.Driver {
	case "elasticsearch", "bleve":
	default:
		return fmt.Errorf("search.driver must be \"elasticsearch\" or \"bleve\", got %q", c.Search.Driver)
	}
	switch c.Database.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"memory\", got %q", c.Database.Driver)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	seen := make(map[string]bool, len(c.Indexes))
	for _, def := range c.Indexes {
		if def.Name == "" {
			return fmt.Errorf("indexes entries require a name")
		}
		if strings.ContainsAny(def.Name, ": ") {
			return fmt.Errorf("index name %q must not contain colons or spaces", def.Name)
		}
		if def.SchemaFile == "" {
			return fmt.Errorf("index %q requires a schema_file", def.Name)
		}
		if seen[def.Name] {
			return fmt.Errorf("index %q declared twice", def.Name)
		}
		seen[def.Name] = true
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	if dir := os.Getenv("INDEXMIGRATE_CONFIG_DIR"); dir != "" {
		if path := filepath.Join(dir, filename); fileExists(path) {
			return path
		}
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
