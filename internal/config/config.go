package config

import (
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Storage drivers accepted in storage.driver.
const (
	DriverMemory   = "memory"
	DriverKV       = "kv"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSession  = "session"
)

// EnvPrefix prefixes every environment override, e.g. CSRF_GUARD_STRENGTH.
const EnvPrefix = "CSRF"

const defaultStorageLimit = 200

// Config holds the full application configuration, loaded from a YAML file
// and then overridden from the environment.
type Config struct {
	Server struct {
		Host    string `yaml:"host" envconfig:"HOST"` // Host address to bind the service to
		Port    string `yaml:"port" envconfig:"PORT"` // Port on which the service listens
		Prefork bool   `yaml:"prefork" envconfig:"PREFORK"`
	} `yaml:"server" envconfig:"SERVER"`

	Logger struct {
		File       string `yaml:"file" envconfig:"FILE"`   // Path to the log file, stdout only when empty
		Level      string `yaml:"level" envconfig:"LEVEL"` // Logging verbosity level
		MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB"`
		MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS"`
		MaxAgeDays int    `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS"`
		Compress   bool   `yaml:"compress" envconfig:"COMPRESS"`
	} `yaml:"logger" envconfig:"LOGGER"`

	Guard struct {
		Prefix   string `yaml:"prefix" envconfig:"PREFIX"`
		Strength int    `yaml:"strength" envconfig:"STRENGTH"`
		// StorageLimit defaults to 200 when absent; 0 disables eviction.
		StorageLimit           *int `yaml:"storage_limit" envconfig:"STORAGE_LIMIT"`
		PersistentTokenMode    bool `yaml:"persistent_token_mode" envconfig:"PERSISTENT_TOKEN_MODE"`
		RejectSafeMethodTokens bool `yaml:"reject_safe_method_tokens" envconfig:"REJECT_SAFE_METHOD_TOKENS"`
	} `yaml:"guard" envconfig:"GUARD"`

	Storage struct {
		Driver string `yaml:"driver" envconfig:"DRIVER"`
		Redis  struct {
			Addr      string `yaml:"addr" envconfig:"ADDR"`
			Password  string `yaml:"password" envconfig:"PASSWORD"`
			DB        int    `yaml:"db" envconfig:"DB"`
			Namespace string `yaml:"namespace" envconfig:"NAMESPACE"`
		} `yaml:"redis" envconfig:"REDIS"`
		KV struct {
			Key string        `yaml:"key" envconfig:"KEY"`
			TTL time.Duration `yaml:"ttl" envconfig:"TTL"` // 0 keeps the list forever
		} `yaml:"kv" envconfig:"KV"`
		Postgres struct {
			DSN string `yaml:"dsn" envconfig:"DSN"`
		} `yaml:"postgres" envconfig:"POSTGRES"`
	} `yaml:"storage" envconfig:"STORAGE"`

	Session struct {
		Expiration time.Duration `yaml:"expiration" envconfig:"EXPIRATION"`
		KeyLookup  string        `yaml:"key_lookup" envconfig:"KEY_LOOKUP"` // e.g. "cookie:session_id"
	} `yaml:"session" envconfig:"SESSION"`
}

// Limit returns the effective guard storage limit.
func (c Config) Limit() int {
	if c.Guard.StorageLimit == nil {
		return defaultStorageLimit
	}
	return *c.Guard.StorageLimit
}

// Load loads the configuration. You can override the path via CONFIG_PATH.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/csrf-guard.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom loads the configuration from the specified YAML file path and
// applies CSRF_* environment overrides.
// Panics if the file cannot be read, the format is invalid or a value is out of range.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic("Error reading " + path + ": " + err.Error())
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic("Invalid YAML format in " + path + ": " + err.Error())
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		panic("Invalid environment override: " + err.Error())
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSession
	}
	switch cfg.Storage.Driver {
	case DriverMemory, DriverKV, DriverRedis, DriverSession:
	case DriverPostgres:
		if cfg.Storage.Postgres.DSN == "" {
			panic("storage.postgres.dsn must be set for the postgres driver")
		}
	default:
		panic("unknown storage.driver " + cfg.Storage.Driver)
	}
	if cfg.Guard.StorageLimit != nil && *cfg.Guard.StorageLimit < 0 {
		panic("guard.storage_limit must be >= 0")
	}

	return cfg
}
