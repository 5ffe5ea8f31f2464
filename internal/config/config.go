// Package config loads stmtingest settings from a YAML file, STMTINGEST_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/extract"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/ledger"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/logger"
)

// EnvPrefix prefixes every environment override, e.g. STMTINGEST_STORE_DRIVER.
const EnvPrefix = "STMTINGEST"

// DefaultFile is read from the working directory when no file is given.
const DefaultFile = "stmtingest.yaml"

// Store drivers.
const (
	DriverSQLite    = "sqlite"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// Config is the resolved configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Log    LogConfig    `mapstructure:"log"`
	Rules  RulesConfig  `mapstructure:"rules"`
}

type StoreConfig struct {
	Driver          string `mapstructure:"driver"`
	Path            string `mapstructure:"path"`
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type IngestConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RetryTimeout time.Duration `mapstructure:"retry_timeout"`
	// Tolerance is a decimal string; empty means one minor unit of each
	// statement's currency.
	Tolerance string `mapstructure:"tolerance"`
	TailSize  int    `mapstructure:"tail_size"`
	Currency  string `mapstructure:"currency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RulesConfig struct {
	File string `mapstructure:"file"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"store":       "store.driver",
	"db":          "store.path",
	"project":     "store.project_id",
	"credentials": "store.credentials_file",
	"concurrency": "ingest.concurrency",
	"timeout":     "ingest.timeout",
	"tolerance":   "ingest.tolerance",
	"currency":    "ingest.currency",
	"log-level":   "log.level",
	"log-format":  "log.format",
	"rules":       "rules.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "ledger.db")
	v.SetDefault("store.project_id", "")
	v.SetDefault("store.credentials_file", "")
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.timeout", extract.DefaultTimeout)
	v.SetDefault("ingest.retry_timeout", extract.DefaultRetryTimeout)
	v.SetDefault("ingest.tolerance", "")
	v.SetDefault("ingest.tail_size", ledger.DefaultTailSize)
	v.SetDefault("ingest.currency", "USD")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatConsole)
	v.SetDefault("rules.file", "")
}

// Load resolves the configuration. path names a YAML file; when empty,
// DefaultFile is used if present. flags may be nil; only flags the user set
// override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		v.SetConfigFile(DefaultFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", DefaultFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", DefaultFile, err)
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", DriverSQLite)
		}
	case DriverFirestore:
		if c.Store.ProjectID == "" {
			return fmt.Errorf("store.project_id is required for the %s driver", DriverFirestore)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of %s, %s, %s; got %q", DriverSQLite, DriverFirestore, DriverMemory, c.Store.Driver)
	}

	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be >= 1, got %d", c.Ingest.Concurrency)
	}
	if c.Ingest.Timeout <= 0 {
		return fmt.Errorf("ingest.timeout must be > 0, got %v", c.Ingest.Timeout)
	}
	if c.Ingest.RetryTimeout < c.Ingest.Timeout {
		return fmt.Errorf("ingest.retry_timeout (%v) must be >= ingest.timeout (%v)", c.Ingest.RetryTimeout, c.Ingest.Timeout)
	}
	if c.Ingest.TailSize < 1 {
		return fmt.Errorf("ingest.tail_size must be >= 1, got %d", c.Ingest.TailSize)
	}
	if _, err := c.Tolerance(); err != nil {
		return err
	}

	if _, err := logger.NewWithWriter(io.Discard, c.Log.Level, c.Log.Format); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// Tolerance parses ingest.tolerance. A nil result means the per-currency
// default.
func (c *Config) Tolerance() (*decimal.Decimal, error) {
	raw := strings.TrimSpace(c.Ingest.Tolerance)
	if raw == "" {
		return nil, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("ingest.tolerance %q is not a decimal: %w", raw, err)
	}
	if tol.IsNegative() {
		return nil, fmt.Errorf("ingest.tolerance must be >= 0, got %s", tol)
	}
	return &tol, nil
}
