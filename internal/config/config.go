// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore configuration from defaults, a YAML file,
// command-line flags and AUTHCORE_* environment variables, in that order.
package config

import (
	"net"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/logging"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "AUTHCORE_"

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the full authcore configuration.
type Config struct {
	Log         LogConfig         `koanf:"log" yaml:"log" envPrefix:"LOG_"`
	Database    DatabaseConfig    `koanf:"database" yaml:"database" envPrefix:"DATABASE_"`
	Password    PasswordConfig    `koanf:"password" yaml:"password" envPrefix:"PASSWORD_"`
	Users       UsersConfig       `koanf:"users" yaml:"users" envPrefix:"USERS_"`
	LoginTokens LoginTokensConfig `koanf:"login_tokens" yaml:"login_tokens" envPrefix:"LOGIN_TOKENS_"`
	Sweeper     SweeperConfig     `koanf:"sweeper" yaml:"sweeper" envPrefix:"SWEEPER_"`
	Metrics     MetricsConfig     `koanf:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

// LogConfig selects the log output format and minimum level.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" env:"FORMAT"`
	Level  string `koanf:"level" yaml:"level" env:"LEVEL"`
}

// DatabaseConfig selects the storage backend. URL is used by postgres and
// Path by sqlite.
type DatabaseConfig struct {
	Driver string `koanf:"driver" yaml:"driver" env:"DRIVER"`
	URL    string `koanf:"url" yaml:"url" env:"URL"`
	Path   string `koanf:"path" yaml:"path" env:"PATH"`
}

// PasswordConfig holds the password policy and hashing parameters.
type PasswordConfig struct {
	Algorithm  string              `koanf:"algorithm" yaml:"algorithm" env:"ALGORITHM"`
	MinLength  int                 `koanf:"min_length" yaml:"min_length" env:"MIN_LENGTH"`
	MaxLength  int                 `koanf:"max_length" yaml:"max_length" env:"MAX_LENGTH"`
	Argon2id   auth.Argon2idParams `koanf:"argon2id" yaml:"argon2id" envPrefix:"ARGON2ID_"`
	BcryptCost int                 `koanf:"bcrypt_cost" yaml:"bcrypt_cost" env:"BCRYPT_COST"`
}

// UsersConfig holds the user lookup policy.
type UsersConfig struct {
	RequireUsername bool `koanf:"require_username" yaml:"require_username" env:"REQUIRE_USERNAME"`
	IncludeDeleted  bool `koanf:"include_deleted" yaml:"include_deleted" env:"INCLUDE_DELETED"`
	FoldEmailCase   bool `koanf:"fold_email_case" yaml:"fold_email_case" env:"FOLD_EMAIL_CASE"`
}

// LoginTokensConfig holds the remember-me token policy.
type LoginTokensConfig struct {
	RememberFor    time.Duration `koanf:"remember_for" yaml:"remember_for" env:"REMEMBER_FOR"`
	StrictRotation bool          `koanf:"strict_rotation" yaml:"strict_rotation" env:"STRICT_ROTATION"`
}

// MarshalYAML renders the lifetime as a duration string.
func (c LoginTokensConfig) MarshalYAML() (any, error) {
	return struct {
		RememberFor    string `yaml:"remember_for"`
		StrictRotation bool   `yaml:"strict_rotation"`
	}{c.RememberFor.String(), c.StrictRotation}, nil
}

// SweeperConfig holds the expired token purge schedule.
type SweeperConfig struct {
	Interval time.Duration `koanf:"interval" yaml:"interval" env:"INTERVAL"`
}

// MarshalYAML renders the interval as a duration string.
func (c SweeperConfig) MarshalYAML() (any, error) {
	return struct {
		Interval string `yaml:"interval"`
	}{c.Interval.String()}, nil
}

// MetricsConfig holds the metrics and health server address. An empty
// address disables the server.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" env:"ADDR"`
}

// Default returns the built-in configuration.
func Default() Config {
	policy := auth.DefaultPolicy()
	return Config{
		Log: LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			Driver: DriverPostgres,
			Path:   "authcore.db",
		},
		Password: PasswordConfig{
			Algorithm:  auth.AlgorithmArgon2id,
			MinLength:  policy.MinPasswordLength,
			MaxLength:  policy.MaxPasswordLength,
			Argon2id:   auth.DefaultArgon2idParams(),
			BcryptCost: 10,
		},
		Users: UsersConfig{
			RequireUsername: policy.RequireUsername,
			IncludeDeleted:  policy.IncludeDeleted,
			FoldEmailCase:   policy.FoldEmailCase,
		},
		LoginTokens: LoginTokensConfig{RememberFor: auth.DefaultTokenLifetime},
		Sweeper:     SweeperConfig{Interval: time.Hour},
		Metrics:     MetricsConfig{Addr: "127.0.0.1:9100"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"database-driver": "database.driver",
	"database-url":    "database.url",
	"database-path":   "database.path",
	"remember-for":    "login_tokens.remember_for",
	"strict-rotation": "login_tokens.strict_rotation",
	"sweep-interval":  "sweeper.interval",
	"metrics-addr":    "metrics.addr",
}

// RegisterFlags declares the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "minimum log level (debug, info, warn, error)")
	fs.String("database-driver", d.Database.Driver, "storage backend (postgres or sqlite)")
	fs.String("database-url", d.Database.URL, "PostgreSQL connection URL")
	fs.String("database-path", d.Database.Path, "SQLite database file")
	fs.Duration("remember-for", d.LoginTokens.RememberFor, "lifetime of remember-me tokens")
	fs.Bool("strict-rotation", d.LoginTokens.StrictRotation, "replace the token pair on every remember-me login")
	fs.Duration("sweep-interval", d.Sweeper.Interval, "interval between expired token purges")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
}

// Load builds the configuration. path and flags are optional; only flags
// that were set on the command line override earlier layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithValue(flags, ".", nil, func(name, value string) (string, any) {
			return flagKeys[name], value
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.With("field", "log.level").Wrap(err)
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return invalid("database.url", "is required for the postgres driver")
		}
		if _, err := url.Parse(c.Database.URL); err != nil {
			return invalid("database.url", "is not a valid URL")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return invalid("database.path", "is required for the sqlite driver")
		}
	default:
		return invalid("database.driver", "must be 'postgres' or 'sqlite', got %q", c.Database.Driver)
	}

	switch c.Password.Algorithm {
	case auth.AlgorithmArgon2id:
		if err := c.Password.Argon2id.Validate(); err != nil {
			return oops.With("field", "password.argon2id").Wrap(err)
		}
	case auth.AlgorithmBcrypt:
		if _, err := auth.NewBcryptHasher(c.Password.BcryptCost); err != nil {
			return oops.With("field", "password.bcrypt_cost").Wrap(err)
		}
		if c.Password.MaxLength > auth.BcryptMaxPasswordBytes {
			return invalid("password.max_length", "must be at most %d with bcrypt, got %d",
				auth.BcryptMaxPasswordBytes, c.Password.MaxLength)
		}
	default:
		return invalid("password.algorithm", "must be %q or %q, got %q",
			auth.AlgorithmArgon2id, auth.AlgorithmBcrypt, c.Password.Algorithm)
	}
	if err := c.Policy().Validate(); err != nil {
		return oops.With("field", "password.min_length").Wrap(err)
	}

	if err := c.TokenPolicy().Validate(); err != nil {
		return oops.With("field", "login_tokens.remember_for").Wrap(err)
	}
	if c.Sweeper.Interval <= 0 {
		return invalid("sweeper.interval", "must be positive, got %s", c.Sweeper.Interval)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return invalid("metrics.addr", "must be host:port, got %q", c.Metrics.Addr)
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(field+" "+format, args...)
}

// Policy returns the credential policy.
func (c *Config) Policy() auth.Policy {
	p := auth.Policy{
		MinPasswordLength: c.Password.MinLength,
		MaxPasswordLength: c.Password.MaxLength,
		RequireUsername:   c.Users.RequireUsername,
		IncludeDeleted:    c.Users.IncludeDeleted,
		FoldEmailCase:     c.Users.FoldEmailCase,
	}
	if c.Password.Algorithm == auth.AlgorithmBcrypt {
		p.MaxPasswordBytes = auth.BcryptMaxPasswordBytes
	}
	return p
}

// HashConfig returns the password hasher configuration.
func (c *Config) HashConfig() auth.HashConfig {
	return auth.HashConfig{
		Algorithm:  c.Password.Algorithm,
		Argon2id:   c.Password.Argon2id,
		BcryptCost: c.Password.BcryptCost,
	}
}

// TokenPolicy returns the login token policy.
func (c *Config) TokenPolicy() auth.TokenPolicy {
	return auth.TokenPolicy{
		Lifetime:       c.LoginTokens.RememberFor,
		StrictRotation: c.LoginTokens.StrictRotation,
	}
}

// Redacted returns a copy safe to print, with any password in the database
// URL masked.
func (c *Config) Redacted() Config {
	out := *c
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		out.Database.URL = u.Redacted()
	}
	return out
}
