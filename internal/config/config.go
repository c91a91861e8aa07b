// Package config loads the command-line configuration from a YAML file, a
// .env file and PORTER_ prefixed environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/syssam/porter"
	"github.com/syssam/porter/dialect"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "PORTER_"

// Config holds the connections and executor settings of the CLI.
type Config struct {
	Source      Database `yaml:"source" envPrefix:"SOURCE_"`
	Destination Database `yaml:"destination" envPrefix:"DESTINATION_"`
	Migrate     Migrate  `yaml:"migrate" envPrefix:"MIGRATE_"`
	Log         Log      `yaml:"log" envPrefix:"LOG_"`
}

// Database describes one database connection.
type Database struct {
	// Driver is a registered database/sql driver name: postgres, pgx, mysql
	// or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
	// Schema restricts inspection to a schema. Defaults to the connection's.
	Schema       string   `yaml:"schema" env:"SCHEMA"`
	Exclude      []string `yaml:"exclude" env:"EXCLUDE" envSeparator:","`
	MaxOpenConns int      `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// Migrate holds the executor settings.
type Migrate struct {
	BatchSize          int    `yaml:"batch_size" env:"BATCH_SIZE"`
	Workers            int    `yaml:"workers" env:"WORKERS"`
	Retry              string `yaml:"retry" env:"RETRY"`
	DisableConstraints bool   `yaml:"disable_constraints" env:"DISABLE_CONSTRAINTS"`
	Checkpoint         string `yaml:"checkpoint" env:"CHECKPOINT"`
}

// Log configures the CLI logger.
type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Migrate: Migrate{
			BatchSize:          1000,
			Retry:              "halve",
			DisableConstraints: true,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads the configuration file at path, if any, then the .env file of
// the working directory, then the environment. A missing file is an error
// only when required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !required:
		case err != nil:
			return nil, fmt.Errorf("config: %w", err)
		default:
			defer f.Close()
			if err := Decode(f, cfg); err != nil {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return cfg, nil
}

// Decode reads YAML into cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that the connection can be opened.
func (d Database) Validate(side string) error {
	switch dialect.Normalize(d.Driver) {
	case dialect.Postgres, dialect.MySQL, dialect.SQLite:
	case "":
		return porter.NewConfigError(side+".driver", d.Driver, "driver is required")
	default:
		return porter.NewConfigError(side+".driver", d.Driver, "use postgres, pgx, mysql or sqlite")
	}
	if d.DSN == "" {
		return porter.NewConfigError(side+".dsn", d.DSN, "dsn is required")
	}
	if d.MaxOpenConns < 0 {
		return porter.NewConfigError(side+".max_open_conns", d.MaxOpenConns, "must not be negative")
	}
	return nil
}
