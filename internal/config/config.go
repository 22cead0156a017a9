// SPDX-License-Identifier: Apache-2.0

// Package config assembles the immutable run configuration from flags,
// environment variables, and an optional YAML file, in that ascending
// order of precedence, via viper. It is also responsible for resolving the
// database password when it is not supplied directly, and for validating
// every table/column identifier before the rest of the engine ever sees it.
package config

import (
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/geocoug/pg-upsert/internal/catalog"
	"github.com/geocoug/pg-upsert/internal/pgerrors"
	"github.com/geocoug/pg-upsert/internal/upsert"
)

const (
	DefaultStagingSchema = "staging"
	DefaultBaseSchema    = "public"
	DefaultEncoding      = "utf-8"
	DefaultPort          = 5432
)

// Config is the fully-resolved, validated run configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Encoding string

	StagingSchema string
	BaseSchema    string
	Tables        []string

	ExcludeCols       []string
	ExcludeNullChecks []string

	Method      upsert.Method
	DoCommit    bool
	Interactive bool
	Quiet       bool
	Debug       bool
	LogFile     string
}

// fileConfig is the mapstructure-tagged shape Load unmarshals viper's merged
// settings into. Its field set is the complete list of recognized keys:
// anything else reaching viper from the config file (a typo'd or stale key)
// fails decoding instead of being silently ignored.
type fileConfig struct {
	Host              string   `mapstructure:"host"`
	Port              int      `mapstructure:"port"`
	Database          string   `mapstructure:"database"`
	User              string   `mapstructure:"user"`
	Password          string   `mapstructure:"password"`
	Encoding          string   `mapstructure:"encoding"`
	StagingSchema     string   `mapstructure:"staging_schema"`
	BaseSchema        string   `mapstructure:"base_schema"`
	Tables            []string `mapstructure:"tables"`
	ExcludeColumns    []string `mapstructure:"exclude_columns"`
	NullColumns       []string `mapstructure:"null_columns"`
	UpsertMethod      string   `mapstructure:"upsert_method"`
	Commit            bool     `mapstructure:"commit"`
	Interactive       bool     `mapstructure:"interactive"`
	Quiet             bool     `mapstructure:"quiet"`
	Debug             bool     `mapstructure:"debug"`
	LogFile           string   `mapstructure:"logfile"`
	ConfigFile        string   `mapstructure:"config_file"`
}

// Load reads the settings bound into viper by cmd/flags (flags, then
// PGUPSERT_* environment variables, then an optional YAML file layered on
// top), resolves the password, and validates the result.
func Load() (*Config, error) {
	cfgFile := viper.GetString("CONFIG_FILE")
	if cfgFile != "" {
		// The file's values are applied as overrides: viper ranks a merged
		// config file below explicitly set flags and environment variables.
		fileViper := viper.New()
		fileViper.SetConfigFile(cfgFile)
		fileViper.SetConfigType("yaml")
		if err := fileViper.ReadInConfig(); err != nil {
			return nil, pgerrors.Config(err, "reading config file %q", cfgFile)
		}
		for _, key := range fileViper.AllKeys() {
			viper.Set(key, fileViper.Get(key))
		}
	}

	var fc fileConfig
	if err := viper.Unmarshal(&fc, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, pgerrors.Config(err, "parsing configuration")
	}

	c := &Config{
		Host:              fc.Host,
		Port:              fc.Port,
		Database:          fc.Database,
		User:              fc.User,
		Password:          fc.Password,
		Encoding:          fc.Encoding,
		StagingSchema:     fc.StagingSchema,
		BaseSchema:        fc.BaseSchema,
		Tables:            fc.Tables,
		ExcludeCols:       fc.ExcludeColumns,
		ExcludeNullChecks: fc.NullColumns,
		Method:            upsert.Method(fc.UpsertMethod),
		DoCommit:          fc.Commit,
		Interactive:       fc.Interactive,
		Quiet:             fc.Quiet,
		Debug:             fc.Debug,
		LogFile:           fc.LogFile,
	}

	if err := c.resolvePassword(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// resolvePassword fills Password from PGPASSWORD, then, if still empty and
// stdin is a terminal, by prompting without echo. A non-interactive session
// with no password set is left with an empty password, which is valid for
// peer/trust authentication.
func (c *Config) resolvePassword() error {
	if c.Password != "" {
		return nil
	}
	if env := os.Getenv("PGPASSWORD"); env != "" {
		c.Password = env
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Password for %s@%s: ", c.User, c.Host)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return pgerrors.Config(err, "reading password from terminal")
	}
	c.Password = string(bytes)
	return nil
}

// Validate rejects a Config with an unusable identifier or an impossible
// option combination before any connection is opened.
func (c *Config) Validate() error {
	if c.Database == "" {
		return pgerrors.Config(nil, "database is required")
	}
	if len(c.Tables) == 0 {
		return pgerrors.Config(nil, "at least one table is required")
	}

	if err := catalog.ValidateIdentifier(c.StagingSchema); err != nil {
		return err
	}
	if err := catalog.ValidateIdentifier(c.BaseSchema); err != nil {
		return err
	}
	for _, t := range c.Tables {
		if err := catalog.ValidateIdentifier(t); err != nil {
			return err
		}
	}
	for _, col := range c.ExcludeCols {
		if err := catalog.ValidateIdentifier(col); err != nil {
			return err
		}
	}
	for _, col := range c.ExcludeNullChecks {
		if err := catalog.ValidateIdentifier(col); err != nil {
			return err
		}
	}

	switch c.Method {
	case upsert.MethodUpsert, upsert.MethodUpdate, upsert.MethodInsert:
	default:
		return pgerrors.Config(nil, "unknown upsert method %q; must be one of upsert, update, insert", c.Method)
	}

	if c.Quiet && c.Interactive {
		return pgerrors.Config(nil, "--quiet and --interactive are mutually exclusive")
	}

	return nil
}
