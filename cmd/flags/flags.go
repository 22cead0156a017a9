// SPDX-License-Identifier: Apache-2.0

// Package flags registers pg-upsert's cobra flags and binds each to a viper
// key, so internal/config can read the merged flag/env/file settings
// without knowing which flag produced them.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geocoug/pg-upsert/internal/config"
)

// ConnectionFlags registers the flags describing how to reach the database.
func ConnectionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("host", "localhost", "Postgres host")
	cmd.PersistentFlags().Int("port", config.DefaultPort, "Postgres port")
	cmd.PersistentFlags().String("database", "", "Postgres database name")
	cmd.PersistentFlags().String("user", "", "Postgres user")
	cmd.PersistentFlags().String("password", "", "Postgres password (prefer PGPASSWORD or a terminal prompt)")
	cmd.PersistentFlags().String("encoding", config.DefaultEncoding, "Client encoding")

	viper.BindPFlag("HOST", cmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("PORT", cmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("DATABASE", cmd.PersistentFlags().Lookup("database"))
	viper.BindPFlag("USER", cmd.PersistentFlags().Lookup("user"))
	viper.BindPFlag("PASSWORD", cmd.PersistentFlags().Lookup("password"))
	viper.BindPFlag("ENCODING", cmd.PersistentFlags().Lookup("encoding"))
}

// RunFlags registers the flags describing what to validate-then-upsert and
// how.
func RunFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("staging-schema", config.DefaultStagingSchema, "Schema holding the staged rows")
	cmd.PersistentFlags().String("base-schema", config.DefaultBaseSchema, "Schema holding the tables to merge into")
	cmd.PersistentFlags().StringSlice("tables", nil, "Tables to process, in dependency order (repeatable)")
	cmd.PersistentFlags().StringSlice("exclude-columns", nil, "Columns to exclude from every DML statement (repeatable)")
	cmd.PersistentFlags().StringSlice("null-columns", nil, "Columns exempted from the not-null check (repeatable)")
	cmd.PersistentFlags().String("upsert-method", "upsert", "One of: upsert, update, insert")
	cmd.PersistentFlags().Bool("commit", false, "Commit the transaction; otherwise the run is rolled back")
	cmd.PersistentFlags().Bool("interactive", false, "Prompt before each destructive step")
	cmd.PersistentFlags().Bool("quiet", false, "Suppress non-essential output")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().String("logfile", "", "Write logs to this file instead of the terminal")
	cmd.PersistentFlags().String("config-file", "", "YAML file layered on top of flags and environment variables")

	viper.BindPFlag("STAGING_SCHEMA", cmd.PersistentFlags().Lookup("staging-schema"))
	viper.BindPFlag("BASE_SCHEMA", cmd.PersistentFlags().Lookup("base-schema"))
	viper.BindPFlag("TABLES", cmd.PersistentFlags().Lookup("tables"))
	viper.BindPFlag("EXCLUDE_COLUMNS", cmd.PersistentFlags().Lookup("exclude-columns"))
	viper.BindPFlag("NULL_COLUMNS", cmd.PersistentFlags().Lookup("null-columns"))
	viper.BindPFlag("UPSERT_METHOD", cmd.PersistentFlags().Lookup("upsert-method"))
	viper.BindPFlag("COMMIT", cmd.PersistentFlags().Lookup("commit"))
	viper.BindPFlag("INTERACTIVE", cmd.PersistentFlags().Lookup("interactive"))
	viper.BindPFlag("QUIET", cmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("DEBUG", cmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("LOGFILE", cmd.PersistentFlags().Lookup("logfile"))
	viper.BindPFlag("CONFIG_FILE", cmd.PersistentFlags().Lookup("config-file"))
}
