// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/geocoug/pg-upsert/cmd/flags"
)

// Version is the pg-upsert version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("PGUPSERT")
	viper.AutomaticEnv()

	flags.ConnectionFlags(rootCmd)
	flags.RunFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "pg-upsert",
	Short:        "Validate staged rows and merge them into their base tables",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(generateConfigCmd())

	return rootCmd.Execute()
}
