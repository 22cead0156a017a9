// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configTemplate = `# pg-upsert configuration file.
# Values here override flags and PGUPSERT_* environment variables.

host: %s
port: %d
database: %s
user: %s
# password: ""   # prefer PGPASSWORD or an interactive terminal prompt
encoding: %s

staging_schema: %s
base_schema: %s
tables: %s
exclude_columns: %s
null_columns: %s

upsert_method: %s   # one of: upsert, update, insert
commit: %t
interactive: %t
quiet: %t
debug: %t
logfile: %s
`

func generateConfigCmd() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Print a starter YAML configuration file, seeded from any flags already given, and exit without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := fmt.Sprintf(configTemplate,
				viper.GetString("HOST"),
				viper.GetInt("PORT"),
				yamlString(viper.GetString("DATABASE")),
				yamlString(viper.GetString("USER")),
				viper.GetString("ENCODING"),
				viper.GetString("STAGING_SCHEMA"),
				viper.GetString("BASE_SCHEMA"),
				yamlList(viper.GetStringSlice("TABLES")),
				yamlList(viper.GetStringSlice("EXCLUDE_COLUMNS")),
				yamlList(viper.GetStringSlice("NULL_COLUMNS")),
				viper.GetString("UPSERT_METHOD"),
				viper.GetBool("COMMIT"),
				viper.GetBool("INTERACTIVE"),
				viper.GetBool("QUIET"),
				viper.GetBool("DEBUG"),
				yamlString(viper.GetString("LOGFILE")),
			)

			if outFile == "" {
				_, err := fmt.Fprint(os.Stdout, content)
				return err
			}
			return os.WriteFile(outFile, []byte(content), 0o644)
		},
	}

	cmd.Flags().StringVar(&outFile, "out", "", "Write the template to this file instead of stdout")
	return cmd
}

// yamlString quotes s for use as a YAML scalar, so an empty flag value
// renders as "" rather than a bare, ambiguous blank.
func yamlString(s string) string {
	return fmt.Sprintf("%q", s)
}

// yamlList renders items as an inline YAML flow sequence.
func yamlList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
