// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/geocoug/pg-upsert/internal/config"
	"github.com/geocoug/pg-upsert/internal/control"
	"github.com/geocoug/pg-upsert/internal/engine"
	"github.com/geocoug/pg-upsert/internal/pgconn"
	"github.com/geocoug/pg-upsert/internal/prompt"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Validate staged rows and merge them into their base tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := pterm.DefaultLogger
			if cfg.Debug {
				logger.Level = pterm.LogLevelDebug
			}
			if cfg.LogFile != "" {
				f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("opening log file %q: %w", cfg.LogFile, err)
				}
				defer f.Close()
				logger.Writer = f
			}

			var prompter prompt.Prompter = prompt.Silent{}
			if cfg.Interactive {
				prompter = prompt.Terminal{}
			}

			dsn := pgconn.DSN(cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.Encoding)
			conn, err := pgconn.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer conn.Close()

			plan := engine.Plan{
				BaseSchema:        cfg.BaseSchema,
				StagingSchema:     cfg.StagingSchema,
				Tables:            cfg.Tables,
				ExcludeCols:       cfg.ExcludeCols,
				ExcludeNullChecks: cfg.ExcludeNullChecks,
				Interactive:       cfg.Interactive,
				Method:            cfg.Method,
				Commit:            cfg.DoCommit,
			}

			eng := engine.New(conn, plan, prompter, logger)

			outcome, runErr := eng.Run(ctx)

			if !cfg.Quiet {
				renderSnapshot(eng.ControlSnapshot())
				fmt.Fprintf(os.Stdout, "outcome: %s\n", outcome)
			}

			if outcome == engine.Committed {
				fmt.Fprintln(os.Stdout, "Changes committed")
			} else {
				fmt.Fprintln(os.Stdout, "Changes rolled back")
			}

			return runErr
		},
	}
}

func renderSnapshot(rows []control.SnapshotRow) {
	data := [][]string{{"table", "null_errors", "pk_errors", "fk_errors", "ck_errors", "rows_updated", "rows_inserted"}}
	for _, r := range rows {
		data = append(data, []string{
			r.Table, r.NullErrors, r.PKErrors, r.FKErrors, r.CKErrors,
			strconv.Itoa(r.RowsUpdated), strconv.Itoa(r.RowsInserted),
		})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
