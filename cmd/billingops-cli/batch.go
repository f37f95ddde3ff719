package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallbiznis/billingops/internal/batch"
	"github.com/smallbiznis/billingops/internal/invoice"
	"github.com/smallbiznis/billingops/internal/ratelimit"
	"github.com/smallbiznis/billingops/internal/report"
	"github.com/smallbiznis/billingops/internal/sheet"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run spreadsheet batches of invoice actions",
	}
	cmd.AddCommand(batchRunCmd())
	return cmd
}

func batchRunCmd() *cobra.Command {
	var (
		action     string
		reportPath string
	)
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Send, pay or cancel every invoice listed in a .csv or .xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var forced batch.Action
			if action != "" {
				parsed, ok := batch.ParseAction(action)
				if !ok {
					return fmt.Errorf("unknown action %q (send, pay or cancel)", action)
				}
				forced = parsed
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			table, err := sheet.Read(f, sheet.FormatOf(filepath.Base(args[0]), ""), sheet.SnakeKey)
			if err != nil {
				return err
			}
			rows, err := batch.RowsFromTable(table, forced)
			if err != nil {
				return err
			}

			var registry *batch.Registry
			return runApp(cmd.Context(), func(ctx context.Context) error {
				run, err := registry.Start(ctx, rows)
				if err != nil {
					return err
				}
				select {
				case <-run.Done():
				case <-ctx.Done():
					return ctx.Err()
				}

				snap := run.Snapshot()
				for _, res := range snap.Results {
					mark := "ok"
					if !res.OK {
						mark = "FAIL"
					}
					fmt.Printf("%-4s line %d  %s  %s\n", mark, res.Line, res.Action, res.Message)
				}
				fmt.Printf("run %s: %d succeeded, %d failed\n", snap.ID, snap.Succeeded, snap.Failed)

				if reportPath == "" {
					return nil
				}
				pdf, err := report.BatchPDF(snap)
				if err != nil {
					return err
				}
				return os.WriteFile(reportPath, pdf, 0o644)
			}, invoice.Module, ratelimit.Module, batch.Module, fx.Populate(&registry))
		},
	}

	cmd.Flags().StringVarP(&action, "action", "a", "", "Apply this action to every row instead of the file's action column")
	cmd.Flags().StringVarP(&reportPath, "report", "r", "", "Write a PDF report of the run to this path")
	return cmd
}
