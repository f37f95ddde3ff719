package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/smallbiznis/billingops/internal/invoice"
	"github.com/smallbiznis/billingops/internal/invoice/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func syncCmd() *cobra.Command {
	var (
		status   int
		maxPages int
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull invoices from SIIMP into the local cache once",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.SyncRequest{MaxPages: maxPages}
			if cmd.Flags().Changed("status") {
				s := domain.Status(status)
				if !s.Valid() {
					return fmt.Errorf("status %d: %w", status, domain.ErrInvalidStatus)
				}
				req.Status = &s
			}

			var svc domain.Service
			return runApp(cmd.Context(), func(ctx context.Context) error {
				resp, err := svc.Sync(ctx, req)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}, invoice.Module, fx.Populate(&svc))
		},
	}

	cmd.Flags().IntVarP(&status, "status", "s", 0, "Only sync invoices with this SIIMP status code")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "n", 0, "Stop after this many pages (0 uses the service default)")
	return cmd
}
