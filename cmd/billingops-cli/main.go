package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingops/internal/clock"
	"github.com/smallbiznis/billingops/internal/config"
	"github.com/smallbiznis/billingops/internal/migration"
	"github.com/smallbiznis/billingops/internal/observability"
	"github.com/smallbiznis/billingops/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "billingops-cli",
		Short:        "Operator commands for the SIIMP invoice cache",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(hashKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the invoice cache schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), func(context.Context) error {
				fmt.Println("schema up to date")
				return nil
			})
		},
	}
}

// runApp starts the infrastructure graph plus extra modules, runs fn and
// stops the graph again.
func runApp(ctx context.Context, fn func(context.Context) error, opts ...fx.Option) error {
	base := []fx.Option{
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
	}
	app := fx.New(append(base, opts...)...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
