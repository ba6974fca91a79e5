package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd().ExecuteContext(ctx)
	if ctx.Err() != nil {
		stop()
		fmt.Fprintln(os.Stderr, "\ninterrupted by user")
		os.Exit(130)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:   "oparl-geo",
		Short: "Extract and geocode locations from OParl council papers",
		Long: `oparl-geo reads papers from an OParl endpoint, extracts the text of their
documents, finds street, address, zoning plan, parcel and district mentions,
geocodes them and writes the enriched records to Parquet, RDF, GeoJSON and XLSX.

Progress is kept in a SQLite ledger so interrupted runs resume where they
stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configDir, "config", "c", "./configs", "Directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(&opts),
		stateCmd(&opts),
		setupCmd(&opts),
		extractCmd(&opts),
	)
	return cmd
}

// errAborted is returned when a destructive command was not confirmed.
var errAborted = errors.New("aborted: pass --yes to confirm")
