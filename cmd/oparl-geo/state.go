package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func stateCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the processing ledger",
	}

	var failedType string
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List resources that failed processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			ledger, err := a.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()

			rows, err := ledger.FailedResources(cmd.Context(), failedType)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tPROCESSED\tERROR")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.ResourceType, r.ProcessedAt.Format(time.RFC3339), r.ErrorMessage)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed\n", len(rows))
			return nil
		},
	}
	failed.Flags().StringVar(&failedType, "type", "", "Restrict to one resource type")

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete all ledger data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errAborted
			}
			a, err := newApp(global)
			if err != nil {
				return err
			}
			ledger, err := a.openState(cmd.Context())
			if err != nil {
				return err
			}
			defer ledger.Close()

			if err := ledger.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "state reset")
			return nil
		},
	}
	reset.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print ledger statistics as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(global)
				if err != nil {
					return err
				}
				ledger, err := a.openState(cmd.Context())
				if err != nil {
					return err
				}
				defer ledger.Close()

				stats, err := ledger.Statistics(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			},
		},
		failed,
		&cobra.Command{
			Use:   "clear-failed",
			Short: "Forget failed resources so the next run retries them",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := newApp(global)
				if err != nil {
					return err
				}
				ledger, err := a.openState(cmd.Context())
				if err != nil {
					return err
				}
				defer ledger.Close()

				n, err := ledger.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d failed resources\n", n)
				return nil
			},
		},
		reset,
	)
	return cmd
}
