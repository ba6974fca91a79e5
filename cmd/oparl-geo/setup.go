package main

import (
	"fmt"

	"oparl-geo/internal/overpass"

	"github.com/spf13/cobra"
)

func setupCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Prepare reference data for a city",
	}

	var city string
	gaz := &cobra.Command{
		Use:   "gazetteer",
		Short: "Download street and district names from OpenStreetMap",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			if city != "" {
				a.cfg.City = city
			}
			ctx := cmd.Context()
			client := a.overpassClient()
			name := a.displayCity()

			streets, err := client.Streets(ctx, name)
			if err != nil {
				return err
			}
			districts, err := client.Districts(ctx, name)
			if err != nil {
				a.logger.Warn().Err(err).Msg("district download failed, writing streets only")
			}

			if err := overpass.WriteGazetteer(a.cfg.Paths.GazetteerDir, streets, districts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d streets, %d districts written to %s\n",
				name, len(streets), len(districts), a.cfg.Paths.GazetteerDir)
			return nil
		},
	}
	gaz.Flags().StringVar(&city, "city", "", "City to fetch (overrides config)")

	cmd.AddCommand(gaz)
	return cmd
}
