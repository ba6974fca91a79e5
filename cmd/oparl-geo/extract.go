package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// extractCmd runs location extraction on a local text file, which is handy
// when tuning the blocklist and the gazetteer firewall.
func extractCmd(global *globalOptions) *cobra.Command {
	var geocode bool

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the location candidates found in a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			store, err := a.loadGazetteer(ctx)
			if err != nil {
				return err
			}
			ex, err := a.extractor(ctx, store)
			if err != nil {
				return err
			}

			candidates := ex.Extract(ctx, string(text), filepath.Base(args[0]), "")

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if !geocode {
				fmt.Fprintln(w, "TYPE\tMETHOD\tVALUE")
				for _, c := range candidates {
					fmt.Fprintf(w, "%s\t%s\t%s\n", c.Kind, c.Method, c.Text)
				}
				return w.Flush()
			}

			geo, err := a.geocoder()
			if err != nil {
				return err
			}
			defer a.closeGeocoder(geo)

			enriched, _ := geo.GeocodeBatch(ctx, candidates)
			fmt.Fprintln(w, "TYPE\tMETHOD\tVALUE\tLAT\tLON\tPRECISION")
			resolved := 0
			for _, l := range enriched {
				lat, lon := "-", "-"
				if l.Geocoded() {
					resolved++
					lat = fmt.Sprintf("%.6f", *l.Latitude)
					lon = fmt.Sprintf("%.6f", *l.Longitude)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", l.Kind, l.Method, l.Text, lat, lon, l.Precision)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d geocoded\n", resolved, len(enriched))
			return nil
		},
	}
	cmd.Flags().BoolVar(&geocode, "geocode", false, "Also geocode the candidates")
	return cmd
}
