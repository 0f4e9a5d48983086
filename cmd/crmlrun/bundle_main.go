package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crml-dev/crmlrun/internal/bundle"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle <portfolio>",
		Short: "Pack a portfolio into a self-contained bundle",
		Long:  "Inline every scenario, control catalog, and assessment a portfolio references into a single shippable document",
		Args:  cobra.ExactArgs(1),
		RunE:  runBundle,
	}
	cmd.Flags().StringP("output", "o", "", "Bundle output path (default <portfolio>.bundle.yaml)")
	return cmd
}

func runBundle(cmd *cobra.Command, args []string) error {
	doc, err := bundle.Build(args[0])
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = strings.TrimSuffix(args[0], ".yaml") + ".bundle.yaml"
	}
	if err := bundle.WriteFile(doc, out); err != nil {
		return err
	}

	log.Info().
		Str("portfolio", doc.Meta.Name).
		Int("scenarios", len(doc.PortfolioBundle.Scenarios)).
		Int("catalogs", len(doc.PortfolioBundle.ControlCatalogs)).
		Int("assessments", len(doc.PortfolioBundle.Assessments)).
		Msg("Bundle written")
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
