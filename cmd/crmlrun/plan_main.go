package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crml-dev/crmlrun/internal/plan"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <document>",
		Short: "Compile and print the execution plan",
		Long:  "Resolve portfolio bindings, controls, and copula structure without running the simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlan,
	}
	cmd.Flags().String("format", "yaml", "Output format (yaml|json)")
	cmd.Flags().Bool("lenient", false, "Downgrade unknown references to warnings")
	return cmd
}

func runPlan(cmd *cobra.Command, args []string) error {
	lenient, _ := cmd.Flags().GetBool("lenient")
	p, err := loadPlan(args[0], plan.Options{LenientReferences: lenient})
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	var data []byte
	switch format {
	case "yaml":
		data, err = yaml.Marshal(p)
	case "json":
		data, err = json.MarshalIndent(p, "", "  ")
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if err != nil {
		return fmt.Errorf("failed to render plan: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
