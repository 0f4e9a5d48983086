package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crml-dev/crmlrun/internal/lang"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <document>...",
		Short: "Validate CRML documents",
		Long:  "Parse and semantically check scenario and portfolio documents, reporting errors and warnings",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
	cmd.Flags().String("format", "text", "Output format (text|json)")
	cmd.Flags().Bool("strict", false, "Treat warnings as failures")
	return cmd
}

type fileReport struct {
	Path   string                `json:"path"`
	Kind   string                `json:"kind"`
	Report *lang.ValidationReport `json:"report,omitempty"`
	Error  string                `json:"error,omitempty"`
}

func validateFile(path string) fileReport {
	fr := fileReport{Path: path, Kind: lang.KindUnknown}

	data, err := os.ReadFile(path)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	kind, err := lang.DetectKind(data)
	if err != nil {
		fr.Error = err.Error()
		return fr
	}
	fr.Kind = kind

	switch kind {
	case lang.KindScenario:
		doc, err := lang.ParseScenario(data)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Report = lang.ValidateScenario(doc)
	case lang.KindPortfolio:
		doc, err := lang.ParsePortfolio(data)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Report = lang.ValidatePortfolio(doc)
	case lang.KindBundle:
		doc, err := lang.ParseBundle(data)
		if err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Report = lang.ValidatePortfolio(&doc.PortfolioBundle.Portfolio)
	case lang.KindCatalog:
		if _, err := lang.ParseCatalog(data); err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Report = &lang.ValidationReport{OK: true, Errors: []lang.ValidationMessage{}, Warnings: []lang.ValidationMessage{}}
	case lang.KindAssessment:
		if _, err := lang.ParseAssessment(data); err != nil {
			fr.Error = err.Error()
			return fr
		}
		fr.Report = &lang.ValidationReport{OK: true, Errors: []lang.ValidationMessage{}, Warnings: []lang.ValidationMessage{}}
	default:
		fr.Error = "not a recognized CRML document"
	}
	return fr
}

func runValidate(cmd *cobra.Command, args []string) error {
	strict, _ := cmd.Flags().GetBool("strict")
	format, _ := cmd.Flags().GetString("format")

	reports := make([]fileReport, 0, len(args))
	failed := 0
	for _, path := range args {
		fr := validateFile(path)
		reports = append(reports, fr)
		switch {
		case fr.Error != "":
			failed++
		case !fr.Report.OK:
			failed++
		case strict && len(fr.Report.Warnings) > 0:
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		for _, fr := range reports {
			if fr.Error != "" {
				fmt.Fprintf(out, "FAIL  %s (%s): %s\n", fr.Path, fr.Kind, fr.Error)
				continue
			}
			status := "OK  "
			if !fr.Report.OK {
				status = "FAIL"
			}
			fmt.Fprintf(out, "%s  %s (%s)\n", status, fr.Path, fr.Kind)
			for _, m := range fr.Report.Errors {
				fmt.Fprintf(out, "      error   %s: %s\n", m.Path, m.Message)
			}
			for _, m := range fr.Report.Warnings {
				fmt.Fprintf(out, "      warning %s: %s\n", m.Path, m.Message)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed validation", failed, len(args))
	}
	return nil
}
