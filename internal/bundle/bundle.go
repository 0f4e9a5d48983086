// Package bundle assembles a portfolio and every document it references into
// one self-contained artifact that engines can execute without filesystem
// access.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/crml-dev/crmlrun/internal/lang"
)

// Build loads the portfolio at path and inlines its referenced scenarios,
// control catalogs, and assessments. Relative references resolve against the
// portfolio file's directory.
func Build(portfolioPath string) (*lang.BundleDoc, error) {
	doc, err := lang.LoadPortfolioFile(portfolioPath)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(portfolioPath)

	out := &lang.BundleDoc{
		CRMLPortfolioBundle: "1.0",
		Meta: lang.Meta{
			Name:        doc.Meta.Name + "-bundle",
			Description: doc.Meta.Description,
		},
		PortfolioBundle: lang.BundlePayload{
			Portfolio: *doc,
			Metadata: map[string]interface{}{
				"bundled_at":  time.Now().UTC().Format(time.RFC3339),
				"source_path": portfolioPath,
			},
		},
	}

	for _, ref := range doc.Portfolio.Scenarios {
		if ref.Path == "" {
			return nil, fmt.Errorf("scenario %q has no path to bundle", ref.ID)
		}
		p := resolve(baseDir, ref.Path)
		sdoc, err := lang.LoadScenarioFile(p)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", ref.ID, err)
		}
		out.PortfolioBundle.Scenarios = append(out.PortfolioBundle.Scenarios, lang.BundledScenario{
			ID:         ref.ID,
			Weight:     ref.Weight,
			SourcePath: ref.Path,
			Scenario:   *sdoc,
		})
	}

	for _, p := range doc.Portfolio.ControlCatalogs {
		cdoc, err := lang.LoadCatalogFile(resolve(baseDir, p))
		if err != nil {
			return nil, fmt.Errorf("control catalog %q: %w", p, err)
		}
		out.PortfolioBundle.ControlCatalogs = append(out.PortfolioBundle.ControlCatalogs, *cdoc)
	}
	for _, p := range doc.Portfolio.ControlAssessments {
		adoc, err := lang.LoadAssessmentFile(resolve(baseDir, p))
		if err != nil {
			return nil, fmt.Errorf("assessment %q: %w", p, err)
		}
		out.PortfolioBundle.Assessments = append(out.PortfolioBundle.Assessments, *adoc)
	}

	log.Debug().
		Str("portfolio", doc.Meta.Name).
		Int("scenarios", len(out.PortfolioBundle.Scenarios)).
		Int("catalogs", len(out.PortfolioBundle.ControlCatalogs)).
		Int("assessments", len(out.PortfolioBundle.Assessments)).
		Msg("Bundle assembled")
	return out, nil
}

// WriteFile serializes a bundle to YAML at path.
func WriteFile(doc *lang.BundleDoc, path string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	return nil
}

func resolve(baseDir, ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(baseDir, ref)
}
