package lang

import "time"

// CatalogEntry is portable metadata about a control id. Catalogs never carry
// posture values; they only establish which ids exist in a framework.
type CatalogEntry struct {
	ID    string   `yaml:"id"`
	Title string   `yaml:"title,omitempty"`
	URL   string   `yaml:"url,omitempty"`
	Tags  []string `yaml:"tags,omitempty"`
}

// CatalogPack groups catalog entries under a framework label.
type CatalogPack struct {
	ID        string         `yaml:"id,omitempty"`
	Framework string         `yaml:"framework"`
	Controls  []CatalogEntry `yaml:"controls"`
}

// CatalogDoc is a complete control catalog document.
type CatalogDoc struct {
	CRMLControlCatalog string      `yaml:"crml_control_catalog"`
	Meta               Meta        `yaml:"meta"`
	Catalog            CatalogPack `yaml:"catalog"`
}

// Assessment is an organization's posture entry for one control. Either the
// quantitative fields or SCFCMMLevel may be supplied, not both.
type Assessment struct {
	ID                          string       `yaml:"id"`
	ImplementationEffectiveness Factor       `yaml:"implementation_effectiveness,omitempty"`
	Coverage                    *CoverageRef `yaml:"coverage,omitempty"`
	Reliability                 Factor       `yaml:"reliability,omitempty"`
	Affects                     string       `yaml:"affects,omitempty"`
	SCFCMMLevel                 *int         `yaml:"scf_cmm_level,omitempty"`
	Question                    string       `yaml:"question,omitempty"`
	Description                 string       `yaml:"description,omitempty"`
	Notes                       string       `yaml:"notes,omitempty"`
}

// AssessmentPack groups assessment entries recorded at one point in time.
type AssessmentPack struct {
	ID          string       `yaml:"id,omitempty"`
	Framework   string       `yaml:"framework"`
	AssessedAt  *time.Time   `yaml:"assessed_at,omitempty"`
	Assessments []Assessment `yaml:"assessments"`
}

// AssessmentDoc is a complete control assessment document.
type AssessmentDoc struct {
	CRMLAssessment string         `yaml:"crml_assessment"`
	Meta           Meta           `yaml:"meta"`
	Assessment     AssessmentPack `yaml:"assessment"`
}
