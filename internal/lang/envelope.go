package lang

import "time"

// Result envelope schema identity. The envelope is the stable interchange
// contract between engines and dashboards/CLIs.
const (
	EnvelopeSchemaID      = "crml.simulation.result"
	EnvelopeSchemaVersion = "1.0.0"
)

// CurrencyUnit tags a monetary value with its currency.
type CurrencyUnit struct {
	Kind   string `yaml:"kind" json:"kind"`
	Code   string `yaml:"code" json:"code"`
	Symbol string `yaml:"symbol,omitempty" json:"symbol,omitempty"`
}

// Units describes the measurement units of the result payload.
type Units struct {
	Currency CurrencyUnit `yaml:"currency" json:"currency"`
	Horizon  string       `yaml:"horizon,omitempty" json:"horizon,omitempty"`
}

// EngineInfo identifies the producing engine.
type EngineInfo struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// RunInfo describes the simulation run that produced the payload.
type RunInfo struct {
	ID        string     `yaml:"id,omitempty" json:"id,omitempty"`
	Runs      int        `yaml:"runs,omitempty" json:"runs,omitempty"`
	Seed      *int64     `yaml:"seed,omitempty" json:"seed,omitempty"`
	RuntimeMS float64    `yaml:"runtime_ms,omitempty" json:"runtime_ms,omitempty"`
	StartedAt *time.Time `yaml:"started_at,omitempty" json:"started_at,omitempty"`
}

// InputInfo echoes document metadata for reporting.
type InputInfo struct {
	ModelName    string `yaml:"model_name,omitempty" json:"model_name,omitempty"`
	ModelVersion string `yaml:"model_version,omitempty" json:"model_version,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Well-known measure ids.
const (
	MeasureEAL    = "loss.eal"
	MeasureVaR    = "loss.var"
	MeasureMin    = "loss.min"
	MeasureMax    = "loss.max"
	MeasureMedian = "loss.median"
	MeasureStdDev = "loss.std_dev"
)

// Measure is one scalar result, optionally parameterized (e.g. VaR level).
type Measure struct {
	ID         string                 `yaml:"id" json:"id"`
	Label      string                 `yaml:"label,omitempty" json:"label,omitempty"`
	Value      float64                `yaml:"value" json:"value"`
	Unit       *CurrencyUnit          `yaml:"unit,omitempty" json:"unit,omitempty"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Artifact kinds.
const (
	ArtifactHistogram = "histogram"
	ArtifactSamples   = "samples"
)

// Artifact is a non-scalar result: a histogram or a raw-sample subset.
// Fields irrelevant to the kind stay empty.
type Artifact struct {
	Kind     string        `yaml:"kind" json:"kind"`
	ID       string        `yaml:"id" json:"id"`
	Unit     *CurrencyUnit `yaml:"unit,omitempty" json:"unit,omitempty"`
	BinEdges []float64     `yaml:"bin_edges,omitempty" json:"bin_edges,omitempty"`
	Counts   []int         `yaml:"counts,omitempty" json:"counts,omitempty"`
	Binning  map[string]interface{} `yaml:"binning,omitempty" json:"binning,omitempty"`

	Values              []float64              `yaml:"values,omitempty" json:"values,omitempty"`
	SampleCountTotal    int                    `yaml:"sample_count_total,omitempty" json:"sample_count_total,omitempty"`
	SampleCountReturned int                    `yaml:"sample_count_returned,omitempty" json:"sample_count_returned,omitempty"`
	Sampling            map[string]interface{} `yaml:"sampling,omitempty" json:"sampling,omitempty"`
}

// ResultPayload groups measures and artifacts.
type ResultPayload struct {
	Measures  []Measure  `yaml:"measures" json:"measures"`
	Artifacts []Artifact `yaml:"artifacts" json:"artifacts"`
}

// ResultEnvelope is the engine-agnostic simulation result document.
type ResultEnvelope struct {
	SchemaID      string `yaml:"schema_id" json:"schema_id"`
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`

	Success  bool     `yaml:"success" json:"success"`
	Errors   []string `yaml:"errors" json:"errors"`
	Warnings []string `yaml:"warnings" json:"warnings"`

	Engine EngineInfo `yaml:"engine" json:"engine"`
	Run    RunInfo    `yaml:"run" json:"run"`
	Inputs InputInfo  `yaml:"inputs" json:"inputs"`
	Units  *Units     `yaml:"units,omitempty" json:"units,omitempty"`

	Results ResultPayload `yaml:"results" json:"results"`
}

// NewResultEnvelope returns an envelope pre-filled with schema identity and
// engine info, marked unsuccessful until the orchestrator completes.
func NewResultEnvelope(engineName, engineVersion string) *ResultEnvelope {
	return &ResultEnvelope{
		SchemaID:      EnvelopeSchemaID,
		SchemaVersion: EnvelopeSchemaVersion,
		Engine:        EngineInfo{Name: engineName, Version: engineVersion},
		Errors:        []string{},
		Warnings:      []string{},
	}
}
