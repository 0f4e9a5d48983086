package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/crml-dev/crmlrun/internal/lang"
)

// Cardinality above which a portfolio asset triggers a scale warning. Very
// large exposures usually mean the cardinality was entered in the wrong unit.
const largeCardinalityThreshold = 100000

type planner struct {
	opts     Options
	errors   []lang.ValidationMessage
	warnings []lang.ValidationMessage

	assets    map[string]lang.Asset
	inventory map[string]lang.PortfolioControl
	posture   map[string]lang.Assessment
	catalog   map[string]bool
	hasCat    bool
}

func (p *planner) errf(path, format string, args ...interface{}) {
	p.errors = append(p.errors, lang.ValidationMessage{
		Level: lang.LevelError, Path: path, Message: fmt.Sprintf(format, args...),
	})
}

func (p *planner) warnf(path, format string, args ...interface{}) {
	p.warnings = append(p.warnings, lang.ValidationMessage{
		Level: lang.LevelWarning, Path: path, Message: fmt.Sprintf(format, args...),
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PlanPortfolio compiles a portfolio document and its referenced scenario
// documents (keyed by scenario id) into an execution plan. Catalogs and
// assessments are optional posture sources. Every error found is collected
// before failing.
func PlanPortfolio(
	doc *lang.PortfolioDoc,
	scenarios map[string]*lang.ScenarioDoc,
	catalogs []*lang.CatalogDoc,
	assessments []*lang.AssessmentDoc,
	opts Options,
) (*ExecutionPlan, error) {
	p := &planner{opts: opts}
	p.indexAssets(doc.Portfolio.Assets)
	p.indexCatalogs(catalogs)
	p.indexAssessments(assessments)
	p.indexInventory(doc.Portfolio.Controls)

	method := doc.Portfolio.Semantics.Method
	switch method {
	case lang.MethodSum, lang.MethodMax, lang.MethodMixture, lang.MethodChooseOne:
	default:
		p.errf("portfolio.semantics.method", "unknown aggregation method %q", method)
	}

	out := &ExecutionPlan{PortfolioName: doc.Meta.Name, Method: method}

	for i, ref := range doc.Portfolio.Scenarios {
		path := fmt.Sprintf("portfolio.scenarios[%d]", i)
		sdoc, ok := scenarios[ref.ID]
		if !ok || sdoc == nil {
			p.errf(path, "scenario %q has no loaded document (path %q)", ref.ID, ref.Path)
			continue
		}
		sp := p.planScenario(path, ref, sdoc)
		if sp != nil {
			out.Scenarios = append(out.Scenarios, sp)
		}
	}

	if doc.Portfolio.Dependency != nil && doc.Portfolio.Dependency.Copula != nil {
		out.Copula = p.planCopula(doc.Portfolio.Dependency.Copula, out.Scenarios)
	}

	if len(p.errors) > 0 {
		return nil, &Error{Messages: p.errors}
	}
	out.Warnings = p.warnings
	for _, w := range p.warnings {
		log.Warn().Str("path", w.Path).Msg(w.Message)
	}
	return out, nil
}

// PlanBundle compiles a self-contained portfolio bundle. Bundled weights
// override the weights declared in the embedded portfolio reference list.
func PlanBundle(doc *lang.BundleDoc, opts Options) (*ExecutionPlan, error) {
	scenarios := make(map[string]*lang.ScenarioDoc, len(doc.PortfolioBundle.Scenarios))
	portfolio := doc.PortfolioBundle.Portfolio
	for i := range doc.PortfolioBundle.Scenarios {
		bs := &doc.PortfolioBundle.Scenarios[i]
		sdoc := bs.Scenario
		scenarios[bs.ID] = &sdoc
		if bs.Weight.Set {
			for j := range portfolio.Portfolio.Scenarios {
				if portfolio.Portfolio.Scenarios[j].ID == bs.ID {
					portfolio.Portfolio.Scenarios[j].Weight = bs.Weight
				}
			}
		}
	}
	catalogs := make([]*lang.CatalogDoc, 0, len(doc.PortfolioBundle.ControlCatalogs))
	for i := range doc.PortfolioBundle.ControlCatalogs {
		catalogs = append(catalogs, &doc.PortfolioBundle.ControlCatalogs[i])
	}
	assessments := make([]*lang.AssessmentDoc, 0, len(doc.PortfolioBundle.Assessments))
	for i := range doc.PortfolioBundle.Assessments {
		assessments = append(assessments, &doc.PortfolioBundle.Assessments[i])
	}
	return PlanPortfolio(&portfolio, scenarios, catalogs, assessments, opts)
}

// PlanScenario compiles a standalone scenario into a single-scenario plan with
// unit exposure. Control posture comes solely from the scenario's own control
// entries; bare references without factors carry no posture and are skipped
// with a warning.
func PlanScenario(doc *lang.ScenarioDoc, opts Options) (*ExecutionPlan, error) {
	p := &planner{opts: opts}
	sp := &ScenarioPlan{
		ID:        doc.Meta.Name,
		Name:      doc.Meta.Name,
		Weight:    1.0,
		Exposure:  1.0,
		Frequency: doc.Scenario.Frequency,
		Severity:  doc.Scenario.Severity,
	}
	for i, sc := range doc.Scenario.Controls {
		path := fmt.Sprintf("scenario.controls[%d]", i)
		if !sc.ImplementationEffectiveness.Set && sc.Coverage == nil && !sc.Potency.Set {
			p.warnf(path, "control %q has no posture in standalone scenario context, skipping", sc.ID)
			continue
		}
		rc := ResolvedControl{
			ID:            sc.ID,
			Effectiveness: clamp01(sc.ImplementationEffectiveness.Or(0)),
			Coverage:      1.0,
			Reliability:   1.0,
			Affects:       lang.AffectsFrequency,
		}
		if sc.Coverage != nil {
			rc.Coverage = clamp01(sc.Coverage.Value.Or(1))
			rc.CoverageBasis = sc.Coverage.Basis
		}
		if sc.Potency.Set {
			rc.Effectiveness = clamp01(rc.Effectiveness * sc.Potency.Value)
		}
		sp.Controls = append(sp.Controls, rc)
	}
	if len(p.errors) > 0 {
		return nil, &Error{Messages: p.errors}
	}
	return &ExecutionPlan{
		PortfolioName: doc.Meta.Name,
		Method:        lang.MethodSum,
		Scenarios:     []*ScenarioPlan{sp},
		Warnings:      p.warnings,
	}, nil
}

func (p *planner) indexAssets(assets []lang.Asset) {
	p.assets = make(map[string]lang.Asset, len(assets))
	for i, a := range assets {
		p.assets[a.Name] = a
		if a.Cardinality < 0 {
			p.errf(fmt.Sprintf("portfolio.assets[%d]", i), "asset %q has negative cardinality %d", a.Name, a.Cardinality)
		}
		if a.Cardinality >= largeCardinalityThreshold {
			p.warnf(fmt.Sprintf("portfolio.assets[%d]", i),
				"asset %q has cardinality %d; per-asset frequency scaling over very large populations can dominate results", a.Name, a.Cardinality)
		}
	}
}

func (p *planner) indexCatalogs(catalogs []*lang.CatalogDoc) {
	p.hasCat = len(catalogs) > 0
	p.catalog = map[string]bool{}
	for _, c := range catalogs {
		for _, e := range c.Catalog.Controls {
			p.catalog[e.ID] = true
		}
	}
}

func (p *planner) indexAssessments(assessments []*lang.AssessmentDoc) {
	p.posture = map[string]lang.Assessment{}
	for _, doc := range assessments {
		for _, a := range doc.Assessment.Assessments {
			if _, dup := p.posture[a.ID]; dup {
				p.warnf("assessment", "control %q assessed more than once; the last assessment wins", a.ID)
			}
			p.posture[a.ID] = a
		}
	}
}

func (p *planner) indexInventory(controls []lang.PortfolioControl) {
	p.inventory = make(map[string]lang.PortfolioControl, len(controls))
	for _, c := range controls {
		p.inventory[c.ID] = c
	}
}

func (p *planner) planScenario(path string, ref lang.ScenarioRef, doc *lang.ScenarioDoc) *ScenarioPlan {
	bound, exposure := p.resolveBinding(path, ref, doc.Scenario.Frequency.Basis)
	if bound == nil && exposure < 0 {
		return nil
	}

	sp := &ScenarioPlan{
		ID:          ref.ID,
		Name:        doc.Meta.Name,
		Weight:      ref.Weight.Or(1.0),
		Exposure:    exposure,
		BoundAssets: bound,
		Frequency:   doc.Scenario.Frequency,
		Severity:    doc.Scenario.Severity,
	}

	for i, sc := range doc.Scenario.Controls {
		cpath := fmt.Sprintf("%s.controls[%d]", path, i)
		rc, ok := p.resolveControl(cpath, sc)
		if ok {
			sp.Controls = append(sp.Controls, rc)
		}
	}
	return sp
}

// resolveBinding returns the bound asset names and the scenario exposure. An
// organization-basis scenario always has exposure 1 regardless of binding.
// Returns (nil, -1) when the binding is fatally broken.
func (p *planner) resolveBinding(path string, ref lang.ScenarioRef, basis string) ([]string, float64) {
	var bound []lang.Asset
	if ref.Binding.AppliesToAssets == nil {
		for _, a := range p.assets {
			bound = append(bound, a)
		}
	} else {
		names := *ref.Binding.AppliesToAssets
		if len(names) == 0 {
			p.errf(path+".binding", "scenario %q binds no assets; omit applies_to_assets to bind all assets", ref.ID)
			return nil, -1
		}
		for _, name := range names {
			a, ok := p.assets[name]
			if !ok {
				if p.opts.LenientReferences {
					p.warnf(path+".binding", "scenario %q references unknown asset %q, ignoring", ref.ID, name)
					continue
				}
				p.errf(path+".binding", "scenario %q references unknown asset %q", ref.ID, name)
				return nil, -1
			}
			bound = append(bound, a)
		}
		if len(bound) == 0 {
			p.errf(path+".binding", "scenario %q binds no resolvable assets", ref.ID)
			return nil, -1
		}
	}

	names := make([]string, 0, len(bound))
	for _, a := range bound {
		names = append(names, a.Name)
	}
	sort.Strings(names)

	if BasisOrDefault(basis) != lang.BasisPerAssetUnitPerYear {
		if ref.Binding.AppliesToAssets != nil {
			p.warnf(path+".binding",
				"scenario %q declares an explicit binding but its frequency basis is organization-wide; the binding does not scale exposure", ref.ID)
		}
		return names, 1.0
	}

	p.checkHomogeneity(path, ref.ID, bound)

	total := 0.0
	for _, a := range bound {
		total += float64(a.Cardinality)
	}
	if total == 0 {
		if !p.opts.LenientReferences {
			p.errf(path+".binding", "scenario %q binds assets with zero total cardinality under per-asset basis", ref.ID)
			return nil, -1
		}
		p.warnf(path+".binding", "scenario %q binds assets with zero total cardinality; its frequency collapses to zero", ref.ID)
	}
	return names, total
}

// BasisOrDefault normalizes an empty frequency basis to the organization
// default.
func BasisOrDefault(basis string) string {
	if basis == "" {
		return lang.BasisPerOrganizationPerYear
	}
	return basis
}

// checkHomogeneity warns when a per-asset-unit scenario is bound across assets
// that do not look exchangeable.
func (p *planner) checkHomogeneity(path, id string, bound []lang.Asset) {
	if len(bound) < 2 {
		return
	}
	sig := func(a lang.Asset) string {
		tags := append([]string(nil), a.Tags...)
		sort.Strings(tags)
		ct := ""
		if a.CriticalityIndex != nil {
			ct = a.CriticalityIndex.Type
		}
		return strings.Join(tags, ",") + "|" + ct
	}
	first := sig(bound[0])
	for _, a := range bound[1:] {
		if sig(a) != first {
			p.warnf(path+".binding",
				"scenario %q pools per-asset-unit frequency across heterogeneous assets (differing tags or criticality); consider splitting the scenario", id)
			return
		}
	}
}

// resolveControl merges one scenario control reference through the posture
// chain: portfolio inventory > assessment > catalog (metadata only), with the
// scenario's own values applied on top as multiplicative applicability
// factors.
func (p *planner) resolveControl(path string, sc lang.ScenarioControl) (ResolvedControl, bool) {
	if p.hasCat && !p.catalog[sc.ID] {
		if p.opts.LenientReferences {
			p.warnf(path, "control %q not found in any supplied catalog, ignoring", sc.ID)
			return ResolvedControl{}, false
		}
		p.errf(path, "control %q not found in any supplied catalog", sc.ID)
		return ResolvedControl{}, false
	}

	rc := ResolvedControl{ID: sc.ID, Coverage: 1.0, Reliability: 1.0, Affects: lang.AffectsFrequency}
	hasPosture := false

	if a, ok := p.posture[sc.ID]; ok {
		hasPosture = true
		if a.SCFCMMLevel != nil {
			eff, err := EffectivenessFromCMM(*a.SCFCMMLevel)
			if err != nil {
				p.errf(path, "control %q: %v", sc.ID, err)
				return ResolvedControl{}, false
			}
			rc.Effectiveness = eff
		} else {
			rc.Effectiveness = clamp01(a.ImplementationEffectiveness.Or(0))
		}
		if a.Coverage != nil {
			rc.Coverage = clamp01(a.Coverage.Value.Or(1))
			rc.CoverageBasis = a.Coverage.Basis
		}
		if a.Reliability.Set {
			rc.Reliability = clamp01(a.Reliability.Value)
		}
		if a.Affects != "" {
			rc.Affects = a.Affects
		}
	}

	if inv, ok := p.inventory[sc.ID]; ok {
		hasPosture = true
		if inv.ImplementationEffectiveness.Set {
			rc.Effectiveness = clamp01(inv.ImplementationEffectiveness.Value)
		}
		if inv.Coverage != nil {
			if rc.CoverageBasis != "" && inv.Coverage.Basis != "" && rc.CoverageBasis != inv.Coverage.Basis {
				p.warnf(path, "control %q coverage basis %q in inventory differs from assessed basis %q", sc.ID, inv.Coverage.Basis, rc.CoverageBasis)
			}
			rc.Coverage = clamp01(inv.Coverage.Value.Or(1))
			rc.CoverageBasis = inv.Coverage.Basis
		}
		if inv.Reliability.Set {
			rc.Reliability = clamp01(inv.Reliability.Value)
		}
		if inv.Affects != "" {
			rc.Affects = inv.Affects
		}
	}

	// scenario-scoped values are applicability factors, not posture: they
	// scale the merged inventory/assessment values and never substitute for
	// a missing posture source
	if sc.ImplementationEffectiveness.Set {
		rc.Effectiveness = clamp01(rc.Effectiveness * clamp01(sc.ImplementationEffectiveness.Value))
	}
	if sc.Coverage != nil {
		if rc.CoverageBasis != "" && sc.Coverage.Basis != "" && rc.CoverageBasis != sc.Coverage.Basis {
			p.warnf(path, "control %q coverage basis %q in scenario differs from portfolio basis %q", sc.ID, sc.Coverage.Basis, rc.CoverageBasis)
		}
		rc.Coverage = clamp01(rc.Coverage * clamp01(sc.Coverage.Value.Or(1)))
		if sc.Coverage.Basis != "" {
			rc.CoverageBasis = sc.Coverage.Basis
		}
	}
	if sc.Potency.Set {
		rc.Effectiveness = clamp01(rc.Effectiveness * clamp01(sc.Potency.Value))
	}

	if !hasPosture {
		if p.opts.LenientReferences {
			p.warnf(path, "control %q is referenced but has no posture in any inventory or assessment, skipping", sc.ID)
			return ResolvedControl{}, false
		}
		p.errf(path, "control %q is referenced but has no posture in any inventory or assessment", sc.ID)
		return ResolvedControl{}, false
	}

	switch rc.Affects {
	case lang.AffectsFrequency, lang.AffectsSeverity, lang.AffectsBoth:
	default:
		p.errf(path, "control %q has unknown effect surface %q", sc.ID, rc.Affects)
		return ResolvedControl{}, false
	}
	return rc, true
}

const copulaTargetPrefix = "control:"
const copulaTargetSuffix = ":state"

// ParseCopulaTarget extracts the control id from a target reference of the
// form control:<id>:state.
func ParseCopulaTarget(target string) (string, error) {
	if !strings.HasPrefix(target, copulaTargetPrefix) || !strings.HasSuffix(target, copulaTargetSuffix) {
		return "", fmt.Errorf("unsupported copula target %q, expected control:<id>:state", target)
	}
	id := target[len(copulaTargetPrefix) : len(target)-len(copulaTargetSuffix)]
	if id == "" {
		return "", fmt.Errorf("copula target %q has an empty control id", target)
	}
	return id, nil
}

func (p *planner) planCopula(c *lang.DependencyCopula, scenarios []*ScenarioPlan) *CopulaPlan {
	if c.Type != "" && c.Type != "gaussian" {
		p.errf("portfolio.dependency.copula.type", "unsupported copula type %q, only gaussian is supported", c.Type)
		return nil
	}
	if len(c.Targets) == 0 {
		p.errf("portfolio.dependency.copula.targets", "copula requires at least one target")
		return nil
	}

	referenced := map[string]bool{}
	for _, sp := range scenarios {
		for _, rc := range sp.Controls {
			referenced[rc.ID] = true
		}
	}
	for id := range p.inventory {
		referenced[id] = true
	}
	for id := range p.posture {
		referenced[id] = true
	}

	ids := make([]string, 0, len(c.Targets))
	for i, target := range c.Targets {
		id, err := ParseCopulaTarget(target)
		if err != nil {
			p.errf(fmt.Sprintf("portfolio.dependency.copula.targets[%d]", i), "%v", err)
			continue
		}
		if !referenced[id] {
			p.errf(fmt.Sprintf("portfolio.dependency.copula.targets[%d]", i),
				"copula target references control %q which appears in no inventory, assessment, or scenario", id)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) != len(c.Targets) {
		return nil
	}

	var matrix [][]float64
	if len(c.Matrix) > 0 {
		if err := ValidateCorrMatrix(c.Matrix, len(ids)); err != nil {
			p.errf("portfolio.dependency.copula.matrix", "%v", err)
			return nil
		}
		matrix = c.Matrix
	} else {
		switch c.Structure {
		case "", "toeplitz":
			rho := c.Rho.Or(0)
			if rho < -1 || rho > 1 {
				p.errf("portfolio.dependency.copula.rho", "rho %g out of range, must be in [-1, 1]", rho)
				return nil
			}
			matrix = ToeplitzMatrix(len(ids), rho)
		default:
			p.errf("portfolio.dependency.copula.structure", "unsupported copula structure %q", c.Structure)
			return nil
		}
	}
	return &CopulaPlan{ControlIDs: ids, Matrix: matrix}
}
