package sim

import (
	"math/rand"
	"sort"

	"github.com/crml-dev/crmlrun/internal/lang"
	"github.com/crml-dev/crmlrun/internal/plan"
)

// controlModel is the portfolio-wide view of control sampling: one reliability
// per control id (first declaration wins), the copula ordering, and the list
// of controls sampled independently.
type controlModel struct {
	reliability map[string]float64
	copula      *copulaSampler
	copulaIDs   []string
	independent []string
}

func buildControlModel(p *plan.ExecutionPlan) (*controlModel, error) {
	m := &controlModel{reliability: map[string]float64{}}
	for _, sp := range p.Scenarios {
		for _, rc := range sp.Controls {
			if _, ok := m.reliability[rc.ID]; !ok {
				m.reliability[rc.ID] = rc.Reliability
			}
		}
	}

	inCopula := map[string]bool{}
	if p.Copula != nil {
		cs, err := newCopulaSampler(p.Copula.Matrix)
		if err != nil {
			return nil, err
		}
		m.copula = cs
		m.copulaIDs = p.Copula.ControlIDs
		for _, id := range p.Copula.ControlIDs {
			inCopula[id] = true
			if _, ok := m.reliability[id]; !ok {
				m.reliability[id] = 1.0
			}
		}
	}

	for id := range m.reliability {
		if !inCopula[id] {
			m.independent = append(m.independent, id)
		}
	}
	sort.Strings(m.independent)
	return m, nil
}

// sampleStates draws the up/down state of every control for one run. A
// control is up when its uniform draw does not exceed its reliability.
func (m *controlModel) sampleStates(r *rand.Rand) map[string]bool {
	states := make(map[string]bool, len(m.reliability))
	if m.copula != nil {
		u := m.copula.draw(r)
		for i, id := range m.copulaIDs {
			states[id] = u[i] <= m.reliability[id]
		}
	}
	for _, id := range m.independent {
		states[id] = r.Float64() <= m.reliability[id]
	}
	return states
}

// scenarioMultipliers folds control states into frequency and severity
// multipliers for one scenario and run. Each functioning control contributes
// multiplier (1 - effectiveness * coverage) on its declared surface.
func scenarioMultipliers(controls []plan.ResolvedControl, states map[string]bool) (freqMult, sevMult float64) {
	freqMult, sevMult = 1.0, 1.0
	for _, rc := range controls {
		up, known := states[rc.ID]
		if known && !up {
			continue
		}
		reduction := rc.Effectiveness * rc.Coverage
		switch rc.Affects {
		case lang.AffectsFrequency:
			freqMult *= 1 - reduction
		case lang.AffectsSeverity:
			sevMult *= 1 - reduction
		case lang.AffectsBoth:
			freqMult *= 1 - reduction
			sevMult *= 1 - reduction
		}
	}
	return freqMult, sevMult
}
