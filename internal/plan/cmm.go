package plan

import "fmt"

// scfCMMEffectiveness maps an SCF Capability Maturity Model level to an
// implementation-effectiveness factor. The curve is non-linear: early maturity
// levels buy less risk reduction than the jump from defined to managed.
var scfCMMEffectiveness = map[int]float64{
	0: 0.00,
	1: 0.10,
	2: 0.25,
	3: 0.45,
	4: 0.70,
	5: 0.90,
}

// EffectivenessFromCMM converts an SCF CMM level (0-5) into an
// implementation-effectiveness factor.
func EffectivenessFromCMM(level int) (float64, error) {
	eff, ok := scfCMMEffectiveness[level]
	if !ok {
		return 0, fmt.Errorf("scf_cmm_level %d out of range, must be 0-5", level)
	}
	return eff, nil
}
