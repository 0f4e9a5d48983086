package sim

import "fmt"

// UnsupportedModelError reports a frequency or severity model id the engine
// cannot sample. Raised during preflight, before any sampling starts.
type UnsupportedModelError struct {
	Kind  string
	Model string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported %s model %q", e.Kind, e.Model)
}

// CalibrationError reports severity parameters that cannot be turned into a
// samplable distribution.
type CalibrationError struct {
	Reason string
}

func (e *CalibrationError) Error() string {
	return "severity calibration failed: " + e.Reason
}
