package scanner

import "github.com/hexlattice/scanhub/api/schemas"

// ConfidenceFilter rejects low-quality detections before they can drive a
// state transition. It is stateless and safe to copy.
type ConfidenceFilter struct {
	// Threshold is the minimum confidence (0-100) a detection must carry.
	Threshold float64
}

// Accept reports whether the detection clears the threshold. The boundary
// is inclusive: a detection at exactly the threshold passes.
func (f ConfidenceFilter) Accept(det schemas.Detection) bool {
	return det.Confidence >= f.Threshold
}
