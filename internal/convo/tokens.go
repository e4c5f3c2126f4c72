package convo

// Estimator approximates the token count of a piece of text. The default
// implementation is a chars/4 heuristic with a provider-specific correction
// factor, calibrated against the actual prompt-token count the provider
// reports after each LLM call (spec §4.2 "Token accounting").
type Estimator struct {
	// CorrectionFactor scales the raw chars/4 estimate. 1.0 = no correction.
	// Updated by Calibrate after each turn using the provider's reported
	// prompt-token count, mirroring the teacher's session token calibration.
	CorrectionFactor float64
}

func NewEstimator() *Estimator {
	return &Estimator{CorrectionFactor: 1.0}
}

// EstimateTokens returns an approximate token count for s.
func (e *Estimator) EstimateTokens(s string) int {
	raw := float64(len(s)) / 4.0
	return int(raw * e.CorrectionFactor)
}

// Calibrate adjusts CorrectionFactor given the actual prompt-token count the
// provider reported for a prompt whose raw chars/4 estimate was rawCharEstimate.
// Ignored if either input is non-positive.
func (e *Estimator) Calibrate(actualPromptTokens int, charCount int) {
	if actualPromptTokens <= 0 || charCount <= 0 {
		return
	}
	rawEstimate := float64(charCount) / 4.0
	if rawEstimate <= 0 {
		return
	}
	factor := float64(actualPromptTokens) / rawEstimate
	// Smooth towards the new factor rather than snapping, so one unusual
	// turn (e.g. mostly code, or mostly CJK text) doesn't whipsaw the estimate.
	e.CorrectionFactor = 0.7*e.CorrectionFactor + 0.3*factor
}
