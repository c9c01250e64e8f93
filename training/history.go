package training

// ValidationHistory is the ordered sequence of total Dice scores recorded
// after each evaluation epoch, paired with the running maximum. It is owned
// by the Trainer and passed explicitly; there is no process-wide state.
type ValidationHistory struct {
	scores []float64
	max    float64
}

// NewValidationHistory returns an empty history.
func NewValidationHistory() *ValidationHistory {
	return &ValidationHistory{}
}

// Append records one evaluation epoch's total Dice and reports whether it
// equals or exceeds every score seen so far (i.e. this epoch is the current
// best). The first score is always best.
func (h *ValidationHistory) Append(score float64) bool {
	isBest := len(h.scores) == 0 || score >= h.max
	h.scores = append(h.scores, score)
	if isBest {
		h.max = score
	}
	return isBest
}

// Max returns the running maximum over all appended scores.
func (h *ValidationHistory) Max() float64 {
	return h.max
}

// Len returns the number of evaluation epochs recorded.
func (h *ValidationHistory) Len() int {
	return len(h.scores)
}

// Scores returns a copy of the recorded sequence.
func (h *ValidationHistory) Scores() []float64 {
	return append([]float64(nil), h.scores...)
}
