package training

import (
	"math"
)

// LRScheduler computes the learning rate for a given epoch. Schedulers are
// stateless pure functions of the epoch index and base rate.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
}

// StepLRScheduler reduces the learning rate by a factor every StepSize
// epochs, the decay schedule used for the segmentation runs.
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler.
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}
