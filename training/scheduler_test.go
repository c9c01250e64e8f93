package training

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepLRSchedulerDecay(t *testing.T) {
	scheduler := NewStepLRScheduler(30, 0.1)

	assert.InDelta(t, 0.01, scheduler.GetLR(0, 0.01), 1e-12)
	assert.InDelta(t, 0.01, scheduler.GetLR(29, 0.01), 1e-12)
	assert.InDelta(t, 0.001, scheduler.GetLR(30, 0.01), 1e-12)
	assert.InDelta(t, 0.001, scheduler.GetLR(59, 0.01), 1e-12)
	assert.InDelta(t, 0.0001, scheduler.GetLR(60, 0.01), 1e-12)
}

func TestStepLRSchedulerDefaults(t *testing.T) {
	scheduler := NewStepLRScheduler(0, 0)

	assert.Equal(t, 30, scheduler.StepSize)
	assert.InDelta(t, 0.1, scheduler.Gamma, 1e-12)
}
