package training

import (
	"fmt"
	"math"

	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// Optimizer applies parameter updates from accumulated gradients. Evaluation
// epochs never call Step or ZeroGrad.
type Optimizer interface {
	ZeroGrad()
	Step() error
	SetLearningRate(lr float64)
	LearningRate() float64
}

// SGD is plain stochastic gradient descent over a model's parameter and
// gradient buffers.
type SGD struct {
	params []*tensor.Tensor
	grads  []*tensor.Tensor
	lr     float64
}

// NewSGD creates an SGD optimizer. params and grads must align one to one.
func NewSGD(params, grads []*tensor.Tensor, lr float64) (*SGD, error) {
	if len(params) != len(grads) {
		return nil, fmt.Errorf("parameter/gradient count mismatch: %d vs %d", len(params), len(grads))
	}
	for i := range params {
		if params[i].NumElems != grads[i].NumElems {
			return nil, fmt.Errorf("parameter %d has %d elements but gradient has %d",
				i, params[i].NumElems, grads[i].NumElems)
		}
	}
	return &SGD{params: params, grads: grads, lr: lr}, nil
}

// ZeroGrad clears all gradient buffers.
func (s *SGD) ZeroGrad() {
	for _, g := range s.grads {
		data, err := g.Float32Data()
		if err != nil {
			continue
		}
		for i := range data {
			data[i] = 0
		}
	}
}

// Step applies one gradient descent update: p -= lr * g.
func (s *SGD) Step() error {
	for i := range s.params {
		p, err := s.params[i].Float32Data()
		if err != nil {
			return err
		}
		g, err := s.grads[i].Float32Data()
		if err != nil {
			return err
		}
		for j := range p {
			p[j] -= float32(s.lr) * g[j]
		}
	}
	return nil
}

// SetLearningRate updates the learning rate for subsequent steps.
func (s *SGD) SetLearningRate(lr float64) {
	s.lr = lr
}

// LearningRate returns the current learning rate.
func (s *SGD) LearningRate() float64 {
	return s.lr
}

// AdamConfig holds Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient
}

// DefaultAdamConfig returns the standard Adam hyperparameters.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with bias-corrected first and second
// moment estimates.
type Adam struct {
	config AdamConfig
	params []*tensor.Tensor
	grads  []*tensor.Tensor
	m      [][]float32
	v      [][]float32
	step   int
}

// NewAdam creates an Adam optimizer. params and grads must align one to one.
func NewAdam(params, grads []*tensor.Tensor, config AdamConfig) (*Adam, error) {
	if len(params) != len(grads) {
		return nil, fmt.Errorf("parameter/gradient count mismatch: %d vs %d", len(params), len(grads))
	}
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i := range params {
		if params[i].NumElems != grads[i].NumElems {
			return nil, fmt.Errorf("parameter %d has %d elements but gradient has %d",
				i, params[i].NumElems, grads[i].NumElems)
		}
		m[i] = make([]float32, params[i].NumElems)
		v[i] = make([]float32, params[i].NumElems)
	}
	return &Adam{config: config, params: params, grads: grads, m: m, v: v}, nil
}

// ZeroGrad clears all gradient buffers.
func (a *Adam) ZeroGrad() {
	for _, g := range a.grads {
		data, err := g.Float32Data()
		if err != nil {
			continue
		}
		for i := range data {
			data[i] = 0
		}
	}
}

// Step applies one Adam update with bias correction.
func (a *Adam) Step() error {
	a.step++
	correction1 := 1 - math.Pow(a.config.Beta1, float64(a.step))
	correction2 := 1 - math.Pow(a.config.Beta2, float64(a.step))

	for i := range a.params {
		p, err := a.params[i].Float32Data()
		if err != nil {
			return err
		}
		g, err := a.grads[i].Float32Data()
		if err != nil {
			return err
		}
		for j := range p {
			grad := float64(g[j])
			if a.config.WeightDecay > 0 {
				grad += a.config.WeightDecay * float64(p[j])
			}
			m := a.config.Beta1*float64(a.m[i][j]) + (1-a.config.Beta1)*grad
			v := a.config.Beta2*float64(a.v[i][j]) + (1-a.config.Beta2)*grad*grad
			a.m[i][j] = float32(m)
			a.v[i][j] = float32(v)

			mHat := m / correction1
			vHat := v / correction2
			p[j] -= float32(a.config.LearningRate * mHat / (math.Sqrt(vHat) + a.config.Epsilon))
		}
	}
	return nil
}

// SetLearningRate updates the learning rate for subsequent steps.
func (a *Adam) SetLearningRate(lr float64) {
	a.config.LearningRate = lr
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 {
	return a.config.LearningRate
}
