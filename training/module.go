package training

import (
	"math"
	"math/rand"

	"github.com/shanhuhaifeng/confidentseg/cleanlab"
	"github.com/shanhuhaifeng/confidentseg/tensor"
)

// Global random source for deterministic weight initialization.
var globalRng *rand.Rand = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization.
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// SegModel is a plain segmentation network: it maps an image batch
// (B, C, H, W) to per-pixel class scores (B, K, H, W).
type SegModel interface {
	Forward(images *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Gradients() []*tensor.Tensor
}

// AttentionModel is a label-attention network: alongside predictions it
// emits a per-pixel weight map (B, H, W) derived from the labels.
type AttentionModel interface {
	Forward(images, labels *tensor.Tensor) (preds, weights *tensor.Tensor, err error)
	Parameters() []*tensor.Tensor
	Gradients() []*tensor.Tensor
}

// GradComputer is optionally implemented by models that can accumulate
// their own parameter gradients for a scored batch. The trainer invokes it
// between ZeroGrad and Step, and only in training mode.
type GradComputer interface {
	AccumulateGrads(preds, labels *tensor.Tensor) error
}

// Network is the closed set of supported network kinds. Each variant
// carries the inputs its calling convention needs; the trainer
// pattern-matches exhaustively instead of branching on name strings.
type Network interface {
	isNetwork()
}

// VNet2d wraps a plain segmentation model (the vnet2d calling convention).
type VNet2d struct {
	Model SegModel
}

func (VNet2d) isNetwork() {}

// PickAndLearn wraps a label-attention model (the pick_and_learn calling
// convention: forward consumes labels and yields auxiliary weights).
type PickAndLearn struct {
	Model AttentionModel
}

func (PickAndLearn) isNetwork() {}

// networkParameters returns the trainable parameters of either variant.
func networkParameters(n Network) []*tensor.Tensor {
	switch net := n.(type) {
	case VNet2d:
		return net.Model.Parameters()
	case PickAndLearn:
		return net.Model.Parameters()
	default:
		return nil
	}
}

// NetworkParameters returns the trainable parameters of a network variant.
func NetworkParameters(n Network) []*tensor.Tensor {
	return networkParameters(n)
}

// NetworkGradients returns the gradient buffers of a network variant.
func NetworkGradients(n Network) []*tensor.Tensor {
	switch net := n.(type) {
	case VNet2d:
		return net.Model.Gradients()
	case PickAndLearn:
		return net.Model.Gradients()
	default:
		return nil
	}
}

// Predict runs a forward pass through either network variant and returns
// the raw per-class scores. Labels are only consulted by the attention
// variant.
func Predict(n Network, images, labels *tensor.Tensor) (*tensor.Tensor, error) {
	switch net := n.(type) {
	case VNet2d:
		return net.Model.Forward(images)
	case PickAndLearn:
		preds, _, err := net.Model.Forward(images, labels)
		return preds, err
	default:
		return nil, cleanlab.Configurationf("unknown network variant %T", n)
	}
}

// NewNetwork builds a network variant by its command-line name.
func NewNetwork(name string, numClasses int) (Network, error) {
	switch name {
	case "vnet2d":
		model, err := NewLinearPixelModel(numClasses)
		if err != nil {
			return nil, err
		}
		return VNet2d{Model: model}, nil
	case "pick_and_learn":
		model, err := NewAttentionPixelModel(numClasses)
		if err != nil {
			return nil, err
		}
		return PickAndLearn{Model: model}, nil
	default:
		return nil, cleanlab.Configurationf("unknown network %q", name)
	}
}

// LinearPixelModel is a per-pixel linear scorer: score[k] = w[k]*x + b[k]
// for each input intensity x. It is the bundled reference model for wiring
// and tests; real network architectures plug in via SegModel.
type LinearPixelModel struct {
	NumClasses int
	weight     *tensor.Tensor
	bias       *tensor.Tensor
	gradW      *tensor.Tensor
	gradB      *tensor.Tensor
	lastInput  *tensor.Tensor
}

// NewLinearPixelModel creates a linear per-pixel scorer with small random
// weights, Xavier-style bounded by the class count.
func NewLinearPixelModel(numClasses int) (*LinearPixelModel, error) {
	bound := math.Sqrt(6.0 / float64(1+numClasses))

	weightData := make([]float32, numClasses)
	for i := range weightData {
		weightData[i] = float32((globalRng.Float64()*2.0 - 1.0) * bound)
	}
	weight, err := tensor.NewTensor([]int{numClasses}, tensor.Float32, weightData)
	if err != nil {
		return nil, err
	}
	bias, err := tensor.Zeros([]int{numClasses}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	gradW, err := tensor.Zeros([]int{numClasses}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	gradB, err := tensor.Zeros([]int{numClasses}, tensor.Float32)
	if err != nil {
		return nil, err
	}

	return &LinearPixelModel{
		NumClasses: numClasses,
		weight:     weight,
		bias:       bias,
		gradW:      gradW,
		gradB:      gradB,
	}, nil
}

// Forward maps (B, 1, H, W) images to (B, K, H, W) class scores.
func (m *LinearPixelModel) Forward(images *tensor.Tensor) (*tensor.Tensor, error) {
	if len(images.Shape) != 4 {
		return nil, cleanlab.DataShapef("expected 4D image batch, got shape %v", images.Shape)
	}
	batch, height, width := images.Shape[0], images.Shape[2], images.Shape[3]

	in, err := images.Float32Data()
	if err != nil {
		return nil, err
	}
	w, _ := m.weight.Float32Data()
	b, _ := m.bias.Float32Data()

	preds, err := tensor.Zeros([]int{batch, m.NumClasses, height, width}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	out, _ := preds.Float32Data()

	plane := height * width
	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			x := in[n*plane+p]
			for k := 0; k < m.NumClasses; k++ {
				out[(n*m.NumClasses+k)*plane+p] = w[k]*x + b[k]
			}
		}
	}

	m.lastInput = images
	return preds, nil
}

// AccumulateGrads adds the analytic cross-entropy gradient of the linear
// scorer to the gradient buffers.
func (m *LinearPixelModel) AccumulateGrads(preds, labels *tensor.Tensor) error {
	probs, err := SoftmaxChannels(preds)
	if err != nil {
		return err
	}
	probData, _ := probs.Float32Data()
	labelData, err := labels.Int32Data()
	if err != nil {
		return err
	}
	if m.lastInput == nil {
		return cleanlab.DataShapef("AccumulateGrads called before Forward")
	}
	in, _ := m.lastInput.Float32Data()

	batch, classes := preds.Shape[0], preds.Shape[1]
	plane := preds.Shape[2] * preds.Shape[3]
	gw, _ := m.gradW.Float32Data()
	gb, _ := m.gradB.Float32Data()

	scale := float32(1.0) / float32(batch*plane)
	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			x := in[n*plane+p]
			label := labelData[n*plane+p]
			for k := 0; k < classes; k++ {
				delta := probData[(n*classes+k)*plane+p]
				if int32(k) == label {
					delta -= 1
				}
				gw[k] += delta * x * scale
				gb[k] += delta * scale
			}
		}
	}
	return nil
}

// Parameters returns the trainable parameter tensors.
func (m *LinearPixelModel) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{m.weight, m.bias}
}

// Gradients returns the gradient buffers aligned with Parameters.
func (m *LinearPixelModel) Gradients() []*tensor.Tensor {
	return []*tensor.Tensor{m.gradW, m.gradB}
}

// AttentionPixelModel wraps a LinearPixelModel with a label-agreement
// weight map: each pixel's weight is the softmax probability of its
// observed label, so confidently-agreed pixels dominate the loss.
type AttentionPixelModel struct {
	Base *LinearPixelModel
}

// NewAttentionPixelModel creates the attention wrapper.
func NewAttentionPixelModel(numClasses int) (*AttentionPixelModel, error) {
	base, err := NewLinearPixelModel(numClasses)
	if err != nil {
		return nil, err
	}
	return &AttentionPixelModel{Base: base}, nil
}

// Forward produces predictions and a (B, H, W) weight map.
func (m *AttentionPixelModel) Forward(images, labels *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	preds, err := m.Base.Forward(images)
	if err != nil {
		return nil, nil, err
	}

	probs, err := SoftmaxChannels(preds)
	if err != nil {
		return nil, nil, err
	}
	probData, _ := probs.Float32Data()
	labelData, err := labels.Int32Data()
	if err != nil {
		return nil, nil, err
	}

	batch, classes := preds.Shape[0], preds.Shape[1]
	height, width := preds.Shape[2], preds.Shape[3]
	plane := height * width

	weights, err := tensor.Zeros([]int{batch, height, width}, tensor.Float32)
	if err != nil {
		return nil, nil, err
	}
	wData, _ := weights.Float32Data()
	for n := 0; n < batch; n++ {
		for p := 0; p < plane; p++ {
			label := labelData[n*plane+p]
			wData[n*plane+p] = probData[(n*classes+int(label))*plane+p]
		}
	}
	return preds, weights, nil
}

// AccumulateGrads delegates to the wrapped scorer.
func (m *AttentionPixelModel) AccumulateGrads(preds, labels *tensor.Tensor) error {
	return m.Base.AccumulateGrads(preds, labels)
}

// Parameters returns the trainable parameter tensors.
func (m *AttentionPixelModel) Parameters() []*tensor.Tensor {
	return m.Base.Parameters()
}

// Gradients returns the gradient buffers aligned with Parameters.
func (m *AttentionPixelModel) Gradients() []*tensor.Tensor {
	return m.Base.Gradients()
}
