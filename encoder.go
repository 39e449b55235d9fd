package spender

import (
	"strings"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/tensors"
)

// Convolutional feature extractor, fixed by design (Serra+ 2018): three
// blocks with these channel widths and kernel sizes, max-pooling after the
// first two. The last feature map is split in half into attention values and
// attention keys.
var (
	encoderFilters = [3]int{128, 256, 512}
	encoderKernels = [3]int{5, 11, 21}
)

// SpectrumEncoder compresses an observed-frame spectrum into a latent vector
// using a convolutional front end with softmax attention pooling, followed by
// a dense block.
//
// Create it with NewSpectrumEncoder, optionally adjust it with the With*
// setters, then call Forward with a scoped context to build the graph. The
// same encoder value can build the graph for many inputs; variables are
// shared through the context scope.
type SpectrumEncoder struct {
	Instrument Instrument
	NLatent    int
	NAux       int
	MLP        MLPSpec

	// lastAttention is the softmaxed attention node from the most recent
	// Forward call outside training mode, retained for GradFAM. Transient,
	// only valid for the graph it was built in.
	lastAttention *graph.Node

	// attentionGrad is the last materialized Grad-FAM tensor, nil if never
	// captured.
	attentionGrad *tensors.Tensor
}

// NewSpectrumEncoder returns an encoder for the given instrument producing
// nLatent latents. Defaults: hidden layers {128, 64, 32} with PReLU
// activations and an identity last layer, 1 auxiliary feature, no dropout.
//
// The instrument may be nil for rest-frame (diagnostic) autoencoders.
func NewSpectrumEncoder(instrument Instrument, nLatent int) *SpectrumEncoder {
	if nLatent <= 0 {
		Panicf("SpectrumEncoder requires nLatent > 0, got %d", nLatent)
	}
	hidden := []int{128, 64, 32}
	return &SpectrumEncoder{
		Instrument: instrument,
		NLatent:    nLatent,
		NAux:       1,
		MLP:        NewMLPSpec(hidden, encoderActivations(len(hidden)), 0),
	}
}

// WithHidden replaces the hidden-layer widths of the final dense block. The
// activations are reset to the encoder default for the new depth.
func (e *SpectrumEncoder) WithHidden(hidden ...int) *SpectrumEncoder {
	e.MLP = NewMLPSpec(hidden, encoderActivations(len(hidden)), e.MLP.Dropout)
	return e
}

// WithActivations replaces the per-layer activations of the dense block.
// Panics unless exactly len(hidden)+1 activations are given.
func (e *SpectrumEncoder) WithActivations(acts ...Activation) *SpectrumEncoder {
	e.MLP = NewMLPSpec(e.MLP.Hidden, acts, e.MLP.Dropout)
	return e
}

// WithAux sets the number of auxiliary scalar features concatenated to the
// pooled attention features. Zero disables the auxiliary input.
func (e *SpectrumEncoder) WithAux(nAux int) *SpectrumEncoder {
	if nAux < 0 {
		Panicf("SpectrumEncoder requires nAux >= 0, got %d", nAux)
	}
	e.NAux = nAux
	return e
}

// WithDropout sets the dropout rate used by the convolutional blocks and the
// dense block.
func (e *SpectrumEncoder) WithDropout(rate float64) *SpectrumEncoder {
	e.MLP.Dropout = rate
	return e
}

// Forward builds the encoder graph: x shaped [batch, bins] is mapped to
// latents shaped [batch, NLatent].
//
// aux carries the auxiliary scalar features, shaped [batch, NAux]; it must
// be nil if (and only if) the encoder was configured with zero auxiliary
// features.
func (e *SpectrumEncoder) Forward(ctx *context.Context, x, aux *graph.Node) *graph.Node {
	g := x.Graph()
	if x.Rank() != 2 {
		Panicf("SpectrumEncoder.Forward requires x shaped [batch, bins], got %s", x.Shape())
	}

	h, a := e.downsample(ctx, x)
	a = graph.Softmax(a, 1) // Attention weights: per channel, across spectral bins.

	// Grad-FAM: retain the attention node outside training so the gradient
	// of a downstream prediction w.r.t. it can be read back. Observational
	// only, the forward value is untouched.
	if !ctx.IsTraining(g) {
		e.lastAttention = a
	}

	pooled := graph.ReduceSum(graph.Mul(h, a), 1)

	if e.NAux == 0 {
		if aux != nil {
			Panicf("SpectrumEncoder configured without auxiliary features, but Forward got aux shaped %s", aux.Shape())
		}
	} else {
		if aux == nil {
			Panicf("SpectrumEncoder configured with %d auxiliary features, but Forward got none", e.NAux)
		}
		if aux.Rank() != 2 || aux.Shape().Dim(-1) != e.NAux {
			Panicf("SpectrumEncoder requires aux shaped [batch, %d], got %s", e.NAux, aux.Shape())
		}
		pooled = graph.Concatenate([]*graph.Node{pooled, aux}, -1)
	}

	return e.MLP.Apply(ctx.In("mlp"), pooled, e.NLatent)
}

// downsample runs the convolutional blocks and splits the final feature map
// into the value half h and the attention-logit half a, both shaped
// [batch, positions, 256].
func (e *SpectrumEncoder) downsample(ctx *context.Context, x *graph.Node) (h, a *graph.Node) {
	x = graph.ExpandDims(x, -1) // [batch, bins, 1], single input channel.
	for i := range encoderFilters {
		x = e.convBlock(ctx.Inf("conv_%d", i), x, encoderFilters[i], encoderKernels[i])
		if i < 2 {
			k := encoderKernels[i]
			x = graph.MaxPool(x).Window(k).Strides(k).PaddingPerDim([][2]int{{k / 2, k / 2}}).Done()
		}
	}
	featureChannels := encoderFilters[2] / 2
	h = graph.Slice(x, graph.AxisRange(), graph.AxisRange(), graph.AxisRange(0, featureChannels))
	a = graph.Slice(x, graph.AxisRange(), graph.AxisRange(), graph.AxisRange(featureChannels, encoderFilters[2]))
	return h, a
}

// convBlock is convolution (same padding) -> per-channel instance
// normalization -> PReLU -> dropout.
func (e *SpectrumEncoder) convBlock(ctx *context.Context, x *graph.Node, filters, kernelSize int) *graph.Node {
	x = layers.Convolution(ctx, x).Filters(filters).KernelSize(kernelSize).PadSame().Done()
	x = instanceNorm(x)
	x = PReLU{}.Apply(ctx, x)
	return layers.DropoutStatic(ctx, x, e.MLP.Dropout)
}

// instanceNorm normalizes x shaped [batch, positions, channels] to zero mean
// and unit variance across positions, independently per sample and channel.
func instanceNorm(x *graph.Node) *graph.Node {
	mean := graph.ReduceAndKeep(x, graph.ReduceMean, 1)
	centered := graph.Sub(x, mean)
	variance := graph.ReduceAndKeep(graph.Square(centered), graph.ReduceMean, 1)
	const epsilon = 1e-5
	return graph.Div(centered, graph.Sqrt(graph.AddScalar(variance, epsilon)))
}

// GradFAM returns the gradient of the given scalar objective with respect to
// the attention weights of the most recent Forward call (the "feature
// activation map" diagnostic). The objective and the retained attention must
// belong to the same graph; the encoder must not have been in training mode.
func (e *SpectrumEncoder) GradFAM(objective *graph.Node) *graph.Node {
	if e.lastAttention == nil {
		Panicf("SpectrumEncoder.GradFAM: no attention captured -- call Forward outside training mode first")
	}
	if !objective.IsScalar() {
		objective = graph.ReduceAllSum(objective)
	}
	return graph.Gradient(objective, e.lastAttention)[0]
}

// SetAttentionGrad records a materialized Grad-FAM tensor for later
// inspection.
func (e *SpectrumEncoder) SetAttentionGrad(grad *tensors.Tensor) {
	e.attentionGrad = grad
}

// AttentionGrad returns the last recorded Grad-FAM tensor, or nil if none
// was ever captured.
func (e *SpectrumEncoder) AttentionGrad() *tensors.Tensor {
	return e.attentionGrad
}

// NumParameters returns the number of trainable parameters created by this
// encoder under the given scope -- the context must be scoped the same way
// it was for Forward, and the variables must have been initialized (e.g. by
// executing the graph once).
func (e *SpectrumEncoder) NumParameters(ctx *context.Context) int {
	return numTrainableParameters(ctx)
}

// numTrainableParameters sums the sizes of all trainable variables under the
// scope of ctx.
func numTrainableParameters(ctx *context.Context) int {
	scope := ctx.Scope()
	total := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable && strings.HasPrefix(v.Scope(), scope) {
			total += v.Shape().Size()
		}
	})
	return total
}
