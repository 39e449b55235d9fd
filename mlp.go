package spender

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
)

// MLPSpec describes a dense block: a stack of affine layers, each followed by
// a nonlinearity and dropout. It is a plain value, not a container type:
// Apply builds the block under the given context scope.
//
// The activation list covers every affine layer, so it must have exactly
// len(Hidden)+1 entries -- one per hidden layer plus one for the output
// layer. NewMLPSpec enforces this at construction time.
type MLPSpec struct {
	Hidden  []int
	Acts    []Activation
	Dropout float64
}

// NewMLPSpec returns the spec of a dense block with the given hidden-layer
// widths, per-layer activations and dropout rate.
//
// A nil acts defaults to a LeakyReLU after every layer. Otherwise it panics
// unless len(acts) == len(hidden)+1.
func NewMLPSpec(hidden []int, acts []Activation, dropout float64) MLPSpec {
	if acts == nil {
		acts = defaultActivations(len(hidden))
	}
	if len(acts) != len(hidden)+1 {
		Panicf("MLP with %d hidden layers requires %d activations (one per layer plus output), got %d",
			len(hidden), len(hidden)+1, len(acts))
	}
	return MLPSpec{Hidden: hidden, Acts: acts, Dropout: dropout}
}

// Apply builds the dense block on x, shaped [batch, features], producing
// [batch, outputDim]. Each layer is affine -> activation -> dropout; dropout
// is a no-op unless ctx.IsTraining.
func (spec MLPSpec) Apply(ctx *context.Context, x *graph.Node, outputDim int) *graph.Node {
	if len(spec.Acts) != len(spec.Hidden)+1 {
		Panicf("MLPSpec with %d hidden layers requires %d activations, got %d -- build it with NewMLPSpec",
			len(spec.Hidden), len(spec.Hidden)+1, len(spec.Acts))
	}
	widths := append(append([]int{}, spec.Hidden...), outputDim)
	for i, width := range widths {
		layerCtx := ctx.In(fmt.Sprintf("layer_%d", i))
		x = layers.DenseWithBias(layerCtx, x, width)
		x = spec.Acts[i].Apply(layerCtx, x)
		x = layers.DropoutStatic(layerCtx, x, spec.Dropout)
	}
	return x
}
