package spender

import (
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/xslices"
)

// Activation is one member of the closed set of per-layer nonlinearities
// accepted by MLPSpec, SpectrumEncoder and SpectrumDecoder.
//
// Unlike the fixed functions in gomlx's `ml/layers/activations`, some members
// carry learnable per-channel parameters, so applying one takes a
// context.Context: variables are created (or reused) in a sub-scope of ctx.
type Activation interface {
	Apply(ctx *context.Context, x *graph.Node) *graph.Node
}

// Identity is a no-op activation. It is the default for the last encoder
// layer, so latents stay centered around 0.
type Identity struct{}

func (Identity) Apply(_ *context.Context, x *graph.Node) *graph.Node { return x }

// LeakyReLU is a rectifier with a small fixed slope for negative inputs.
// A zero Slope is replaced by the default 0.01.
type LeakyReLU struct {
	Slope float64
}

func (act LeakyReLU) Apply(_ *context.Context, x *graph.Node) *graph.Node {
	slope := act.Slope
	if slope == 0 {
		slope = 0.01
	}
	return leakyReluWithAlpha(x, slope)
}

// leakyReluWithAlpha returns `x if x >= 0; alpha*x otherwise`.
func leakyReluWithAlpha(x *graph.Node, alpha float64) *graph.Node {
	g := x.Graph()
	return graph.Where(
		graph.GreaterOrEqual(x, graph.ScalarZero(g, x.DType())),
		x,
		graph.MulScalar(x, alpha))
}

// PReLU is a rectifier whose negative slope is learned, one parameter per
// channel (the last axis of the input). Slopes are initialized to 0.25.
type PReLU struct{}

func (PReLU) Apply(ctx *context.Context, x *graph.Node) *graph.Node {
	g := x.Graph()
	ctx = ctx.In("prelu")
	dtype := x.DType()
	numChannels := x.Shape().Dim(-1)
	init := shapes.CastAsDType(xslices.SliceWithValue(numChannels, 0.25), dtype)
	alpha := expandLeft(ctx.VariableWithValue("alpha", init).ValueGraph(g), x.Rank())
	return graph.Where(
		graph.GreaterOrEqual(x, graph.ScalarZero(g, dtype)),
		x,
		graph.Mul(alpha, x))
}

// Speculator is the parametric saturating activation from Alsing+ 2020
// (eq. 8): `y = (γ + (1-γ)·sigmoid(β·x))·x`, with β and γ learned per
// channel (last axis), both initialized from a standard normal distribution.
//
// With PlusOne set the output is shifted by +1, for layers whose output must
// stay near an expected unit baseline.
type Speculator struct {
	PlusOne bool
}

func (act Speculator) Apply(ctx *context.Context, x *graph.Node) *graph.Node {
	g := x.Graph()
	ctx = ctx.In("speculator")
	shape := shapes.Make(x.DType(), x.Shape().Dim(-1))
	normal := initializers.RandomNormalFn(ctx, 1.0)
	beta := expandLeft(ctx.WithInitializer(normal).VariableWithShape("beta", shape).ValueGraph(g), x.Rank())
	gamma := expandLeft(ctx.WithInitializer(normal).VariableWithShape("gamma", shape).ValueGraph(g), x.Rank())
	y := graph.Mul(graph.Add(gamma, graph.Mul(graph.OneMinus(gamma), graph.Sigmoid(graph.Mul(beta, x)))), x)
	if act.PlusOne {
		y = graph.OnePlus(y)
	}
	return y
}

// expandLeft reshapes a rank-1 per-channel parameter to the given rank, with
// leading axes of dimension 1, so it broadcasts against the input.
func expandLeft(param *graph.Node, rank int) *graph.Node {
	for param.Rank() < rank {
		param = graph.ExpandDims(param, 0)
	}
	return param
}

// defaultActivations returns a LeakyReLU for every layer of a dense block
// with the given number of hidden layers.
func defaultActivations(numHidden int) []Activation {
	acts := make([]Activation, numHidden+1)
	for i := range acts {
		acts[i] = LeakyReLU{}
	}
	return acts
}

// encoderActivations is the encoder default: a learnable PReLU per hidden
// layer and an identity last.
func encoderActivations(numHidden int) []Activation {
	acts := make([]Activation, numHidden+1)
	for i := 0; i < numHidden; i++ {
		acts[i] = PReLU{}
	}
	acts[numHidden] = Identity{}
	return acts
}
