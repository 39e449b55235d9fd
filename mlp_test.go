package spender

import (
	"testing"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestNewMLPSpecContract(t *testing.T) {
	// One activation too few: must fail before any tensor computation.
	require.Panics(t, func() {
		NewMLPSpec([]int{16, 16, 16}, []Activation{LeakyReLU{}, LeakyReLU{}, LeakyReLU{}}, 0)
	})
	// One too many.
	require.Panics(t, func() {
		NewMLPSpec([]int{16}, []Activation{Identity{}, Identity{}, Identity{}}, 0)
	})
	// Exact count and nil default are fine.
	require.NotPanics(t, func() {
		NewMLPSpec([]int{16, 16}, []Activation{PReLU{}, PReLU{}, Identity{}}, 0.1)
		NewMLPSpec([]int{16, 16, 16}, nil, 0)
	})
}

func TestMLPShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(42)
	spec := NewMLPSpec([]int{16, 8}, nil, 0)
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := IotaFull(g, shapes.Make(dtypes.Float32, 3, 32))
		return spec.Apply(ctx, x, 5)
	})
	require.Equal(t, []int{3, 5}, out.Shape().Dimensions)
}

func TestMLPDropoutInactiveInEval(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(17)
	spec := NewMLPSpec([]int{32, 32}, nil, 0.5)
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := IotaFull(g, shapes.Make(dtypes.Float32, 4, 16))
		return spec.Apply(ctx, x, 8)
	})
	first := exec.Call()[0]
	second := exec.Call()[0]
	require.Equal(t, first.Value(), second.Value(),
		"two eval-mode passes over the same input must be bit-identical")
}

func TestMLPDropoutActiveInTraining(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(17)
	spec := NewMLPSpec([]int{64}, nil, 0.5)
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		ctx.SetTraining(g, true)
		x := OnePlus(IotaFull(g, shapes.Make(dtypes.Float32, 4, 64)))
		return spec.Apply(ctx, x, 64)
	})
	first := exec.Call()[0]
	second := exec.Call()[0]
	require.NotEqual(t, first.Value(), second.Value(),
		"training-mode passes should see different dropout masks")
}
