package spender

import (
	"testing"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianLSFShapeAndNormalization(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	lsf := GaussianLSF(2.0)
	out := ExecOnce(backend, func(g *Graph) *Node {
		// A constant spectrum stays constant under a normalized kernel
		// (away from the edges, where same-padding sees zeros).
		spectrum := Ones(g, shapes.Make(dtypes.Float32, 2, 1, 64))
		return lsf(spectrum)
	})
	require.Equal(t, []int{2, 1, 64}, out.Shape().Dimensions)
	flat := tensors.CopyFlatData[float32](out)
	assert.InDelta(t, 1.0, float64(flat[32]), 1e-5)
	assert.InDelta(t, 1.0, float64(flat[64+32]), 1e-5)
}

func TestGaussianLSFSmooths(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	lsf := GaussianLSF(1.5)
	out := ExecOnce(backend, func(g *Graph) *Node {
		// A delta spike spreads out but keeps its total flux.
		spike := make([]float32, 33)
		spike[16] = 1
		spectrum := Reshape(Const(g, spike), 1, 1, 33)
		blurred := lsf(spectrum)
		return Stack([]*Node{ReduceAllSum(blurred), ReduceAllMax(blurred)}, 0)
	})
	flat := tensors.CopyFlatData[float32](out)
	assert.InDelta(t, 1.0, float64(flat[0]), 1e-5, "total flux preserved")
	assert.Less(t, float64(flat[1]), 0.5, "peak must spread out")
}

func TestGaussianLSFContract(t *testing.T) {
	require.Panics(t, func() { GaussianLSF(0) })
	require.Panics(t, func() { GaussianLSF(-1) })

	backend := graphtest.BuildTestBackend()
	lsf := GaussianLSF(1.0)
	require.Panics(t, func() {
		ExecOnce(backend, func(g *Graph) *Node {
			return lsf(Ones(g, shapes.Make(dtypes.Float32, 2, 64))) // missing channel axis
		})
	})
}
