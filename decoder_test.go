package spender

import (
	"testing"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpectrumDecoderContract(t *testing.T) {
	grid := LinearWave(4000, 5000, 100)
	require.Panics(t, func() { NewSpectrumDecoder(grid, 0) })
	require.Panics(t, func() { NewSpectrumDecoder([]float64{4000}, 5) })
	require.Panics(t, func() { NewSpectrumDecoder([]float64{4000, 4000, 4100}, 5) }, "repeated wavelength")
	require.Panics(t, func() { NewSpectrumDecoder([]float64{4000, 3900}, 5) }, "decreasing grid")
	require.NotPanics(t, func() { NewSpectrumDecoder(grid, 5) })
}

func TestSpectrumDecoderDecodeShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(42)
	dec := NewSpectrumDecoder(LinearWave(4000, 5000, 100), 5)
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		s := IotaFull(g, shapes.Make(dtypes.Float32, 3, 5))
		return dec.Decode(ctx, s)
	})
	require.Equal(t, []int{3, 100}, out.Shape().Dimensions)
}

// At zero redshift, with an instrument observing exactly the rest-frame grid
// and defining neither an LSF nor a calibration, the observed-frame transform
// must reproduce the decoded spectrum.
func TestSpectrumDecoderTransformIdentity(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(13)
	grid := LinearWave(4000, 5000, 100)
	dec := NewSpectrumDecoder(grid, 5)
	instrument := &StaticInstrument{Wave: grid}
	diff := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		s := IotaFull(g, shapes.Make(dtypes.Float32, 2, 5))
		restframe := dec.Decode(ctx, s)
		observed := dec.Transform(ctx, restframe, instrument, ScalarZero(g, dtypes.Float32))
		return ReduceAllMax(Abs(Sub(observed, restframe)))
	})
	assert.InDelta(t, 0.0, float64(tensors.ToScalar[float32](diff)), 1e-4)
}

// Transform with a redshift resamples correctly: a spectrum whose flux equals
// its rest wavelength, shifted by (1+z), must read back value lambda/(1+z) at
// every observed wavelength inside the shifted range, and hold the edge value
// outside it. Each sample carries its own redshift, so each row is resampled
// from its own shifted grid.
func TestSpectrumDecoderTransformRedshift(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(13)
	grid := LinearWave(100, 200, 101)
	dec := NewSpectrumDecoder(grid, 2)
	instrument := &StaticInstrument{Wave: []float64{105, 150, 200, 219, 230}}
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		restframe := BroadcastToDims(ExpandDims(ConvertDType(Const(g, grid), dtypes.Float32), 0), 2, len(grid))
		z := Const(g, []float32{0.1, 0})
		return dec.Transform(ctx, restframe, instrument, z)
	})
	require.Equal(t, []int{2, 5}, out.Shape().Dimensions)
	flat := tensors.CopyFlatData[float32](out)
	// Sample 0, z=0.1: shifted range [110, 220].
	assert.InDelta(t, 100.0, float64(flat[0]), 1e-3, "below 110: hold the blue edge")
	assert.InDelta(t, 150.0/1.1, float64(flat[1]), 1e-3)
	assert.InDelta(t, 200.0/1.1, float64(flat[2]), 1e-3)
	assert.InDelta(t, 219.0/1.1, float64(flat[3]), 1e-3)
	assert.InDelta(t, 200.0, float64(flat[4]), 1e-3, "above 220: hold the red edge")
	// Sample 1, z=0: the identity inside [100, 200], edges held above it.
	assert.InDelta(t, 105.0, float64(flat[5]), 1e-3)
	assert.InDelta(t, 150.0, float64(flat[6]), 1e-3)
	assert.InDelta(t, 200.0, float64(flat[7]), 1e-3)
	assert.InDelta(t, 200.0, float64(flat[8]), 1e-3)
	assert.InDelta(t, 200.0, float64(flat[9]), 1e-3)
}

func TestSpectrumDecoderTransformCalibration(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(13)
	grid := LinearWave(4000, 5000, 50)
	dec := NewSpectrumDecoder(grid, 2)
	instrument := &StaticInstrument{
		Wave: grid,
		Calib: func(waveObs, spectrum *Node) *Node {
			return MulScalar(spectrum, 2)
		},
	}
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		restframe := Ones(g, shapes.Make(dtypes.Float32, 3, 50))
		return dec.Transform(ctx, restframe, instrument, nil)
	})
	for _, v := range tensors.CopyFlatData[float32](out) {
		assert.InDelta(t, 2.0, float64(v), 1e-4)
	}
}

func TestSpectrumDecoderTransformLSF(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(13)
	grid := LinearWave(4000, 5000, 64)
	dec := NewSpectrumDecoder(grid, 2)
	instrument := &StaticInstrument{Wave: grid, Blur: GaussianLSF(1.5)}
	out := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		restframe := Ones(g, shapes.Make(dtypes.Float32, 2, 64))
		return dec.Transform(ctx, restframe, instrument, nil)
	})
	require.Equal(t, []int{2, 64}, out.Shape().Dimensions)
	flat := tensors.CopyFlatData[float32](out)
	assert.InDelta(t, 1.0, float64(flat[32]), 1e-4, "a flat spectrum stays flat mid-band")
}

func TestRedshiftFactorContract(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.RngStateFromSeed(13)
	dec := NewSpectrumDecoder(LinearWave(100, 200, 10), 2)
	require.Panics(t, func() {
		context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			restframe := Ones(g, shapes.Make(dtypes.Float32, 4, 10))
			z := Ones(g, shapes.Make(dtypes.Float32, 3)) // batch mismatch
			return dec.Transform(ctx, restframe, nil, z)
		})
	})
}
