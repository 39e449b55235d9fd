package spender

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
)

// SpectrumDecoder maps a latent vector to a rest-frame spectrum sampled at a
// fixed rest-frame wavelength grid, and knows how to move that spectrum to
// the observed frame of an instrument at a given redshift.
//
// The rest-frame grid is registered as a non-trainable variable "wave_rest"
// under the decoder's scope, so checkpoints carry it alongside the model
// parameters.
type SpectrumDecoder struct {
	NLatent int
	MLP     MLPSpec

	waveRest []float64
}

// NewSpectrumDecoder returns a decoder producing spectra on the given
// rest-frame wavelength grid (strictly increasing, at least 2 entries) from
// nLatent latents. Defaults: hidden layers {64, 256, 1024}, LeakyReLU
// activations, no dropout.
func NewSpectrumDecoder(waveRest []float64, nLatent int) *SpectrumDecoder {
	if nLatent <= 0 {
		Panicf("SpectrumDecoder requires nLatent > 0, got %d", nLatent)
	}
	if len(waveRest) < 2 {
		Panicf("SpectrumDecoder requires a rest-frame grid with at least 2 wavelengths, got %d", len(waveRest))
	}
	for i := 1; i < len(waveRest); i++ {
		if waveRest[i] <= waveRest[i-1] {
			Panicf("SpectrumDecoder rest-frame grid must be strictly increasing, but wave[%d]=%g <= wave[%d]=%g",
				i, waveRest[i], i-1, waveRest[i-1])
		}
	}
	hidden := []int{64, 256, 1024}
	return &SpectrumDecoder{
		NLatent:  nLatent,
		MLP:      NewMLPSpec(hidden, defaultActivations(len(hidden)), 0),
		waveRest: waveRest,
	}
}

// WithHidden replaces the hidden-layer widths of the dense block, resetting
// the activations to the default for the new depth.
func (d *SpectrumDecoder) WithHidden(hidden ...int) *SpectrumDecoder {
	d.MLP = NewMLPSpec(hidden, defaultActivations(len(hidden)), d.MLP.Dropout)
	return d
}

// WithActivations replaces the per-layer activations of the dense block.
// Panics unless exactly len(hidden)+1 activations are given.
func (d *SpectrumDecoder) WithActivations(acts ...Activation) *SpectrumDecoder {
	d.MLP = NewMLPSpec(d.MLP.Hidden, acts, d.MLP.Dropout)
	return d
}

// WithDropout sets the dense block dropout rate.
func (d *SpectrumDecoder) WithDropout(rate float64) *SpectrumDecoder {
	d.MLP.Dropout = rate
	return d
}

// WaveRest returns the decoder's rest-frame wavelength grid. Callers must
// not mutate it.
func (d *SpectrumDecoder) WaveRest() []float64 {
	return d.waveRest
}

// waveRestNode returns the rest-frame grid as a graph node, backed by the
// non-trainable "wave_rest" variable, converted to the spectrum dtype.
func (d *SpectrumDecoder) waveRestNode(ctx *context.Context, g *graph.Graph, dtype dtypes.DType) *graph.Node {
	v := ctx.Checked(false).VariableWithValue("wave_rest", d.waveRest).SetTrainable(false)
	return graph.ConvertDType(v.ValueGraph(g), dtype)
}

// Decode maps latents shaped [batch, NLatent] to rest-frame spectra shaped
// [batch, len(WaveRest())]. Pure dense-block pass, no instrument dependency.
func (d *SpectrumDecoder) Decode(ctx *context.Context, s *graph.Node) *graph.Node {
	if s.Rank() != 2 || s.Shape().Dim(-1) != d.NLatent {
		Panicf("SpectrumDecoder.Decode requires latents shaped [batch, %d], got %s", d.NLatent, s.Shape())
	}
	return d.MLP.Apply(ctx.In("mlp"), s, len(d.waveRest))
}

// Transform moves a rest-frame spectrum to the observed frame: the rest grid
// is redshifted by (1+z), the spectrum is resampled onto the instrument's
// observed-frame grid by piecewise-linear interpolation (flat-hold outside
// the shifted range, see Interp1D), then blurred by the instrument's LSF and
// corrected by its calibration function, when the instrument defines them.
//
// z may be nil (no redshift), a scalar, or shaped [batch]. A nil instrument
// keeps the spectrum on the rest-frame grid (pass-through diagnostic mode).
func (d *SpectrumDecoder) Transform(ctx *context.Context, restframe *graph.Node, instrument Instrument, z *graph.Node) *graph.Node {
	g := restframe.Graph()
	if restframe.Rank() != 2 || restframe.Shape().Dim(-1) != len(d.waveRest) {
		Panicf("SpectrumDecoder.Transform requires a spectrum shaped [batch, %d], got %s",
			len(d.waveRest), restframe.Shape())
	}
	dtype := restframe.DType()
	waveRest := d.waveRestNode(ctx, g, dtype)

	waveShifted := waveRest
	if z != nil {
		waveShifted = graph.Mul(graph.ExpandDims(waveRest, 0), graph.ExpandDims(redshiftFactor(z, restframe), -1))
	}

	var waveObs *graph.Node
	if instrument == nil {
		waveObs = waveRest
	} else {
		waveObs = graph.ConvertDType(graph.Const(g, instrument.WaveObs()), dtype)
	}

	spectrum := Interp1D(waveShifted, restframe, waveObs)

	if instrument != nil {
		if lsf := instrument.LSF(); lsf != nil {
			spectrum = graph.Squeeze(lsf(graph.ExpandDims(spectrum, 1)), 1)
		}
		if calibration := instrument.Calibration(); calibration != nil {
			obsGrid := graph.BroadcastToDims(graph.ExpandDims(waveObs, 0), spectrum.Shape().Dimensions...)
			spectrum = calibration(obsGrid, spectrum)
		}
	}
	return spectrum
}

// Forward is Transform(Decode(s)); with neither an instrument nor a redshift
// it returns the rest-frame spectrum unmodified.
func (d *SpectrumDecoder) Forward(ctx *context.Context, s *graph.Node, instrument Instrument, z *graph.Node) *graph.Node {
	spectrum := d.Decode(ctx, s)
	if instrument == nil && z == nil {
		return spectrum
	}
	return d.Transform(ctx, spectrum, instrument, z)
}

// NumParameters returns the number of trainable parameters under the scope
// of ctx; the non-trainable wavelength grid is not counted.
func (d *SpectrumDecoder) NumParameters(ctx *context.Context) int {
	return numTrainableParameters(ctx)
}

// redshiftFactor normalizes z (scalar or [batch]) to a [batch] node holding
// 1+z in the spectrum dtype.
func redshiftFactor(z *graph.Node, spectrum *graph.Node) *graph.Node {
	batchSize := spectrum.Shape().Dim(0)
	z = graph.ConvertDType(z, spectrum.DType())
	switch {
	case z.IsScalar():
		z = graph.BroadcastToDims(graph.ExpandDims(z, 0), batchSize)
	case z.Rank() == 1 && z.Shape().Dim(0) == batchSize:
		// Per-sample redshift, use as is.
	default:
		Panicf("redshift must be a scalar or shaped [batch=%d], got %s", batchSize, z.Shape())
	}
	return graph.OnePlus(z)
}
