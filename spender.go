// Package spender implements a neural spectral autoencoder for galaxy and
// stellar spectra, built on GoMLX.
//
// The model compresses an observed-frame spectrum into a low-dimensional
// latent vector with an attention-pooling convolutional encoder, and
// reconstructs it with a dense decoder that emits a rest-frame spectrum on a
// fixed wavelength grid. A separate transform step redshifts the rest-frame
// grid, resamples onto the instrument's observed-frame grid, convolves with
// the instrument's line-spread function and applies its calibration curve,
// so one rest-frame model can serve spectra from different instruments and
// redshifts.
//
// All model math is graph building in the GoMLX style: methods take a
// *context.Context holding the variables and *graph.Node inputs, and return
// nodes. Training loops, optimizers and data loading are out of scope; the
// loss methods return graph nodes ready for gradient computation.
package spender

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

// SpectrumAutoencoder wires a SpectrumEncoder and a SpectrumDecoder that
// agree on the latent dimension, and defines the noise-weighted
// reconstruction loss.
type SpectrumAutoencoder struct {
	Encoder *SpectrumEncoder
	Decoder *SpectrumDecoder
}

// NewAutoencoder combines an existing encoder and decoder. It panics if
// their latent dimensions disagree.
func NewAutoencoder(encoder *SpectrumEncoder, decoder *SpectrumDecoder) *SpectrumAutoencoder {
	if encoder.NLatent != decoder.NLatent {
		Panicf("encoder produces %d latents but decoder consumes %d -- they must match",
			encoder.NLatent, decoder.NLatent)
	}
	return &SpectrumAutoencoder{Encoder: encoder, Decoder: decoder}
}

// NewSpectrumAutoencoder builds the standard model: an attention-pooling
// encoder attached to the given instrument and a decoder on the given
// rest-frame grid, both with their default layer stacks and nLatent latents.
// Adjust the components through the Encoder and Decoder fields before the
// first Forward call.
func NewSpectrumAutoencoder(instrument Instrument, waveRest []float64, nLatent int) *SpectrumAutoencoder {
	return NewAutoencoder(
		NewSpectrumEncoder(instrument, nLatent),
		NewSpectrumDecoder(waveRest, nLatent),
	)
}

// ForwardOptions selects the optional inputs of an autoencoder pass. The
// zero value means: encode the input, use the encoder's instrument, no
// redshift, no auxiliary features.
type ForwardOptions struct {
	// Instrument overrides the encoder's instrument for the observed-frame
	// transform. Nil falls back to the encoder's.
	Instrument Instrument

	// DisableInstrument forces the rest-frame pass-through transform even if
	// the encoder has an instrument attached.
	DisableInstrument bool

	// Z is the redshift, a scalar or [batch] node. Nil means zero redshift.
	Z *graph.Node

	// Latent, when non-nil, is used directly and the encoder is skipped.
	Latent *graph.Node

	// Aux carries the auxiliary scalar features for the encoder, shaped
	// [batch, NAux]. It must be nil when the encoder has no auxiliary
	// features configured, and is ignored when Latent is given.
	Aux *graph.Node
}

// instrument resolves the tri-state instrument choice.
func (m *SpectrumAutoencoder) instrument(opts ForwardOptions) Instrument {
	if opts.DisableInstrument {
		return nil
	}
	if opts.Instrument != nil {
		return opts.Instrument
	}
	return m.Encoder.Instrument
}

// Encode delegates to the encoder, under the "encoder" scope.
func (m *SpectrumAutoencoder) Encode(ctx *context.Context, x, aux *graph.Node) *graph.Node {
	return m.Encoder.Forward(ctx.In("encoder"), x, aux)
}

// Decode delegates to the decoder, under the "decoder" scope.
func (m *SpectrumAutoencoder) Decode(ctx *context.Context, s *graph.Node) *graph.Node {
	return m.Decoder.Decode(ctx.In("decoder"), s)
}

// Forward runs the full pass on x shaped [batch, bins] and returns the
// latent vector, the rest-frame spectrum and the observed-frame spectrum --
// always the full triple.
func (m *SpectrumAutoencoder) Forward(ctx *context.Context, x *graph.Node, opts ForwardOptions) (latent, restframe, observed *graph.Node) {
	latent = opts.Latent
	if latent == nil {
		latent = m.Encode(ctx, x, opts.Aux)
	}
	decoderCtx := ctx.In("decoder")
	restframe = m.Decoder.Decode(decoderCtx, latent)
	observed = m.Decoder.Transform(decoderCtx, restframe, m.instrument(opts), opts.Z)
	return latent, restframe, observed
}

// Reconstruct returns only the observed-frame reconstruction of x.
func (m *SpectrumAutoencoder) Reconstruct(ctx *context.Context, x *graph.Node, opts ForwardOptions) *graph.Node {
	_, _, observed := m.Forward(ctx, x, opts)
	return observed
}

// LossPerSample reconstructs x and returns the noise-weighted squared
// deviation per sample, shaped [batch]:
//
//	sum_bins(0.5 * w * (x - reconstruction)^2) / bins
//
// w is the inverse variance of each bin, zero for masked bins, and must have
// the shape of x. The sum is divided by the total number of bins, not the
// number of valid bins, so losses stay comparable across spectra with
// different masks -- at the cost of under-weighting sparsely observed
// spectra.
func (m *SpectrumAutoencoder) LossPerSample(ctx *context.Context, x, w *graph.Node, opts ForwardOptions) *graph.Node {
	observed := m.Reconstruct(ctx, x, opts)
	return WeightedLossPerSample(x, w, observed)
}

// Loss is LossPerSample summed over the batch, a scalar.
func (m *SpectrumAutoencoder) Loss(ctx *context.Context, x, w *graph.Node, opts ForwardOptions) *graph.Node {
	return graph.ReduceAllSum(m.LossPerSample(ctx, x, w, opts))
}

// WeightedLossPerSample scores a precomputed reconstruction against the
// input under per-bin inverse-variance weights; see LossPerSample. Exposed
// so callers that already ran Forward can score without a second pass.
func WeightedLossPerSample(x, w, reconstruction *graph.Node) *graph.Node {
	if !w.Shape().Equal(x.Shape()) {
		Panicf("weights shaped %s do not match spectra shaped %s", w.Shape(), x.Shape())
	}
	if !reconstruction.Shape().Equal(x.Shape()) {
		Panicf("reconstruction shaped %s does not match spectra shaped %s", reconstruction.Shape(), x.Shape())
	}
	numBins := x.Shape().Dim(-1)
	deviation := graph.Sub(x, reconstruction)
	perSample := graph.ReduceSum(graph.Mul(w, graph.Square(deviation)), -1)
	return graph.MulScalar(perSample, 0.5/float64(numBins))
}

// NumParameters returns the trainable-parameter count of the whole model
// under the scope of ctx.
func (m *SpectrumAutoencoder) NumParameters(ctx *context.Context) int {
	return numTrainableParameters(ctx)
}

// WaveRest is the decoder's rest-frame wavelength grid.
func (m *SpectrumAutoencoder) WaveRest() []float64 {
	return m.Decoder.WaveRest()
}

// WaveObs is the observed-frame grid of the encoder's instrument, nil if the
// encoder has no instrument attached.
func (m *SpectrumAutoencoder) WaveObs() []float64 {
	if m.Encoder.Instrument == nil {
		return nil
	}
	return m.Encoder.Instrument.WaveObs()
}
