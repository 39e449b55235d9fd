package spender

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors/images"
)

// LSF is a line-spread function: an instrument blurring operator applied to
// an intrinsic spectrum. It takes and returns a [batch, 1, bins] node.
type LSF func(spectrum *graph.Node) *graph.Node

// Calibration is an instrument flux-scaling correction, applied to the
// observed-frame spectrum. Both arguments are [batch, bins] (waveObs is
// broadcast from the grid), and the result must keep the spectrum shape.
type Calibration func(waveObs, spectrum *graph.Node) *graph.Node

// Instrument describes the spectrograph a spectrum was observed with. It is
// consumed, never owned: implementations must stay immutable for the
// duration of a forward pass.
//
// LSF and Calibration may return nil, meaning the instrument applies no
// line-spread blurring or no calibration correction.
type Instrument interface {
	// WaveObs is the instrument's observed-frame wavelength grid,
	// monotonically increasing. Never nil.
	WaveObs() []float64
	LSF() LSF
	Calibration() Calibration
}

// StaticInstrument is an Instrument with fixed components. The zero value is
// not usable: Wave is required.
type StaticInstrument struct {
	Wave  []float64
	Blur  LSF
	Calib Calibration
}

func (si *StaticInstrument) WaveObs() []float64       { return si.Wave }
func (si *StaticInstrument) LSF() LSF                 { return si.Blur }
func (si *StaticInstrument) Calibration() Calibration { return si.Calib }

// GaussianLSF returns a line-spread function that convolves the spectrum
// with a fixed normalized Gaussian kernel of the given standard deviation
// (in bins). The kernel width is 2*ceil(3*sigma)+1 bins, applied with same
// padding so the spectrum length is preserved.
func GaussianLSF(sigma float64) LSF {
	if sigma <= 0 {
		Panicf("GaussianLSF requires sigma > 0, got %g", sigma)
	}
	halfWidth := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*halfWidth+1)
	var sum float64
	for i := range kernel {
		d := float64(i - halfWidth)
		kernel[i] = math.Exp(-0.5 * d * d / (sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return func(spectrum *graph.Node) *graph.Node {
		g := spectrum.Graph()
		if spectrum.Rank() != 3 || spectrum.Shape().Dim(1) != 1 {
			Panicf("LSF expects spectrum shaped [batch, 1, bins], got %s", spectrum.Shape())
		}
		// Kernel shaped [inputChannels=1, width, outputChannels=1],
		// channels-first to match the spectrum layout.
		k := graph.ConvertDType(graph.Const(g, kernel), spectrum.DType())
		k = graph.Reshape(k, 1, len(kernel), 1)
		return graph.Convolve(spectrum, k).ChannelsAxis(images.ChannelsFirst).PadSame().Done()
	}
}
