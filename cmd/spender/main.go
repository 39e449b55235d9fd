// Command spender runs the spectral autoencoder end to end on synthetic
// spectra: it builds the model, reports parameter counts, reconstructs a
// batch and prints the noise-weighted loss. With --checkpoint it also saves
// the parameters and wavelength grids, and restores them on the next run.
//
// There is no training loop here -- the model is randomly initialized unless
// restored from a checkpoint. The command exists to exercise and demonstrate
// the full forward path: encoder, decoder, redshift transform, line-spread
// blurring and calibration.
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/CTangist/spender"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagBatchSize  = flag.Int("batch", 4, "Number of synthetic spectra in the batch.")
	flagBins       = flag.Int("bins", 1000, "Number of observed-frame spectral bins.")
	flagRestBins   = flag.Int("rest_bins", 1400, "Number of rest-frame bins the decoder emits.")
	flagLatent     = flag.Int("latent", 10, "Latent dimension of the autoencoder.")
	flagMaxZ       = flag.Float64("max_z", 0.5, "Synthetic redshifts are drawn uniformly from [0, max_z].")
	flagLSFSigma   = flag.Float64("lsf_sigma", 2.0, "Line-spread function width in bins; 0 disables the LSF.")
	flagSeed       = flag.Int64("seed", 42, "Seed for the synthetic spectra and the parameter initialization.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save/restore model parameters. Empty disables checkpointing.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	backend := backends.New()
	klog.Infof("Backend: %s", backend.Description())

	instrument := &spender.StaticInstrument{
		Wave: spender.LogWave(3800, 9200, *flagBins),
	}
	if *flagLSFSigma > 0 {
		instrument.Blur = spender.GaussianLSF(*flagLSFSigma)
	}
	// Rest-frame grid wide enough to cover the observed grid up to max_z.
	waveRest := spender.LogWave(3800/(1+*flagMaxZ), 9200, *flagRestBins)

	model := spender.NewSpectrumAutoencoder(instrument, waveRest, *flagLatent)

	ctx := context.New()
	ctx.RngStateFromSeed(*flagSeed)

	var checkpoint *checkpoints.Handler
	if *flagCheckpoint != "" {
		var err error
		checkpoint, err = checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(3).Done()
		if err != nil {
			klog.Fatalf("%+v", errors.Wrapf(err, "setting up checkpointing in %q", *flagCheckpoint))
		}
	}

	x, w, z := syntheticBatch(*flagBatchSize, instrument.Wave, *flagMaxZ, *flagSeed)

	exec := context.NewExec(backend, ctx, func(ctx *context.Context, x, w, z *Node) (observed, lossPerSample *Node) {
		opts := spender.ForwardOptions{Z: z, Aux: ExpandDims(z, -1)}
		observed = model.Reconstruct(ctx, x, opts)
		lossPerSample = spender.WeightedLossPerSample(x, w, observed)
		return
	})
	results := exec.Call(x, w, z)
	observed, lossPerSample := results[0], results[1]

	fmt.Printf("model parameters:   %d\n", model.NumParameters(ctx))
	fmt.Printf("encoder parameters: %d\n", model.Encoder.NumParameters(ctx.In("encoder")))
	fmt.Printf("decoder parameters: %d\n", model.Decoder.NumParameters(ctx.In("decoder")))
	fmt.Printf("reconstruction:     %s\n", observed.Shape())
	fmt.Printf("loss per sample:    %v\n", lossPerSample.Value())

	if checkpoint != nil {
		must.M(checkpoint.Save())
		klog.Infof("Saved checkpoint to %s", checkpoint.Dir())
	}
}

// syntheticBatch builds spectra with a smooth continuum plus one emission
// line, redshifted per sample, with all-ones inverse-variance weights.
func syntheticBatch(batchSize int, waveObs []float64, maxZ float64, seed int64) (x, w, z *tensors.Tensor) {
	rng := rand.New(rand.NewSource(seed))
	bins := len(waveObs)
	flux := make([]float32, batchSize*bins)
	weights := make([]float32, batchSize*bins)
	redshifts := make([]float32, batchSize)

	const lineRest = 6563.0 // Hα
	for b := 0; b < batchSize; b++ {
		zb := rng.Float64() * maxZ
		redshifts[b] = float32(zb)
		lineObs := lineRest * (1 + zb)
		amplitude := 1 + rng.Float64()
		width := 3 + 2*rng.Float64()
		for i, wave := range waveObs {
			continuum := 1 + 0.1*math.Sin(wave/500)
			d := (wave - lineObs) / width
			flux[b*bins+i] = float32(continuum + amplitude*math.Exp(-0.5*d*d))
			weights[b*bins+i] = 1
		}
	}
	x = tensors.FromFlatDataAndDimensions(flux, batchSize, bins)
	w = tensors.FromFlatDataAndDimensions(weights, batchSize, bins)
	z = tensors.FromFlatDataAndDimensions(redshifts, batchSize)
	return
}
