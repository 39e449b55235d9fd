package spender

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Interp1D evaluates, at the given target positions, the piecewise-linear
// interpolant through the knots (xs, ys). The knot positions xs must be
// strictly increasing along their last axis.
//
// Shapes: ys must be [batch, numKnots]; xs and targets are either rank-1
// (shared across the batch) or [batch, ...]; the result is
// [batch, numTargets].
//
// Targets outside the knot range are held flat at the edge values
// (ys[..., 0] on the left, ys[..., numKnots-1] on the right). The result is
// differentiable with respect to ys, and to xs inside the knot range.
func Interp1D(xs, ys, targets *graph.Node) *graph.Node {
	if ys.Rank() != 2 {
		Panicf("Interp1D requires ys shaped [batch, numKnots], got %s", ys.Shape())
	}
	batchSize := ys.Shape().Dim(0)
	numKnots := ys.Shape().Dim(1)
	if numKnots < 2 {
		Panicf("Interp1D requires at least 2 knots, got ys shaped %s", ys.Shape())
	}
	xs = broadcastToBatch(xs, batchSize, "xs")
	targets = broadcastToBatch(targets, batchSize, "targets")
	if xs.Shape().Dim(-1) != numKnots {
		Panicf("Interp1D got %d knot positions for %d knot values", xs.Shape().Dim(-1), numKnots)
	}

	// Index of the interval [xs[k], xs[k+1]) holding each target: count the
	// knots to the left of it, clamped so edge targets reuse the first/last
	// interval (which, with the clamped blend factor below, holds them flat).
	leftOf := graph.NonNegativeIndicator(graph.Sub(graph.ExpandDims(targets, -1), graph.ExpandDims(xs, 1)))
	k0 := graph.ConvertDType(graph.ReduceSum(leftOf, -1), dtypes.Int32)
	k0 = graph.ClipScalar(graph.AddScalar(k0, -1), 0, float64(numKnots-2))
	k1 := graph.AddScalar(k0, 1)

	x0 := takePerSample(xs, k0)
	x1 := takePerSample(xs, k1)
	y0 := takePerSample(ys, k0)
	y1 := takePerSample(ys, k1)

	// Blend factor, clamped to [0, 1]: values beyond the knot range hold the
	// edge value instead of extrapolating.
	t := graph.Div(graph.Sub(targets, x0), graph.Sub(x1, x0))
	t = graph.ClipScalar(t, 0, 1)
	return graph.Add(y0, graph.Mul(t, graph.Sub(y1, y0)))
}

// broadcastToBatch accepts rank-1 (shared) or [batch, n] nodes and returns
// the [batch, n] form.
func broadcastToBatch(x *graph.Node, batchSize int, name string) *graph.Node {
	switch x.Rank() {
	case 1:
		x = graph.ExpandDims(x, 0)
		return graph.BroadcastToDims(x, batchSize, x.Shape().Dim(-1))
	case 2:
		if x.Shape().Dim(0) != batchSize {
			Panicf("Interp1D %s has batch dimension %d, want %d", name, x.Shape().Dim(0), batchSize)
		}
		return x
	default:
		Panicf("Interp1D %s must be rank 1 or 2, got %s", name, x.Shape())
	}
	return nil
}

// takePerSample gathers values[b, indices[b, j]] for every batch row b,
// returning a node with the shape of indices.
func takePerSample(values, indices *graph.Node) *graph.Node {
	g := values.Graph()
	batchSize := indices.Shape().Dim(0)
	n := indices.Shape().Dim(1)
	batchIdx := graph.Iota(g, shapes.Make(dtypes.Int32, batchSize, n, 1), 0)
	full := graph.Concatenate([]*graph.Node{batchIdx, graph.ExpandDims(indices, -1)}, -1)
	return graph.Gather(values, full)
}
