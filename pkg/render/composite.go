// Package render turns field predictions into pixels: alpha compositing of
// a single level, the coarse-to-fine model and the chunked image driver.
package render

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
	"mipnerf/pkg/field"
	"mipnerf/pkg/sampling"
)

// maxDensityDelta bounds density*delta before exponentiation.
const maxDensityDelta = 1e10

// DepthMode selects the distance assigned to every interval when computing
// the expected distance along a ray.
type DepthMode int

const (
	// DepthMid uses interval midpoints
	DepthMid DepthMode = iota
	// DepthStart uses the near boundary of every interval
	DepthStart
)

// ParseDepthMode resolves "mid" or "start".
func ParseDepthMode(name string) (DepthMode, error) {
	switch name {
	case "mid", "":
		return DepthMid, nil
	case "start":
		return DepthStart, nil
	}
	return 0, fmt.Errorf("unknown depth mode %q", name)
}

// CompositeOptions controls VolumetricRendering
type CompositeOptions struct {
	WhiteBackground bool
	DepthMode       DepthMode
}

// ComputeAlphaWeights converts densities into compositing weights.
//
// The optical thickness of interval i is density_i * (t_{i+1} - t_i) * |d|,
// clamped to [0, 1e10] with NaN treated as 0. Its opacity is 1 - exp(-x) and
// its weight is the opacity times the transmittance of every interval in
// front of it, so weights are non-negative and sum to at most 1 per ray.
// With opaqueBackground the last interval of every ray is made fully opaque.
func ComputeAlphaWeights(density, tvals []float64, dirs []r3.Vec, numSamples int, opaqueBackground bool) ([]float64, error) {
	n := len(dirs)
	if numSamples < 1 || len(density) != n*numSamples || len(tvals) != n*(numSamples+1) {
		return nil, fmt.Errorf("compute alpha weights: %w: %d densities and %d t-values for %d rays of %d samples",
			models.ErrShapeMismatch, len(density), len(tvals), n, numSamples)
	}

	weights := make([]float64, len(density))
	for i := 0; i < n; i++ {
		norm := r3.Norm(dirs[i])
		t := tvals[i*(numSamples+1) : (i+1)*(numSamples+1)]
		sigma := density[i*numSamples : (i+1)*numSamples]
		w := weights[i*numSamples : (i+1)*numSamples]

		thickness := 0.0
		for k := range w {
			x := sigma[k] * (t[k+1] - t[k]) * norm
			if opaqueBackground && k == numSamples-1 {
				x = maxDensityDelta
			}
			if math.IsNaN(x) {
				x = 0
			}
			x = math.Min(math.Max(x, 0), maxDensityDelta)

			alpha := 1 - math.Exp(-x)
			w[k] = alpha * math.Exp(-thickness)
			thickness += x
		}
	}
	return weights, nil
}

// VolumetricRendering composites a prediction with the given weights into a
// rendering of one level.
//
// The unoccupied remainder 1-acc of every ray is filled with the background
// color. The expected distance is normalised by acc, replaced by the far
// bound when undefined and clipped to the sampled range. The median distance
// treats the background as extra weight placed at the far bound.
func VolumetricRendering(pred *field.Prediction, weights []float64, samples *models.Samples, opts CompositeOptions) (*models.Rendering, error) {
	if err := samples.Validate(); err != nil {
		return nil, fmt.Errorf("volumetric rendering: %w", err)
	}
	ns := samples.NumSamples
	n := samples.NumRays * ns
	if len(weights) != n || len(pred.Density) != n || len(pred.RGB) != n {
		return nil, fmt.Errorf("volumetric rendering: %w: %d weights, %d densities and %d colors for %d samples",
			models.ErrShapeMismatch, len(weights), len(pred.Density), len(pred.RGB), n)
	}
	if pred.Normals != nil && len(pred.Normals) != n {
		return nil, fmt.Errorf("volumetric rendering: %w: %d normals for %d samples", models.ErrShapeMismatch, len(pred.Normals), n)
	}

	bg := 0.0
	if opts.WhiteBackground {
		bg = 1
	}

	out := &models.Rendering{
		RGB:            make([]models.RGB, samples.NumRays),
		Acc:            make([]float64, samples.NumRays),
		DistanceMean:   make([]float64, samples.NumRays),
		DistanceMedian: make([]float64, samples.NumRays),
		Normals:        make([]r3.Vec, samples.NumRays),
		NumSamples:     ns,
		TVals:          samples.TVals,
		Weights:        weights,
	}

	tAug := make([]float64, ns+2)
	wAug := make([]float64, ns+1)
	for i := 0; i < samples.NumRays; i++ {
		t := samples.TValsOf(i)
		w := weights[i*ns : (i+1)*ns]

		var rgb models.RGB
		var normal r3.Vec
		acc, dist := 0.0, 0.0
		for k, wk := range w {
			j := i*ns + k
			for c := range rgb {
				rgb[c] += wk * pred.RGB[j][c]
			}
			if pred.Normals != nil {
				normal = r3.Add(normal, r3.Scale(wk, pred.Normals[j]))
			}
			ref := t[k]
			if opts.DepthMode == DepthMid {
				ref = 0.5 * (t[k] + t[k+1])
			}
			acc += wk
			dist += wk * ref
		}

		for c := range rgb {
			rgb[c] = math.Min(math.Max(rgb[c]+bg*(1-acc), 0), 1)
		}
		out.RGB[i] = rgb
		out.Acc[i] = acc

		near, far := t[0], t[ns]
		dist /= acc
		if math.IsNaN(dist) || math.IsInf(dist, 0) {
			dist = far
		}
		out.DistanceMean[i] = math.Min(math.Max(dist, near), far)

		copy(tAug, t)
		tAug[ns+1] = far
		copy(wAug, w)
		wAug[ns] = math.Max(0, 1-acc)
		out.DistanceMedian[i] = sampling.WeightedPercentile(tAug, wAug, []float64{50})[0]

		if pred.Normals == nil {
			normal = models.NaNVec()
		}
		out.Normals[i] = normal
	}
	return out, nil
}
