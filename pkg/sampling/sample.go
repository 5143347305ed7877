// Package sampling places intervals along rays and converts them into
// Gaussians for integrated positional encoding.
package sampling

import (
	"fmt"

	"mipnerf/internal/models"
	"mipnerf/pkg/prng"
)

// SampleAlongRays places numSamples intervals (numSamples+1 boundaries)
// between each ray's near and far bound, evenly in the given space.
//
// With a nil key the boundaries are deterministic. Otherwise every boundary
// is jittered inside the stratum delimited by the midpoints of its
// neighbours. singleJitter shares one jitter value across all boundaries of
// a ray instead of drawing one per boundary.
//
// near >= far is not checked.
func SampleAlongRays(key *prng.Key, rays *models.Rays, numSamples int, space Space, shape RayShape, singleJitter bool) (*models.Samples, error) {
	if err := rays.Validate(); err != nil {
		return nil, fmt.Errorf("sample along rays: %w", err)
	}
	if numSamples < 1 {
		return nil, fmt.Errorf("sample along rays: %w: numSamples must be positive, got %d", models.ErrShapeMismatch, numSamples)
	}

	n := rays.Len()
	nb := numSamples + 1
	tvals := make([]float64, n*nb)
	for i := 0; i < n; i++ {
		Genspace(tvals[i*nb:(i+1)*nb], rays.Near[i], rays.Far[i], nb, space)
	}

	if key != nil {
		var u []float64
		if singleJitter {
			u = key.Uniform(n)
		} else {
			u = key.Uniform(n * nb)
		}

		mids := make([]float64, numSamples)
		for i := 0; i < n; i++ {
			t := tvals[i*nb : (i+1)*nb]
			for k := 0; k < numSamples; k++ {
				mids[k] = 0.5 * (t[k] + t[k+1])
			}
			for k := 0; k < nb; k++ {
				lower, upper := t[0], t[numSamples]
				if k > 0 {
					lower = mids[k-1]
				}
				if k < numSamples {
					upper = mids[k]
				}
				r := u[i]
				if !singleJitter {
					r = u[i*nb+k]
				}
				t[k] = lower + (upper-lower)*r
			}
		}
	}

	means, covs := CastRays(tvals, rays, numSamples, shape)
	return &models.Samples{
		NumRays:    n,
		NumSamples: numSamples,
		TVals:      tvals,
		Means:      means,
		Covs:       covs,
	}, nil
}

// ResampleAlongRays draws a new set of boundaries concentrated where the
// previous level placed its weight. The number of intervals per ray is kept.
//
// The weights are first blurred with a 2-tap max filter followed by a 2-tap
// box filter and lifted by padding, so regions next to content and empty
// regions keep some probability.
func ResampleAlongRays(key *prng.Key, rays *models.Rays, prev *models.Samples, weights []float64, shape RayShape, padding float64, singleJitter bool) (*models.Samples, error) {
	if err := rays.Validate(); err != nil {
		return nil, fmt.Errorf("resample along rays: %w", err)
	}
	if err := prev.Validate(); err != nil {
		return nil, fmt.Errorf("resample along rays: %w", err)
	}
	if prev.NumRays != rays.Len() {
		return nil, fmt.Errorf("resample along rays: %w: %d rays but samples for %d", models.ErrShapeMismatch, rays.Len(), prev.NumRays)
	}
	if len(weights) != prev.NumRays*prev.NumSamples {
		return nil, fmt.Errorf("resample along rays: %w: %d weights, want %d", models.ErrShapeMismatch, len(weights), prev.NumRays*prev.NumSamples)
	}

	ns := prev.NumSamples
	blurred := make([]float64, len(weights))
	for i := 0; i < prev.NumRays; i++ {
		BlurWeights(blurred[i*ns:(i+1)*ns], weights[i*ns:(i+1)*ns], padding)
	}

	tvals := SortedPiecewiseConstantPDF(key, prev.TVals, blurred, prev.NumRays, ns+1, singleJitter)
	means, covs := CastRays(tvals, rays, ns, shape)
	return &models.Samples{
		NumRays:    prev.NumRays,
		NumSamples: ns,
		TVals:      tvals,
		Means:      means,
		Covs:       covs,
	}, nil
}

// BlurWeights writes the max-then-box filtered weights of one ray plus
// padding into dst.
func BlurWeights(dst, w []float64, padding float64) {
	n := len(w)
	at := func(k int) float64 {
		if k < 0 {
			return w[0]
		}
		if k >= n {
			return w[n-1]
		}
		return w[k]
	}
	for k := 0; k < n; k++ {
		left := max(at(k-1), at(k))
		right := max(at(k), at(k+1))
		dst[k] = 0.5*(left+right) + padding
	}
}
