package sampling

import (
	"math"
	"sort"

	"mipnerf/pkg/prng"
)

const (
	// minWeightMass is the smallest total mass a step function is allowed to
	// have before it is padded up uniformly.
	minWeightMass = 1e-5

	// float32Eps keeps stratified draws strictly below 1.
	float32Eps = 1.0 / (1 << 23)
)

// SortedPiecewiseConstantPDF draws numSamples sorted samples per ray from
// the piecewise constant density defined by bins (len(weights)/numRays + 1
// edges per ray) and non-negative weights. Any weight vector, including all
// zeros, yields finite non-decreasing samples inside the bin range: a ray
// whose total mass is below minWeightMass is topped up uniformly, so the
// normaliser is strictly positive.
//
// With a nil key the samples are placed deterministically on an even grid.
func SortedPiecewiseConstantPDF(key *prng.Key, bins, weights []float64, numRays, numSamples int, singleJitter bool) []float64 {
	nw := len(weights) / numRays
	nb := nw + 1

	var jitter []float64
	if key != nil {
		if singleJitter {
			jitter = key.Uniform(numRays)
		} else {
			jitter = key.Uniform(numRays * numSamples)
		}
	}

	out := make([]float64, numRays*numSamples)
	cdf := make([]float64, nb)
	u := make([]float64, numSamples)
	for i := 0; i < numRays; i++ {
		w := weights[i*nw : (i+1)*nw]
		b := bins[i*nb : (i+1)*nb]
		buildCDF(cdf, w)

		switch {
		case jitter == nil:
			step := (1 - float32Eps) / float64(max(numSamples-1, 1))
			for k := range u {
				u[k] = step * float64(k)
			}
		default:
			s := 1 / float64(numSamples)
			for k := range u {
				r := jitter[i]
				if !singleJitter {
					r = jitter[i*numSamples+k]
				}
				u[k] = math.Min(float64(k)*s+r*(s-float32Eps), 1-float32Eps)
			}
		}

		invertCDF(out[i*numSamples:(i+1)*numSamples], u, cdf, b)
	}
	return out
}

// buildCDF writes the len(w)+1 point CDF of w into cdf, starting at 0 and
// ending at exactly 1.
func buildCDF(cdf, w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	pad := math.Max(0, minWeightMass-sum)
	sum += pad
	pad /= float64(len(w))

	cdf[0] = 0
	acc := 0.0
	for k := 0; k < len(w)-1; k++ {
		acc += (w[k] + pad) / sum
		cdf[k+1] = math.Min(1, acc)
	}
	cdf[len(w)] = 1
}

// invertCDF maps sorted u through the inverse of the piecewise linear CDF
// defined over bins.
func invertCDF(dst, u, cdf, bins []float64) {
	last := len(cdf) - 1
	for k, x := range u {
		// First edge whose CDF exceeds x; cdf[0] = 0 <= x so hi >= 1.
		hi := sort.Search(len(cdf), func(j int) bool { return cdf[j] > x })
		lo := hi - 1
		if hi > last {
			hi = last
		}
		c0, c1 := cdf[lo], cdf[hi]
		b0, b1 := bins[lo], bins[hi]

		t := (x - c0) / (c1 - c0)
		if math.IsNaN(t) {
			t = 0
		}
		t = math.Min(math.Max(t, 0), 1)
		dst[k] = b0 + t*(b1-b0)
	}
}

// WeightedPercentile returns the percentiles ps (in [0, 100]) of the step
// function with edges t and weights w, where w sums to 1.
func WeightedPercentile(t, w, ps []float64) []float64 {
	cw := make([]float64, len(t))
	acc := 0.0
	for k := 0; k < len(w)-1; k++ {
		acc += w[k]
		cw[k+1] = math.Min(1, acc)
	}
	cw[len(cw)-1] = 1

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = Interp(p/100, cw, t)
	}
	return out
}

// Interp is one-dimensional linear interpolation of (xp, fp) at x, with xp
// non-decreasing. Values outside the range clamp to the end points.
func Interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	hi := sort.Search(n, func(j int) bool { return xp[j] > x })
	lo := hi - 1
	t := (x - xp[lo]) / (xp[hi] - xp[lo])
	return fp[lo] + t*(fp[hi]-fp[lo])
}
