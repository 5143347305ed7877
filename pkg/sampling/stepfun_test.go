package sampling

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"mipnerf/pkg/prng"
)

func assertNonDecreasingFinite(t *testing.T, v []float64, perRay int) {
	t.Helper()
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			t.Fatalf("Sample %d is not finite: %f", i, x)
		}
		if i%perRay > 0 && x < v[i-1] {
			t.Fatalf("Samples decrease at %d: %f < %f", i, x, v[i-1])
		}
	}
}

// TestPDFUniformWeights checks deterministic sampling from a flat distribution
func TestPDFUniformWeights(t *testing.T) {
	bins := []float64{0, 1, 2, 3, 4}
	weights := []float64{1, 1, 1, 1}
	got := SortedPiecewiseConstantPDF(nil, bins, weights, 1, 5, false)
	want := []float64{0, 1, 2, 3, 4}
	if !floats.EqualApprox(got, want, 1e-5) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestPDFAllZeroWeights checks that an empty distribution still samples validly
func TestPDFAllZeroWeights(t *testing.T) {
	bins := []float64{2, 3, 4, 5, 6, 2, 2.5, 3, 3.5, 4}
	weights := make([]float64, 8)
	got := SortedPiecewiseConstantPDF(nil, bins, weights, 2, 5, false)
	assertNonDecreasingFinite(t, got, 5)
	if !floats.EqualApprox(got[:5], []float64{2, 3, 4, 5, 6}, 1e-5) {
		t.Errorf("Expected a uniform fallback, got %v", got[:5])
	}

	key := prng.NewKey(3)
	got = SortedPiecewiseConstantPDF(&key, bins, weights, 2, 5, false)
	assertNonDecreasingFinite(t, got, 5)
}

// TestPDFConcentration checks that samples follow the weight mass
func TestPDFConcentration(t *testing.T) {
	bins := []float64{0, 1, 2, 3, 4}
	weights := []float64{0, 0, 1, 0}
	got := SortedPiecewiseConstantPDF(nil, bins, weights, 1, 9, false)
	assertNonDecreasingFinite(t, got, 9)
	inside := 0
	for _, v := range got {
		if v >= 2 && v <= 3 {
			inside++
		}
	}
	if inside < 8 {
		t.Errorf("Expected samples inside the weighted bin, got %v", got)
	}
}

// TestPDFRandomWeights checks monotonicity for arbitrary non-negative weights
func TestPDFRandomWeights(t *testing.T) {
	const rays, nb = 16, 33
	key := prng.NewKey(99)
	kw, kb := key.Split()
	w := kw.Uniform(rays * (nb - 1))
	for i := range w {
		// Make a third of the weights exactly zero
		if i%3 == 0 {
			w[i] = 0
		}
	}
	steps := kb.Uniform(rays * nb)
	bins := make([]float64, rays*nb)
	for i := 0; i < rays; i++ {
		acc := 1.0
		for k := 0; k < nb; k++ {
			acc += 0.01 + steps[i*nb+k]
			bins[i*nb+k] = acc
		}
	}

	for _, single := range []bool{false, true} {
		k := prng.NewKey(5)
		got := SortedPiecewiseConstantPDF(&k, bins, w, rays, nb, single)
		assertNonDecreasingFinite(t, got, nb)
		for i := 0; i < rays; i++ {
			if got[i*nb] < bins[i*nb] || got[(i+1)*nb-1] > bins[(i+1)*nb-1] {
				t.Errorf("Ray %d: samples escape the bin range", i)
			}
		}
	}
}

// TestResampleAlongRays checks the resampler end to end, including zero weights
func TestResampleAlongRays(t *testing.T) {
	rays := createTestRays(4, 2, 6)
	coarse, err := SampleAlongRays(nil, rays, 16, SpaceLinear, Cone, false)
	if err != nil {
		t.Fatalf("SampleAlongRays failed: %v", err)
	}

	weights := make([]float64, 4*16)
	// Ray 0 has all its weight in one interval, ray 1 is empty
	weights[8] = 1
	for k := 0; k < 16; k++ {
		weights[2*16+k] = 1.0 / 16
		weights[3*16+k] = float64(k) / 100
	}

	for _, padding := range []float64{0, 0.01} {
		key := prng.NewKey(17)
		fine, err := ResampleAlongRays(&key, rays, coarse, weights, Cone, padding, false)
		if err != nil {
			t.Fatalf("ResampleAlongRays failed: %v", err)
		}
		if fine.NumSamples != 16 || len(fine.TVals) != 4*17 {
			t.Fatalf("Expected 17 boundaries per ray, got %d", len(fine.TVals))
		}
		assertNonDecreasingFinite(t, fine.TVals, 17)
		if padding > 0 {
			assertStrictlyIncreasing(t, fine)
		}
	}

	// Shape mismatch on weights
	if _, err := ResampleAlongRays(nil, rays, coarse, weights[:10], Cone, 0.01, false); err == nil {
		t.Error("Expected an error for mismatched weights")
	}
}

// TestBlurWeights checks the max-then-box filter
func TestBlurWeights(t *testing.T) {
	dst := make([]float64, 4)
	BlurWeights(dst, []float64{0, 1, 0, 0}, 0)
	want := []float64{0.5, 1, 0.5, 0}
	if !floats.Equal(dst, want) {
		t.Errorf("Expected %v, got %v", want, dst)
	}
}

// TestWeightedPercentile checks medians of simple step functions
func TestWeightedPercentile(t *testing.T) {
	tv := []float64{0, 1, 2, 3, 4}
	w := []float64{0.25, 0.25, 0.25, 0.25}
	got := WeightedPercentile(tv, w, []float64{0, 50, 100})
	if !floats.EqualApprox(got, []float64{0, 2, 4}, 1e-12) {
		t.Errorf("Expected [0 2 4], got %v", got)
	}

	w = []float64{0, 0, 1, 0}
	got = WeightedPercentile(tv, w, []float64{50})
	if !scalar.EqualWithinAbs(got[0], 2.5, 1e-12) {
		t.Errorf("Expected median 2.5, got %f", got[0])
	}
}
