package models

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// createTestRays creates n rays whose fields all encode their index
func createTestRays(n int, withViewDirs bool) *Rays {
	r := &Rays{}
	for i := 0; i < n; i++ {
		f := float64(i)
		r.Origins = append(r.Origins, r3.Vec{X: f})
		r.Directions = append(r.Directions, r3.Vec{Z: -1})
		r.Radii = append(r.Radii, f)
		r.Near = append(r.Near, 2)
		r.Far = append(r.Far, 6)
		if withViewDirs {
			r.ViewDirs = append(r.ViewDirs, r3.Vec{Y: f})
		}
	}
	return r
}

func createTestRendering(n, numSamples int, offset float64) *Rendering {
	r := &Rendering{NumSamples: numSamples}
	for i := 0; i < n; i++ {
		f := offset + float64(i)
		r.RGB = append(r.RGB, RGB{f, f, f})
		r.Acc = append(r.Acc, f)
		r.DistanceMean = append(r.DistanceMean, f)
		r.DistanceMedian = append(r.DistanceMedian, f)
		r.Normals = append(r.Normals, NaNVec())
		for j := 0; j <= numSamples; j++ {
			r.TVals = append(r.TVals, f)
		}
		for j := 0; j < numSamples; j++ {
			r.Weights = append(r.Weights, f)
		}
	}
	return r
}

func TestRaysValidate(t *testing.T) {
	if err := createTestRays(4, true).Validate(); err != nil {
		t.Errorf("Expected valid rays, got %v", err)
	}
	if err := createTestRays(4, false).Validate(); err != nil {
		t.Errorf("Expected nil view directions to be valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *Rays)
	}{
		{"directions", func(r *Rays) { r.Directions = r.Directions[:3] }},
		{"radii", func(r *Rays) { r.Radii = append(r.Radii, 1) }},
		{"near", func(r *Rays) { r.Near = nil }},
		{"far", func(r *Rays) { r.Far = r.Far[1:] }},
		{"viewdirs", func(r *Rays) { r.ViewDirs = r.ViewDirs[:1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := createTestRays(4, true)
			tt.mutate(r)
			if err := r.Validate(); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("Expected ErrShapeMismatch, got %v", err)
			}
		})
	}
}

func TestRaysSliceAndPad(t *testing.T) {
	r := createTestRays(5, true)

	s := r.Slice(1, 3)
	if s.Len() != 2 || s.Origins[0].X != 1 || s.ViewDirs[1].Y != 2 {
		t.Errorf("Unexpected slice: %+v", s)
	}

	p := s.PadEdge(3)
	if p.Len() != 5 {
		t.Fatalf("Expected 5 rays after padding, got %d", p.Len())
	}
	for i := 1; i < 5; i++ {
		if p.Origins[i].X != 2 || p.Radii[i] != 2 || p.ViewDirs[i].Y != 2 {
			t.Errorf("Expected ray %d to copy the last ray, got origin %v", i, p.Origins[i])
		}
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Expected padded rays to be valid, got %v", err)
	}

	// Padding copies, so the source is untouched
	p.Origins[0].X = 100
	if r.Origins[1].X != 1 {
		t.Error("Expected PadEdge not to share memory with its input")
	}

	if got := s.PadEdge(0).Len(); got != 2 {
		t.Errorf("Expected no padding, got %d rays", got)
	}
}

func TestConcatRays(t *testing.T) {
	a, b := createTestRays(2, true), createTestRays(3, true)
	out := ConcatRays(a, b)
	if out.Len() != 5 || len(out.ViewDirs) != 5 {
		t.Fatalf("Expected 5 rays, got %d", out.Len())
	}
	if out.Origins[2].X != 0 || out.Origins[4].X != 2 {
		t.Errorf("Expected batches in order, got %v", out.Origins)
	}

	// View directions are dropped unless every batch has them
	if got := ConcatRays(a, createTestRays(1, false)); got.ViewDirs != nil {
		t.Errorf("Expected nil view directions, got %v", got.ViewDirs)
	}
}

func TestSamplesValidate(t *testing.T) {
	s := &Samples{
		NumRays:    2,
		NumSamples: 3,
		TVals:      []float64{0, 1, 2, 3, 0, 1, 2, 3},
		Means:      make([]r3.Vec, 6),
		Covs:       make([]r3.Vec, 6),
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Expected valid samples, got %v", err)
	}
	if got := s.TValsOf(1); len(got) != 4 || got[3] != 3 {
		t.Errorf("Unexpected t-values of ray 1: %v", got)
	}

	s.Covs = s.Covs[:5]
	if err := s.Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
	if err := (&Samples{NumRays: 1}).Validate(); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch for zero samples, got %v", err)
	}
}

func TestRenderingTruncateAndConcat(t *testing.T) {
	out, err := ConcatRenderings(createTestRendering(2, 3, 0), createTestRendering(3, 3, 10))
	if err != nil {
		t.Fatalf("ConcatRenderings failed: %v", err)
	}
	if out.Len() != 5 || len(out.TVals) != 20 || len(out.Weights) != 15 {
		t.Fatalf("Unexpected sizes: %d rays, %d t-values, %d weights", out.Len(), len(out.TVals), len(out.Weights))
	}
	if out.Acc[2] != 10 {
		t.Errorf("Expected parts in order, got %v", out.Acc)
	}

	out.Truncate(3)
	if out.Len() != 3 || len(out.TVals) != 12 || len(out.Weights) != 9 || len(out.Normals) != 3 {
		t.Errorf("Unexpected sizes after truncation: %d rays, %d t-values", out.Len(), len(out.TVals))
	}
	out.Truncate(10)
	if out.Len() != 3 {
		t.Errorf("Expected truncation beyond the length to do nothing, got %d", out.Len())
	}

	if _, err := ConcatRenderings(createTestRendering(1, 3, 0), createTestRendering(1, 4, 0)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestImage(t *testing.T) {
	r := createTestRendering(6, 1, 0)
	if r.HasNormals() {
		t.Error("Expected the NaN sentinel not to count as normals")
	}
	r.Normals[4] = r3.Vec{Z: 1}
	if !r.HasNormals() {
		t.Error("Expected normals")
	}
	if n := NaNVec(); !math.IsNaN(n.X) || !math.IsNaN(n.Y) || !math.IsNaN(n.Z) {
		t.Errorf("Expected NaN components, got %v", n)
	}

	img := &Image{Width: 3, Height: 2, Rendering: r}
	if img.Index(1, 1) != 4 {
		t.Errorf("Expected index 4, got %d", img.Index(1, 1))
	}
	if c := img.RGBAt(2, 1); c[0] != 5 {
		t.Errorf("Expected color of ray 5, got %v", c)
	}
}
