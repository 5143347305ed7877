package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrShapeMismatch is returned when parallel arrays that must describe the
// same set of rays or samples disagree in length.
var ErrShapeMismatch = errors.New("shape mismatch")

// Rays is a batch of rays stored as parallel arrays. Entry i of every array
// describes ray i.
type Rays struct {
	// Origins are the world space ray origins
	Origins []r3.Vec

	// Directions are the (not necessarily unit length) ray directions
	Directions []r3.Vec

	// ViewDirs are the unit view directions fed to the color branch.
	// May be nil when the field is evaluated without view dependence.
	ViewDirs []r3.Vec

	// Radii is the base radius of the cone traced by each ray
	Radii []float64

	// Near and Far bound the ray parameter t
	Near []float64
	Far  []float64
}

// Len returns the number of rays in the batch.
func (r *Rays) Len() int {
	return len(r.Origins)
}

// Validate checks that all arrays describe the same number of rays.
func (r *Rays) Validate() error {
	n := len(r.Origins)
	check := func(name string, l int) error {
		if l != n {
			return fmt.Errorf("%w: %s has %d entries, origins has %d", ErrShapeMismatch, name, l, n)
		}
		return nil
	}
	if err := check("directions", len(r.Directions)); err != nil {
		return err
	}
	if err := check("radii", len(r.Radii)); err != nil {
		return err
	}
	if err := check("near", len(r.Near)); err != nil {
		return err
	}
	if err := check("far", len(r.Far)); err != nil {
		return err
	}
	if r.ViewDirs != nil {
		if err := check("viewdirs", len(r.ViewDirs)); err != nil {
			return err
		}
	}
	return nil
}

// Slice returns the rays in [lo, hi). The returned batch shares memory
// with r.
func (r *Rays) Slice(lo, hi int) *Rays {
	out := &Rays{
		Origins:    r.Origins[lo:hi],
		Directions: r.Directions[lo:hi],
		Radii:      r.Radii[lo:hi],
		Near:       r.Near[lo:hi],
		Far:        r.Far[lo:hi],
	}
	if r.ViewDirs != nil {
		out.ViewDirs = r.ViewDirs[lo:hi]
	}
	return out
}

// PadEdge returns a copy of r with n copies of the last ray appended.
func (r *Rays) PadEdge(n int) *Rays {
	out := &Rays{
		Origins:    append([]r3.Vec(nil), r.Origins...),
		Directions: append([]r3.Vec(nil), r.Directions...),
		Radii:      append([]float64(nil), r.Radii...),
		Near:       append([]float64(nil), r.Near...),
		Far:        append([]float64(nil), r.Far...),
	}
	if r.ViewDirs != nil {
		out.ViewDirs = append([]r3.Vec(nil), r.ViewDirs...)
	}
	if n <= 0 || r.Len() == 0 {
		return out
	}

	last := r.Len() - 1
	for i := 0; i < n; i++ {
		out.Origins = append(out.Origins, r.Origins[last])
		out.Directions = append(out.Directions, r.Directions[last])
		out.Radii = append(out.Radii, r.Radii[last])
		out.Near = append(out.Near, r.Near[last])
		out.Far = append(out.Far, r.Far[last])
		if out.ViewDirs != nil {
			out.ViewDirs = append(out.ViewDirs, r.ViewDirs[last])
		}
	}
	return out
}

// ConcatRays joins several batches in order.
func ConcatRays(batches ...*Rays) *Rays {
	out := &Rays{}
	withViewDirs := len(batches) > 0
	for _, b := range batches {
		if b.ViewDirs == nil {
			withViewDirs = false
		}
	}
	for _, b := range batches {
		out.Origins = append(out.Origins, b.Origins...)
		out.Directions = append(out.Directions, b.Directions...)
		out.Radii = append(out.Radii, b.Radii...)
		out.Near = append(out.Near, b.Near...)
		out.Far = append(out.Far, b.Far...)
		if withViewDirs {
			out.ViewDirs = append(out.ViewDirs, b.ViewDirs...)
		}
	}
	return out
}

// Samples holds the intervals placed along a batch of rays together with the
// Gaussian approximation of every interval's frustum.
type Samples struct {
	// NumRays is the number of rays the samples belong to
	NumRays int

	// NumSamples is the number of intervals per ray
	NumSamples int

	// TVals holds NumSamples+1 strictly increasing boundaries per ray,
	// row-major by ray
	TVals []float64

	// Means and Covs hold one Gaussian per interval, row-major by ray.
	// Covs is the diagonal of the covariance matrix.
	Means []r3.Vec
	Covs  []r3.Vec
}

// TValsOf returns the boundaries of ray i.
func (s *Samples) TValsOf(i int) []float64 {
	n := s.NumSamples + 1
	return s.TVals[i*n : (i+1)*n]
}

// Validate checks that the arrays agree with NumRays and NumSamples.
func (s *Samples) Validate() error {
	if s.NumSamples < 1 {
		return fmt.Errorf("%w: need at least one sample per ray, got %d", ErrShapeMismatch, s.NumSamples)
	}
	if want := s.NumRays * (s.NumSamples + 1); len(s.TVals) != want {
		return fmt.Errorf("%w: %d t-values, want %d", ErrShapeMismatch, len(s.TVals), want)
	}
	want := s.NumRays * s.NumSamples
	if len(s.Means) != want || len(s.Covs) != want {
		return fmt.Errorf("%w: %d means and %d covariances, want %d", ErrShapeMismatch, len(s.Means), len(s.Covs), want)
	}
	return nil
}
