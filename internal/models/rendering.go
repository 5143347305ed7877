package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// RGB is a linear color triple.
type RGB [3]float64

// Rendering is the composited output of one resolution level for a batch
// of rays. All per-ray arrays have the same length.
type Rendering struct {
	// RGB is the composited color, clipped to [0, 1]
	RGB []RGB

	// Acc is the accumulated weight (opacity) of every ray
	Acc []float64

	// DistanceMean is the weight-averaged distance along the ray
	DistanceMean []float64

	// DistanceMedian is the distance at which half of the weight is reached
	DistanceMedian []float64

	// Normals are the composited surface normals. Entries are NaN when normals
	// were not requested from the field.
	Normals []r3.Vec

	// NumSamples is the number of intervals per ray used for this level
	NumSamples int

	// TVals and Weights are kept so a finer level can resample from them.
	// Both are row-major by ray.
	TVals   []float64
	Weights []float64
}

// Len returns the number of rays in the rendering.
func (r *Rendering) Len() int {
	return len(r.RGB)
}

// Truncate drops every ray from index n onwards.
func (r *Rendering) Truncate(n int) {
	if n >= r.Len() {
		return
	}
	r.RGB = r.RGB[:n]
	r.Acc = r.Acc[:n]
	r.DistanceMean = r.DistanceMean[:n]
	r.DistanceMedian = r.DistanceMedian[:n]
	r.Normals = r.Normals[:n]
	r.TVals = r.TVals[:n*(r.NumSamples+1)]
	r.Weights = r.Weights[:n*r.NumSamples]
}

// ConcatRenderings joins renderings of consecutive ray batches in order.
// All parts must use the same number of samples per ray.
func ConcatRenderings(parts ...*Rendering) (*Rendering, error) {
	out := &Rendering{}
	for i, p := range parts {
		if i == 0 {
			out.NumSamples = p.NumSamples
		} else if p.NumSamples != out.NumSamples {
			return nil, fmt.Errorf("%w: part %d has %d samples per ray, want %d", ErrShapeMismatch, i, p.NumSamples, out.NumSamples)
		}
		out.RGB = append(out.RGB, p.RGB...)
		out.Acc = append(out.Acc, p.Acc...)
		out.DistanceMean = append(out.DistanceMean, p.DistanceMean...)
		out.DistanceMedian = append(out.DistanceMedian, p.DistanceMedian...)
		out.Normals = append(out.Normals, p.Normals...)
		out.TVals = append(out.TVals, p.TVals...)
		out.Weights = append(out.Weights, p.Weights...)
	}
	return out, nil
}

// HasNormals reports whether the rendering carries computed normals rather
// than the NaN sentinel.
func (r *Rendering) HasNormals() bool {
	for _, n := range r.Normals {
		if !math.IsNaN(n.X) {
			return true
		}
	}
	return false
}

// NaNVec is the sentinel stored in place of normals that were not computed.
func NaNVec() r3.Vec {
	nan := math.NaN()
	return r3.Vec{X: nan, Y: nan, Z: nan}
}

// Image is a full-frame rendering laid out row-major, so ray y*Width+x is
// pixel (x, y).
type Image struct {
	Width  int
	Height int
	*Rendering
}

// Index returns the ray index of pixel (x, y).
func (img *Image) Index(x, y int) int {
	return y*img.Width + x
}

// RGBAt returns the color of pixel (x, y).
func (img *Image) RGBAt(x, y int) RGB {
	return img.RGB[img.Index(x, y)]
}
