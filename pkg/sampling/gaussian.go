package sampling

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
)

// RayShape selects the frustum each interval is approximated by.
type RayShape int

const (
	// Cone traces a cone whose radius grows linearly with t
	Cone RayShape = iota
	// Cylinder traces a cylinder of constant radius
	Cylinder
)

func (s RayShape) String() string {
	switch s {
	case Cone:
		return "cone"
	case Cylinder:
		return "cylinder"
	}
	return fmt.Sprintf("RayShape(%d)", int(s))
}

// ParseRayShape resolves a ray shape by name.
func ParseRayShape(name string) (RayShape, error) {
	switch strings.ToLower(name) {
	case "cone", "":
		return Cone, nil
	case "cylinder":
		return Cylinder, nil
	}
	return Cone, fmt.Errorf("unknown ray shape %q", name)
}

// LiftGaussian turns a distribution along the ray (tMean, tVar) and a radial
// variance rVar into a 3D Gaussian with diagonal covariance, relative to the
// ray origin.
func LiftGaussian(d r3.Vec, tMean, tVar, rVar float64) (mean, covDiag r3.Vec) {
	mean = r3.Scale(tMean, d)
	dMagSq := math.Max(1e-10, r3.Dot(d, d))
	dOuter := r3.Vec{X: d.X * d.X, Y: d.Y * d.Y, Z: d.Z * d.Z}
	nullOuter := r3.Vec{X: 1 - dOuter.X/dMagSq, Y: 1 - dOuter.Y/dMagSq, Z: 1 - dOuter.Z/dMagSq}
	covDiag = r3.Add(r3.Scale(tVar, dOuter), r3.Scale(rVar, nullOuter))
	return mean, covDiag
}

// ConicalFrustumToGaussian approximates the conical frustum between t0 and t1
// with a Gaussian. The parameterisation around the interval midpoint stays
// accurate when the interval is short relative to its distance.
func ConicalFrustumToGaussian(d r3.Vec, t0, t1, baseRadius float64) (mean, covDiag r3.Vec) {
	mu := (t0 + t1) / 2
	hw := (t1 - t0) / 2
	mu2, hw2 := mu*mu, hw*hw
	den := 3*mu2 + hw2
	tMean := mu + (2*mu*hw2)/den
	tVar := hw2/3 - (4.0/15.0)*((hw2*hw2*(12*mu2-hw2))/(den*den))
	rVar := baseRadius * baseRadius * (mu2/4 + (5.0/12.0)*hw2 - (4.0/15.0)*(hw2*hw2)/den)
	return LiftGaussian(d, tMean, tVar, rVar)
}

// CylinderToGaussian approximates the cylinder between t0 and t1 with a
// Gaussian.
func CylinderToGaussian(d r3.Vec, t0, t1, radius float64) (mean, covDiag r3.Vec) {
	tMean := (t0 + t1) / 2
	rVar := radius * radius / 4
	tVar := (t1 - t0) * (t1 - t0) / 12
	return LiftGaussian(d, tMean, tVar, rVar)
}

// CastRays computes the Gaussian of every interval. tvals holds
// numSamples+1 boundaries per ray.
func CastRays(tvals []float64, rays *models.Rays, numSamples int, shape RayShape) (means, covs []r3.Vec) {
	gaussian := ConicalFrustumToGaussian
	if shape == Cylinder {
		gaussian = CylinderToGaussian
	}

	n := rays.Len()
	means = make([]r3.Vec, n*numSamples)
	covs = make([]r3.Vec, n*numSamples)
	for i := 0; i < n; i++ {
		t := tvals[i*(numSamples+1) : (i+1)*(numSamples+1)]
		for k := 0; k < numSamples; k++ {
			m, c := gaussian(rays.Directions[i], t[k], t[k+1], rays.Radii[i])
			means[i*numSamples+k] = r3.Add(m, rays.Origins[i])
			covs[i*numSamples+k] = c
		}
	}
	return means, covs
}
