// Package encoding maps 3D coordinates to high-frequency feature vectors.
//
// Feature layout for L = maxDeg-minDeg bands over 3 coordinates is
//
//	[identity (3, optional)] [sin block (L*3)] [cos block (L*3)]
//
// where each block is ordered band-major, coordinate-minor.
package encoding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegreeRange is returned when maxDeg < minDeg.
var ErrDegreeRange = errors.New("invalid frequency degree range")

const numCoords = 3

// Dim returns the feature length for the given degree range.
func Dim(minDeg, maxDeg int, appendIdentity bool) int {
	d := 2 * numCoords * (maxDeg - minDeg)
	if appendIdentity {
		d += numCoords
	}
	return d
}

func checkRange(minDeg, maxDeg int) error {
	if maxDeg < minDeg {
		return fmt.Errorf("%w: [%d, %d)", ErrDegreeRange, minDeg, maxDeg)
	}
	return nil
}

func components(v r3.Vec) [numCoords]float64 {
	return [numCoords]float64{v.X, v.Y, v.Z}
}

// PosEnc is the classic sinusoidal positional encoding. dst is reused when it
// has the right capacity.
func PosEnc(dst []float64, x r3.Vec, minDeg, maxDeg int, appendIdentity bool) ([]float64, error) {
	if err := checkRange(minDeg, maxDeg); err != nil {
		return nil, err
	}
	dst = resize(dst, Dim(minDeg, maxDeg, appendIdentity))

	xs := components(x)
	off := 0
	if appendIdentity {
		copy(dst, xs[:])
		off = numCoords
	}
	half := numCoords * (maxDeg - minDeg)
	for l := minDeg; l < maxDeg; l++ {
		scale := math.Ldexp(1, l)
		for j, c := range xs {
			i := off + (l-minDeg)*numCoords + j
			y := c * scale
			dst[i] = math.Sin(y)
			dst[i+half] = math.Sin(y + math.Pi/2)
		}
	}
	return dst, nil
}

// ExpectedSin returns the mean and variance of sin(x) for x ~ N(mu, v).
func ExpectedSin(mu, v float64) (float64, float64) {
	y := math.Exp(-0.5*v) * math.Sin(mu)
	yVar := math.Max(0, 0.5*(1-math.Exp(-2*v)*math.Cos(2*mu))-y*y)
	return y, yVar
}

// IntegratedPosEnc encodes a Gaussian with the given mean and diagonal
// covariance. Every band is attenuated by exp(-var/2), which suppresses
// frequencies that are finer than the Gaussian's footprint. With a zero
// covariance the result is identical to PosEnc without the identity.
//
// The default basis scales each axis independently, so only the diagonal of a
// full covariance matrix ever contributes.
func IntegratedPosEnc(dst []float64, mean, covDiag r3.Vec, minDeg, maxDeg int) ([]float64, error) {
	if err := checkRange(minDeg, maxDeg); err != nil {
		return nil, err
	}
	dst = resize(dst, Dim(minDeg, maxDeg, false))

	mus := components(mean)
	vars := components(covDiag)
	half := numCoords * (maxDeg - minDeg)
	for l := minDeg; l < maxDeg; l++ {
		scale := math.Ldexp(1, l)
		for j := range mus {
			i := (l-minDeg)*numCoords + j
			y := mus[j] * scale
			v := vars[j] * scale * scale
			dst[i], _ = ExpectedSin(y, v)
			dst[i+half], _ = ExpectedSin(y+math.Pi/2, v)
		}
	}
	return dst, nil
}

// IntegratedPosEncGrad returns the derivative of every IntegratedPosEnc
// feature with respect to the mean. Feature i depends only on coordinate
// i%3, so the Jacobian is stored as one value per feature.
func IntegratedPosEncGrad(dst []float64, mean, covDiag r3.Vec, minDeg, maxDeg int) ([]float64, error) {
	if err := checkRange(minDeg, maxDeg); err != nil {
		return nil, err
	}
	dst = resize(dst, Dim(minDeg, maxDeg, false))

	mus := components(mean)
	vars := components(covDiag)
	half := numCoords * (maxDeg - minDeg)
	for l := minDeg; l < maxDeg; l++ {
		scale := math.Ldexp(1, l)
		for j := range mus {
			i := (l-minDeg)*numCoords + j
			y := mus[j] * scale
			att := math.Exp(-0.5*vars[j]*scale*scale) * scale
			dst[i] = att * math.Cos(y)
			dst[i+half] = -att * math.Sin(y)
		}
	}
	return dst, nil
}

// Window returns the cosine ease-in weight of every band in [minDeg, maxDeg)
// for annealing progress alpha. Band l is fully off for alpha <= l and fully
// on for alpha >= l+1.
func Window(minDeg, maxDeg int, alpha float64) []float64 {
	w := make([]float64, maxDeg-minDeg)
	for i := range w {
		x := math.Min(math.Max(alpha-float64(minDeg+i), 0), 1)
		w[i] = 0.5 * (1 + math.Cos(math.Pi*x+math.Pi))
	}
	return w
}

// ApplyWindow scales the sinusoidal features of an encoding in place by the
// per-band window. Identity features are left untouched.
func ApplyWindow(features, window []float64, appendIdentity bool) {
	off := 0
	if appendIdentity {
		off = numCoords
	}
	half := numCoords * len(window)
	for b, w := range window {
		for j := 0; j < numCoords; j++ {
			i := off + b*numCoords + j
			features[i] *= w
			features[i+half] *= w
		}
	}
}

func resize(dst []float64, n int) []float64 {
	if cap(dst) < n {
		return make([]float64, n)
	}
	return dst[:n]
}
