// Package camera generates the rays of pinhole cameras and the camera paths
// used for rendering.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
)

// Pinhole is an ideal pinhole camera. It looks down its local -z axis with
// +y up, the convention of OpenGL and Blender.
type Pinhole struct {
	Width  int
	Height int

	// Focal is the focal length in pixels
	Focal float64
}

// NewPinholeFOV creates a camera from its horizontal field of view in degrees.
func NewPinholeFOV(width, height int, fovDeg float64) Pinhole {
	return Pinhole{
		Width:  width,
		Height: height,
		Focal:  0.5 * float64(width) / math.Tan(0.5*mgl64.DegToRad(fovDeg)),
	}
}

// Downsample returns the camera for images reduced by factor.
func (p Pinhole) Downsample(factor int) Pinhole {
	if factor <= 1 {
		return p
	}
	return Pinhole{
		Width:  p.Width / factor,
		Height: p.Height / factor,
		Focal:  p.Focal / float64(factor),
	}
}

func toR3(v mgl64.Vec3) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// GenerateRays returns one ray per pixel through the pixel centres, row-major
// from the top-left corner, for the camera-to-world transform c2w.
//
// The base radius of every ray is the distance between its direction and the
// direction of the pixel below, scaled by 2/sqrt(12) so the cone's footprint
// has the variance of a pixel-sized uniform distribution. The last row reuses
// the spacing of the row above it.
func (p Pinhole) GenerateRays(c2w mgl64.Mat4, near, far float64) *models.Rays {
	n := p.Width * p.Height
	rot := c2w.Mat3()
	origin := toR3(c2w.Col(3).Vec3())

	rays := &models.Rays{
		Origins:    make([]r3.Vec, n),
		Directions: make([]r3.Vec, n),
		ViewDirs:   make([]r3.Vec, n),
		Radii:      make([]float64, n),
		Near:       make([]float64, n),
		Far:        make([]float64, n),
	}
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			i := y*p.Width + x
			cam := mgl64.Vec3{
				(float64(x) - 0.5*float64(p.Width) + 0.5) / p.Focal,
				-(float64(y) - 0.5*float64(p.Height) + 0.5) / p.Focal,
				-1,
			}
			d := toR3(rot.Mul3x1(cam))
			rays.Origins[i] = origin
			rays.Directions[i] = d
			rays.ViewDirs[i] = r3.Unit(d)
			rays.Near[i] = near
			rays.Far[i] = far
		}
	}

	setRadii(rays.Radii, rays.Directions, p.Width, p.Height, 1/p.Focal)
	return rays
}

// setRadii fills radii from the spacing of vertically neighbouring vectors
// of a width*height grid. A single-row grid uses the fallback spacing.
func setRadii(radii []float64, grid []r3.Vec, width, height int, fallback float64) {
	scale := 2 / math.Sqrt(12)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			dx := fallback
			switch {
			case y+1 < height:
				dx = r3.Norm(r3.Sub(grid[i], grid[i+width]))
			case height > 1:
				dx = r3.Norm(r3.Sub(grid[i-width], grid[i]))
			}
			radii[i] = dx * scale
		}
	}
}

// ConvertToNDC maps rays of a forward-facing camera into normalised device
// coordinates, where the near plane (at z = -near) becomes t = 0 and the
// plane at infinity becomes t = 1. Rays must have a negative z direction.
//
// When rays cover a full width*height image their radii are recomputed from
// the spacing of the NDC origins. View directions are kept in world space.
func ConvertToNDC(rays *models.Rays, focal float64, width, height int, near float64) *models.Rays {
	n := rays.Len()
	out := &models.Rays{
		Origins:    make([]r3.Vec, n),
		Directions: make([]r3.Vec, n),
		ViewDirs:   rays.ViewDirs,
		Radii:      append([]float64(nil), rays.Radii...),
		Near:       make([]float64, n),
		Far:        make([]float64, n),
	}

	ax := -2 * focal / float64(width)
	ay := -2 * focal / float64(height)
	for i := 0; i < n; i++ {
		o, d := rays.Origins[i], rays.Directions[i]

		// Shift the origin onto the near plane
		t := -(near + o.Z) / d.Z
		o = r3.Add(o, r3.Scale(t, d))

		originNDC := r3.Vec{X: ax * o.X / o.Z, Y: ay * o.Y / o.Z, Z: -1}
		infinityNDC := r3.Vec{X: ax * d.X / d.Z, Y: ay * d.Y / d.Z, Z: 1}
		out.Origins[i] = originNDC
		out.Directions[i] = r3.Sub(infinityNDC, originNDC)
		out.Near[i] = 0
		out.Far[i] = 1
	}

	if n == width*height && n > 0 {
		setRadii(out.Radii, out.Origins, width, height, out.Radii[0])
	}
	return out
}
