package camera

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/stat"
)

// Orbit returns n camera-to-world transforms on a circle of the given radius
// around the z axis, elevated by elevationDeg and looking at the origin.
func Orbit(n int, radius, elevationDeg float64) []mgl64.Mat4 {
	phi := mgl64.DegToRad(elevationDeg)
	poses := make([]mgl64.Mat4, n)
	for i := range poses {
		theta := 2 * math.Pi * float64(i) / float64(n)
		eye := mgl64.Vec3{
			radius * math.Cos(theta) * math.Cos(phi),
			radius * math.Sin(theta) * math.Cos(phi),
			radius * math.Sin(phi),
		}
		view := mgl64.LookAtV(eye, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 0, 1})
		poses[i] = view.Inv()
	}
	return poses
}

// viewMatrix builds a camera-to-world transform whose local z axis points
// along lookdir.
func viewMatrix(lookdir, up, position mgl64.Vec3) mgl64.Mat4 {
	z := lookdir.Normalize()
	x := up.Cross(z).Normalize()
	y := z.Cross(x).Normalize()
	return mgl64.Mat4FromCols(x.Vec4(0), y.Vec4(0), z.Vec4(0), position.Vec4(1))
}

// PosesAvg returns a pose at the mean position of poses, oriented by their
// mean z and up axes.
func PosesAvg(poses []mgl64.Mat4) mgl64.Mat4 {
	var position, z, up mgl64.Vec3
	for _, p := range poses {
		position = position.Add(p.Col(3).Vec3())
		z = z.Add(p.Col(2).Vec3())
		up = up.Add(p.Col(1).Vec3())
	}
	inv := 1 / float64(len(poses))
	return viewMatrix(z.Mul(inv), up.Mul(inv), position.Mul(inv))
}

// Spiral returns n poses on a forward-facing spiral around the average of
// poses, making rots revolutions. near and far are the scene bounds; the
// cameras look at a focus depth placed between them in disparity.
func Spiral(poses []mgl64.Mat4, near, far float64, n, rots int, zrate float64) []mgl64.Mat4 {
	const dt = 0.75
	closeDepth, infDepth := near*0.9, far*5
	focal := 1 / ((1-dt)/closeDepth + dt/infDepth)

	// Radii from the 90th percentile of the absolute camera positions
	var radii [3]float64
	for axis := range radii {
		xs := make([]float64, len(poses))
		for i, p := range poses {
			xs[i] = math.Abs(p.At(axis, 3))
		}
		sort.Float64s(xs)
		radii[axis] = stat.Quantile(0.9, stat.LinInterp, xs, nil)
	}

	c2w := PosesAvg(poses)
	var up mgl64.Vec3
	for _, p := range poses {
		up = up.Add(p.Col(1).Vec3())
	}
	up = up.Mul(1 / float64(len(poses)))
	lookat := c2w.Mul4x1(mgl64.Vec4{0, 0, -focal, 1}).Vec3()

	out := make([]mgl64.Mat4, n)
	for i := range out {
		theta := 2 * math.Pi * float64(rots) * float64(i) / float64(n)
		local := mgl64.Vec4{
			radii[0] * math.Cos(theta),
			-radii[1] * math.Sin(theta),
			-radii[2] * math.Sin(theta*zrate),
			1,
		}
		position := c2w.Mul4x1(local).Vec3()
		out[i] = viewMatrix(position.Sub(lookat), up, position)
	}
	return out
}
