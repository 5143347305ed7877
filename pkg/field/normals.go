package field

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mipnerf/internal/models"
	"mipnerf/pkg/encoding"
)

// densityGrad backpropagates the raw density through the trunk and returns
// its gradient with respect to the encoded inputs, one row per sample. acts
// are the post-ReLU trunk activations of the forward pass.
func (m *MLP) densityGrad(acts []*mat.Dense) *mat.Dense {
	n, _ := acts[0].Dims()
	width := m.cfg.NetWidth
	enc := m.pointDim()

	head := mat.Col(nil, 0, m.density.W)
	g := mat.NewDense(n, len(head), nil)
	for j := 0; j < n; j++ {
		copy(g.RawRowView(j), head)
	}

	gIn := mat.NewDense(n, enc, nil)
	for i := len(m.trunk) - 1; i >= 0; i-- {
		ga := g
		if m.isSkip(i) {
			ga = mat.DenseCopyOf(g.Slice(0, n, 0, width))
			gIn.Add(gIn, g.Slice(0, n, width, width+enc))
		}
		reluMask(ga, acts[i])

		var gx mat.Dense
		gx.Mul(ga, m.trunk[i].W.T())
		if i == 0 {
			gIn.Add(gIn, &gx)
		} else {
			g = &gx
		}
	}
	return gIn
}

// normals returns the negated, normalised gradient of raw density with
// respect to every sample mean.
func (m *MLP) normals(samples *models.Samples, acts []*mat.Dense, window []float64) ([]r3.Vec, error) {
	gIn := m.densityGrad(acts)
	n, _ := gIn.Dims()

	normals := make([]r3.Vec, n)
	var jac []float64
	for j := 0; j < n; j++ {
		var err error
		jac, err = encoding.IntegratedPosEncGrad(jac, samples.Means[j], m.covAt(samples, j), m.cfg.MinDegPoint, m.cfg.MaxDegPoint)
		if err != nil {
			return nil, err
		}
		if window != nil {
			encoding.ApplyWindow(jac, window, false)
		}

		var grad [3]float64
		for f, v := range gIn.RawRowView(j) {
			grad[f%3] += v * jac[f]
		}
		g := r3.Vec{X: grad[0], Y: grad[1], Z: grad[2]}
		norm := math.Sqrt(math.Max(r3.Dot(g, g), normalEps))
		normals[j] = r3.Scale(-1/norm, g)
	}
	return normals, nil
}
