package field

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mipnerf/pkg/prng"
)

// dense is a fully connected layer y = xW + b applied to a batch of row
// vectors.
type dense struct {
	W *mat.Dense    // in × out
	B *mat.VecDense // out
}

// newDense initialises W with He-uniform values and b with zeros.
func newDense(key prng.Key, in, out int) *dense {
	limit := math.Sqrt(6 / float64(in))
	w := key.Uniform(in * out)
	for i := range w {
		w[i] = (2*w[i] - 1) * limit
	}
	return &dense{
		W: mat.NewDense(in, out, w),
		B: mat.NewVecDense(out, nil),
	}
}

func (d *dense) dims() (in, out int) {
	return d.W.Dims()
}

func (d *dense) forward(x *mat.Dense) *mat.Dense {
	var y mat.Dense
	y.Mul(x, d.W)
	rows, _ := y.Dims()
	b := d.B.RawVector().Data
	for i := 0; i < rows; i++ {
		floats.Add(y.RawRowView(i), b)
	}
	return &y
}

func relu(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j, v := range row {
			if v < 0 {
				row[j] = 0
			}
		}
	}
}

// reluMask zeroes the entries of g where the activation a is not positive.
func reluMask(g, a *mat.Dense) {
	rows, _ := g.Dims()
	for i := 0; i < rows; i++ {
		gr, ar := g.RawRowView(i), a.RawRowView(i)
		for j, v := range ar {
			if v <= 0 {
				gr[j] = 0
			}
		}
	}
}

// hstack concatenates the columns of a and b.
func hstack(a, b *mat.Dense) *mat.Dense {
	rows, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(rows, ca+cb, nil)
	out.Slice(0, rows, 0, ca).(*mat.Dense).Copy(a)
	out.Slice(0, rows, ca, ca+cb).(*mat.Dense).Copy(b)
	return out
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func densityActivation(name string) (func(float64) float64, bool) {
	switch name {
	case "softplus", "":
		return softplus, true
	case "relu":
		return func(x float64) float64 { return math.Max(x, 0) }, true
	case "exp":
		return math.Exp, true
	}
	return nil, false
}
